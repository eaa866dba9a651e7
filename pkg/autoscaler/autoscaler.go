/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package autoscaler periodically compares cluster-wide cpu allocation
// (the sum of placed pods' cpu requests over the capacity of healthy
// nodes) against two thresholds and adds or removes one node per tick
// to correct it (spec §4.9). Worker-reported cpu usage is not consulted. It mirrors the teacher's
// pkg/controllers/provisioning consolidation loop in shape - a single
// ticking controller making one disruption decision at a time off a
// fresh cluster snapshot - generalized from bin-packable NodeClaims
// down to this control plane's single scalar usage_percent.
package autoscaler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/ctlog"
	"github.com/podfleet/controlplane/pkg/lifecycle"
	"github.com/podfleet/controlplane/pkg/metrics"
)

// DefaultInterval is the tick used when Config.Interval is unset; it
// equals the metrics aggregator's default poll interval, but the two
// loops tick independently.
const DefaultInterval = 15 * time.Second

// Config carries the auto-scaling policy (spec §4.9, §4.2).
type Config struct {
	Enabled             bool
	HighThreshold       float64 // scale up when usage_percent (allocated/capacity) exceeds this
	LowThreshold        float64 // scale down when usage_percent (allocated/capacity) drops below this
	DefaultNodeCapacity int
	Interval            time.Duration

	// ScaleDownBlackoutStart/End are optional 5-field cron expressions,
	// in the process's local time, marking a recurring window during
	// which scale-down is suppressed (e.g. "don't consolidate during
	// business hours"). Scale-up is never suppressed: refusing to add
	// capacity under load has no safety upside. Leave both empty to
	// disable blackout windows entirely.
	ScaleDownBlackoutStart string
	ScaleDownBlackoutEnd   string
}

// AutoScaler ticks on Config.Interval, computing usage_percent as
// allocated cpu over capacity across every healthy node and taking at
// most one scaling action per tick.
type AutoScaler struct {
	registry *cluster.Registry
	manager  *lifecycle.Manager
	cfg      Config

	cron       *cron.Cron
	inBlackout atomic.Bool
}

func New(registry *cluster.Registry, manager *lifecycle.Manager, cfg Config) *AutoScaler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	a := &AutoScaler{registry: registry, manager: manager, cfg: cfg}
	a.setupBlackout()
	return a
}

// setupBlackout wires the optional blackout window as two cron entries
// flipping an atomic flag, rather than computing window membership on
// every tick - the same "schedule drives a flag, the hot path just
// reads it" pattern as the teacher's disruption budget calendar.
func (a *AutoScaler) setupBlackout() {
	if a.cfg.ScaleDownBlackoutStart == "" || a.cfg.ScaleDownBlackoutEnd == "" {
		return
	}
	a.cron = cron.New()
	a.cron.AddFunc(a.cfg.ScaleDownBlackoutStart, func() { a.inBlackout.Store(true) })
	a.cron.AddFunc(a.cfg.ScaleDownBlackoutEnd, func() { a.inBlackout.Store(false) })
}

// Run blocks, ticking on cfg.Interval until ctx is cancelled. It also
// starts and stops the blackout-window cron schedule, if configured.
func (a *AutoScaler) Run(ctx context.Context) {
	if a.cron != nil {
		a.cron.Start()
		defer a.cron.Stop()
	}
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs a single scale evaluation. Exported so tests and a manual
// "evaluate now" admin path can drive it directly.
func (a *AutoScaler) Tick(ctx context.Context) {
	if !a.cfg.Enabled {
		return
	}
	logger := ctlog.FromContext(ctx)

	healthy := lo.Filter(a.registry.Snapshot(), func(n v1.NodeSnapshot, _ int) bool { return n.Healthy })
	if len(healthy) == 0 {
		return
	}

	var totalCapacity, totalAllocated int
	for _, n := range healthy {
		totalCapacity += n.Capacity
		totalAllocated += n.Allocated
	}
	if totalCapacity == 0 {
		return
	}
	usagePercent := float64(totalAllocated) / float64(totalCapacity) * 100
	metrics.ClusterUsagePercent.Set(usagePercent)

	switch {
	case usagePercent > a.cfg.HighThreshold:
		if _, err := a.manager.ScaleUp(ctx, a.cfg.DefaultNodeCapacity); err != nil {
			logger.Error(err, "autoscale scale-up failed", "usage_percent", usagePercent)
			return
		}
		logger.Info("autoscale scaled up", "usage_percent", usagePercent)

	case usagePercent < a.cfg.LowThreshold:
		if len(healthy) <= 1 {
			return // never scale the cluster down to zero nodes
		}
		if a.inBlackout.Load() {
			logger.V(1).Info("autoscale scale-down skipped: blackout window active")
			return
		}
		target := leastLoaded(healthy)
		if _, err := a.manager.ScaleDown(ctx, target); err != nil {
			logger.Error(err, "autoscale scale-down failed", "node", target, "usage_percent", usagePercent)
			return
		}
		logger.Info("autoscale scaled down", "node", target, "usage_percent", usagePercent)
	}
}

// leastLoaded returns the node id with the smallest allocated cpu,
// ties broken by the lowest node id, so consolidation always targets
// the cheapest node to empty out.
func leastLoaded(nodes []v1.NodeSnapshot) string {
	ordered := make([]v1.NodeSnapshot, len(nodes))
	copy(ordered, nodes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Allocated != ordered[j].Allocated {
			return ordered[i].Allocated < ordered[j].Allocated
		}
		return ordered[i].NodeID < ordered[j].NodeID
	})
	return ordered[0].NodeID
}
