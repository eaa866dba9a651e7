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

package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/ctlog"
	"github.com/podfleet/controlplane/pkg/workerclient"
)

// PollInterval is the default tick spec §4.7 wakes the aggregator on.
const PollInterval = 15 * time.Second

// Snapshot is the published, cluster-wide pod-status view: node id ->
// pod id -> status. It is immutable once published.
type Snapshot map[string]map[string]v1.PodStatusEntry

// Aggregator polls every live node on a fixed tick, merges worker-reported
// usage with heartbeat-reported health, and publishes an atomic swap of
// the result. Readers never block writers (spec §5). This mirrors the
// periodic-poll-and-publish shape of the teacher's
// pkg/controllers/metrics/pod/controller.go, generalized from a single
// reconcile-triggered pass to our free-running ticker.
type Aggregator struct {
	registry *cluster.Registry
	dial     workerclient.Factory
	interval time.Duration

	published atomic.Pointer[Snapshot]
	// lastKnown retains each node's last successful poll for four poll
	// intervals so a transiently unreachable node still shows its
	// pods (marked unhealthy) instead of vanishing from the view; it
	// naturally empties out for nodes that stay gone.
	lastKnown *cache.Cache
}

func NewAggregator(registry *cluster.Registry, dial workerclient.Factory, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = PollInterval
	}
	empty := Snapshot{}
	a := &Aggregator{
		registry:  registry,
		dial:      dial,
		interval:  interval,
		lastKnown: cache.New(interval*4, interval*4),
	}
	a.published.Store(&empty)
	return a
}

// Run blocks, polling on a.interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Poll(ctx)
		}
	}
}

// Poll runs one aggregation pass synchronously; Run calls this on each
// tick, but tests and the autoscaler loop can call it directly too.
func (a *Aggregator) Poll(ctx context.Context) {
	start := time.Now()
	defer func() { PollDuration.Observe(time.Since(start).Seconds()) }()

	nodes := a.registry.ListNodes()
	logger := ctlog.FromContext(ctx)

	var mu sync.Mutex
	var wg sync.WaitGroup
	snap := Snapshot{}
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries := a.pollNode(ctx, n)
			mu.Lock()
			snap[n.ID] = entries
			mu.Unlock()
		}()
	}
	wg.Wait()
	a.published.Store(&snap)
	logger.V(1).Info("metrics poll complete", "nodes", len(nodes))
}

func (a *Aggregator) pollNode(ctx context.Context, n *v1.Node) map[string]v1.PodStatusEntry {
	client := a.dial(n.Handle)
	reported, err := client.FetchMetrics(ctx)
	if err != nil {
		// Unreachable: fall back to the last known pods for this node,
		// all marked unhealthy with the sentinel usage. The node itself
		// is NOT removed from the registry here; that is heartbeat-
		// timeout driven, in HealthMonitor/Registry.
		if cached, ok := a.lastKnown.Get(n.ID); ok {
			last := cached.(map[string]v1.PodStatusEntry)
			stale := make(map[string]v1.PodStatusEntry, len(last))
			for podID, entry := range last {
				entry.Healthy = false
				entry.CPUUsage = -1
				stale[podID] = entry
			}
			return stale
		}
		return map[string]v1.PodStatusEntry{}
	}

	entries := make(map[string]v1.PodStatusEntry, len(reported))
	for podID, m := range reported {
		healthy, known := n.PodHealth[podID]
		if !known {
			healthy = true
		}
		usage := m.CPUUsage
		if !healthy {
			usage = -1
		}
		entries[podID] = v1.PodStatusEntry{
			CPUUsage:   usage,
			CPURequest: m.CPURequest,
			Healthy:    healthy,
			Restricted: m.Restricted,
		}
	}
	a.lastKnown.Set(n.ID, entries, cache.DefaultExpiration)
	return entries
}

// Published returns the most recently published snapshot.
func (a *Aggregator) Published() Snapshot {
	return *a.published.Load()
}
