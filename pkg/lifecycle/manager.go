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

// Package lifecycle is the control plane's reconciliation core: adding
// and removing nodes, placing and deleting pods, and draining the
// pending queue whenever capacity opens up. It plays the role the
// teacher splits across pkg/controllers/provisioning (placement),
// pkg/controllers/termination (node teardown) and
// pkg/controllers/disruption (rescheduling displaced work), collapsed
// here into a single Manager since this control plane has no separate
// reconcile loop driving each concern — every operation is a direct,
// synchronous call from the API edge.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/cloudprovider"
	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
	"github.com/podfleet/controlplane/pkg/ctlog"
	"github.com/podfleet/controlplane/pkg/metrics"
	"github.com/podfleet/controlplane/pkg/pending"
	"github.com/podfleet/controlplane/pkg/scheduling"
	"github.com/podfleet/controlplane/pkg/workerclient"
)

// Config carries the knobs LifecycleManager needs from the process
// configuration (spec §4.2, §4.9).
type Config struct {
	// DefaultNodeCapacity is used whenever AddNode is called with no
	// explicit capacity. A node LaunchPod adds through auto-scaling gets
	// max(cpu_request, DefaultNodeCapacity).
	DefaultNodeCapacity int
	// AutoScale gates whether LaunchPod is allowed to provision a new
	// node when the cluster is empty or on a NoCapacity outcome.
	AutoScale bool
	// HeavenlyRestriction is forwarded verbatim on every Place call; the
	// control plane never interprets it (spec §6).
	HeavenlyRestriction bool
}

// Manager is the single owner of the placement decision: it is the only
// component that calls both NodeProvisioner and WorkerClient. Every
// method is safe for concurrent use; all serialization happens inside
// the Registry and Queue it wraps.
type Manager struct {
	registry    *cluster.Registry
	pendingQ    *pending.Queue
	scheduler   *scheduling.Scheduler
	provisioner cloudprovider.NodeProvisioner
	dial        workerclient.Factory
	cfg         Config

	podSeq uint64
}

func NewManager(registry *cluster.Registry, pendingQ *pending.Queue, scheduler *scheduling.Scheduler, provisioner cloudprovider.NodeProvisioner, dial workerclient.Factory, cfg Config) *Manager {
	return &Manager{
		registry:    registry,
		pendingQ:    pendingQ,
		scheduler:   scheduler,
		provisioner: provisioner,
		dial:        dial,
		cfg:         cfg,
	}
}

// AddNode provisions a new node of the given capacity (spec §4.4.1). A
// non-positive capacity falls back to the configured default.
func (m *Manager) AddNode(ctx context.Context, capacity int) (*v1.Node, error) {
	return m.addNode(ctx, capacity, "manual")
}

// ScaleUp is AddNode labeled for the auto_scale trigger, called by the
// AutoScaler rather than the API edge (spec §4.9).
func (m *Manager) ScaleUp(ctx context.Context, capacity int) (*v1.Node, error) {
	return m.addNode(ctx, capacity, "auto_scale")
}

// addNode reserves a node id first (so it can be handed to the
// provisioner, and so the id is never reused even on failure), then
// provisions, then records the handle. Provisioning failure rolls the
// reservation back. trigger labels the nodes_provisioned_total metric.
func (m *Manager) addNode(ctx context.Context, capacity int, trigger string) (*v1.Node, error) {
	if capacity <= 0 {
		capacity = m.cfg.DefaultNodeCapacity
	}
	logger := ctlog.FromContext(ctx)

	n, err := m.registry.Add(capacity, "")
	if err != nil {
		return nil, err
	}

	handle, err := m.provisioner.Provision(ctx, n.ID, capacity)
	if err != nil {
		if _, rerr := m.registry.Remove(n.ID); rerr != nil {
			logger.Error(rerr, "rolling back reserved node id after provision failure", "node", n.ID)
		}
		return nil, ctlerrors.Wrap(ctlerrors.Provision, "provisioning node "+n.ID, err)
	}
	if err := m.registry.SetHandle(n.ID, handle); err != nil {
		return nil, err
	}
	n.Handle = handle

	metrics.NodesProvisionedCounter.WithLabelValues(trigger).Inc()
	logger.Info("node added", "node", n.ID, "capacity", capacity, "trigger", trigger)

	m.DrainPending(ctx)
	return n, nil
}

// LaunchResult is the outcome of a successful LaunchPod.
type LaunchResult struct {
	PodID  string
	NodeID string
}

// LaunchPod places a pod, generating a pod id if the caller didn't
// supply one (spec §4.4.2). When the cluster is empty or momentarily
// out of capacity, auto-scaling provisions one node and retries exactly
// once before the pod falls into the pending queue.
func (m *Manager) LaunchPod(ctx context.Context, podID string, cpuRequest int) (*LaunchResult, error) {
	if cpuRequest <= 0 {
		return nil, ctlerrors.New(ctlerrors.Validation, "cpu_request must be positive")
	}
	if podID == "" {
		podID = m.nextPodID()
	} else if owner := m.registry.NodeOwning(podID); owner != "" {
		return nil, ctlerrors.New(ctlerrors.Validation, fmt.Sprintf("pod %s already placed on %s", podID, owner))
	}

	logger := ctlog.FromContext(ctx)

	if len(m.registry.ListNodes()) == 0 {
		if !m.cfg.AutoScale {
			return nil, ctlerrors.New(ctlerrors.NoCapacity, "no nodes available")
		}
		if _, err := m.addNode(ctx, max(cpuRequest, m.cfg.DefaultNodeCapacity), "auto_scale"); err != nil {
			return nil, err
		}
	}

	nodeID, err := m.scheduleAndPlace(ctx, podID, cpuRequest)
	if err != nil {
		if ctlerrors.KindOf(err) != ctlerrors.NoCapacity || !m.cfg.AutoScale {
			m.enqueuePending(podID, cpuRequest, "")
			return nil, err
		}
		if _, aerr := m.addNode(ctx, max(cpuRequest, m.cfg.DefaultNodeCapacity), "auto_scale"); aerr != nil {
			m.enqueuePending(podID, cpuRequest, "")
			return nil, aerr
		}
		nodeID, err = m.scheduleAndPlace(ctx, podID, cpuRequest)
		if err != nil {
			m.enqueuePending(podID, cpuRequest, "")
			return nil, err
		}
	}

	m.pendingQ.Remove(podID)
	metrics.PodsPendingGauge.Set(float64(m.pendingQ.Len()))
	logger.Info("pod launched", "pod", podID, "node", nodeID)
	return &LaunchResult{PodID: podID, NodeID: nodeID}, nil
}

// DeletePod removes a pod from its node: a single worker call, then the
// registry commit, then an opportunistic pending drain (spec §4.4.3).
func (m *Manager) DeletePod(ctx context.Context, nodeID, podID string) error {
	node, err := m.registry.Get(nodeID)
	if err != nil {
		return err
	}
	if _, ok := node.PlacedPods[podID]; !ok {
		return ctlerrors.New(ctlerrors.NotFound, fmt.Sprintf("pod %s not found on %s", podID, nodeID))
	}

	client := m.dial(node.Handle)
	if err := client.Remove(ctx, podID); err != nil {
		return err
	}
	if err := m.registry.UnplacePod(nodeID, podID); err != nil {
		return err
	}
	m.pendingQ.Remove(podID)
	ctlog.FromContext(ctx).Info("pod deleted", "pod", podID, "node", nodeID)

	m.DrainPending(ctx)
	return nil
}

// RemoveReport summarizes what happened to a removed node's pods.
type RemoveReport struct {
	Removed     string
	Rescheduled []string
	Failed      []string
	Partial     bool
}

// RemoveNode excises a node and attempts to reschedule everything it
// was hosting onto the remaining fleet, smallest cpu_request first, so
// a single large displaced pod can't starve smaller ones out of newly
// freed capacity (spec §4.4.4). Pods that don't fit anywhere, or whose
// worker call fails, land in the pending queue instead of being
// dropped.
func (m *Manager) RemoveNode(ctx context.Context, nodeID string) (*RemoveReport, error) {
	return m.removeNode(ctx, nodeID, "manual")
}

// ScaleDown is RemoveNode labeled for the auto_scale trigger, called by
// the AutoScaler rather than the API edge (spec §4.9).
func (m *Manager) ScaleDown(ctx context.Context, nodeID string) (*RemoveReport, error) {
	return m.removeNode(ctx, nodeID, "auto_scale")
}

func (m *Manager) removeNode(ctx context.Context, nodeID, trigger string) (*RemoveReport, error) {
	logger := ctlog.FromContext(ctx)

	node, err := m.registry.Get(nodeID)
	if err != nil {
		return nil, err
	}
	placed, err := m.registry.Remove(nodeID)
	if err != nil {
		return nil, err
	}
	if derr := m.provisioner.Decommission(ctx, node.Handle); derr != nil {
		logger.Error(derr, "decommissioning node failed, continuing", "node", nodeID, "handle", node.Handle)
	}
	metrics.NodesRemovedCounter.WithLabelValues(trigger).Inc()

	report := &RemoveReport{Removed: nodeID}
	if len(placed) == 0 {
		return report, nil
	}

	placement := cluster.NewPlacement(m.registry)
	maxAvailable := placement.MaxAvailable()

	type displacedPod struct {
		podID string
		cpu   int
	}
	var unfit, candidates []displacedPod
	for podID, cpu := range placed {
		if cpu > maxAvailable {
			unfit = append(unfit, displacedPod{podID, cpu})
		} else {
			candidates = append(candidates, displacedPod{podID, cpu})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].cpu < candidates[j].cpu })

	for _, d := range unfit {
		m.enqueuePending(d.podID, d.cpu, nodeID)
		report.Failed = append(report.Failed, d.podID)
		metrics.PodsRescheduledCounter.WithLabelValues("failed").Inc()
	}
	for _, d := range candidates {
		// Each iteration re-derives placement from the registry, which
		// already reflects every reschedule committed earlier in this
		// loop - equivalent to maintaining running totals by hand, but
		// for free, since a successful scheduleAndPlace is visible to
		// the registry immediately.
		if _, err := m.scheduleAndPlace(ctx, d.podID, d.cpu); err != nil {
			m.enqueuePending(d.podID, d.cpu, nodeID)
			report.Failed = append(report.Failed, d.podID)
			metrics.PodsRescheduledCounter.WithLabelValues("failed").Inc()
			continue
		}
		report.Rescheduled = append(report.Rescheduled, d.podID)
		metrics.PodsRescheduledCounter.WithLabelValues("rescheduled").Inc()
	}
	report.Partial = len(report.Failed) > 0

	logger.Info("node removed", "node", nodeID,
		"rescheduled", len(report.Rescheduled), "failed", len(report.Failed))
	if len(report.Rescheduled) > 0 {
		m.DrainPending(ctx)
	}
	return report, nil
}

// DrainPending makes one pass over the pending queue, smallest
// cpu_request first, attempting to place each entry (spec §4.4.5). It
// is called opportunistically after anything that can free or add
// capacity: AddNode, DeletePod, RemoveNode's own reschedule successes.
func (m *Manager) DrainPending(ctx context.Context) {
	entries := m.pendingQ.ByCPUAscending()
	for _, e := range entries {
		if _, err := m.scheduleAndPlace(ctx, e.PodID, e.CPURequest); err != nil {
			continue
		}
		m.pendingQ.Remove(e.PodID)
	}
	metrics.PodsPendingGauge.Set(float64(m.pendingQ.Len()))
}

// scheduleAndPlace is the shared placement pipeline behind LaunchPod,
// DrainPending and RemoveNode's reschedule loop: pick a node from a
// fresh placement snapshot, commit it in the registry, then tell the
// worker. A worker-side failure unwinds the registry commit so the pod
// doesn't appear placed on a node that never got it.
func (m *Manager) scheduleAndPlace(ctx context.Context, podID string, cpuRequest int) (string, error) {
	placement := cluster.NewPlacement(m.registry)

	start := time.Now()
	nodeID, err := m.scheduler.Select(cpuRequest, placement.Entries())
	metrics.SchedulingDuration.WithLabelValues(string(m.scheduler.Policy)).Observe(time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	if err := m.registry.PlacePod(nodeID, podID, cpuRequest); err != nil {
		return "", err
	}
	node, err := m.registry.Get(nodeID)
	if err != nil {
		_ = m.registry.UnplacePod(nodeID, podID)
		return "", err
	}

	client := m.dial(node.Handle)
	if err := client.Place(ctx, podID, cpuRequest, m.cfg.HeavenlyRestriction); err != nil {
		_ = m.registry.UnplacePod(nodeID, podID)
		return "", err
	}

	metrics.PodsPlacedCounter.WithLabelValues(string(m.scheduler.Policy)).Inc()
	return nodeID, nil
}

func (m *Manager) enqueuePending(podID string, cpuRequest int, originNodeID string) {
	m.pendingQ.Enqueue(v1.PendingEntry{PodID: podID, CPURequest: cpuRequest, OriginNodeID: originNodeID})
	metrics.PodsPendingGauge.Set(float64(m.pendingQ.Len()))
}

// nextPodID generates a pod id for launches that omit one. Ids are
// counter-based rather than random, mirroring the registry's own
// node_<N> scheme; callers that supply their own pod ids are
// responsible for avoiding collisions with this scheme.
func (m *Manager) nextPodID() string {
	n := atomic.AddUint64(&m.podSeq, 1)
	return fmt.Sprintf("pod_%d", n)
}
