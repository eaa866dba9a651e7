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

// Package cluster is the control plane's source of truth for live
// nodes (Registry) and the derived, read-only capacity view scheduling
// decisions are made against (Placement). This mirrors the split the
// teacher keeps between pkg/controllers/state (authoritative cluster
// state) and the per-reconcile snapshots the scheduler consumes from it.
package cluster

import (
	"fmt"
	"sync"
	"time"

	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
)

// Clock is the minimal time source Registry needs, so tests can control
// heartbeat aging without sleeping. The teacher depends on k8s.io/utils/clock
// for the same purpose; that package has no home once controller-runtime
// is gone, so this is the narrow stdlib-only replacement (see DESIGN.md).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Registry owns every Node record exclusively. All mutation and all
// reads used to drive a mutation happen under mu; long-running I/O
// (worker calls, provisioner calls) must never happen while mu is held.
type Registry struct {
	mu          sync.Mutex
	nodes       map[string]*v1.Node
	podOwner    map[string]string // pod id -> node id, enforces global pod uniqueness
	counter     uint64
	nodeTimeout time.Duration
	clock       Clock
}

// Option configures a Registry at construction time.
type Option func(*Registry)

func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithNodeTimeout(d time.Duration) Option {
	return func(r *Registry) { r.nodeTimeout = d }
}

// NewRegistry constructs an empty Registry. Default node timeout is 10s
// per spec §4.1.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		nodes:       map[string]*v1.Node{},
		podOwner:    map[string]string{},
		nodeTimeout: 10 * time.Second,
		clock:       realClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a new node with the given capacity and provisioner
// handle, assigning it the next monotonic node_<N> id. The counter is
// never reused, even for a node that is later removed.
func (r *Registry) Add(capacity int, handle string) (*v1.Node, error) {
	if capacity <= 0 {
		return nil, ctlerrors.New(ctlerrors.Validation, "capacity must be positive")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	id := fmt.Sprintf("node_%d", r.counter)
	n := &v1.Node{
		ID:            id,
		Capacity:      capacity,
		Handle:        handle,
		State:         v1.NodeStarting,
		LastHeartbeat: r.clock.Now(),
		PodHealth:     map[string]bool{},
		PlacedPods:    map[string]int{},
	}
	r.nodes[id] = n
	return n.DeepCopy(), nil
}

// Get returns a deep copy of the node, or NotFound.
func (r *Registry) Get(nodeID string) (*v1.Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "node "+nodeID+" not found")
	}
	return r.healthy(n).DeepCopy(), nil
}

// Remove atomically excises the node and returns an immutable snapshot
// of the pods it was hosting (pod id -> cpu_request) for the caller to
// reschedule. The node is never resurrected; a future Add issues a new,
// higher-numbered id.
func (r *Registry) Remove(nodeID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return nil, ctlerrors.New(ctlerrors.NotFound, "node "+nodeID+" not found")
	}
	n.State = v1.NodeRemoving
	placed := make(map[string]int, len(n.PlacedPods))
	for podID, cpu := range n.PlacedPods {
		placed[podID] = cpu
		delete(r.podOwner, podID)
	}
	delete(r.nodes, nodeID)
	return placed, nil
}

// UpdateHeartbeat applies a heartbeat from a worker: refreshes
// last_heartbeat and merges in the reported pod health. Heartbeats for
// a given node must be applied in arrival order by the caller (the
// HealthMonitor serializes per-node delivery).
func (r *Registry) UpdateHeartbeat(nodeID string, podHealth map[string]bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return ctlerrors.New(ctlerrors.NotFound, "node "+nodeID+" not found")
	}
	n.LastHeartbeat = r.clock.Now()
	for podID, healthy := range podHealth {
		n.PodHealth[podID] = healthy
	}
	if n.State == v1.NodeStarting {
		n.State = v1.NodeReady
	}
	return nil
}

// PlacePod atomically places a pod on a node, the serializing point for
// concurrent launches: it rejects if the node is unknown, if placing
// would exceed capacity, or if the pod id is already present anywhere
// in the cluster (invariant: a pod id appears on at most one node).
func (r *Registry) PlacePod(nodeID, podID string, cpuRequest int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return ctlerrors.New(ctlerrors.NotFound, "node "+nodeID+" not found")
	}
	if owner, exists := r.podOwner[podID]; exists {
		return ctlerrors.New(ctlerrors.Validation, fmt.Sprintf("pod %s already placed on %s", podID, owner))
	}
	if n.Allocated()+cpuRequest > n.Capacity {
		return ctlerrors.New(ctlerrors.NoCapacity, fmt.Sprintf("node %s has insufficient capacity", nodeID))
	}
	n.PlacedPods[podID] = cpuRequest
	r.podOwner[podID] = nodeID
	if n.State == v1.NodeStarting {
		n.State = v1.NodeReady
	}
	return nil
}

// SetHandle records the provisioner handle for a reserved node id. Used
// by LifecycleManager.AddNode, which reserves the id via Add before
// calling the (slow, unlocked) NodeProvisioner.Provision and only then
// learns the handle to store.
func (r *Registry) SetHandle(nodeID, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return ctlerrors.New(ctlerrors.NotFound, "node "+nodeID+" not found")
	}
	n.Handle = handle
	return nil
}

// UnplacePod removes a pod from a node's placed set. A no-op if the pod
// was never placed there.
func (r *Registry) UnplacePod(nodeID, podID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return ctlerrors.New(ctlerrors.NotFound, "node "+nodeID+" not found")
	}
	delete(n.PlacedPods, podID)
	delete(n.PodHealth, podID)
	if r.podOwner[podID] == nodeID {
		delete(r.podOwner, podID)
	}
	return nil
}

// Snapshot returns the current view of every live node, with health
// computed as of now.
func (r *Registry) Snapshot() []v1.NodeSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]v1.NodeSnapshot, 0, len(r.nodes))
	for _, n := range r.nodes {
		hn := r.healthy(n)
		out = append(out, v1.NodeSnapshot{
			NodeID:    hn.ID,
			Capacity:  hn.Capacity,
			Allocated: hn.Allocated(),
			Available: hn.Available(),
			Healthy:   hn.State != v1.NodeUnhealthy && hn.State != v1.NodeRemoving,
		})
	}
	return out
}

// NodeOwning returns the node id currently hosting podID, or "" if the
// pod isn't placed anywhere.
func (r *Registry) NodeOwning(podID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.podOwner[podID]
}

// ListNodes returns a deep-copied view of every node for the ListNodes
// command (spec §6), including last-heartbeat age.
func (r *Registry) ListNodes() []*v1.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*v1.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, r.healthy(n).DeepCopy())
	}
	return out
}

// healthy mutates n.State to Unhealthy in place when the heartbeat has
// aged past nodeTimeout, leaving Removing/Gone untouched. Called with
// mu held.
func (r *Registry) healthy(n *v1.Node) *v1.Node {
	if n.State == v1.NodeRemoving || n.State == v1.NodeGone {
		return n
	}
	if r.clock.Now().Sub(n.LastHeartbeat) > r.nodeTimeout {
		n.State = v1.NodeUnhealthy
	} else if n.State == v1.NodeUnhealthy {
		n.State = v1.NodeReady
	}
	return n
}

// NodeTimeout returns the configured heartbeat timeout.
func (r *Registry) NodeTimeout() time.Duration {
	return r.nodeTimeout
}
