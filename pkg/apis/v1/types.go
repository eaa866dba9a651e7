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

// Package v1 holds the core data model shared by every control-plane
// package: nodes, pods, and the pending-queue entries that connect them.
package v1

import "time"

// NodeState is the lifecycle state of a managed Node.
type NodeState string

const (
	NodeStarting  NodeState = "Starting"
	NodeReady     NodeState = "Ready"
	NodeUnhealthy NodeState = "Unhealthy"
	NodeRemoving  NodeState = "Removing"
	NodeGone      NodeState = "Gone"
)

// Node is a managed worker hosting pods. NodeRegistry is the sole owner
// of Node records; every other package only ever sees a snapshot.
type Node struct {
	ID            string
	Capacity      int
	Handle        string
	State         NodeState
	LastHeartbeat time.Time
	// PodHealth is the last reported liveness per pod, from heartbeats.
	PodHealth map[string]bool
	// PlacedPods maps pod id to its CPU request for pods authoritatively
	// placed on this node by the LifecycleManager/NodeRegistry.
	PlacedPods map[string]int
}

// Allocated returns the sum of cpu_request over all placed pods.
func (n *Node) Allocated() int {
	total := 0
	for _, cpu := range n.PlacedPods {
		total += cpu
	}
	return total
}

// Available returns capacity minus allocated.
func (n *Node) Available() int {
	return n.Capacity - n.Allocated()
}

// DeepCopy returns an independent copy safe to hand outside the registry lock.
func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.PodHealth = make(map[string]bool, len(n.PodHealth))
	for k, v := range n.PodHealth {
		cp.PodHealth[k] = v
	}
	cp.PlacedPods = make(map[string]int, len(n.PlacedPods))
	for k, v := range n.PlacedPods {
		cp.PlacedPods[k] = v
	}
	return &cp
}

// Pod is a unit of work with a declared integer CPU request. A pod is in
// exactly one of {placed on exactly one node, pending, absent}.
type Pod struct {
	ID         string
	CPURequest int
	NodeID     string // empty when pending or absent
	Healthy    bool
}

// PendingEntry is a pod the scheduler could not place, retained in
// insertion order until capacity opens up.
type PendingEntry struct {
	PodID        string
	CPURequest   int
	OriginNodeID string // "" if this was initial overflow, not a displacement
	QueuedAt     time.Time
}

// NodeSnapshot is the read-only projection PlacementIndex and Scheduler
// consume; it never carries a pointer back into NodeRegistry state.
type NodeSnapshot struct {
	NodeID    string
	Capacity  int
	Allocated int
	Available int
	Healthy   bool
}

// PodStatusEntry is a single pod's published status, as surfaced by
// MetricsAggregator and the PodStatus endpoint.
type PodStatusEntry struct {
	CPUUsage   float64
	CPURequest int
	Healthy    bool
	Restricted bool
}
