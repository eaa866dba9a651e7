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

// Package health consumes inbound heartbeats and surfaces node/pod
// liveness, the same timeout-based determination the teacher's
// pkg/controllers/machine/liveness.go makes for a NodeClaim that
// stopped checking in, but driven by explicit heartbeat events rather
// than a reconcile poll.
package health

import (
	"sync"

	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/cluster"
)

// Monitor applies heartbeats to the registry, serializing per node so
// that heartbeats from the same node are applied in arrival order
// (spec §5) even if the transport layer delivers them over concurrent
// connections.
type Monitor struct {
	registry *cluster.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMonitor(registry *cluster.Registry) *Monitor {
	return &Monitor{registry: registry, locks: map[string]*sync.Mutex{}}
}

// Heartbeat applies a heartbeat for nodeID. Unhealthiness does not by
// itself trigger removal (spec §4.8); it only updates last_heartbeat
// and pod_health for ListNodes/PodStatus to observe.
func (m *Monitor) Heartbeat(nodeID string, podHealth map[string]bool) error {
	lock := m.lockFor(nodeID)
	lock.Lock()
	defer lock.Unlock()
	return m.registry.UpdateHeartbeat(nodeID, podHealth)
}

func (m *Monitor) lockFor(nodeID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[nodeID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[nodeID] = l
	}
	return l
}

// IsHealthy reports whether nodeID's last heartbeat is within the
// registry's configured timeout.
func (m *Monitor) IsHealthy(nodeID string) (bool, error) {
	n, err := m.registry.Get(nodeID)
	if err != nil {
		return false, err
	}
	return n.State != v1.NodeUnhealthy, nil
}
