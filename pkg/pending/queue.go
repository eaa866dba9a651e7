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

// Package pending retains pods that could not be placed, in insertion
// order, until a drain finds capacity for them. It plays the role the
// teacher's pkg/controllers/disruption/orchestration.Queue plays for
// in-flight disruption commands, generalized from a
// workqueue.RateLimitingInterface of opaque commands to an ordered,
// cpu_request-keyed retention queue (the underlying workqueue itself
// has no home here — see DESIGN.md).
package pending

import (
	"sort"
	"sync"
	"time"

	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
)

// Queue holds pods waiting for capacity, keyed by pod id. No automatic
// expiry (spec §4.5).
type Queue struct {
	mu      sync.Mutex
	entries map[string]v1.PendingEntry
	order   []string // insertion order, for stable external observation
}

func NewQueue() *Queue {
	return &Queue{entries: map[string]v1.PendingEntry{}}
}

// Enqueue retains a pod. Re-enqueuing an already-queued pod id updates
// its entry in place without disturbing its original position.
func (q *Queue) Enqueue(e v1.PendingEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[e.PodID]; !exists {
		q.order = append(q.order, e.PodID)
	}
	if e.QueuedAt.IsZero() {
		e.QueuedAt = time.Now()
	}
	q.entries[e.PodID] = e
}

// Remove drops podID from the queue, if present.
func (q *Queue) Remove(podID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[podID]; !ok {
		return
	}
	delete(q.entries, podID)
	for i, id := range q.order {
		if id == podID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns every entry in insertion order (time of enqueue),
// preserving the external observation order spec §5 requires.
func (q *Queue) Snapshot() []v1.PendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]v1.PendingEntry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id])
	}
	return out
}

// ByCPUAscending returns every entry sorted ascending by cpu_request,
// the order spec §4.4.5 drains in, so a large pod doesn't starve
// smaller ones once a small amount of capacity opens up.
func (q *Queue) ByCPUAscending() []v1.PendingEntry {
	out := q.Snapshot()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CPURequest < out[j].CPURequest })
	return out
}

// Len returns the number of pods currently pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
