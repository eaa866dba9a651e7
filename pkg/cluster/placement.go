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

package cluster

import (
	"sort"

	"github.com/mitchellh/hashstructure/v2"
	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
)

// Placement is a pure projection over Registry: for every live node it
// exposes capacity/allocated/available. It never mutates anything; a
// fresh Placement is built from a Registry snapshot at each scheduling
// decision (RemoveNode builds a fresh one over the remaining nodes, per
// spec §4.4.4 step 3).
type Placement struct {
	entries []v1.NodeSnapshot
}

// NewPlacement builds a Placement from the registry's current snapshot.
func NewPlacement(r *Registry) *Placement {
	snap := r.Snapshot()
	sort.Slice(snap, func(i, j int) bool { return snap[i].NodeID < snap[j].NodeID })
	return &Placement{entries: snap}
}

// NewPlacementFrom builds a Placement directly from a slice of
// snapshots, for callers that maintain running totals outside the
// registry.
func NewPlacementFrom(entries []v1.NodeSnapshot) *Placement {
	cp := make([]v1.NodeSnapshot, len(entries))
	copy(cp, entries)
	return &Placement{entries: cp}
}

// Entries returns only the healthy candidates, the set the Scheduler is
// allowed to place onto.
func (p *Placement) Entries() []v1.NodeSnapshot {
	out := make([]v1.NodeSnapshot, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Healthy {
			out = append(out, e)
		}
	}
	return out
}

// All returns every candidate regardless of health, for read endpoints.
func (p *Placement) All() []v1.NodeSnapshot {
	out := make([]v1.NodeSnapshot, len(p.entries))
	copy(out, p.entries)
	return out
}

// MaxAvailable returns the largest available capacity across all
// entries, used by RemoveNode to classify a displaced pod as
// definitely-unfit before attempting to reschedule it.
func (p *Placement) MaxAvailable() int {
	max := 0
	for _, e := range p.entries {
		if e.Available > max {
			max = e.Available
		}
	}
	return max
}

// Hash returns a content hash of the current placement view, so callers
// (currently only tests) can cheaply detect whether anything changed
// since the last observation without a deep comparison.
func (p *Placement) Hash() (uint64, error) {
	return hashstructure.Hash(p.entries, hashstructure.FormatV2, nil)
}
