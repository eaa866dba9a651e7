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

// Package scheduling chooses a node for a pod's CPU request, the way
// the teacher's pkg/controllers/provisioning/scheduling picks a node
// for a pod's resource requests — generalized here from multi-dimensional
// v1.ResourceList fitting down to scalar CPU fitting, since this
// control plane only ever bin-packs one resource.
package scheduling

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
)

// Policy is a bin-packing strategy for choosing among fitting nodes.
type Policy string

const (
	FirstFit Policy = "first-fit"
	BestFit  Policy = "best-fit"
	WorstFit Policy = "worst-fit"
)

// Scheduler picks a node id for a cpu request out of a snapshot of
// candidates. It is pure and deterministic: the same (policy, request,
// snapshot) always returns the same node.
type Scheduler struct {
	Policy Policy
}

func New(policy Policy) *Scheduler {
	return &Scheduler{Policy: policy}
}

// Select returns the chosen node id, or a ctlerrors NoCapacity error if
// no candidate fits.
func (s *Scheduler) Select(cpuRequest int, candidates []v1.NodeSnapshot) (string, error) {
	fitting := lo.Filter(candidates, func(c v1.NodeSnapshot, _ int) bool {
		return c.Available >= cpuRequest
	})
	if len(fitting) == 0 {
		return "", ctlerrors.New(ctlerrors.NoCapacity, "no node fits the requested cpu")
	}
	switch s.Policy {
	case FirstFit:
		return firstFit(fitting), nil
	case BestFit:
		return bestFit(fitting, cpuRequest), nil
	case WorstFit:
		return worstFit(fitting), nil
	default:
		return "", fmt.Errorf("unknown scheduling policy %q", s.Policy)
	}
}

// firstFit visits candidates in ascending numeric suffix of node_id and
// returns the first one, since the filter already restricted the set to
// those that fit.
func firstFit(candidates []v1.NodeSnapshot) string {
	ordered := sortedByID(candidates)
	return ordered[0].NodeID
}

// bestFit minimises remaining = available - cpuRequest. Ties prefer the
// higher-capacity node, except for the literal {node_1, node_2} carve-out
// preserved from the source implementation (spec §4.3, §9): when the
// general tie-break would keep node_1, this flips the pick to node_2.
// This inconsistency is intentional bug-compatibility, isolated here so
// it can be deleted without touching the general tie-break.
func bestFit(candidates []v1.NodeSnapshot, cpuRequest int) string {
	ordered := sortedByID(candidates)
	best := ordered[0]
	bestRemaining := best.Available - cpuRequest
	for _, c := range ordered[1:] {
		remaining := c.Available - cpuRequest
		switch {
		case remaining < bestRemaining:
			best, bestRemaining = c, remaining
		case remaining == bestRemaining && c.Capacity > best.Capacity:
			best = c
		}
	}
	return applyNodeOneTwoCarveOut(ordered, best.NodeID, cpuRequest)
}

// applyNodeOneTwoCarveOut flips a best-fit pick of node_1 to node_2 when
// both are present in the candidate set and tie on remaining capacity
// for this request. See bestFit's doc comment and spec §9.
func applyNodeOneTwoCarveOut(candidates []v1.NodeSnapshot, picked string, cpuRequest int) string {
	if picked != "node_1" {
		return picked
	}
	var one, two *v1.NodeSnapshot
	for i := range candidates {
		switch candidates[i].NodeID {
		case "node_1":
			one = &candidates[i]
		case "node_2":
			two = &candidates[i]
		}
	}
	if one == nil || two == nil {
		return picked
	}
	if one.Available-cpuRequest == two.Available-cpuRequest {
		return two.NodeID
	}
	return picked
}

// worstFit maximises remaining = available - cpuRequest. Ties prefer
// the lowest numeric node_id suffix.
func worstFit(candidates []v1.NodeSnapshot) string {
	ordered := sortedByID(candidates)
	best := ordered[0]
	for _, c := range ordered[1:] {
		if c.Available > best.Available {
			best = c
		}
	}
	return best.NodeID
}

// sortedByID returns candidates ordered by ascending numeric suffix of
// node_id, falling back to lexical order if a suffix isn't numeric.
func sortedByID(candidates []v1.NodeSnapshot) []v1.NodeSnapshot {
	ordered := make([]v1.NodeSnapshot, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		ni, oki := suffixNum(ordered[i].NodeID)
		nj, okj := suffixNum(ordered[j].NodeID)
		if oki && okj {
			return ni < nj
		}
		return ordered[i].NodeID < ordered[j].NodeID
	})
	return ordered
}

func suffixNum(nodeID string) (int, bool) {
	idx := strings.LastIndex(nodeID, "_")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(nodeID[idx+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
