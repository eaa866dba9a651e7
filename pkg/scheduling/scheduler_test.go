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

package scheduling_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/podfleet/controlplane/pkg/apis/v1"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
	"github.com/podfleet/controlplane/pkg/scheduling"
)

func snap(id string, capacity, available int) v1.NodeSnapshot {
	return v1.NodeSnapshot{NodeID: id, Capacity: capacity, Allocated: capacity - available, Available: available, Healthy: true}
}

func TestFirstFitPicksLowestFittingID(t *testing.T) {
	s := scheduling.New(scheduling.FirstFit)
	candidates := []v1.NodeSnapshot{snap("node_3", 4, 4), snap("node_1", 4, 1), snap("node_2", 4, 3)}
	picked, err := s.Select(2, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_2", picked)
}

func TestSelectNoFitReturnsNoCapacity(t *testing.T) {
	s := scheduling.New(scheduling.FirstFit)
	_, err := s.Select(5, []v1.NodeSnapshot{snap("node_1", 4, 2)})
	require.Error(t, err)
	assert.Equal(t, ctlerrors.NoCapacity, ctlerrors.KindOf(err))
}

func TestBestFitMinimizesRemaining(t *testing.T) {
	s := scheduling.New(scheduling.BestFit)
	candidates := []v1.NodeSnapshot{snap("node_3", 8, 8), snap("node_4", 4, 3)}
	picked, err := s.Select(2, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_4", picked) // remaining 1, vs node_3's remaining 6
}

func TestBestFitTieBreaksOnHigherCapacity(t *testing.T) {
	s := scheduling.New(scheduling.BestFit)
	// Both have 2 remaining after a request of 2; node_4 has more capacity.
	candidates := []v1.NodeSnapshot{snap("node_3", 4, 4), snap("node_4", 8, 4)}
	picked, err := s.Select(2, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_4", picked)
}

func TestBestFitNodeOneTwoCarveOut(t *testing.T) {
	s := scheduling.New(scheduling.BestFit)
	// node_1 and node_2 tie on remaining and on capacity; the general
	// tie-break would keep node_1 (first seen), but the carve-out flips
	// it to node_2.
	candidates := []v1.NodeSnapshot{snap("node_1", 4, 4), snap("node_2", 4, 4)}
	picked, err := s.Select(2, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_2", picked)
}

func TestBestFitNodeOneTwoCarveOutDoesNotApplyWhenNotTied(t *testing.T) {
	s := scheduling.New(scheduling.BestFit)
	candidates := []v1.NodeSnapshot{snap("node_1", 4, 2), snap("node_2", 8, 6)}
	picked, err := s.Select(2, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_1", picked) // remaining 0 beats remaining 4
}

func TestWorstFitMaximizesRemaining(t *testing.T) {
	s := scheduling.New(scheduling.WorstFit)
	candidates := []v1.NodeSnapshot{snap("node_1", 4, 2), snap("node_2", 8, 7)}
	picked, err := s.Select(1, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_2", picked)
}

func TestWorstFitTieBreaksOnLowestID(t *testing.T) {
	s := scheduling.New(scheduling.WorstFit)
	candidates := []v1.NodeSnapshot{snap("node_2", 4, 4), snap("node_1", 4, 4)}
	picked, err := s.Select(1, candidates)
	require.NoError(t, err)
	assert.Equal(t, "node_1", picked)
}

func TestSelectIsDeterministic(t *testing.T) {
	s := scheduling.New(scheduling.BestFit)
	candidates := []v1.NodeSnapshot{snap("node_1", 4, 2), snap("node_2", 8, 6), snap("node_3", 2, 2)}
	first, err := s.Select(2, candidates)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := s.Select(2, candidates)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
