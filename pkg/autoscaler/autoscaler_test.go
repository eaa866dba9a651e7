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

package autoscaler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podfleet/controlplane/pkg/autoscaler"
	cloudproviderfake "github.com/podfleet/controlplane/pkg/cloudprovider/fake"
	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/lifecycle"
	"github.com/podfleet/controlplane/pkg/pending"
	"github.com/podfleet/controlplane/pkg/scheduling"
	workerclientfake "github.com/podfleet/controlplane/pkg/workerclient/fake"
)

func newManager(registry *cluster.Registry) *lifecycle.Manager {
	return lifecycle.NewManager(
		registry,
		pending.NewQueue(),
		scheduling.New(scheduling.FirstFit),
		cloudproviderfake.New(),
		workerclientfake.NewRegistry().Factory(),
		lifecycle.Config{DefaultNodeCapacity: 4},
	)
}

func TestTickScalesUpPastHighThreshold(t *testing.T) {
	registry := cluster.NewRegistry()
	manager := newManager(registry)
	ctx := context.Background()

	n1, err := manager.AddNode(ctx, 4)
	require.NoError(t, err)
	n2, err := manager.AddNode(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, registry.PlacePod(n1.ID, "pod_a", 4))
	require.NoError(t, registry.PlacePod(n2.ID, "pod_b", 3))
	// 7/8 = 87.5%, above a high threshold of 80.

	scaler := autoscaler.New(registry, manager, autoscaler.Config{
		Enabled: true, HighThreshold: 80, LowThreshold: 20, DefaultNodeCapacity: 4,
	})
	scaler.Tick(ctx)

	assert.Len(t, registry.ListNodes(), 3)
}

func TestTickScalesDownTargetingLeastLoadedNode(t *testing.T) {
	registry := cluster.NewRegistry()
	manager := newManager(registry)
	ctx := context.Background()

	n1, err := manager.AddNode(ctx, 10)
	require.NoError(t, err)
	n2, err := manager.AddNode(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, registry.PlacePod(n1.ID, "pod_a", 1))
	// n2 stays empty: 1/20 = 5%, below a low threshold of 20. n2 has the
	// smaller allocated total (0 < 1), so it's the consolidation target.

	scaler := autoscaler.New(registry, manager, autoscaler.Config{
		Enabled: true, HighThreshold: 80, LowThreshold: 20, DefaultNodeCapacity: 4,
	})
	scaler.Tick(ctx)

	nodes := registry.ListNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, n1.ID, nodes[0].ID)
	assert.NotEqual(t, n2.ID, nodes[0].ID)
}

func TestTickNeverScalesDownBelowOneHealthyNode(t *testing.T) {
	registry := cluster.NewRegistry()
	manager := newManager(registry)
	ctx := context.Background()

	_, err := manager.AddNode(ctx, 10)
	require.NoError(t, err)
	// Single, empty node: usage 0%, well below the low threshold, but
	// there is nothing left to consolidate onto.

	scaler := autoscaler.New(registry, manager, autoscaler.Config{
		Enabled: true, HighThreshold: 80, LowThreshold: 20, DefaultNodeCapacity: 4,
	})
	scaler.Tick(ctx)

	assert.Len(t, registry.ListNodes(), 1)
}

func TestTickDoesNothingWhenDisabled(t *testing.T) {
	registry := cluster.NewRegistry()
	manager := newManager(registry)
	ctx := context.Background()

	n1, err := manager.AddNode(ctx, 4)
	require.NoError(t, err)
	require.NoError(t, registry.PlacePod(n1.ID, "pod_a", 4))

	scaler := autoscaler.New(registry, manager, autoscaler.Config{
		Enabled: false, HighThreshold: 80, LowThreshold: 20, DefaultNodeCapacity: 4,
	})
	scaler.Tick(ctx)

	assert.Len(t, registry.ListNodes(), 1)
}

func TestNewWiresBlackoutCronOnlyWhenBothBoundsSet(t *testing.T) {
	registry := cluster.NewRegistry()
	manager := newManager(registry)

	// Partial config (only one of the two bounds) must not panic and
	// must leave blackout disabled; only a matched start/end pair wires
	// the cron schedule. The inBlackout flag itself is private and only
	// flips on a real cron firing, so this only exercises the wiring
	// guard, not a live suppression.
	assert.NotPanics(t, func() {
		autoscaler.New(registry, manager, autoscaler.Config{
			Enabled: true, HighThreshold: 80, LowThreshold: 20,
			ScaleDownBlackoutStart: "0 9 * * *",
		})
	})
}
