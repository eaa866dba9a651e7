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

package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/metrics"
	"github.com/podfleet/controlplane/pkg/workerclient"
	workerclientfake "github.com/podfleet/controlplane/pkg/workerclient/fake"
)

func TestPollMergesHeartbeatHealthWithReportedUsage(t *testing.T) {
	registry := cluster.NewRegistry()
	n, err := registry.Add(4, "h1")
	require.NoError(t, err)
	require.NoError(t, registry.PlacePod(n.ID, "pod_a", 2))
	require.NoError(t, registry.UpdateHeartbeat(n.ID, map[string]bool{"pod_a": false}))

	workers := workerclientfake.NewRegistry()
	workers.Factory()("h1").(*workerclientfake.Client).SetUsage("pod_a", workerclient.PodMetric{CPUUsage: 1.8, CPURequest: 2})

	agg := metrics.NewAggregator(registry, workers.Factory(), time.Minute)
	agg.Poll(context.Background())

	published := agg.Published()
	entry := published[n.ID]["pod_a"]
	assert.False(t, entry.Healthy)
	assert.Equal(t, float64(-1), entry.CPUUsage) // unhealthy pods publish the sentinel
	assert.Equal(t, 2, entry.CPURequest)
}

func TestPollFallsBackToLastKnownWhenUnreachable(t *testing.T) {
	registry := cluster.NewRegistry()
	n, err := registry.Add(4, "h1")
	require.NoError(t, err)
	require.NoError(t, registry.PlacePod(n.ID, "pod_a", 2))

	workers := workerclientfake.NewRegistry()
	client := workers.Factory()("h1").(*workerclientfake.Client)
	client.SetUsage("pod_a", workerclient.PodMetric{CPUUsage: 1.0, CPURequest: 2})

	agg := metrics.NewAggregator(registry, workers.Factory(), time.Minute)
	agg.Poll(context.Background())
	require.Equal(t, 1.0, agg.Published()[n.ID]["pod_a"].CPUUsage)

	client.Unreachable = true
	agg.Poll(context.Background())

	entry := agg.Published()[n.ID]["pod_a"]
	assert.False(t, entry.Healthy)
	assert.Equal(t, float64(-1), entry.CPUUsage)
}
