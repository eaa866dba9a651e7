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

package health_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podfleet/controlplane/pkg/cluster"
	"github.com/podfleet/controlplane/pkg/ctlerrors"
	"github.com/podfleet/controlplane/pkg/health"
)

func TestHeartbeatUpdatesPodHealth(t *testing.T) {
	registry := cluster.NewRegistry(cluster.WithNodeTimeout(10 * time.Second))
	n, err := registry.Add(4, "h1")
	require.NoError(t, err)

	m := health.NewMonitor(registry)
	require.NoError(t, m.Heartbeat(n.ID, map[string]bool{"pod_a": true}))

	got, err := registry.Get(n.ID)
	require.NoError(t, err)
	assert.True(t, got.PodHealth["pod_a"])
}

func TestHeartbeatUnknownNode(t *testing.T) {
	registry := cluster.NewRegistry()
	m := health.NewMonitor(registry)
	err := m.Heartbeat("node_missing", nil)
	require.Error(t, err)
	assert.Equal(t, ctlerrors.NotFound, ctlerrors.KindOf(err))
}

func TestIsHealthyReflectsTimeout(t *testing.T) {
	clock := &testClock{now: time.Unix(0, 0)}
	registry := cluster.NewRegistry(cluster.WithClock(clock), cluster.WithNodeTimeout(5*time.Second))
	n, err := registry.Add(4, "h1")
	require.NoError(t, err)

	m := health.NewMonitor(registry)
	healthy, err := m.IsHealthy(n.ID)
	require.NoError(t, err)
	assert.True(t, healthy)

	clock.now = clock.now.Add(6 * time.Second)
	healthy, err = m.IsHealthy(n.ID)
	require.NoError(t, err)
	assert.False(t, healthy)
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }
