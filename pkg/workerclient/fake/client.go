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

// Package fake is an in-memory WorkerClient for tests and for running
// the control plane against simulated workers without any real
// network hop, the same role the teacher's cloudprovider/fake package
// plays for cloud instance creation.
package fake

import (
	"context"
	"sync"

	"github.com/podfleet/controlplane/pkg/ctlerrors"
	"github.com/podfleet/controlplane/pkg/workerclient"
)

// Client simulates one worker node in memory. Safe for concurrent use.
type Client struct {
	mu          sync.Mutex
	pods        map[string]workerclient.PodMetric
	Unreachable bool // simulate a worker that cannot be reached at all
	RejectNext  bool // simulate the worker rejecting the next Place call
}

func NewClient() *Client {
	return &Client{pods: map[string]workerclient.PodMetric{}}
}

func (c *Client) Place(_ context.Context, podID string, cpuRequest int, heavenlyRestriction bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return ctlerrors.New(ctlerrors.Transport, "fake worker unreachable")
	}
	if c.RejectNext {
		c.RejectNext = false
		return ctlerrors.New(ctlerrors.WorkerRejection, "fake worker rejected placement")
	}
	c.pods[podID] = workerclient.PodMetric{CPUUsage: float64(cpuRequest), CPURequest: cpuRequest, Restricted: heavenlyRestriction}
	return nil
}

func (c *Client) Remove(_ context.Context, podID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return ctlerrors.New(ctlerrors.Transport, "fake worker unreachable")
	}
	delete(c.pods, podID)
	return nil
}

func (c *Client) FetchMetrics(_ context.Context) (map[string]workerclient.PodMetric, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Unreachable {
		return nil, ctlerrors.New(ctlerrors.Transport, "fake worker unreachable")
	}
	out := make(map[string]workerclient.PodMetric, len(c.pods))
	for k, v := range c.pods {
		out[k] = v
	}
	return out, nil
}

// SetUsage lets tests fix a pod's reported usage directly.
func (c *Client) SetUsage(podID string, metric workerclient.PodMetric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pods[podID] = metric
}

// Registry is a Factory-compatible lookup of fake clients keyed by
// handle, so LifecycleManager can be wired against an all-in-memory
// cluster in tests.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: map[string]*Client{}}
}

// Factory returns a workerclient.Factory backed by this registry,
// creating a fresh Client the first time a handle is dialed.
func (r *Registry) Factory() workerclient.Factory {
	return func(handle string) workerclient.WorkerClient {
		r.mu.Lock()
		defer r.mu.Unlock()
		c, ok := r.clients[handle]
		if !ok {
			c = NewClient()
			r.clients[handle] = c
		}
		return c
	}
}

// Get returns the fake client behind handle, for test assertions.
func (r *Registry) Get(handle string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[handle]
}
