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

// Package fake is an in-memory NodeProvisioner for tests and local runs
// that don't have a real worker-container provisioner wired up. Handles
// are human-readable synthetic names, the same
// docker/docker/pkg/namesgenerator trick the teacher's kwok fake cloud
// provider uses in kwok/cloudprovider/helpers.go to make fake instances
// recognizable in logs.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/pkg/namesgenerator"
)

// Provisioner simulates node provisioning without spinning up any real
// process. Safe for concurrent use.
type Provisioner struct {
	mu             sync.Mutex
	handles        map[string]string // node id -> handle
	FailNextN      int               // number of subsequent Provision calls to fail, for tests
	Decommissioned []string          // handles passed to Decommission, for test assertions
}

func New() *Provisioner {
	return &Provisioner{handles: map[string]string{}}
}

func (p *Provisioner) Provision(_ context.Context, nodeID string, _ int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailNextN > 0 {
		p.FailNextN--
		return "", fmt.Errorf("fake provisioner: simulated failure provisioning %s", nodeID)
	}
	handle := namesgenerator.GetRandomName(0)
	p.handles[nodeID] = handle
	return handle, nil
}

func (p *Provisioner) Decommission(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Decommissioned = append(p.Decommissioned, handle)
	return nil
}
