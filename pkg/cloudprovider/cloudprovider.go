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

// Package cloudprovider is the abstract NodeProvisioner boundary (spec
// §1, out of scope for this core): whatever stands up and tears down
// the actual worker process. The teacher's pkg/cloudprovider.CloudProvider
// interface plays the identical role for its node claims; this is the
// same shape narrowed to this control plane's needs.
package cloudprovider

import "context"

// NodeProvisioner creates and destroys the underlying worker process a
// Node record represents. The control plane never talks to it except
// through LifecycleManager.AddNode / RemoveNode.
type NodeProvisioner interface {
	// Provision brings up a worker able to host cpuCapacity worth of
	// pods and returns an opaque handle (address, container id, ...)
	// the WorkerClient will later use to reach it.
	Provision(ctx context.Context, nodeID string, cpuCapacity int) (handle string, err error)
	// Decommission tears down the worker behind handle. Best-effort:
	// callers treat failures as logged, not fatal (spec §4.4.4 step 2).
	Decommission(ctx context.Context, handle string) error
}
