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

// Package test holds fixture generators shared by the control plane's
// test suites, the same role the teacher's pkg/test package plays for
// its own NodeClaim/Pod builders, generalized here to the much smaller
// surface this domain needs: random pod ids and plausible cpu requests.
package test

import "github.com/Pallinder/go-randomdata"

// PodID returns a human-readable, almost-certainly-unique pod
// identifier for tests that don't care about a specific value, the
// same silly-name trick the teacher's fixtures use for node names.
func PodID() string {
	return "pod-" + randomdata.SillyName()
}

// NodeHandle returns a synthetic provisioner handle for tests that
// construct a *v1.Node directly instead of going through AddNode.
func NodeHandle() string {
	return randomdata.SillyName()
}

// CPURequest returns a small, plausible cpu_request in [min, max].
func CPURequest(min, max int) int {
	return randomdata.Number(min, max+1)
}
