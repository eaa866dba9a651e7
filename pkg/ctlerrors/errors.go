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

// Package ctlerrors defines the control plane's error taxonomy (spec §7):
// Validation, NoCapacity, NotFound, WorkerRejection, Transport, Provision.
// Callers at the edge (pkg/api) switch on Kind to pick an HTTP status;
// everywhere else the errors are just wrapped and propagated with %w.
package ctlerrors

import "fmt"

type Kind string

const (
	Validation      Kind = "Validation"
	NoCapacity      Kind = "NoCapacity"
	NotFound        Kind = "NotFound"
	WorkerRejection Kind = "WorkerRejection"
	Transport       Kind = "Transport"
	Provision       Kind = "Provision"
)

// Error is a typed control-plane error carrying a kind for status mapping
// and an optional underlying cause for wrapping/unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or "" if err isn't one of ours.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
