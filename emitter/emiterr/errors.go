// Copyright 2025 tlcodegen Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package emiterr defines the typed error kinds surfaced at the registry
// boundary. It is kept separate from package emitter so that typeprinter and
// planner — which raise these errors but sit below emitter in the import
// graph — can depend on it without a cycle.
package emiterr

import "fmt"

// Kind is a closed set of error categories a caller can switch on.
type Kind int

const (
	// UnsupportedType: a dtype/lanes combination not covered by the printer.
	UnsupportedType Kind = iota
	// UnsupportedScope: a storage scope other than global, shared.dyn,
	// shared, or local/empty.
	UnsupportedScope
	// MalformedIR: region rank not 2 or 4, wrong intrinsic arity, a missing
	// attribute, or similar shape violations of the inbound IR contract.
	MalformedIR
	// AllocationFailed: the planner could not place an allocation.
	AllocationFailed
	// UnknownIntrinsic: an unrecognized call_extern namespace.op. Non-fatal;
	// callers fall back to a generic extern call and keep going.
	UnknownIntrinsic
)

func (k Kind) String() string {
	switch k {
	case UnsupportedType:
		return "UnsupportedType"
	case UnsupportedScope:
		return "UnsupportedScope"
	case MalformedIR:
		return "MalformedIR"
	case AllocationFailed:
		return "AllocationFailed"
	case UnknownIntrinsic:
		return "UnknownIntrinsic"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the typed error value surfaced to the registry boundary.
type Error struct {
	Kind   Kind
	Buffer string // offending buffer name, populated for AllocationFailed
	Detail string
}

func (e *Error) Error() string {
	if e.Buffer != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Buffer, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Fatal reports whether the error kind must abort emission. Only
// UnknownIntrinsic is non-fatal.
func (e *Error) Fatal() bool { return e.Kind != UnknownIntrinsic }
