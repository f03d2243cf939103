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

package emitter

import "github.com/tile-lang/tlcodegen/emitter/emiterr"

// Error and the ErrorKind constants live in emiterr so that typeprinter and
// planner can raise them without importing package emitter (which imports
// both). Aliased here so callers of this package spell them as
// emitter.Error / emitter.UnsupportedType, matching §7's naming.
type Error = emiterr.Error
type ErrorKind = emiterr.Kind

const (
	UnsupportedType  = emiterr.UnsupportedType
	UnsupportedScope = emiterr.UnsupportedScope
	MalformedIR      = emiterr.MalformedIR
	AllocationFailed = emiterr.AllocationFailed
	UnknownIntrinsic = emiterr.UnknownIntrinsic
)
