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

// Package ir provides the lowered tensor-program intermediate representation
// consumed by the target code emitters: statements, expressions, buffers and
// the per-function container that carries planner results as attributes.
package ir

import "fmt"

// Kind is the scalar family of a DataType.
type Kind int

const (
	Int Kind = iota
	Uint
	Float
	BFloat16
	Float8
	Handle
	Bool
	Void
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Uint:
		return "uint"
	case Float:
		return "float"
	case BFloat16:
		return "bfloat16"
	case Float8:
		return "float8"
	case Handle:
		return "handle"
	case Bool:
		return "bool"
	case Void:
		return "void"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// DataType is the (kind, bits, lanes) triple shared by every typed IR node.
//
// Invariant: Lanes must be 1 when Kind is Handle.
type DataType struct {
	Kind  Kind
	Bits  int
	Lanes int
}

// NewScalar builds a DataType with Lanes=1.
func NewScalar(k Kind, bits int) DataType {
	return DataType{Kind: k, Bits: bits, Lanes: 1}
}

// NewVector builds a DataType with the given lane count.
func NewVector(k Kind, bits, lanes int) DataType {
	return DataType{Kind: k, Bits: bits, Lanes: lanes}
}

// Valid reports whether the triple respects the handle/lanes invariant.
func (d DataType) Valid() bool {
	if d.Kind == Handle && d.Lanes != 1 {
		return false
	}
	return d.Lanes >= 1
}

// IsScalar reports whether the type carries a single lane.
func (d DataType) IsScalar() bool { return d.Lanes == 1 }

func (d DataType) String() string {
	if d.Lanes == 1 {
		return fmt.Sprintf("%s%d", d.Kind, d.Bits)
	}
	return fmt.Sprintf("%s%dx%d", d.Kind, d.Bits, d.Lanes)
}

// Scope is the storage scope a Buffer lives in.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopeSharedDyn Scope = "shared.dyn"
	ScopeShared    Scope = "shared"
	ScopeLocal     Scope = "" // empty scope means on-chip/local
)

// Var is a variable identity. Two Vars with the same Name do not by that
// alone denote the same storage; identity comparison is by pointer,
// matching the IR's notion that
// "variable identity" is distinct from the textual hint used to name it.
type Var struct {
	// Name is a human-readable hint, not necessarily unique; the emitter's
	// fresh-name supply is the source of truth for emitted identifiers.
	Name string
	Type DataType
}

// NewVar allocates a new variable identity. Each call returns a distinct
// pointer even if Name/Type repeat, so callers must share *Var values to
// denote the same storage.
func NewVar(name string, t DataType) *Var {
	return &Var{Name: name, Type: t}
}

// Buffer describes on-chip or off-chip tensor storage.
type Buffer struct {
	Name  string
	Var   *Var
	DType DataType
	Shape []int64 // finite ordered sequence of integer extents
	Scope Scope
}

// SameStorage reports whether two buffers denote identical storage.
func (b *Buffer) SameStorage(o *Buffer) bool {
	return b.Var != nil && b.Var == o.Var
}

// Range is one (min, extent) pair of a Region.
type Range struct {
	Min    Expr
	Extent int64
}

// Region is a buffer slice: an ordered sequence of (min, extent) pairs whose
// cardinality must be 2 or 4.
type Region struct {
	Buffer *Buffer
	Ranges []Range
}

// Rank returns len(Ranges).
func (r Region) Rank() int { return len(r.Ranges) }

// PrimFunc is one compiled unit: parameters, the parameter->buffer map, the
// statement body, and planner-populated attributes.
type PrimFunc struct {
	Name      string
	Params    []*Var
	BufferMap map[*Var]*Buffer
	Body      Stmt
	Attrs     map[string]Expr
}

// NewPrimFunc builds an empty function shell ready for a body to be attached.
func NewPrimFunc(name string) *PrimFunc {
	return &PrimFunc{
		Name:      name,
		BufferMap: make(map[*Var]*Buffer),
		Attrs:     make(map[string]Expr),
	}
}

// SetAttr records a planner or frontend attribute.
func (f *PrimFunc) SetAttr(key string, val Expr) {
	f.Attrs[key] = val
}

// Attr looks up a previously set attribute.
func (f *PrimFunc) Attr(key string) (Expr, bool) {
	v, ok := f.Attrs[key]
	return v, ok
}

// Module is an ordered collection of functions handed to the registry for
// fan-out building; construction of a Module is outside the core's scope
// (it arrives pre-built from the CLI's JSON decoder or a host caller).
type Module struct {
	Funcs []*PrimFunc
}

// NewModule wraps a set of functions.
func NewModule(funcs ...*PrimFunc) *Module {
	return &Module{Funcs: funcs}
}
