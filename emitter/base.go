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

// Package emitter implements the shared IR visitor (Base) and the two
// concrete target emitters (TPU, RVV) that extend it with a tensor
// descriptor shape and an intrinsic dispatch table.
package emitter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tile-lang/tlcodegen/emitter/emiterr"
	"github.com/tile-lang/tlcodegen/ir"
	"github.com/tile-lang/tlcodegen/typeprinter"
)

// State is the allocation/emission lifecycle of one Base instance. See
// Base.state for the transition rules; re-entry after Complete or Failed is
// not supported.
type State int

const (
	StateReady State = iota
	StatePlanning
	StatePlanned
	StateEmitting
	StateClosing
	StateComplete
	StateFailed
)

// Rendered is the value an expression visitor returns: Prelude holds any
// statements that must be written to the enclosing block before Inline can
// be used (e.g. a vector unroll's scratch declarations); Inline is the
// expression text itself.
type Rendered struct {
	Prelude string
	Inline  string
}

// IntrinsicFunc lowers one call_extern("<ns>.<op>", args…) to a full
// Rendered block. It sees the owning Base so it can allocate fresh names,
// look up descriptor/shape tables, and write helper declarations.
type IntrinsicFunc func(b *Base, call *ir.Call) (Rendered, error)

// Hooks is the small set of behaviors that differ between the TPU and RVV
// targets; Base calls into Hooks wherever the source's virtual-dispatch
// points were. Everything else is shared visitor logic.
type Hooks interface {
	// DescriptorTypeName names the target's tensor descriptor type, used
	// when declaring a Let-bound "shared" variable or an if_then_else
	// result that resolves to a buffer.
	DescriptorTypeName() string
	// Dispatch looks an intrinsic op name up in the target's table.
	Dispatch(op string) (IntrinsicFunc, bool)
	// EmitAllocate lowers one Allocate statement into descriptor
	// declarations; target-specific because the descriptor shape differs
	// between TPU and RVV (both repeat the declaration Extents[0] times).
	EmitAllocate(b *Base, a *ir.Allocate) error
}

// NameSupply hands out fresh textual identifiers, sanitizing the characters
// that the inbound IR's variable hints may carry but C identifiers cannot.
type NameSupply struct {
	next   int
	issued map[string]bool
}

// NewNameSupply returns an empty supply.
func NewNameSupply() *NameSupply {
	return &NameSupply{issued: make(map[string]bool)}
}

var nameSanitizer = strings.NewReplacer(":", "_", "-", "_", ".", "_")

// Fresh returns a new, unique name derived from hint.
func (s *NameSupply) Fresh(hint string) string {
	base := nameSanitizer.Replace(hint)
	if base == "" {
		base = "v"
	}
	name := base
	for s.issued[name] {
		s.next++
		name = fmt.Sprintf("%s_%d", base, s.next)
	}
	s.issued[name] = true
	return name
}

// Shape4 is the (N, C, H, W) normalized tensor shape.
type Shape4 [4]int64

// Stride4 is the matching row-major (or inherited) stride tuple.
type Stride4 [4]int64

// DefaultStride computes row-major strides from a shape: stride[3]=1,
// stride[i]=stride[i+1]*shape[i+1].
func DefaultStride(shape Shape4) Stride4 {
	var s Stride4
	s[3] = 1
	for i := 2; i >= 0; i-- {
		s[i] = s[i+1] * shape[i+1]
	}
	return s
}

// NormalizeShape left-pads a rank-2 shape to (1, H, 1, W); rank-4 shapes
// pass through unchanged. Re-applying to an already rank-4 result is a
// no-op, matching the boundary behavior that padding is idempotent.
func NormalizeShape(shape []int64) Shape4 {
	switch len(shape) {
	case 2:
		return Shape4{1, shape[0], 1, shape[1]}
	case 4:
		return Shape4{shape[0], shape[1], shape[2], shape[3]}
	default:
		// Any other rank is copied into the leading slots without padding
		// (missing slots stay 0, extra dimensions are dropped); no
		// MalformedIR error is raised here or by the callers.
		var s Shape4
		copy(s[:], shape)
		return s
	}
}

// Base is the common visitor state shared by every target emitter: the
// output buffer, indentation, name supply, and the derived tables from
// §3.2. It owns no target-specific behavior; that is reached through Hooks.
type Base struct {
	Printer *typeprinter.Printer
	Hooks   Hooks

	buf    bytes.Buffer
	indent int
	names  *NameSupply
	state  State

	// VarID is the injective Variable-identity -> emitted name mapping.
	VarID map[*ir.Var]string
	// BufferShape maps an emitted tensor name to its normalized 4-D shape.
	BufferShape map[string]Shape4
	// BufferStride maps an emitted tensor name to its stride tuple.
	BufferStride map[string]Stride4
	// BufferElemType maps an emitted tensor name to its element dtype. RVV
	// needs this to pick the right vsetvl/load/store intrinsic suffix,
	// since its Tensor descriptor carries only raw byte counts at runtime,
	// unlike TPU's descriptor which carries its own dtype tag field.
	BufferElemType map[string]ir.DataType
	// BufferScope maps an emitted tensor name to its storage scope, needed
	// by TPU's copy lowering to pick tpu_gdma_cpy_S2L/L2S vs tpu_bdc_cpy.
	BufferScope map[string]ir.Scope
	// BufferAddr maps an on-chip allocation identity to its planner-assigned
	// byte offset.
	BufferAddr map[string]int64
	// ParamMap maps a parameter's short basename (its hint with any
	// trailing "_handle" suffix stripped) to the emitted descriptor name.
	ParamMap map[string]string
	// HandleType records the pointee type of Let-bound handle variables.
	HandleType map[*ir.Var]ir.DataType

	// Diagnostics accumulates non-fatal warnings (UnknownIntrinsic).
	Diagnostics []*emiterr.Error
}

// NewBase constructs an emitter state ready to receive planner output.
func NewBase(printer *typeprinter.Printer, hooks Hooks) *Base {
	return &Base{
		Printer:        printer,
		Hooks:          hooks,
		names:          NewNameSupply(),
		state:          StateReady,
		VarID:          make(map[*ir.Var]string),
		BufferShape:    make(map[string]Shape4),
		BufferStride:   make(map[string]Stride4),
		BufferElemType: make(map[string]ir.DataType),
		BufferScope:    make(map[string]ir.Scope),
		BufferAddr:     make(map[string]int64),
		ParamMap:       make(map[string]string),
		HandleType:     make(map[*ir.Var]ir.DataType),
	}
}

// requireState asserts the emitter is in one of the allowed states before a
// public method proceeds; §4.7 forbids out-of-order re-entry.
func (b *Base) requireState(allowed ...State) error {
	for _, s := range allowed {
		if b.state == s {
			return nil
		}
	}
	return fmt.Errorf("emitter: invalid state %v for this operation", b.state)
}

// SetPlan transitions Ready -> Planned, recording the Planner's offsets.
func (b *Base) SetPlan(offsets map[string]int64) error {
	if err := b.requireState(StateReady); err != nil {
		return err
	}
	b.state = StatePlanning
	for k, v := range offsets {
		b.BufferAddr[k] = v
	}
	b.state = StatePlanned
	return nil
}

// FreshName allocates a new identifier from the shared name supply.
func (b *Base) FreshName(hint string) string { return b.names.Fresh(hint) }

// NameOf returns the emitted name for a variable identity, allocating one on
// first use.
func (b *Base) NameOf(v *ir.Var) string {
	if name, ok := b.VarID[v]; ok {
		return name
	}
	name := b.names.Fresh(v.Name)
	b.VarID[v] = name
	return name
}

// Writef appends indented text to the output buffer.
func (b *Base) Writef(format string, args ...any) {
	b.buf.WriteString(strings.Repeat("  ", b.indent))
	fmt.Fprintf(&b.buf, format, args...)
}

// WriteRaw appends text without indentation, for callers assembling a line
// out of multiple Writef-free fragments.
func (b *Base) WriteRaw(s string) { b.buf.WriteString(s) }

func (b *Base) pushIndent() { b.indent++ }
func (b *Base) popIndent()  { b.indent-- }

// String returns the accumulated output so far.
func (b *Base) String() string { return b.buf.String() }

// Warn records a non-fatal diagnostic (only UnknownIntrinsic is expected
// here; §7 forbids using this for fatal kinds).
func (b *Base) Warn(e *emiterr.Error) { b.Diagnostics = append(b.Diagnostics, e) }

// EmitFunction walks f's body and returns the rendered C statements; callers
// (TPU.Build / RVV.Build) wrap this with their own prologue/epilogue.
func (b *Base) EmitFunction(f *ir.PrimFunc) error {
	if err := b.requireState(StatePlanned); err != nil {
		return err
	}
	b.state = StateEmitting
	for _, p := range f.Params {
		hint := strings.TrimSuffix(p.Name, "_handle")
		if buf, ok := f.BufferMap[p]; ok {
			name := b.NameOf(p)
			b.ParamMap[hint] = name
			b.BufferShape[name] = NormalizeShape(buf.Shape)
			b.BufferStride[name] = DefaultStride(b.BufferShape[name])
		}
	}
	if err := b.VisitStmt(f.Body); err != nil {
		b.state = StateFailed
		return err
	}
	b.state = StateClosing
	return nil
}

// Finish closes the emitter and returns the accumulated source.
func (b *Base) Finish() (string, error) {
	if err := b.requireState(StateClosing); err != nil {
		return "", err
	}
	b.state = StateComplete
	return b.buf.String(), nil
}

// VisitStmt dispatches on the concrete statement kind. For and Let, Attr
// (for unrecognized keys), If, Evaluate and Seq are fully generic; Allocate
// defers to Hooks, and the tpu_parallel_* Attr keys are written only when
// the target is TPU (on other targets they are transparent).
func (b *Base) VisitStmt(s ir.Stmt) error {
	switch n := s.(type) {
	case *ir.For:
		return b.visitFor(n)
	case *ir.Let:
		return b.visitLet(n)
	case *ir.Allocate:
		return b.Hooks.EmitAllocate(b, n)
	case *ir.DeclBuffer:
		name := b.NameOf(n.Buffer.Var)
		b.BufferShape[name] = NormalizeShape(n.Buffer.Shape)
		if _, ok := b.BufferStride[name]; !ok {
			b.BufferStride[name] = DefaultStride(b.BufferShape[name])
		}
		return b.VisitStmt(n.Body)
	case *ir.Attr:
		return b.visitAttr(n)
	case *ir.If:
		return b.visitIf(n)
	case *ir.Evaluate:
		r, err := b.VisitExpr(n.Value)
		if err != nil {
			return err
		}
		if r.Prelude != "" {
			b.Writef("%s", r.Prelude)
		}
		if r.Inline != "" {
			b.Writef("%s;\n", r.Inline)
		}
		return nil
	case *ir.Seq:
		for _, st := range n.Stmts {
			if err := b.VisitStmt(st); err != nil {
				return err
			}
		}
		return nil
	default:
		return &emiterr.Error{Kind: emiterr.MalformedIR, Detail: fmt.Sprintf("unknown statement node %T", s)}
	}
}

func (b *Base) visitFor(n *ir.For) error {
	v := b.NameOf(n.Var)
	minR, err := b.VisitExpr(n.Min)
	if err != nil {
		return err
	}
	extR, err := b.VisitExpr(n.Extent)
	if err != nil {
		return err
	}
	if n.Kind == ir.Unrolled {
		b.Writef("#pragma unroll\n")
	}
	loopType, err := b.Printer.Print(n.Var.Type)
	if err != nil {
		return err
	}
	b.Writef("for (%s %s = %s; %s < (%s) + (%s); ++%s) {\n", loopType, v, minR.Inline, v, minR.Inline, extR.Inline, v)
	b.pushIndent()
	if err := b.VisitStmt(n.Body); err != nil {
		return err
	}
	b.popIndent()
	b.Writef("}\n")
	return nil
}

func (b *Base) visitLet(n *ir.Let) error {
	name := b.NameOf(n.Var)
	valR, err := b.VisitExpr(n.Value)
	if err != nil {
		return err
	}
	if valR.Prelude != "" {
		b.Writef("%s", valR.Prelude)
	}

	vt := n.Var.Type
	switch {
	case vt.Kind == ir.Handle:
		if pointee, ok := b.HandleType[n.Var]; ok {
			ctype, err := b.Printer.Print(pointee)
			if err != nil {
				return err
			}
			b.Writef("%s *%s = (%s*)(%s);\n", ctype, name, ctype, valR.Inline)
		} else {
			b.Writef("void *%s = (void*)(%s);\n", name, valR.Inline)
		}
	case strings.Contains(n.Var.Name, "shared"):
		b.Writef("%s %s = %s;\n", b.Hooks.DescriptorTypeName(), name, valR.Inline)
	default:
		ctype, err := b.Printer.Print(vt)
		if err != nil {
			return err
		}
		b.Writef("%s %s = %s;\n", ctype, name, valR.Inline)
	}
	return b.VisitStmt(n.Body)
}

func (b *Base) visitAttr(n *ir.Attr) error {
	if _, isTPU := b.Hooks.(*TPU); isTPU {
		switch n.Key {
		case "tpu_parallel_start":
			b.Writef("tpu_parallel_start();\n")
		case "tpu_parallel_end":
			b.Writef("tpu_parallel_end();\n")
		default:
			// unknown keys are transparent
		}
	}
	return b.VisitStmt(n.Body)
}

func (b *Base) visitIf(n *ir.If) error {
	condR, err := b.VisitExpr(n.Cond)
	if err != nil {
		return err
	}
	if condR.Prelude != "" {
		b.Writef("%s", condR.Prelude)
	}
	b.Writef("if (%s) {\n", condR.Inline)
	b.pushIndent()
	if err := b.VisitStmt(n.Then); err != nil {
		return err
	}
	b.popIndent()
	if n.Else != nil {
		b.Writef("} else {\n")
		b.pushIndent()
		if err := b.VisitStmt(n.Else); err != nil {
			return err
		}
		b.popIndent()
	}
	b.Writef("}\n")
	return nil
}
