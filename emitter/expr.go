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

import (
	"fmt"
	"math"
	"strings"

	"github.com/tile-lang/tlcodegen/emitter/emiterr"
	"github.com/tile-lang/tlcodegen/ir"
)

// VisitExpr renders one expression to a Rendered value. Scalar binary/
// compare/cast expressions are purely inline; vector forms return a Prelude
// that must be merged into the enclosing statement before Inline is used.
func (b *Base) VisitExpr(e ir.Expr) (Rendered, error) {
	switch n := e.(type) {
	case *ir.VarExpr:
		return Rendered{Inline: b.NameOf(n.V)}, nil
	case *ir.IntImm:
		return Rendered{Inline: fmt.Sprintf("%d", n.Value)}, nil
	case *ir.FloatImm:
		return Rendered{Inline: b.renderFloatImm(n)}, nil
	case *ir.Binary:
		return b.visitBinary(n)
	case *ir.Compare:
		return b.visitCompare(n)
	case *ir.Cast:
		return b.visitCast(n)
	case *ir.Ramp:
		return Rendered{}, &emiterr.Error{Kind: emiterr.MalformedIR, Detail: "Ramp rendered outside a vector constructor"}
	case *ir.Call:
		return b.visitCall(n)
	case *ir.BufferLoad:
		return b.visitBufferLoad(n)
	case *ir.StringImm:
		return Rendered{Inline: fmt.Sprintf("%q", n.Value)}, nil
	default:
		return Rendered{}, &emiterr.Error{Kind: emiterr.MalformedIR, Detail: fmt.Sprintf("unknown expression node %T", e)}
	}
}

func (b *Base) renderFloatImm(n *ir.FloatImm) string {
	v := n.Value
	switch {
	case math.IsInf(v, 1):
		return "INFINITY"
	case math.IsInf(v, -1):
		return "-INFINITY"
	case math.IsNaN(v):
		return "NAN"
	}
	if n.DType.Bits == 32 {
		return fmt.Sprintf("%gf", v)
	}
	return fmt.Sprintf("%g", v)
}

var namedBinOps = map[ir.BinOp]bool{ir.Max: true, ir.Min: true}

// visitBinary implements the scalar-infix / vector-unroll split: lanes=1
// emits an ordinary C expression (prefix call for named ops like max/min,
// infix otherwise); lanes>1 declares a temporary vector and unrolls
// element-wise loads/stores applying the scalar operator per lane.
func (b *Base) visitBinary(n *ir.Binary) (Rendered, error) {
	aR, err := b.VisitExpr(n.A)
	if err != nil {
		return Rendered{}, err
	}
	bR, err := b.VisitExpr(n.B)
	if err != nil {
		return Rendered{}, err
	}
	dt := n.Type()
	if dt.Lanes == 1 {
		prelude := aR.Prelude + bR.Prelude
		if namedBinOps[n.Op] {
			return Rendered{Prelude: prelude, Inline: fmt.Sprintf("%s(%s, %s)", n.Op, aR.Inline, bR.Inline)}, nil
		}
		return Rendered{Prelude: prelude, Inline: fmt.Sprintf("(%s %s %s)", aR.Inline, n.Op, bR.Inline)}, nil
	}
	return b.unrollVectorBinary(n.Op, dt, aR, bR)
}

// unrollVectorBinary declares a result vector and emits one scalar op per
// lane, returning the vector's name as Inline and the declare+loop block as
// Prelude.
func (b *Base) unrollVectorBinary(op ir.BinOp, dt ir.DataType, aR, bR Rendered) (Rendered, error) {
	ctype, err := b.Printer.Print(dt)
	if err != nil {
		return Rendered{}, err
	}
	scalarType, err := b.Printer.Print(ir.NewScalar(dt.Kind, dt.Bits))
	if err != nil {
		return Rendered{}, err
	}
	result := b.FreshName("vtmp")
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s %s;\n", indentStr(b.indent), ctype, result)
	for lane := 0; lane < dt.Lanes; lane++ {
		aElem := vecElemLoad(scalarType, aR.Inline, lane)
		bElem := vecElemLoad(scalarType, bR.Inline, lane)
		var expr string
		if namedBinOps[op] {
			expr = fmt.Sprintf("%s(%s, %s)", op, aElem, bElem)
		} else {
			expr = fmt.Sprintf("(%s %s %s)", aElem, op, bElem)
		}
		fmt.Fprintf(&sb, "%s((%s*)&%s)[%d] = %s;\n", indentStr(b.indent), scalarType, result, lane, expr)
	}
	return Rendered{Prelude: aR.Prelude + bR.Prelude + sb.String(), Inline: result}, nil
}

func indentStr(n int) string { return strings.Repeat("  ", n) }

// vecElemLoad spells the scalar-element access used when unrolling a vector
// op: a plain C-cast-and-index, matching PrintVecElemLoad in the source.
func vecElemLoad(scalarType, vec string, lane int) string {
	return fmt.Sprintf("((%s*)&%s)[%d]", scalarType, vec, lane)
}

func (b *Base) visitCompare(n *ir.Compare) (Rendered, error) {
	aR, err := b.VisitExpr(n.A)
	if err != nil {
		return Rendered{}, err
	}
	bR, err := b.VisitExpr(n.B)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{
		Prelude: aR.Prelude + bR.Prelude,
		Inline:  fmt.Sprintf("(%s %s %s)", aR.Inline, n.Op, bR.Inline),
	}, nil
}

// visitCast: scalar sources get a plain C-style cast; vector sources emit a
// per-lane cast loop into a freshly declared result vector.
func (b *Base) visitCast(n *ir.Cast) (Rendered, error) {
	vR, err := b.VisitExpr(n.Value)
	if err != nil {
		return Rendered{}, err
	}
	if n.Value.Type().Lanes == 1 {
		ctype, err := b.Printer.Print(n.DType)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Prelude: vR.Prelude, Inline: fmt.Sprintf("(%s)(%s)", ctype, vR.Inline)}, nil
	}

	dstType, err := b.Printer.Print(n.DType)
	if err != nil {
		return Rendered{}, err
	}
	dstScalar, err := b.Printer.Print(ir.NewScalar(n.DType.Kind, n.DType.Bits))
	if err != nil {
		return Rendered{}, err
	}
	srcScalar, err := b.Printer.Print(ir.NewScalar(n.Value.Type().Kind, n.Value.Type().Bits))
	if err != nil {
		return Rendered{}, err
	}
	result := b.FreshName("vcast")
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s %s;\n", indentStr(b.indent), dstType, result)
	for lane := 0; lane < n.DType.Lanes; lane++ {
		fmt.Fprintf(&sb, "%s((%s*)&%s)[%d] = (%s)((%s*)&%s)[%d];\n",
			indentStr(b.indent), dstScalar, result, lane, dstScalar, srcScalar, vR.Inline, lane)
	}
	return Rendered{Prelude: vR.Prelude + sb.String(), Inline: result}, nil
}

// visitCall dispatches CallNode(call_extern, "<ns>.<op>", …) through the
// active Hooks table; on miss it falls back to a plain extern call with a
// non-fatal UnknownIntrinsic diagnostic. A bare "if_then_else" builtin is
// handled specially, independent of the target's dispatch table.
func (b *Base) visitCall(n *ir.Call) (Rendered, error) {
	if n.Op == "if_then_else" {
		return b.visitIfThenElse(n)
	}
	if fn, ok := b.Hooks.Dispatch(n.Op); ok {
		return fn(b, n)
	}
	b.Warn(&emiterr.Error{Kind: emiterr.UnknownIntrinsic, Detail: fmt.Sprintf("no lowering for %q, falling back to extern call", n.Op)})
	args := make([]string, 0, len(n.Args))
	var prelude strings.Builder
	for _, a := range n.Args {
		r, err := b.VisitExpr(a)
		if err != nil {
			return Rendered{}, err
		}
		prelude.WriteString(r.Prelude)
		args = append(args, r.Inline)
	}
	return Rendered{Prelude: prelude.String(), Inline: fmt.Sprintf("%s(%s)", n.Op, strings.Join(args, ", "))}, nil
}

// visitIfThenElse implements the "If used as a conditional value" rule:
// declare a result variable (tensor-descriptor-typed if the then-branch
// resolves to a known buffer variable, else the expression's scalar type),
// then a plain if/else assigning to it.
func (b *Base) visitIfThenElse(n *ir.Call) (Rendered, error) {
	if len(n.Args) != 3 {
		return Rendered{}, &emiterr.Error{Kind: emiterr.MalformedIR, Detail: "if_then_else requires exactly 3 arguments"}
	}
	cond, thenE, elseE := n.Args[0], n.Args[1], n.Args[2]
	condR, err := b.VisitExpr(cond)
	if err != nil {
		return Rendered{}, err
	}
	thenR, err := b.VisitExpr(thenE)
	if err != nil {
		return Rendered{}, err
	}
	elseR, err := b.VisitExpr(elseE)
	if err != nil {
		return Rendered{}, err
	}

	result := b.FreshName("ifres")
	var resultType string
	if ve, ok := thenE.(*ir.VarExpr); ok {
		if _, isBuffer := b.BufferShape[b.NameOf(ve.V)]; isBuffer {
			resultType = b.Hooks.DescriptorTypeName()
		}
	}
	if resultType == "" {
		resultType, err = b.Printer.Print(n.DType)
		if err != nil {
			return Rendered{}, err
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%s %s;\n", indentStr(b.indent), resultType, result)
	fmt.Fprintf(&sb, "%sif (%s) {\n", indentStr(b.indent), condR.Inline)
	fmt.Fprintf(&sb, "%s  %s = %s;\n", indentStr(b.indent), result, thenR.Inline)
	fmt.Fprintf(&sb, "%s} else {\n", indentStr(b.indent))
	fmt.Fprintf(&sb, "%s  %s = %s;\n", indentStr(b.indent), result, elseR.Inline)
	fmt.Fprintf(&sb, "%s}\n", indentStr(b.indent))

	return Rendered{
		Prelude: condR.Prelude + thenR.Prelude + elseR.Prelude + sb.String(),
		Inline:  result,
	}, nil
}

func (b *Base) visitBufferLoad(n *ir.BufferLoad) (Rendered, error) {
	name := b.NameOf(n.Buffer.Var)
	if len(n.Indices) == 0 {
		return Rendered{Inline: name}, nil
	}
	idx := make([]string, 0, len(n.Indices))
	var prelude strings.Builder
	for _, i := range n.Indices {
		r, err := b.VisitExpr(i)
		if err != nil {
			return Rendered{}, err
		}
		prelude.WriteString(r.Prelude)
		idx = append(idx, r.Inline)
	}
	return Rendered{Prelude: prelude.String(), Inline: fmt.Sprintf("%s[%s]", name, strings.Join(idx, "]["))}, nil
}
