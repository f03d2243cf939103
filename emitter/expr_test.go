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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tile-lang/tlcodegen/ir"
)

func TestVisitExprScalarBinaryIsInfix(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	f32 := ir.NewScalar(ir.Float, 32)
	bin := &ir.Binary{Op: ir.Add, A: &ir.IntImm{DType: f32, Value: 1}, B: &ir.IntImm{DType: f32, Value: 2}}
	r, err := tpu.VisitExpr(bin)
	require.NoError(t, err)
	require.Equal(t, "(1 + 2)", r.Inline)
	require.Empty(t, r.Prelude)
}

func TestVisitExprScalarMaxIsPrefixCall(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	f32 := ir.NewScalar(ir.Float, 32)
	bin := &ir.Binary{Op: ir.Max, A: &ir.IntImm{DType: f32, Value: 1}, B: &ir.IntImm{DType: f32, Value: 2}}
	r, err := tpu.VisitExpr(bin)
	require.NoError(t, err)
	require.Equal(t, "max(1, 2)", r.Inline)
}

func TestVisitExprVectorBinaryUnrollsPerLane(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	f32x4 := ir.NewVector(ir.Float, 32, 4)
	va := ir.NewVar("va", f32x4)
	vb := ir.NewVar("vb", f32x4)
	binary := &ir.Binary{Op: ir.Add, A: &ir.VarExpr{V: va}, B: &ir.VarExpr{V: vb}}
	r, err := tpu.VisitExpr(binary)
	require.NoError(t, err)
	require.NotEmpty(t, r.Inline)
	require.Contains(t, r.Prelude, "float4")
	require.Equal(t, 4, strings.Count(r.Prelude, "=")) // 4 lane assigns; the declaration has no initializer
}

func TestVisitExprCastVector(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	f32x4 := ir.NewVector(ir.Float, 32, 4)
	i32x4 := ir.NewVector(ir.Int, 32, 4)
	v := ir.NewVar("v", i32x4)
	cast := &ir.Cast{DType: f32x4, Value: &ir.VarExpr{V: v}}
	r, err := tpu.VisitExpr(cast)
	require.NoError(t, err)
	require.NotEmpty(t, r.Inline)
	require.Contains(t, r.Prelude, "float4")
}

func TestVisitExprIfThenElseScalar(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	i32 := ir.NewScalar(ir.Int, 32)
	call := &ir.Call{
		DType: i32,
		Op:    "if_then_else",
		Args: []ir.Expr{
			&ir.Compare{Op: ir.GT, A: &ir.IntImm{DType: i32, Value: 1}, B: &ir.IntImm{DType: i32, Value: 0}},
			&ir.IntImm{DType: i32, Value: 10},
			&ir.IntImm{DType: i32, Value: 20},
		},
	}
	r, err := tpu.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "if (")
	require.NotEmpty(t, r.Inline)
}

func TestVisitExprBufferLoadIndexed(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	f32 := ir.NewScalar(ir.Float, 32)
	v := ir.NewVar("buf", ir.NewScalar(ir.Handle, 64))
	buf := &ir.Buffer{Name: "buf", Var: v, DType: f32, Shape: []int64{4}, Scope: ir.ScopeGlobal}
	load := &ir.BufferLoad{Buffer: buf, Indices: []ir.Expr{&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 2}}}
	r, err := tpu.VisitExpr(load)
	require.NoError(t, err)
	require.Equal(t, "buf[2]", r.Inline)
}

func TestVisitExprRampIsRejectedOutsideVectorConstructor(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	_, err := tpu.VisitExpr(&ir.Ramp{})
	require.Error(t, err)
}
