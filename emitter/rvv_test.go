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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tile-lang/tlcodegen/ir"
)

func rvvDescriptorVar(r *RVV, name string, shape Shape4) *ir.Var {
	v := ir.NewVar(name, ir.NewScalar(ir.Handle, 64))
	emitted := r.NameOf(v)
	r.BufferShape[emitted] = shape
	r.BufferStride[emitted] = DefaultStride(shape)
	r.BufferElemType[emitted] = ir.NewScalar(ir.Float, 32)
	return v
}

// TestRVVElementwiseConstScenario reproduces scenario 4's flat strip-mine
// shape: one vsetvl, one constant broadcast, one vfmul, one vse per strip,
// followed by a trailing store fence after the loop.
func TestRVVElementwiseConstScenario(t *testing.T) {
	rvv := NewRVV()
	require.NoError(t, rvv.SetPlan(nil))
	a := rvvDescriptorVar(rvv, "a", Shape4{1, 16, 1, 4})
	dst := rvvDescriptorVar(rvv, "dst", Shape4{1, 16, 1, 4})
	f32 := ir.NewScalar(ir.Float, 32)
	call := &ir.Call{
		DType: ir.NewScalar(ir.Void, 1),
		Op:    "rvv.mul_C",
		Args: []ir.Expr{
			&ir.VarExpr{V: dst}, &ir.VarExpr{V: a}, &ir.FloatImm{DType: f32, Value: 2.0},
		},
	}
	r, err := rvv.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "__riscv_vsetvl_e32m1")
	require.Contains(t, r.Prelude, "__riscv_vfmv_v_f_f32m1")
	require.Contains(t, r.Prelude, "vfmul_vv_f32m1")
	require.Contains(t, r.Prelude, "__riscv_vse32_v_f32m1")
}

func TestRVVReduceSumScenario(t *testing.T) {
	rvv := NewRVV()
	require.NoError(t, rvv.SetPlan(nil))
	input := rvvDescriptorVar(rvv, "input", Shape4{1, 16, 1, 8192})
	output := rvvDescriptorVar(rvv, "output", Shape4{1, 16, 1, 1})
	call := &ir.Call{
		DType: ir.NewScalar(ir.Void, 1),
		Op:    "rvv.reduce_sum",
		Args:  []ir.Expr{&ir.VarExpr{V: input}, &ir.VarExpr{V: output}},
	}
	r, err := rvv.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "vfredusum_vs_f32m1_f32m1")
	require.Contains(t, r.Prelude, "__riscv_vfmv_f_s_f32m1_f32")
	require.Contains(t, r.Prelude, "fence ow, ow")
}

// TestRVVCopyScalesRowAndStripOffsetsByElemSize checks that the byte-pointer
// row offset and the strip index are each multiplied by sizeof(T) once.
func TestRVVCopyScalesRowAndStripOffsetsByElemSize(t *testing.T) {
	rvv := NewRVV()
	require.NoError(t, rvv.SetPlan(nil))
	src := rvvDescriptorVar(rvv, "src", Shape4{1, 4, 1, 16})
	dst := rvvDescriptorVar(rvv, "dst", Shape4{1, 4, 1, 16})
	call := &ir.Call{
		DType: ir.NewScalar(ir.Void, 1),
		Op:    "rvv.copy",
		Args:  []ir.Expr{&ir.VarExpr{V: src}, &ir.VarExpr{V: dst}},
	}
	r, err := rvv.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "stride[1] * sizeof(")
	require.Contains(t, r.Prelude, "off * sizeof(")
}

// TestRVVExpUsesBoundedScratchBuffer is the REDESIGN-FLAG-driven check: the
// spill buffer must be a fixed-capacity array, never a runtime-sized one.
func TestRVVExpUsesBoundedScratchBuffer(t *testing.T) {
	rvv := NewRVV()
	require.NoError(t, rvv.SetPlan(nil))
	src := rvvDescriptorVar(rvv, "src", Shape4{1, 1, 1, 64})
	dst := rvvDescriptorVar(rvv, "dst", Shape4{1, 1, 1, 64})
	call := &ir.Call{
		DType: ir.NewScalar(ir.Void, 1),
		Op:    "rvv.exp",
		Args:  []ir.Expr{&ir.VarExpr{V: dst}, &ir.VarExpr{V: src}},
	}
	r, err := rvv.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "expf(")
	require.NotContains(t, r.Prelude, "[vl]") // not a runtime-sized VLA
	require.Contains(t, r.Prelude, "float temp")
}

func TestRVVBuildEmitsMallocFreePairAndMain(t *testing.T) {
	f32 := ir.NewScalar(ir.Float, 32)
	vh := ir.NewVar("x_handle", ir.NewScalar(ir.Handle, 64))
	buf := &ir.Buffer{Name: "x", Var: vh, DType: f32, Shape: []int64{4, 8}, Scope: ir.ScopeGlobal}

	fn := ir.NewPrimFunc("kernel0")
	fn.Params = []*ir.Var{vh}
	fn.BufferMap[vh] = buf
	fn.Body = &ir.Seq{Stmts: []ir.Stmt{
		&ir.Evaluate{Value: &ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "rvv.fill", Args: []ir.Expr{
			&ir.VarExpr{V: vh}, &ir.FloatImm{DType: f32, Value: 1.5},
		}}},
	}}

	rvv := NewRVV()
	src, err := rvv.Build(fn, map[string]int64{})
	require.NoError(t, err)
	require.Contains(t, src, "typedef struct")
	require.Contains(t, src, "malloc(")
	require.Contains(t, src, "free(")
	require.Contains(t, src, "int main() {")
}
