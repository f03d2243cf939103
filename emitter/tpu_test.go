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

func descriptorVar(b *Base, name string, shape Shape4) *ir.Var {
	v := ir.NewVar(name, ir.NewScalar(ir.Handle, 64))
	emitted := b.NameOf(v)
	b.BufferShape[emitted] = shape
	b.BufferStride[emitted] = DefaultStride(shape)
	b.BufferElemType[emitted] = ir.NewScalar(ir.Float, 32)
	return v
}

func descriptorVarScoped(b *Base, name string, shape Shape4, scope ir.Scope, dt ir.DataType) *ir.Var {
	v := descriptorVar(b, name, shape)
	emitted := b.NameOf(v)
	b.BufferScope[emitted] = scope
	b.BufferElemType[emitted] = dt
	return v
}

// TestTPUCopyPicksDMADirectionByScope checks the (src.scope, dst.scope)
// dispatch named in the copy lowering table: global source into a local
// destination uses the S2L DMA, the reverse uses L2S, and two local
// descriptors fall back to the on-chip tpu_bdc_cpy.
func TestTPUCopyPicksDMADirectionByScope(t *testing.T) {
	f32 := ir.NewScalar(ir.Float, 32)
	shape := Shape4{1, 4, 1, 16}

	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	g := descriptorVarScoped(tpu.Base, "g", shape, ir.ScopeGlobal, f32)
	l := descriptorVarScoped(tpu.Base, "l", shape, ir.ScopeLocal, f32)
	r, err := tpu.VisitExpr(&ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "ppl.copy", Args: []ir.Expr{&ir.VarExpr{V: g}, &ir.VarExpr{V: l}}})
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "tpu_gdma_cpy_S2L")

	tpu2 := NewTPU()
	require.NoError(t, tpu2.SetPlan(nil))
	l2 := descriptorVarScoped(tpu2.Base, "l", shape, ir.ScopeLocal, f32)
	g2 := descriptorVarScoped(tpu2.Base, "g", shape, ir.ScopeGlobal, f32)
	r2, err := tpu2.VisitExpr(&ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "ppl.copy", Args: []ir.Expr{&ir.VarExpr{V: l2}, &ir.VarExpr{V: g2}}})
	require.NoError(t, err)
	require.Contains(t, r2.Prelude, "tpu_gdma_cpy_L2S")

	tpu3 := NewTPU()
	require.NoError(t, tpu3.SetPlan(nil))
	a := descriptorVarScoped(tpu3.Base, "a", shape, ir.ScopeLocal, f32)
	bb := descriptorVarScoped(tpu3.Base, "b", shape, ir.ScopeLocal, f32)
	r3, err := tpu3.VisitExpr(&ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "ppl.copy", Args: []ir.Expr{&ir.VarExpr{V: a}, &ir.VarExpr{V: bb}}})
	require.NoError(t, err)
	require.Contains(t, r3.Prelude, "tpu_bdc_cpy")
}

// TestTPUCopyCastsOnDtypeMismatch checks differing element dtypes route
// through tpu_bdc_cast instead of a DMA/local copy, regardless of scope.
func TestTPUCopyCastsOnDtypeMismatch(t *testing.T) {
	shape := Shape4{1, 4, 1, 16}
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	src := descriptorVarScoped(tpu.Base, "src", shape, ir.ScopeLocal, ir.NewScalar(ir.Float, 32))
	dst := descriptorVarScoped(tpu.Base, "dst", shape, ir.ScopeLocal, ir.NewScalar(ir.Float, 16))
	r, err := tpu.VisitExpr(&ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "ppl.copy", Args: []ir.Expr{&ir.VarExpr{V: src}, &ir.VarExpr{V: dst}}})
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "tpu_bdc_cast")
	require.Contains(t, r.Prelude, "RM_HALF_TO_EVEN")
}

// TestTPUReduceMaxPreservesPadValueBug reproduces scenario 1's two-pass
// reduction shape: the pad value assigned ahead of the first pool call uses
// the f16 union field regardless of the tensor's own dtype, the two pool
// calls use kernels {32, 1} and {1, 32}, and the padding branch is taken.
func TestTPUReduceMaxPreservesPadValueBug(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	input := descriptorVar(tpu.Base, "acc", Shape4{1, 8192, 1, 1020})
	output := descriptorVar(tpu.Base, "out", Shape4{1, 8192, 1, 32})
	tmp := descriptorVar(tpu.Base, "tmp", Shape4{1, 8192, 1, 1024})

	f32 := ir.NewScalar(ir.Float, 32)
	call := &ir.Call{
		DType: f32,
		Op:    "ppl.reduce_max",
		Args: []ir.Expr{
			&ir.VarExpr{V: input}, &ir.VarExpr{V: output}, &ir.VarExpr{V: tmp},
			&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 32},
			&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 1024},
		},
	}
	r, err := tpu.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "pad_val = {.f16 = FP_NEG_MAX")
	require.Contains(t, r.Prelude, "kernel1 = {32, 1}")
	require.Contains(t, r.Prelude, "kernel2 = {1, 32}")
	require.Contains(t, r.Prelude, "tpu_bdc_fp_max_pool2d")
	require.Equal(t, 2, strings.Count(r.Prelude, "tpu_bdc_fp_max_pool2d"))
	// padding branch: align_w(1024) > w(1020)
	require.Contains(t, r.Prelude, "fill_shape")
}

func TestTPUReduceSumUsesMatchedPadField(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	input := descriptorVar(tpu.Base, "acc", Shape4{1, 16, 1, 8192})
	output := descriptorVar(tpu.Base, "out", Shape4{1, 16, 1, 1})
	tmp := descriptorVar(tpu.Base, "tmp", Shape4{1, 16, 1, 8192})

	f32 := ir.NewScalar(ir.Float, 32)
	call := &ir.Call{
		DType: f32,
		Op:    "ppl.reduce_sum",
		Args: []ir.Expr{
			&ir.VarExpr{V: input}, &ir.VarExpr{V: output}, &ir.VarExpr{V: tmp},
			&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 256},
			&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 8192},
		},
	}
	r, err := tpu.VisitExpr(call)
	require.NoError(t, err)
	// reduce_sum's pad value is dtype-matched, not the f16 aliasing bug.
	require.Contains(t, r.Prelude, "pad_val = {.f32 = 0}")
	require.Contains(t, r.Prelude, "tpu_bdc_fp_avg_pool2d")
}

func TestTPUGemmPicksTransposedVariant(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	a := descriptorVar(tpu.Base, "A", Shape4{1, 384, 1, 786})
	bMat := descriptorVar(tpu.Base, "B", Shape4{1, 786, 1, 786})
	c := descriptorVar(tpu.Base, "C", Shape4{1, 384, 1, 786})
	i32 := ir.NewScalar(ir.Int, 32)
	call := &ir.Call{
		DType: ir.NewScalar(ir.Void, 1),
		Op:    "ppl.gemm",
		Args: []ir.Expr{
			&ir.VarExpr{V: a}, &ir.VarExpr{V: bMat}, &ir.VarExpr{V: c},
			&ir.IntImm{DType: i32, Value: 128}, &ir.IntImm{DType: i32, Value: 128}, &ir.IntImm{DType: i32, Value: 128},
			&ir.IntImm{DType: i32, Value: 1},
		},
	}
	r, err := tpu.VisitExpr(call)
	require.NoError(t, err)
	require.Contains(t, r.Prelude, "tpu_bdc_fp_mm_R_trans")
}

func TestTPUEmbeddingPreservesDtypeTagBug(t *testing.T) {
	tag, err := embeddingDTypeTag(ir.NewScalar(ir.Int, 32))
	require.NoError(t, err)
	require.Equal(t, "DT_UINT32", tag)

	tag, err = embeddingDTypeTag(ir.NewScalar(ir.Uint, 32))
	require.NoError(t, err)
	require.Equal(t, "DT_UINT16", tag)
}

func TestTPUBuildEmitsLauncherAndDescriptors(t *testing.T) {
	f32 := ir.NewScalar(ir.Float, 32)
	vh := ir.NewVar("x_handle", ir.NewScalar(ir.Handle, 64))
	buf := &ir.Buffer{Name: "x", Var: vh, DType: f32, Shape: []int64{4, 8}, Scope: ir.ScopeGlobal}

	fn := ir.NewPrimFunc("kernel0")
	fn.Params = []*ir.Var{vh}
	fn.BufferMap[vh] = buf
	fn.Body = &ir.Seq{Stmts: []ir.Stmt{
		&ir.Evaluate{Value: &ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "ppl.fill", Args: []ir.Expr{
			&ir.VarExpr{V: vh}, &ir.FloatImm{DType: f32, Value: 1.5},
		}}},
	}}

	tpu := NewTPU()
	src, err := tpu.Build(fn, map[string]int64{})
	require.NoError(t, err)
	require.Contains(t, src, "void kernel0(")
	require.Contains(t, src, "__ppl_tensor_info")
	require.Contains(t, src, "tpu_kernel_api_kernel0_args_t")
	require.Contains(t, src, "TPUKERNEL_FUNC_REGISTER(kernel0_kernel)")
	require.Contains(t, src, "tpu_bdc_set_C")
}
