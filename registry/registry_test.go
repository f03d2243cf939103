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

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tile-lang/tlcodegen/ir"
)

func TestLookupKnowsBothTargets(t *testing.T) {
	ppl, ok := Lookup("target.build.tilelang_ppl")
	require.True(t, ok)
	require.NotNil(t, ppl)

	rvv, ok := Lookup("target.build.tilelang_rvv")
	require.True(t, ok)
	require.NotNil(t, rvv)

	_, ok = Lookup("target.build.nonexistent")
	require.False(t, ok)
}

// localAllocate builds a minimal Allocate(scope=local) -> Evaluate(nop) tree
// so CollectAllocs has something to walk.
func localAllocate(name string, extent int64, body ir.Stmt) *ir.Allocate {
	f32 := ir.NewScalar(ir.Float, 32)
	return &ir.Allocate{
		Var:     ir.NewVar(name, ir.NewScalar(ir.Handle, 64)),
		DType:   f32,
		Extents: []ir.Expr{&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: extent}},
		Scope:   ir.ScopeLocal,
		Body:    body,
	}
}

func nop() ir.Stmt {
	return &ir.Evaluate{Value: &ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 0}}
}

// TestCollectAllocsSkipsNonLocalScope checks shared/global allocations never
// reach the bank planner: their addressing is owned by the runtime or the
// caller, not by on-chip bank assignment.
func TestCollectAllocsSkipsNonLocalScope(t *testing.T) {
	f32 := ir.NewScalar(ir.Float, 32)
	shared := &ir.Allocate{
		Var:     ir.NewVar("shared_buf", ir.NewScalar(ir.Handle, 64)),
		DType:   f32,
		Extents: []ir.Expr{&ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 64}},
		Scope:   ir.ScopeShared,
		Body:    nop(),
	}
	local := localAllocate("local_buf", 64, nop())

	fn := ir.NewPrimFunc("kernel0")
	fn.Body = &ir.Seq{Stmts: []ir.Stmt{shared, local}}

	allocs := CollectAllocs(fn)
	require.Len(t, allocs, 1)
	require.Equal(t, "local_buf", allocs[0].ID)
}

// TestCollectAllocsRecordsLiveRangeAcrossNesting checks a local Allocate
// nested under a For still gets a live interval spanning its full Body
// subtree, not just the Allocate's own position.
func TestCollectAllocsRecordsLiveRangeAcrossNesting(t *testing.T) {
	loopVar := ir.NewVar("i", ir.NewScalar(ir.Int, 32))
	inner := localAllocate("scratch", 32, &ir.Seq{Stmts: []ir.Stmt{nop(), nop(), nop()}})
	loop := &ir.For{
		Var:    loopVar,
		Min:    &ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 0},
		Extent: &ir.IntImm{DType: ir.NewScalar(ir.Int, 32), Value: 8},
		Body:   inner,
	}

	fn := ir.NewPrimFunc("kernel1")
	fn.Body = loop

	allocs := CollectAllocs(fn)
	require.Len(t, allocs, 1)
	require.Equal(t, "scratch", allocs[0].ID)
	require.Greater(t, allocs[0].Last, allocs[0].First)
}

// TestBuildTileLangPPLKeysOutputByFunctionName checks buildModule's
// errgroup fan-out returns one complete, independently-addressable C
// source per function, not a single concatenated blob.
func TestBuildTileLangPPLKeysOutputByFunctionName(t *testing.T) {
	f32 := ir.NewScalar(ir.Float, 32)

	mkFunc := func(name string) *ir.PrimFunc {
		vh := ir.NewVar(name+"_handle", ir.NewScalar(ir.Handle, 64))
		buf := &ir.Buffer{Name: name, Var: vh, DType: f32, Shape: []int64{4, 8}, Scope: ir.ScopeGlobal}
		fn := ir.NewPrimFunc(name)
		fn.Params = []*ir.Var{vh}
		fn.BufferMap[vh] = buf
		fn.Body = &ir.Seq{Stmts: []ir.Stmt{
			&ir.Evaluate{Value: &ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "ppl.fill", Args: []ir.Expr{
				&ir.VarExpr{V: vh}, &ir.FloatImm{DType: f32, Value: 1.0},
			}}},
		}}
		return fn
	}

	m := &ir.Module{Funcs: []*ir.PrimFunc{mkFunc("alpha"), mkFunc("beta"), mkFunc("gamma")}}

	out, err := BuildTileLangPPL(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Contains(t, out["alpha"], "void alpha(")
	require.Contains(t, out["beta"], "void beta(")
	require.Contains(t, out["gamma"], "void gamma(")
	require.NotContains(t, out["alpha"], "void beta(")
}

// TestBuildTileLangRVVPropagatesFunctionError checks a malformed function
// surfaces as an error from the module build rather than a partial/garbled
// output, and that the error names the offending function.
func TestBuildTileLangRVVPropagatesFunctionError(t *testing.T) {
	fn := ir.NewPrimFunc("broken")
	fn.Body = &ir.Seq{Stmts: []ir.Stmt{
		&ir.Evaluate{Value: &ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "rvv.copy", Args: []ir.Expr{}}},
	}}
	m := &ir.Module{Funcs: []*ir.PrimFunc{fn}}

	_, err := BuildTileLangRVV(context.Background(), m)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken")
}
