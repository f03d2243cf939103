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

package ir

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func buildSampleModule() *Module {
	f32 := NewScalar(Float, 32)
	v := NewVar("x_handle", NewScalar(Handle, 64))
	buf := &Buffer{Name: "x", Var: v, DType: f32, Shape: []int64{4, 8}, Scope: ScopeGlobal}

	fn := NewPrimFunc("kernel0")
	fn.Params = []*Var{v}
	fn.BufferMap[v] = buf
	fn.Body = &Seq{Stmts: []Stmt{
		&Evaluate{Value: &Call{
			DType: NewScalar(Void, 1),
			Op:    "ppl.fill",
			Args: []Expr{
				&VarExpr{V: v},
				&FloatImm{DType: f32, Value: 1.5},
			},
		}},
	}}
	fn.SetAttr("x", &IntImm{DType: NewScalar(Int, 32), Value: 0})
	return NewModule(fn)
}

func TestModuleJSONRoundTrip(t *testing.T) {
	want := buildSampleModule()

	data, err := json.Marshal(want)
	require.NoError(t, err)

	got := &Module{}
	require.NoError(t, json.Unmarshal(data, got))

	require.Len(t, got.Funcs, 1)
	gf, wf := got.Funcs[0], want.Funcs[0]
	require.Equal(t, wf.Name, gf.Name)
	require.Len(t, gf.Params, 1)

	gotSeq, ok := gf.Body.(*Seq)
	require.True(t, ok, "body must decode as *Seq")
	require.Len(t, gotSeq.Stmts, 1)

	gotEval, ok := gotSeq.Stmts[0].(*Evaluate)
	require.True(t, ok)
	gotCall, ok := gotEval.Value.(*Call)
	require.True(t, ok)
	if diff := cmp.Diff("ppl.fill", gotCall.Op); diff != "" {
		t.Errorf("Op mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, gotCall.Args, 2)

	addr, ok := gf.Attr("x")
	require.True(t, ok)
	require.Equal(t, int64(0), addr.(*IntImm).Value)
}

func TestModuleJSONPreservesVarIdentity(t *testing.T) {
	want := buildSampleModule()
	data, err := json.Marshal(want)
	require.NoError(t, err)

	got := &Module{}
	require.NoError(t, json.Unmarshal(data, got))

	f := got.Funcs[0]
	paramVar := f.Params[0]
	buf := f.BufferMap[paramVar]
	require.NotNil(t, buf, "decoded buffer_map must key off the same *Var as Params")

	seq := f.Body.(*Seq)
	call := seq.Stmts[0].(*Evaluate).Value.(*Call)
	argVar := call.Args[0].(*VarExpr).V
	require.Same(t, paramVar, argVar, "decoded Var identity must be shared across params and expression references")
}
