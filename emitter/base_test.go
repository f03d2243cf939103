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

func TestNameSupplyUniqueness(t *testing.T) {
	s := NewNameSupply()
	names := map[string]bool{}
	for i := 0; i < 5; i++ {
		n := s.Fresh("tmp")
		require.False(t, names[n], "Fresh returned a repeated name %q", n)
		names[n] = true
	}
}

func TestNameSupplySanitizesHint(t *testing.T) {
	s := NewNameSupply()
	got := s.Fresh("a:b-c.d")
	require.Equal(t, "a_b_c_d", got)
}

func TestDefaultStrideRowMajor(t *testing.T) {
	shape := Shape4{2, 3, 4, 5}
	stride := DefaultStride(shape)
	require.Equal(t, Stride4{60, 20, 5, 1}, stride)
}

func TestNormalizeShapeRank2PadsNCHW(t *testing.T) {
	got := NormalizeShape([]int64{8, 16})
	require.Equal(t, Shape4{1, 8, 1, 16}, got)
}

func TestNormalizeShapeRank4Passthrough(t *testing.T) {
	got := NormalizeShape([]int64{1, 2, 3, 4})
	require.Equal(t, Shape4{1, 2, 3, 4}, got)
}

func TestBaseStateTransitions(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(map[string]int64{}))
	require.Equal(t, StatePlanned, tpu.state)

	// re-planning from Planned must fail: SetPlan requires StateReady.
	err := tpu.SetPlan(map[string]int64{})
	require.Error(t, err)
}

func TestVisitSeqWritesEachStatement(t *testing.T) {
	tpu := NewTPU()
	require.NoError(t, tpu.SetPlan(nil))
	v := ir.NewVar("n", ir.NewScalar(ir.Int, 32))
	body := &ir.Seq{Stmts: []ir.Stmt{
		&ir.Evaluate{Value: &ir.Call{DType: ir.NewScalar(ir.Void, 1), Op: "unknown.thing", Args: []ir.Expr{&ir.VarExpr{V: v}}}},
	}}
	require.NoError(t, tpu.VisitStmt(body))
	out := tpu.String()
	require.True(t, strings.Contains(out, "unknown.thing"))
	require.Len(t, tpu.Diagnostics, 1)
	require.Equal(t, UnknownIntrinsic, tpu.Diagnostics[0].Kind)
}
