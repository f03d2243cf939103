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

// Expr is any node in the expression sum. Every expression carries a
// DataType; nodes are immutable after construction.
type Expr interface {
	isExpr()
	Type() DataType
}

// VarExpr references a variable identity.
type VarExpr struct {
	V *Var
}

func (*VarExpr) isExpr()          {}
func (e *VarExpr) Type() DataType { return e.V.Type }

// IntImm is an integer literal.
type IntImm struct {
	DType DataType
	Value int64
}

func (*IntImm) isExpr()          {}
func (e *IntImm) Type() DataType { return e.DType }

// FloatImm is a floating point literal. NaN/Inf are represented with Go's
// math.NaN/Inf and mapped to target sentinel spellings by the emitter.
type FloatImm struct {
	DType DataType
	Value float64
}

func (*FloatImm) isExpr()          {}
func (e *FloatImm) Type() DataType { return e.DType }

// BinOp is a binary arithmetic operator.
type BinOp string

const (
	Add BinOp = "+"
	Sub BinOp = "-"
	Mul BinOp = "*"
	Div BinOp = "/"
	Mod BinOp = "%"
	Max BinOp = "max"
	Min BinOp = "min"
)

// Binary is a binary arithmetic expression.
type Binary struct {
	Op   BinOp
	A, B Expr
}

func (*Binary) isExpr()          {}
func (e *Binary) Type() DataType { return e.A.Type() }

// CmpOp is a comparison operator.
type CmpOp string

const (
	EQ CmpOp = "=="
	NE CmpOp = "!="
	LT CmpOp = "<"
	LE CmpOp = "<="
	GT CmpOp = ">"
	GE CmpOp = ">="
)

// Compare is a comparison expression; its own Type is always bool.
type Compare struct {
	Op   CmpOp
	A, B Expr
}

func (*Compare) isExpr()          {}
func (e *Compare) Type() DataType { return NewScalar(Bool, 1) }

// Cast converts Value to DType.
type Cast struct {
	DType DataType
	Value Expr
}

func (*Cast) isExpr()          {}
func (e *Cast) Type() DataType { return e.DType }

// Ramp is base, base+stride, base+2*stride, … for Lanes elements. Rendered
// only indirectly, as part of a vector constructor.
type Ramp struct {
	Base, Stride Expr
	Lanes        int
}

func (*Ramp) isExpr() {}
func (e *Ramp) Type() DataType {
	t := e.Base.Type()
	t.Lanes = e.Lanes
	return t
}

// Call is call_extern("<ns>.<op>", args…) per the inbound IR contract, or a
// builtin such as if_then_else.
type Call struct {
	DType DataType
	Op    string // e.g. "ppl.copy", "rvv.fill", "if_then_else"
	Args  []Expr
}

func (*Call) isExpr()          {}
func (e *Call) Type() DataType { return e.DType }

// BufferLoad reads Buffer at the given index expressions.
type BufferLoad struct {
	Buffer  *Buffer
	Indices []Expr
}

func (*BufferLoad) isExpr()          {}
func (e *BufferLoad) Type() DataType { return e.Buffer.DType }

// StringImm is a string literal, used for intrinsic op-name arguments.
type StringImm struct {
	Value string
}

func (*StringImm) isExpr() {}
func (e *StringImm) Type() DataType {
	return DataType{Kind: Handle, Bits: 8, Lanes: 1}
}
