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
	"fmt"
)

// This file implements the JSON hand-off format used by cmd/tlcodegen: IR
// construction proper is out of scope for the core (§1), so this is the
// boundary a host uses to serialize an already-built Module for the CLI to
// decode. Var identity is preserved across the round trip via an integer id
// table, since JSON has no pointer-identity concept of its own.

type wireVar struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

type wireBuffer struct {
	Name  string  `json:"name"`
	VarID int     `json:"var_id"`
	DType DataType `json:"dtype"`
	Shape []int64  `json:"shape"`
	Scope Scope    `json:"scope"`
}

type wireNode struct {
	Kind string `json:"kind"`

	// expression fields
	VarID   *int              `json:"var_id,omitempty"`
	DType   *DataType         `json:"dtype,omitempty"`
	Value   json.RawMessage   `json:"value,omitempty"`
	IntVal  *int64            `json:"int_value,omitempty"`
	FltVal  *float64          `json:"float_value,omitempty"`
	Op      string            `json:"op,omitempty"`
	A       json.RawMessage   `json:"a,omitempty"`
	B       json.RawMessage   `json:"b,omitempty"`
	Base    json.RawMessage   `json:"base,omitempty"`
	Stride  json.RawMessage   `json:"stride,omitempty"`
	Lanes   int               `json:"lanes,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	Buffer  *wireBuffer       `json:"buffer,omitempty"`
	Indices []json.RawMessage `json:"indices,omitempty"`
	Str     string            `json:"str,omitempty"`

	// statement fields
	Extents []json.RawMessage `json:"extents,omitempty"`
	Scope   Scope             `json:"scope,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
	Key     string            `json:"key,omitempty"`
	Cond    json.RawMessage   `json:"cond,omitempty"`
	Then    json.RawMessage   `json:"then,omitempty"`
	Else    json.RawMessage   `json:"else,omitempty"`
	Stmts   []json.RawMessage `json:"stmts,omitempty"`

	Min    json.RawMessage `json:"min_expr,omitempty"`
	Extent json.RawMessage `json:"extent_expr,omitempty"`
}

// varTable resolves wire ids to *Var during decode, and *Var to ids during
// encode; it is scoped to a single Module round trip.
type varTable struct {
	byID   map[int]*Var
	byVar  map[*Var]int
	nextID int
}

func newVarTable() *varTable {
	return &varTable{byID: make(map[int]*Var), byVar: make(map[*Var]int)}
}

func (t *varTable) idFor(v *Var) int {
	if id, ok := t.byVar[v]; ok {
		return id
	}
	id := t.nextID
	t.nextID++
	t.byVar[v] = id
	t.byID[id] = v
	return id
}

func (t *varTable) varFor(id int) *Var {
	return t.byID[id]
}

// MarshalJSON encodes a Module into the wire format described above.
func (m *Module) MarshalJSON() ([]byte, error) {
	enc := &encoder{vars: newVarTable()}
	funcs := make([]json.RawMessage, 0, len(m.Funcs))
	for _, f := range m.Funcs {
		raw, err := enc.encodeFunc(f)
		if err != nil {
			return nil, err
		}
		funcs = append(funcs, raw)
	}
	return json.Marshal(struct {
		Funcs []json.RawMessage `json:"funcs"`
	}{Funcs: funcs})
}

type encoder struct {
	vars *varTable
}

func (e *encoder) encodeFunc(f *PrimFunc) (json.RawMessage, error) {
	body, err := e.encodeStmt(f.Body)
	if err != nil {
		return nil, err
	}
	params := make([]int, len(f.Params))
	for i, p := range f.Params {
		params[i] = e.vars.idFor(p)
	}
	bufMap := make(map[string]wireBuffer, len(f.BufferMap))
	for v, b := range f.BufferMap {
		bufMap[fmt.Sprint(e.vars.idFor(v))] = e.encodeBuffer(b)
	}
	attrs := make(map[string]json.RawMessage, len(f.Attrs))
	for k, v := range f.Attrs {
		raw, err := e.encodeExpr(v)
		if err != nil {
			return nil, err
		}
		attrs[k] = raw
	}
	return json.Marshal(struct {
		Name      string                     `json:"name"`
		Params    []int                      `json:"params"`
		BufferMap map[string]wireBuffer      `json:"buffer_map"`
		Body      json.RawMessage            `json:"body"`
		Attrs     map[string]json.RawMessage `json:"attrs"`
	}{f.Name, params, bufMap, body, attrs})
}

func (e *encoder) encodeBuffer(b *Buffer) wireBuffer {
	return wireBuffer{Name: b.Name, VarID: e.vars.idFor(b.Var), DType: b.DType, Shape: b.Shape, Scope: b.Scope}
}

func (e *encoder) encodeExpr(x Expr) (json.RawMessage, error) {
	switch n := x.(type) {
	case *VarExpr:
		id := e.vars.idFor(n.V)
		return json.Marshal(wireNode{Kind: "var", VarID: &id})
	case *IntImm:
		return json.Marshal(wireNode{Kind: "int_imm", DType: &n.DType, IntVal: &n.Value})
	case *FloatImm:
		return json.Marshal(wireNode{Kind: "float_imm", DType: &n.DType, FltVal: &n.Value})
	case *Binary:
		a, err := e.encodeExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := e.encodeExpr(n.B)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Kind: "binary", Op: string(n.Op), A: a, B: b})
	case *Compare:
		a, err := e.encodeExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := e.encodeExpr(n.B)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Kind: "compare", Op: string(n.Op), A: a, B: b})
	case *Cast:
		v, err := e.encodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Kind: "cast", DType: &n.DType, Value: v})
	case *Ramp:
		base, err := e.encodeExpr(n.Base)
		if err != nil {
			return nil, err
		}
		stride, err := e.encodeExpr(n.Stride)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Kind: "ramp", Base: base, Stride: stride, Lanes: n.Lanes})
	case *Call:
		args := make([]json.RawMessage, len(n.Args))
		for i, a := range n.Args {
			raw, err := e.encodeExpr(a)
			if err != nil {
				return nil, err
			}
			args[i] = raw
		}
		return json.Marshal(wireNode{Kind: "call", DType: &n.DType, Op: n.Op, Args: args})
	case *BufferLoad:
		idx := make([]json.RawMessage, len(n.Indices))
		for i, a := range n.Indices {
			raw, err := e.encodeExpr(a)
			if err != nil {
				return nil, err
			}
			idx[i] = raw
		}
		wb := e.encodeBuffer(n.Buffer)
		return json.Marshal(wireNode{Kind: "buffer_load", Buffer: &wb, Indices: idx})
	case *StringImm:
		return json.Marshal(wireNode{Kind: "string_imm", Str: n.Value})
	default:
		return nil, fmt.Errorf("ir: encode: unknown expr type %T", x)
	}
}

func (e *encoder) encodeStmt(s Stmt) (json.RawMessage, error) {
	switch n := s.(type) {
	case *For:
		min, err := e.encodeExpr(n.Min)
		if err != nil {
			return nil, err
		}
		ext, err := e.encodeExpr(n.Extent)
		if err != nil {
			return nil, err
		}
		body, err := e.encodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		id := e.vars.idFor(n.Var)
		return json.Marshal(wireNode{Kind: "for", VarID: &id, Min: min, Extent: ext, Lanes: int(n.Kind), Body: body})
	case *Let:
		val, err := e.encodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		body, err := e.encodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		id := e.vars.idFor(n.Var)
		return json.Marshal(wireNode{Kind: "let", VarID: &id, Value: val, Body: body})
	case *Allocate:
		exts := make([]json.RawMessage, len(n.Extents))
		for i, ex := range n.Extents {
			raw, err := e.encodeExpr(ex)
			if err != nil {
				return nil, err
			}
			exts[i] = raw
		}
		body, err := e.encodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		id := e.vars.idFor(n.Var)
		return json.Marshal(wireNode{Kind: "allocate", VarID: &id, DType: &n.DType, Extents: exts, Scope: n.Scope, Body: body})
	case *DeclBuffer:
		body, err := e.encodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		wb := e.encodeBuffer(n.Buffer)
		return json.Marshal(wireNode{Kind: "decl_buffer", Buffer: &wb, Body: body})
	case *Attr:
		val, err := e.encodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		body, err := e.encodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Kind: "attr", Key: n.Key, Value: val, Body: body})
	case *If:
		cond, err := e.encodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		then, err := e.encodeStmt(n.Then)
		if err != nil {
			return nil, err
		}
		var els json.RawMessage
		if n.Else != nil {
			els, err = e.encodeStmt(n.Else)
			if err != nil {
				return nil, err
			}
		}
		return json.Marshal(wireNode{Kind: "if", Cond: cond, Then: then, Else: els})
	case *Evaluate:
		val, err := e.encodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireNode{Kind: "evaluate", Value: val})
	case *Seq:
		stmts := make([]json.RawMessage, len(n.Stmts))
		for i, st := range n.Stmts {
			raw, err := e.encodeStmt(st)
			if err != nil {
				return nil, err
			}
			stmts[i] = raw
		}
		return json.Marshal(wireNode{Kind: "seq", Stmts: stmts})
	default:
		return nil, fmt.Errorf("ir: encode: unknown stmt type %T", s)
	}
}

// UnmarshalJSON decodes a Module from the wire format produced by MarshalJSON.
func (m *Module) UnmarshalJSON(data []byte) error {
	var wire struct {
		Funcs []json.RawMessage `json:"funcs"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("ir: decode module: %w", err)
	}
	dec := &decoder{vars: newVarTable()}
	funcs := make([]*PrimFunc, 0, len(wire.Funcs))
	for _, raw := range wire.Funcs {
		f, err := dec.decodeFunc(raw)
		if err != nil {
			return err
		}
		funcs = append(funcs, f)
	}
	m.Funcs = funcs
	return nil
}

type decoder struct {
	vars *varTable
}

func (d *decoder) varByID(id int, t DataType) *Var {
	if v := d.vars.varFor(id); v != nil {
		return v
	}
	v := &Var{Type: t}
	d.vars.byID[id] = v
	d.vars.byVar[v] = id
	return v
}

func (d *decoder) decodeFunc(raw json.RawMessage) (*PrimFunc, error) {
	var wire struct {
		Name      string                     `json:"name"`
		Params    []int                      `json:"params"`
		BufferMap map[string]wireBuffer      `json:"buffer_map"`
		Body      json.RawMessage            `json:"body"`
		Attrs     map[string]json.RawMessage `json:"attrs"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("ir: decode func: %w", err)
	}
	f := NewPrimFunc(wire.Name)
	for idStr, wb := range wire.BufferMap {
		var id int
		if _, err := fmt.Sscan(idStr, &id); err != nil {
			return nil, fmt.Errorf("ir: decode func %q: bad buffer_map key %q: %w", wire.Name, idStr, err)
		}
		v := d.varByID(wb.VarID, wb.DType)
		f.BufferMap[v] = &Buffer{Name: wb.Name, Var: v, DType: wb.DType, Shape: wb.Shape, Scope: wb.Scope}
	}
	for _, id := range wire.Params {
		f.Params = append(f.Params, d.varByID(id, DataType{}))
	}
	body, err := d.decodeStmt(wire.Body)
	if err != nil {
		return nil, err
	}
	f.Body = body
	for k, raw := range wire.Attrs {
		v, err := d.decodeExpr(raw)
		if err != nil {
			return nil, err
		}
		f.Attrs[k] = v
	}
	return f, nil
}

func (d *decoder) decodeBuffer(wb *wireBuffer) *Buffer {
	v := d.varByID(wb.VarID, wb.DType)
	return &Buffer{Name: wb.Name, Var: v, DType: wb.DType, Shape: wb.Shape, Scope: wb.Scope}
}

func (d *decoder) decodeExpr(raw json.RawMessage) (Expr, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var n wireNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("ir: decode expr: %w", err)
	}
	switch n.Kind {
	case "var":
		return &VarExpr{V: d.varByID(*n.VarID, DataType{})}, nil
	case "int_imm":
		return &IntImm{DType: *n.DType, Value: *n.IntVal}, nil
	case "float_imm":
		return &FloatImm{DType: *n.DType, Value: *n.FltVal}, nil
	case "binary":
		a, err := d.decodeExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := d.decodeExpr(n.B)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: BinOp(n.Op), A: a, B: b}, nil
	case "compare":
		a, err := d.decodeExpr(n.A)
		if err != nil {
			return nil, err
		}
		b, err := d.decodeExpr(n.B)
		if err != nil {
			return nil, err
		}
		return &Compare{Op: CmpOp(n.Op), A: a, B: b}, nil
	case "cast":
		v, err := d.decodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return &Cast{DType: *n.DType, Value: v}, nil
	case "ramp":
		base, err := d.decodeExpr(n.Base)
		if err != nil {
			return nil, err
		}
		stride, err := d.decodeExpr(n.Stride)
		if err != nil {
			return nil, err
		}
		return &Ramp{Base: base, Stride: stride, Lanes: n.Lanes}, nil
	case "call":
		args := make([]Expr, len(n.Args))
		for i, raw := range n.Args {
			a, err := d.decodeExpr(raw)
			if err != nil {
				return nil, err
			}
			args[i] = a
		}
		return &Call{DType: *n.DType, Op: n.Op, Args: args}, nil
	case "buffer_load":
		idx := make([]Expr, len(n.Indices))
		for i, raw := range n.Indices {
			e, err := d.decodeExpr(raw)
			if err != nil {
				return nil, err
			}
			idx[i] = e
		}
		return &BufferLoad{Buffer: d.decodeBuffer(n.Buffer), Indices: idx}, nil
	case "string_imm":
		return &StringImm{Value: n.Str}, nil
	default:
		return nil, fmt.Errorf("ir: decode expr: unknown kind %q", n.Kind)
	}
}

func (d *decoder) decodeStmt(raw json.RawMessage) (Stmt, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var n wireNode
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("ir: decode stmt: %w", err)
	}
	switch n.Kind {
	case "for":
		min, err := d.decodeExpr(n.Min)
		if err != nil {
			return nil, err
		}
		ext, err := d.decodeExpr(n.Extent)
		if err != nil {
			return nil, err
		}
		body, err := d.decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &For{Var: d.varByID(*n.VarID, DataType{}), Min: min, Extent: ext, Kind: ForKind(n.Lanes), Body: body}, nil
	case "let":
		val, err := d.decodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		body, err := d.decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &Let{Var: d.varByID(*n.VarID, val.Type()), Value: val, Body: body}, nil
	case "allocate":
		exts := make([]Expr, len(n.Extents))
		for i, raw := range n.Extents {
			e, err := d.decodeExpr(raw)
			if err != nil {
				return nil, err
			}
			exts[i] = e
		}
		body, err := d.decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &Allocate{Var: d.varByID(*n.VarID, *n.DType), DType: *n.DType, Extents: exts, Scope: n.Scope, Body: body}, nil
	case "decl_buffer":
		body, err := d.decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &DeclBuffer{Buffer: d.decodeBuffer(n.Buffer), Body: body}, nil
	case "attr":
		val, err := d.decodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		body, err := d.decodeStmt(n.Body)
		if err != nil {
			return nil, err
		}
		return &Attr{Key: n.Key, Value: val, Body: body}, nil
	case "if":
		cond, err := d.decodeExpr(n.Cond)
		if err != nil {
			return nil, err
		}
		then, err := d.decodeStmt(n.Then)
		if err != nil {
			return nil, err
		}
		els, err := d.decodeStmt(n.Else)
		if err != nil {
			return nil, err
		}
		return &If{Cond: cond, Then: then, Else: els}, nil
	case "evaluate":
		val, err := d.decodeExpr(n.Value)
		if err != nil {
			return nil, err
		}
		return &Evaluate{Value: val}, nil
	case "seq":
		stmts := make([]Stmt, len(n.Stmts))
		for i, raw := range n.Stmts {
			s, err := d.decodeStmt(raw)
			if err != nil {
				return nil, err
			}
			stmts[i] = s
		}
		return &Seq{Stmts: stmts}, nil
	default:
		return nil, fmt.Errorf("ir: decode stmt: unknown kind %q", n.Kind)
	}
}
