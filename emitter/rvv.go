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
	"strings"

	"github.com/tile-lang/tlcodegen/emitter/emiterr"
	"github.com/tile-lang/tlcodegen/ir"
	"github.com/tile-lang/tlcodegen/typeprinter"
)

// RVV is the RISC-V Vector target emitter: Base generalized with a
// heap-backed Tensor descriptor and the rvv.* intrinsic dispatch table.
// Unlike TPU, RVV's parameter convention is a plain void* user buffer per
// parameter; the generated function copies it into a heap Tensor on entry
// and copies results back out on exit.
type RVV struct {
	*Base
	dispatch map[string]IntrinsicFunc
}

// NewRVV constructs a ready-to-plan RVV emitter.
func NewRVV() *RVV {
	r := &RVV{dispatch: rvvDispatchTable()}
	r.Base = NewBase(typeprinter.New(typeprinter.RVV), r)
	return r
}

func (r *RVV) DescriptorTypeName() string { return "Tensor" }

func (r *RVV) Dispatch(op string) (IntrinsicFunc, bool) {
	const ns = "rvv."
	if !strings.HasPrefix(op, ns) {
		return nil, false
	}
	fn, ok := r.dispatch[strings.TrimPrefix(op, ns)]
	return fn, ok
}

// rvvElemCType names the element C type and byte width for the widths RVV
// supports (§4.6.1: 8/16/32-bit int/uint, f16, f32).
func rvvElemCType(dt ir.DataType) (ctype string, bytes int, err error) {
	switch dt.Kind {
	case ir.Float:
		switch dt.Bits {
		case 16:
			return "_Float16", 2, nil
		case 32:
			return "float", 4, nil
		}
	case ir.Int:
		switch dt.Bits {
		case 8:
			return "int8_t", 1, nil
		case 16:
			return "int16_t", 2, nil
		case 32:
			return "int32_t", 4, nil
		}
	case ir.Uint:
		switch dt.Bits {
		case 8:
			return "uint8_t", 1, nil
		case 16:
			return "uint16_t", 2, nil
		case 32:
			return "uint32_t", 4, nil
		}
	}
	return "", 0, &emiterr.Error{Kind: emiterr.UnsupportedType, Detail: fmt.Sprintf("RVV has no element type for %s", dt)}
}

// rvvDecl renders one heap Tensor's prologue: malloc, memset, and the
// stride-computation loop shared by both AllocateNode and parameter
// handling in the source.
func rvvDecl(name string, shape Shape4, elemBytes int64) string {
	count := shape[0] * shape[1] * shape[2] * shape[3]
	size := count * elemBytes
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor %s = (Tensor){.addr = malloc(%d), .size = %d, .shape = {%d, %d, %d, %d}, .stride = {1, 1, 1, 1}};\n",
		name, size, size, shape[0], shape[1], shape[2], shape[3])
	fmt.Fprintf(&sb, "memset(%s.addr, 0, %s.size);\n", name, name)
	fmt.Fprintf(&sb, "for (int i = 2; i >= 0; i--) %s.stride[i] = %s.shape[i+1] * %s.stride[i+1];\n", name, name, name)
	return sb.String()
}

// EmitAllocate lowers an on-chip Allocate to Extents[0] repetitions of a
// heap Tensor, each with a fresh name, normalized shape, and the stride
// loop above.
func (r *RVV) EmitAllocate(b *Base, a *ir.Allocate) error {
	if len(a.Extents) == 0 {
		return &emiterr.Error{Kind: emiterr.MalformedIR, Detail: "Allocate requires at least one extent"}
	}
	reps, ok := constInt(a.Extents[0])
	if !ok {
		reps = 1
	}
	_, elemBytes, err := rvvElemCType(a.DType)
	if err != nil {
		return err
	}
	shapeExtents := a.Extents
	if len(a.Extents) > 1 {
		shapeExtents = a.Extents[1:]
	}
	dims := make([]int64, 0, len(shapeExtents))
	for _, e := range shapeExtents {
		v, ok := constInt(e)
		if !ok {
			return &emiterr.Error{Kind: emiterr.MalformedIR, Detail: "Allocate extents must be compile-time-known"}
		}
		dims = append(dims, v)
	}
	shape := NormalizeShape(dims)
	for i := int64(0); i < reps; i++ {
		name := b.FreshName(a.Var.Name)
		b.Writef("%s", rvvDecl(name, shape, int64(elemBytes)))
		b.BufferShape[name] = shape
		b.BufferStride[name] = DefaultStride(shape)
		b.BufferElemType[name] = a.DType
		b.VarID[a.Var] = name
	}
	return b.VisitStmt(a.Body)
}

const tensorStructDecl = "typedef struct {\n  void *addr;\n  size_t size;\n  int shape[4];\n  int stride[4];\n} Tensor;\n\n"

// Build renders the complete C source for one PrimFunc targeting RVV: the
// Tensor typedef, the function (void* params, heap-copy prologue, body,
// copy-out epilogue), and a main() testbench driver.
func (r *RVV) Build(f *ir.PrimFunc, planOffsets map[string]int64) (string, error) {
	if err := r.SetPlan(planOffsets); err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString(tensorStructDecl)

	rawNames := make([]string, len(f.Params))
	heapNames := make([]string, len(f.Params))
	paramDecls := make([]string, len(f.Params))
	for i := range f.Params {
		rawNames[i] = r.FreshName(fmt.Sprintf("v%d", i+1))
		paramDecls[i] = fmt.Sprintf("void *restrict %s", rawNames[i])
	}
	fmt.Fprintf(&out, "void %s(%s) {\n", f.Name, strings.Join(paramDecls, ", "))
	r.pushIndent()

	for i, p := range f.Params {
		buf, ok := f.BufferMap[p]
		if !ok {
			continue
		}
		_, elemBytes, err := rvvElemCType(buf.DType)
		if err != nil {
			return "", err
		}
		shape := NormalizeShape(buf.Shape)
		heapName := r.FreshName(fmt.Sprintf("v%d", i+1+len(f.Params)))
		heapNames[i] = heapName
		r.Writef("%s", rvvDecl(heapName, shape, int64(elemBytes)))
		r.Writef("memcpy(%s.addr, %s, %s.size);\n", heapName, rawNames[i], heapName)

		r.VarID[p] = heapName
		r.BufferShape[heapName] = shape
		r.BufferStride[heapName] = DefaultStride(shape)
		r.BufferElemType[heapName] = buf.DType
		hint := strings.TrimSuffix(p.Name, "_handle")
		r.ParamMap[hint] = heapName
	}
	r.popIndent()

	if err := r.EmitFunction(f); err != nil {
		return "", err
	}

	r.pushIndent()
	for i, p := range f.Params {
		if _, ok := f.BufferMap[p]; !ok {
			continue
		}
		r.Writef("memcpy(%s, %s.addr, %s.size);\n", rawNames[i], heapNames[i], heapNames[i])
		r.Writef("free(%s.addr);\n", heapNames[i])
	}
	r.popIndent()

	body, err := r.Finish()
	if err != nil {
		return "", err
	}
	out.WriteString(body)
	out.WriteString("}\n\n")

	out.WriteString(rvvMainDriver(f.Name, rawNames))
	return out.String(), nil
}

// rvvMainDriver emits the testbench entry point: a dummy 16-byte buffer per
// parameter, a call to the generated function, and matching frees.
func rvvMainDriver(name string, rawNames []string) string {
	var sb strings.Builder
	sb.WriteString("int main() {\n")
	for _, n := range rawNames {
		fmt.Fprintf(&sb, "  void *%s = malloc(16);\n", n)
	}
	fmt.Fprintf(&sb, "  %s(%s);\n", name, strings.Join(rawNames, ", "))
	for _, n := range rawNames {
		fmt.Fprintf(&sb, "  free(%s);\n", n)
	}
	sb.WriteString("  return 0;\n}\n")
	return sb.String()
}
