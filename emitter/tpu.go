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

// tpuDescriptor mirrors the __ppl_tensor_info value record: 4-D shape and
// stride, an address, a dtype tag, mode (2=global, 0=local), align_mode,
// byte size, offset, unsigned_flag, and the default_stride switch that
// decides whether downstream runtime calls receive NULL or &descriptor.stride.
type tpuDescriptor struct {
	Name          string
	Shape         Shape4
	Stride        Stride4
	Addr          string // C expression
	DTypeTag      string
	Mode          int
	AlignMode     int
	SizeBytes     string // C expression
	Offset        string // C expression
	UnsignedFlag  bool
	DefaultStride bool
}

// Decl renders the descriptor's stack declaration. The stride pointer
// NULL/&descriptor selection (default_stride's semantic rule) applies at
// call sites passing the stride argument to a runtime function, not to this
// struct literal; see tpuStrideArg.
func (d tpuDescriptor) Decl() string {
	return fmt.Sprintf(
		"__ppl_tensor_info %s = {.shape = {%d, %d, %d, %d}, .stride = {%d, %d, %d, %d}, .addr = (%s), .dtype = %s, .mode = %d, .align_mode = %d, .size = (%s), .offset = (%s), .unsigned_flag = %d, .default_stride = %d};\n",
		d.Name,
		d.Shape[0], d.Shape[1], d.Shape[2], d.Shape[3],
		d.Stride[0], d.Stride[1], d.Stride[2], d.Stride[3],
		d.Addr, d.DTypeTag, d.Mode, d.AlignMode, d.SizeBytes, d.Offset, boolToC(d.UnsignedFlag), boolToC(d.DefaultStride),
	)
}

func boolToC(b bool) int {
	if b {
		return 1
	}
	return 0
}

// tpuStrideArg is the argument text a call site uses for a descriptor's
// stride pointer, honoring default_stride's NULL rule.
func tpuStrideArg(d tpuDescriptor) string {
	if d.DefaultStride {
		return "NULL"
	}
	return fmt.Sprintf("&%s.stride", d.Name)
}

// dtypeTag maps an ir.DataType to the TPU runtime's compact dtype code.
func dtypeTag(dt ir.DataType) (string, error) {
	switch dt.Kind {
	case ir.Float:
		switch dt.Bits {
		case 16:
			return "DT_FP16", nil
		case 32:
			return "DT_FP32", nil
		}
	case ir.Int:
		switch dt.Bits {
		case 8:
			return "DT_INT8", nil
		case 16:
			return "DT_INT16", nil
		case 32:
			return "DT_INT32", nil
		}
	case ir.Uint:
		switch dt.Bits {
		case 8:
			return "DT_UINT8", nil
		case 16:
			return "DT_UINT16", nil
		case 32:
			return "DT_UINT32", nil
		}
	}
	return "", &emiterr.Error{Kind: emiterr.UnsupportedType, Detail: fmt.Sprintf("no TPU dtype tag for %s", dt)}
}

// TPU is the TPU-target emitter: Base generalized with the
// __ppl_tensor_info descriptor shape and the ppl.* intrinsic dispatch table.
type TPU struct {
	*Base
	dispatch map[string]IntrinsicFunc
}

// NewTPU constructs a ready-to-plan TPU emitter.
func NewTPU() *TPU {
	t := &TPU{dispatch: tpuDispatchTable()}
	t.Base = NewBase(typeprinter.New(typeprinter.TPU), t)
	return t
}

func (t *TPU) DescriptorTypeName() string { return "__ppl_tensor_info" }

func (t *TPU) Dispatch(op string) (IntrinsicFunc, bool) {
	const ns = "ppl."
	if !strings.HasPrefix(op, ns) {
		return nil, false
	}
	fn, ok := t.dispatch[strings.TrimPrefix(op, ns)]
	return fn, ok
}

// EmitAllocate lowers one on-chip Allocate: for each repetition implied by
// Extents[0] (the double-buffering count), declares a fresh tensor
// descriptor with normalized shape, default stride, the dtype tag, the
// planner-assigned offset, mode=0 (local), and align_mode=1.
func (t *TPU) EmitAllocate(b *Base, a *ir.Allocate) error {
	if len(a.Extents) == 0 {
		return &emiterr.Error{Kind: emiterr.MalformedIR, Detail: "Allocate requires at least one extent"}
	}
	reps, ok := constInt(a.Extents[0])
	if !ok {
		reps = 1
	}
	tag, err := dtypeTag(a.DType)
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
	stride := DefaultStride(shape)
	elemBytes := int64(a.DType.Bits / 8)
	size := shape[0] * shape[1] * shape[2] * shape[3] * elemBytes

	offsetExpr, ok := b.BufferAddr[a.Var.Name]
	var offsetText string
	if ok {
		offsetText = fmt.Sprintf("%d", offsetExpr)
	} else {
		offsetText = "0"
	}

	for i := int64(0); i < reps; i++ {
		name := b.FreshName(a.Var.Name)
		desc := tpuDescriptor{
			Name:          name,
			Shape:         shape,
			Stride:        stride,
			Addr:          offsetText,
			DTypeTag:      tag,
			Mode:          0,
			AlignMode:     1,
			SizeBytes:     fmt.Sprintf("%d", size),
			Offset:        offsetText,
			DefaultStride: true,
		}
		b.Writef("%s", desc.Decl())
		b.BufferShape[name] = shape
		b.BufferStride[name] = stride
		b.BufferScope[name] = a.Scope
		b.BufferElemType[name] = a.DType
		b.VarID[a.Var] = name
	}
	return b.VisitStmt(a.Body)
}

func constInt(e ir.Expr) (int64, bool) {
	if im, ok := e.(*ir.IntImm); ok {
		return im.Value, true
	}
	return 0, false
}

// Build renders the complete C source for one PrimFunc targeting the TPU:
// data_type_t lookup table, kernel signature with per-parameter descriptor
// construction, the body, then the trailing launcher (args_t struct, thunk,
// registration macro) described in §6.2.
func (t *TPU) Build(f *ir.PrimFunc, planOffsets map[string]int64) (string, error) {
	if err := t.SetPlan(planOffsets); err != nil {
		return "", err
	}

	var out strings.Builder
	out.WriteString("#include \"ppl_helper.h\"\n\n")
	out.WriteString(dataTypeLookupTable())
	out.WriteString("\n")

	paramDecls := make([]string, 0, len(f.Params))
	for _, p := range f.Params {
		name := t.NameOf(p)
		paramDecls = append(paramDecls, fmt.Sprintf("global_addr_t %s", name))
	}
	fmt.Fprintf(&out, "void %s(%s) {\n", f.Name, strings.Join(paramDecls, ", "))
	t.pushIndent()
	for _, p := range f.Params {
		buf, ok := f.BufferMap[p]
		if !ok {
			continue
		}
		tag, err := dtypeTag(buf.DType)
		if err != nil {
			return "", err
		}
		shape := NormalizeShape(buf.Shape)
		stride := DefaultStride(shape)
		descName := t.FreshName(buf.Name + "_info")
		desc := tpuDescriptor{
			Name:          descName,
			Shape:         shape,
			Stride:        stride,
			Addr:          t.NameOf(p),
			DTypeTag:      tag,
			Mode:          2,
			AlignMode:     1,
			SizeBytes:     fmt.Sprintf("%d", shape[0]*shape[1]*shape[2]*shape[3]*int64(buf.DType.Bits/8)),
			Offset:        "0",
			DefaultStride: false,
		}
		t.Writef("%s", desc.Decl())
		hint := strings.TrimSuffix(p.Name, "_handle")
		t.ParamMap[hint] = descName
		t.BufferShape[descName] = shape
		t.BufferStride[descName] = stride
		t.BufferScope[descName] = buf.Scope
		t.BufferElemType[descName] = buf.DType
		// Body references to this buffer's variable identity must resolve
		// to the descriptor, not the raw global_addr_t signature name
		// already cached by NameOf above.
		t.VarID[p] = descName
	}
	t.popIndent()

	if err := t.EmitFunction(f); err != nil {
		return "", err
	}
	body, err := t.Finish()
	if err != nil {
		return "", err
	}
	out.WriteString(body)
	out.WriteString("}\n\n")

	out.WriteString(launcher(f.Name, f.Params, t))
	return out.String(), nil
}

func dataTypeLookupTable() string {
	return "static const data_type_t kDataTypeTable[] = {\n" +
		"  DT_FP16, DT_FP32, DT_INT8, DT_UINT8, DT_INT16, DT_UINT16, DT_INT32, DT_UINT32,\n" +
		"};\n"
}

func launcher(name string, params []*ir.Var, t *TPU) string {
	var out strings.Builder
	fmt.Fprintf(&out, "typedef struct {\n")
	for _, p := range params {
		fmt.Fprintf(&out, "  global_addr_t %s;\n", t.NameOf(p))
	}
	fmt.Fprintf(&out, "} tpu_kernel_api_%s_args_t;\n\n", name)

	fmt.Fprintf(&out, "void %s_kernel(const void *args) {\n", name)
	fmt.Fprintf(&out, "  tpu_kernel_api_%s_args_t *api = (tpu_kernel_api_%s_args_t*)args;\n", name, name)
	callArgs := make([]string, 0, len(params))
	for _, p := range params {
		callArgs = append(callArgs, fmt.Sprintf("api->%s", t.NameOf(p)))
	}
	fmt.Fprintf(&out, "  %s(%s);\n", name, strings.Join(callArgs, ", "))
	fmt.Fprintf(&out, "  tpu_poll();\n")
	fmt.Fprintf(&out, "}\n\n")

	fmt.Fprintf(&out, "TPUKERNEL_FUNC_REGISTER(%s_kernel)\n", name)
	return out.String()
}
