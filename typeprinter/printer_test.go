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

package typeprinter

import (
	"errors"
	"testing"

	"github.com/tile-lang/tlcodegen/emitter/emiterr"
	"github.com/tile-lang/tlcodegen/ir"
)

func TestPrintScalar(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		dt     ir.DataType
		want   string
	}{
		{"handle", TPU, ir.NewScalar(ir.Handle, 64), "void*"},
		{"void", TPU, ir.NewScalar(ir.Void, 1), "void"},
		{"bool", TPU, ir.NewScalar(ir.Bool, 1), "bool"},
		{"tpu float16", TPU, ir.NewScalar(ir.Float, 16), "half_t"},
		{"rvv float16", RVV, ir.NewScalar(ir.Float, 16), "_Float16"},
		{"float32", TPU, ir.NewScalar(ir.Float, 32), "float"},
		{"float64", TPU, ir.NewScalar(ir.Float, 64), "double"},
		{"bfloat16", TPU, ir.NewScalar(ir.BFloat16, 16), "bfloat16_t"},
		{"float8", TPU, ir.NewScalar(ir.Float8, 8), "unsigned char"},
		{"tpu int32", TPU, ir.NewScalar(ir.Int, 32), "int"},
		{"tpu int16", TPU, ir.NewScalar(ir.Int, 16), "short"},
		{"tpu uint32", TPU, ir.NewScalar(ir.Uint, 32), "unsigned int"},
		{"tpu int64", TPU, ir.NewScalar(ir.Int, 64), "int64_t"},
		{"rvv int8", RVV, ir.NewScalar(ir.Int, 8), "int8_t"},
		{"rvv uint16", RVV, ir.NewScalar(ir.Uint, 16), "uint16_t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.target)
			got, err := p.Print(tt.dt)
			if err != nil {
				t.Fatalf("Print() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Print() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintVector(t *testing.T) {
	tests := []struct {
		name string
		dt   ir.DataType
		want string
	}{
		{"float32x4", ir.NewVector(ir.Float, 32, 4), "float4"},
		{"float16x2", ir.NewVector(ir.Float, 16, 2), "half2"},
		{"float32x6 packs", ir.NewVector(ir.Float, 32, 6), "ulonglong3"},
		{"float16x8 packs", ir.NewVector(ir.Float, 16, 8), "uint4"},
	}
	p := New(TPU)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Print(tt.dt)
			if err != nil {
				t.Fatalf("Print() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Print() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintVectorUnsupportedWidthFails(t *testing.T) {
	p := New(TPU)
	_, err := p.Print(ir.NewVector(ir.Float, 32, 5))
	if err == nil {
		t.Fatal("expected an error for an odd lane count above 4")
	}
	var typeErr *emiterr.Error
	if !errors.As(err, &typeErr) {
		t.Fatalf("error = %v, want *emiterr.Error", err)
	}
	if typeErr.Kind != emiterr.UnsupportedType {
		t.Errorf("Kind = %v, want UnsupportedType", typeErr.Kind)
	}
}
