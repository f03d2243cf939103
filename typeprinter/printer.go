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

// Package typeprinter maps ir.DataType values to target type spellings. The
// rules are identical across targets except for the RVV-specific deviations
// noted on printScalar and intToken.
package typeprinter

import (
	"fmt"

	"github.com/tile-lang/tlcodegen/emitter/emiterr"
	"github.com/tile-lang/tlcodegen/ir"
)

// Target distinguishes the small number of per-target spelling differences.
type Target int

const (
	TPU Target = iota
	RVV
)

// Printer renders ir.DataType values as C type tokens.
type Printer struct {
	Target Target
}

// New builds a Printer for the given target.
func New(target Target) *Printer {
	return &Printer{Target: target}
}

// Print returns the C type token for dt, or an UnsupportedType error if no
// rule covers the combination.
func (p *Printer) Print(dt ir.DataType) (string, error) {
	if dt.Lanes == 1 {
		return p.printScalar(dt)
	}
	return p.printVector(dt)
}

// MustPrint is Print but panics on error; used where the caller has already
// validated dt (e.g. printing a type it just constructed itself).
func (p *Printer) MustPrint(dt ir.DataType) string {
	s, err := p.Print(dt)
	if err != nil {
		panic(err)
	}
	return s
}

func (p *Printer) printScalar(dt ir.DataType) (string, error) {
	switch dt.Kind {
	case ir.Handle:
		return "void*", nil
	case ir.Void:
		return "void", nil
	case ir.Bool:
		return "bool", nil
	case ir.BFloat16:
		return "bfloat16_t", nil
	case ir.Float8:
		return "unsigned char", nil
	case ir.Float:
		switch dt.Bits {
		case 16:
			if p.Target == RVV {
				return "_Float16", nil
			}
			return "half_t", nil
		case 32:
			return "float", nil
		case 64:
			return "double", nil
		}
	case ir.Int:
		if tok, ok := intToken(dt.Bits, false, p.Target); ok {
			return tok, nil
		}
	case ir.Uint:
		if tok, ok := intToken(dt.Bits, true, p.Target); ok {
			return tok, nil
		}
	}
	return "", &emiterr.Error{
		Kind:   emiterr.UnsupportedType,
		Detail: fmt.Sprintf("scalar dtype %s has no target spelling", dt),
	}
}

// intToken spells fixed-width integers. RVV always uses the stdint tokens;
// TPU uses the shorter C tokens for the common widths and falls back to
// stdint otherwise.
func intToken(bits int, unsigned bool, target Target) (string, bool) {
	if target == RVV {
		switch bits {
		case 8, 16, 32, 64:
			tok := fmt.Sprintf("int%d_t", bits)
			if unsigned {
				tok = "u" + tok
			}
			return tok, true
		}
		return "", false
	}
	var tok string
	switch bits {
	case 8:
		tok = "char"
	case 16:
		tok = "short"
	case 32:
		tok = "int"
	case 64:
		tok = "int64_t"
	default:
		return "", false
	}
	if unsigned {
		if bits == 64 {
			tok = "uint64_t"
		} else {
			tok = "unsigned " + tok
		}
	}
	return tok, true
}

// printVector handles the packed-lane rules: 2-4 lanes get a direct
// "<base><lanes>" spelling; 4<lanes<=8 with even lanes pack two scalars per
// machine word; anything else is an UnsupportedType error.
func (p *Printer) printVector(dt ir.DataType) (string, error) {
	base, err := p.printScalar(ir.NewScalar(dt.Kind, dt.Bits))
	if err != nil {
		return "", err
	}
	switch {
	case dt.Lanes >= 2 && dt.Lanes <= 4:
		return fmt.Sprintf("%s%d", vectorBaseName(dt), dt.Lanes), nil
	case dt.Lanes > 4 && dt.Lanes <= 8 && dt.Lanes%2 == 0:
		switch dt.Bits {
		case 32:
			return fmt.Sprintf("ulonglong%d", dt.Lanes/2), nil
		case 16:
			return fmt.Sprintf("uint%d", dt.Lanes/2), nil
		}
		fallthrough
	default:
		return "", &emiterr.Error{
			Kind:   emiterr.UnsupportedType,
			Detail: fmt.Sprintf("vector dtype %s (base %s) has no packed spelling", dt, base),
		}
	}
}

// vectorBaseName gives the unsuffixed element-family name used to build
// "float4", "half4", etc. — distinct from the scalar C token (e.g. Float/16
// scalar is "half_t" but the vector family name is "half").
func vectorBaseName(dt ir.DataType) string {
	switch dt.Kind {
	case ir.Float:
		if dt.Bits == 16 {
			return "half"
		}
		return "float"
	case ir.Int:
		return fmt.Sprintf("int%d", dt.Bits)
	case ir.Uint:
		return fmt.Sprintf("uint%d", dt.Bits)
	default:
		return dt.Kind.String()
	}
}
