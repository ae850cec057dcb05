// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package eval

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"nickandperla.net/herd/internal/graph"
	"nickandperla.net/herd/internal/script"
	"nickandperla.net/herd/internal/value"
)

// Run-time script failures. These abandon the rest of a block for the
// affected groups and are never returned from Resolve.
var (
	ErrUnsupported    = errors.New("unsupported operand kinds")
	ErrDivideByZero   = errors.New("integer division by zero")
	ErrBadOpcode      = errors.New("unknown opcode")
	ErrBadOperand     = errors.New("operand out of range")
	ErrStackUnderflow = errors.New("operand stack underflow")
	ErrNotInstruction = errors.New("term is not an instruction")
)

// ErrOutputWritten is an invariant violation: a mutation stored its output
// twice in one execution.
var ErrOutputWritten = errors.New("output already written")

type numKind int

const (
	numNone numKind = iota
	numInt
	numFloat
)

// promote picks the arithmetic domain for two operands: float if either is a
// float, int if both are numeric, none otherwise.
func promote(a, b value.Scalar) numKind {
	if !a.Tag.Numeric() || !b.Tag.Numeric() {
		return numNone
	}
	if a.Tag == value.Float || b.Tag == value.Float {
		return numFloat
	}
	return numInt
}

// binary applies a two-operand opcode. Text results are interned in the
// store's term pool.
func binary(store *script.Store, op script.Opcode, a, b value.Scalar) (value.Scalar, error) {
	switch op {
	case script.OpAnd:
		return value.Bool(a.Truthy() && b.Truthy()), nil
	case script.OpOr:
		return value.Bool(a.Truthy() || b.Truthy()), nil
	case script.OpEq, script.OpNe:
		eq := equal(a, b)
		if op == script.OpNe {
			eq = !eq
		}
		return value.Bool(eq), nil
	}
	if a.IsNone() || b.IsNone() {
		return value.Null, nil
	}
	switch op {
	case script.OpLt, script.OpLe, script.OpGt, script.OpGe:
		return compare(store, op, a, b)
	case script.OpAdd:
		if ta, ok := store.Terms().Text(a); ok {
			if tb, ok := store.Terms().Text(b); ok {
				return value.ObjectScalar(store.RequireTerm(ta + tb)), nil
			}
		}
	}
	switch promote(a, b) {
	case numInt:
		return intOp(op, int32(a.Int()), int32(b.Int()))
	case numFloat:
		return floatOp(op, float32(a.Float()), float32(b.Float()))
	}
	return value.Null, fmt.Errorf("%s %s %s: %w", a.Tag, op, b.Tag, ErrUnsupported)
}

func equal(a, b value.Scalar) bool {
	switch promote(a, b) {
	case numInt:
		return a.Int() == b.Int()
	case numFloat:
		return a.Float() == b.Float()
	}
	return a == b
}

func compare(store *script.Store, op script.Opcode, a, b value.Scalar) (value.Scalar, error) {
	var c int
	switch promote(a, b) {
	case numInt:
		c = cmp3(a.Int(), b.Int())
	case numFloat:
		c = cmp3(a.Float(), b.Float())
	default:
		ta, oka := store.Terms().Text(a)
		tb, okb := store.Terms().Text(b)
		if !oka || !okb {
			return value.Null, fmt.Errorf("%s %s %s: %w", a.Tag, op, b.Tag, ErrUnsupported)
		}
		c = strings.Compare(ta, tb)
	}
	switch op {
	case script.OpLt:
		return value.Bool(c < 0), nil
	case script.OpLe:
		return value.Bool(c <= 0), nil
	case script.OpGt:
		return value.Bool(c > 0), nil
	}
	return value.Bool(c >= 0), nil
}

func cmp3[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func intOp(op script.Opcode, a, b int32) (value.Scalar, error) {
	switch op {
	case script.OpAdd:
		return value.IntScalar(a + b), nil
	case script.OpSub:
		return value.IntScalar(a - b), nil
	case script.OpMul:
		return value.IntScalar(a * b), nil
	case script.OpDiv, script.OpMod:
		if b == 0 {
			return value.Null, ErrDivideByZero
		}
		if op == script.OpDiv {
			return value.IntScalar(a / b), nil
		}
		return value.IntScalar(a % b), nil
	case script.OpPow:
		// Negative exponents and results outside int32 give a float.
		p := math.Pow(float64(a), float64(b))
		if b < 0 || p > math.MaxInt32 || p < math.MinInt32 {
			return value.FloatScalar(float32(p)), nil
		}
		return value.IntScalar(int32(p)), nil
	}
	return value.Null, fmt.Errorf("int %s: %w", op, ErrUnsupported)
}

func floatOp(op script.Opcode, a, b float32) (value.Scalar, error) {
	switch op {
	case script.OpAdd:
		return value.FloatScalar(a + b), nil
	case script.OpSub:
		return value.FloatScalar(a - b), nil
	case script.OpMul:
		return value.FloatScalar(a * b), nil
	case script.OpDiv:
		return value.FloatScalar(a / b), nil
	case script.OpMod:
		return value.FloatScalar(float32(math.Mod(float64(a), float64(b)))), nil
	case script.OpPow:
		return value.FloatScalar(float32(math.Pow(float64(a), float64(b)))), nil
	}
	return value.Null, fmt.Errorf("float %s: %w", op, ErrUnsupported)
}

// unary applies OpNot or OpNeg.
func unary(op script.Opcode, a value.Scalar) (value.Scalar, error) {
	if a.IsNone() {
		return value.Null, nil
	}
	switch op {
	case script.OpNot:
		return value.Bool(!a.Truthy()), nil
	case script.OpNeg:
		switch {
		case a.Tag == value.Float:
			return value.FloatScalar(-float32(a.Float())), nil
		case a.Tag.Numeric():
			return value.IntScalar(-int32(a.Int())), nil
		}
	}
	return value.Null, fmt.Errorf("%s %s: %w", op, a.Tag, ErrUnsupported)
}

// invariant reports whether err is a broken arena or graph invariant rather
// than a script failure.
func invariant(err error) bool {
	for _, target := range []error{
		value.ErrDoubleFree, value.ErrNotLive, value.ErrTagMismatch, value.ErrBadTag,
		graph.ErrNotLive, ErrOutputWritten,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
