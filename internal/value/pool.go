// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package value

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Array is an immutable array term. Arrays are interned by content.
type Array []Scalar

// arrayKey distinguishes interned arrays from interned strings.
type arrayKey string

func (arr Array) key() arrayKey {
	var b []byte
	for _, s := range arr {
		b = s.AppendBinary(b)
	}
	return arrayKey(b)
}

// Pool is the append-only term pool. Comparable terms (strings, pointers,
// small structs) and arrays are interned, so requiring an equal value twice
// yields the same index.
type Pool struct {
	terms []any
	index map[any]uint32
}

// NewPool creates an empty term pool.
func NewPool() *Pool {
	return &Pool{index: make(map[any]uint32)}
}

// Require returns the index of v, appending it if it is not interned yet.
// Values that are neither comparable nor arrays are always appended.
func (p *Pool) Require(v any) uint32 {
	var k any
	switch t := v.(type) {
	case Array:
		k = t.key()
	default:
		if v != nil && reflect.TypeOf(v).Comparable() {
			k = v
		}
	}
	if k != nil {
		if i, ok := p.index[k]; ok {
			return i
		}
	}
	i := uint32(len(p.terms))
	p.terms = append(p.terms, v)
	if k != nil {
		p.index[k] = i
	}
	return i
}

// Term returns the term at index i.
func (p *Pool) Term(i uint32) (any, bool) {
	if int(i) >= len(p.terms) {
		return nil, false
	}
	return p.terms[i], true
}

// Len returns the number of terms.
func (p *Pool) Len() int { return len(p.terms) }

// Text returns the string a scalar refers to, if it is a string term.
func (p *Pool) Text(s Scalar) (string, bool) {
	if s.Tag != Object {
		return "", false
	}
	t, ok := p.Term(s.Bits)
	if !ok {
		return "", false
	}
	str, ok := t.(string)
	return str, ok
}

// Decode converts a scalar into a Go value: nil, bool, int16, int32,
// float32, or the referenced term.
func (p *Pool) Decode(s Scalar) any {
	switch s.Tag {
	case Byte:
		return s.Bits != 0
	case Short:
		return int16(s.Bits)
	case Int:
		return int32(s.Bits)
	case Float:
		return math.Float32frombits(s.Bits)
	case Object:
		t, _ := p.Term(s.Bits)
		if arr, ok := t.(Array); ok {
			out := make([]any, len(arr))
			for i, e := range arr {
				out[i] = p.Decode(e)
			}
			return out
		}
		return t
	}
	return nil
}

// Format renders a scalar the way scripts would write it.
func (p *Pool) Format(s Scalar) string {
	switch s.Tag {
	case None:
		return "null"
	case Byte:
		if s.Bits != 0 {
			return "true"
		}
		return "false"
	case Object:
		t, _ := p.Term(s.Bits)
		switch t := t.(type) {
		case string:
			return fmt.Sprintf("%q", t)
		case Array:
			parts := make([]string, len(t))
			for i, e := range t {
				parts[i] = p.Format(e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		case fmt.Stringer:
			return t.String()
		}
		return fmt.Sprintf("term#%d", s.Bits)
	}
	return fmt.Sprint(p.Decode(s))
}
