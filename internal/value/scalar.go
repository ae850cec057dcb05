// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

package value

import (
	"encoding/binary"
	"math"
)

// Scalar is a decoded, arena-independent value. Bits holds the slot contents
// widened to 32 bits; for Object it is a term index.
type Scalar struct {
	Tag  Tag
	Bits uint32
}

// Null is the scalar form of "no value".
var Null = Scalar{Tag: None}

// Bool returns the byte scalar used for booleans.
func Bool(b bool) Scalar {
	if b {
		return Scalar{Tag: Byte, Bits: 1}
	}
	return Scalar{Tag: Byte}
}

// IntScalar returns an int scalar.
func IntScalar(v int32) Scalar { return Scalar{Tag: Int, Bits: uint32(v)} }

// FloatScalar returns a float scalar.
func FloatScalar(v float32) Scalar { return Scalar{Tag: Float, Bits: math.Float32bits(v)} }

// ObjectScalar returns a reference to a term.
func ObjectScalar(term uint32) Scalar { return Scalar{Tag: Object, Bits: term} }

// IsNone reports whether the scalar carries no value.
func (s Scalar) IsNone() bool { return s.Tag == None }

// Int widens a numeric scalar to int64. Floats truncate toward zero.
func (s Scalar) Int() int64 {
	switch s.Tag {
	case Byte:
		return int64(uint8(s.Bits))
	case Short:
		return int64(int16(s.Bits))
	case Int:
		return int64(int32(s.Bits))
	case Float:
		return int64(math.Float32frombits(s.Bits))
	}
	return 0
}

// Float widens a numeric scalar to float64.
func (s Scalar) Float() float64 {
	if s.Tag == Float {
		return float64(math.Float32frombits(s.Bits))
	}
	return float64(s.Int())
}

// Truthy reports whether a scalar counts as true for conditionals: non-zero
// numbers and any object reference.
func (s Scalar) Truthy() bool {
	switch s.Tag {
	case None:
		return false
	case Float:
		return math.Float32frombits(s.Bits) != 0
	case Object:
		return true
	}
	return s.Bits != 0
}

// AppendBinary appends the tag byte and the slot-sized encoding of the value.
// Two scalars append identical bytes exactly when their slots would be
// byte-identical.
func (s Scalar) AppendBinary(b []byte) []byte {
	b = append(b, byte(s.Tag))
	switch s.Tag.Size() {
	case 1:
		b = append(b, byte(s.Bits))
	case 2:
		b = binary.LittleEndian.AppendUint16(b, uint16(s.Bits))
	case 4:
		b = binary.LittleEndian.AppendUint32(b, s.Bits)
	}
	return b
}

// Load reads an item into a scalar.
func (a *Arena) Load(it StackItem) (Scalar, error) {
	if it.Tag.Size() == 0 {
		return Scalar{Tag: it.Tag}, nil
	}
	v, err := a.Bits(it)
	if err != nil {
		return Null, err
	}
	return Scalar{Tag: it.Tag, Bits: v}, nil
}

// Store allocates a slot holding the scalar.
func (a *Arena) Store(s Scalar) (StackItem, error) {
	it, err := a.Alloc(s.Tag)
	if err != nil {
		return NoValue, err
	}
	if err := a.SetBits(it, s.Bits); err != nil {
		return NoValue, err
	}
	return it, nil
}

// Equal reports whether two items are byte-identical: same tag, same bytes.
func (a *Arena) Equal(x, y StackItem) (bool, error) {
	if x.Tag != y.Tag {
		return false, nil
	}
	xs, err := a.Load(x)
	if err != nil {
		return false, err
	}
	ys, err := a.Load(y)
	if err != nil {
		return false, err
	}
	return xs == ys, nil
}

// Key appends the identity bytes of every item, suitable as a map key for
// byte-identical output vectors.
func (a *Arena) Key(b []byte, items []StackItem) ([]byte, error) {
	for _, it := range items {
		s, err := a.Load(it)
		if err != nil {
			return nil, err
		}
		b = s.AppendBinary(b)
	}
	return b, nil
}
