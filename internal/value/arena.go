// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2023-2026 Nicholas R. Perez

// Package value implements the tagged small-value heap: a growable byte
// arena, arena-backed stack items and the append-only term pool.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Tag identifies the kind of value a StackItem holds.
type Tag uint8

const (
	None Tag = iota
	Byte
	Short
	Int
	Float
	Object
	Any
)

// sizes is the fixed slot size of every tag in bytes.
var sizes = [...]int{
	None:   0,
	Byte:   1,
	Short:  2,
	Int:    4,
	Float:  4,
	Object: 4,
	Any:    0,
}

// Size returns the number of arena bytes a value of this tag occupies.
func (t Tag) Size() int {
	if int(t) < len(sizes) {
		return sizes[t]
	}
	return 0
}

// Numeric reports whether the tag holds a number.
func (t Tag) Numeric() bool {
	return t == Byte || t == Short || t == Int || t == Float
}

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case Byte:
		return "byte"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Object:
		return "object"
	case Any:
		return "any"
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Arena errors. They signal broken ownership discipline, not script errors.
var (
	ErrDoubleFree  = errors.New("arena slot released twice")
	ErrNotLive     = errors.New("arena slot is not allocated")
	ErrTagMismatch = errors.New("arena slot accessed with the wrong tag")
	ErrBadTag      = errors.New("tag cannot be allocated")
)

// StackItem is a tagged reference to an arena slot. The record that holds a
// StackItem owns its slot: copying allocates a new slot and Release returns it.
type StackItem struct {
	Tag    Tag
	Offset uint32
}

// IsNone reports whether the item carries no value.
func (s StackItem) IsNone() bool { return s.Tag == None }

// NoValue is the item every unresolved read produces.
var NoValue = StackItem{Tag: None}

// Arena is a growable byte buffer carved into fixed-size slots. Released
// slots go onto a per-size free list and are reused before the buffer grows,
// so existing offsets stay valid for the lifetime of the arena.
type Arena struct {
	buf  []byte
	free map[int][]uint32
	tags map[uint32]Tag
	live int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		free: make(map[int][]uint32),
		tags: make(map[uint32]Tag),
	}
}

// Live returns the number of bytes owned by allocated slots.
func (a *Arena) Live() int { return a.live }

// Slots returns the number of allocated slots.
func (a *Arena) Slots() int { return len(a.tags) }

// Cap returns the size of the backing buffer.
func (a *Arena) Cap() int { return len(a.buf) }

// Alloc reserves a zeroed slot for a value of the given tag. Zero-sized tags
// need no storage and always succeed.
func (a *Arena) Alloc(t Tag) (StackItem, error) {
	if t == Any || int(t) >= len(sizes) {
		return NoValue, fmt.Errorf("alloc %s: %w", t, ErrBadTag)
	}
	size := t.Size()
	if size == 0 {
		return StackItem{Tag: t}, nil
	}
	var off uint32
	if list := a.free[size]; len(list) > 0 {
		off = list[len(list)-1]
		a.free[size] = list[:len(list)-1]
		clear(a.buf[off : int(off)+size])
	} else {
		off = uint32(len(a.buf))
		a.buf = append(a.buf, make([]byte, size)...)
	}
	a.tags[off] = t
	a.live += size
	return StackItem{Tag: t, Offset: off}, nil
}

// Release returns the item's slot to the arena. Releasing a slot that is not
// allocated is reported as ErrDoubleFree.
func (a *Arena) Release(it StackItem) error {
	size := it.Tag.Size()
	if size == 0 {
		return nil
	}
	t, ok := a.tags[it.Offset]
	if !ok {
		return fmt.Errorf("release %s@%d: %w", it.Tag, it.Offset, ErrDoubleFree)
	}
	if t != it.Tag {
		return fmt.Errorf("release %s@%d holding %s: %w", it.Tag, it.Offset, t, ErrTagMismatch)
	}
	delete(a.tags, it.Offset)
	a.free[size] = append(a.free[size], it.Offset)
	a.live -= size
	return nil
}

// ReleaseAll releases every item and returns the first error.
func (a *Arena) ReleaseAll(items []StackItem) error {
	var first error
	for _, it := range items {
		if err := a.Release(it); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Bytes returns a read-only view of the item's slot.
func (a *Arena) Bytes(it StackItem) ([]byte, error) {
	size := it.Tag.Size()
	if size == 0 {
		return nil, nil
	}
	if err := a.check(it); err != nil {
		return nil, err
	}
	return a.buf[it.Offset : int(it.Offset)+size : int(it.Offset)+size], nil
}

// check validates that the item refers to a live slot of its own tag.
func (a *Arena) check(it StackItem) error {
	t, ok := a.tags[it.Offset]
	if !ok {
		return fmt.Errorf("%s@%d: %w", it.Tag, it.Offset, ErrNotLive)
	}
	if t != it.Tag {
		return fmt.Errorf("%s@%d holding %s: %w", it.Tag, it.Offset, t, ErrTagMismatch)
	}
	return nil
}

// Bits reads the slot as an unsigned integer widened to 32 bits.
func (a *Arena) Bits(it StackItem) (uint32, error) {
	b, err := a.Bytes(it)
	if err != nil {
		return 0, err
	}
	switch len(b) {
	case 0:
		return 0, nil
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(b)), nil
	default:
		return binary.LittleEndian.Uint32(b), nil
	}
}

// SetBits writes the low bytes of v into the slot.
func (a *Arena) SetBits(it StackItem, v uint32) error {
	size := it.Tag.Size()
	if size == 0 {
		return nil
	}
	if err := a.check(it); err != nil {
		return err
	}
	b := a.buf[it.Offset : int(it.Offset)+size]
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	default:
		binary.LittleEndian.PutUint32(b, v)
	}
	return nil
}

// Int reads an int slot.
func (a *Arena) Int(it StackItem) (int32, error) {
	if it.Tag != Int {
		return 0, fmt.Errorf("read int from %s: %w", it.Tag, ErrTagMismatch)
	}
	v, err := a.Bits(it)
	return int32(v), err
}

// Float reads a float slot.
func (a *Arena) Float(it StackItem) (float32, error) {
	if it.Tag != Float {
		return 0, fmt.Errorf("read float from %s: %w", it.Tag, ErrTagMismatch)
	}
	v, err := a.Bits(it)
	return math.Float32frombits(v), err
}

// Copy allocates a new slot holding the same bytes as it.
func (a *Arena) Copy(it StackItem) (StackItem, error) {
	if it.Tag.Size() == 0 {
		return it, nil
	}
	v, err := a.Bits(it)
	if err != nil {
		return NoValue, err
	}
	dup, err := a.Alloc(it.Tag)
	if err != nil {
		return NoValue, err
	}
	return dup, a.SetBits(dup, v)
}
