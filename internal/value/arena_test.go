package value

import (
	"errors"
	"testing"
)

func TestAllocSizes(t *testing.T) {
	a := NewArena()
	tests := []struct {
		tag  Tag
		size int
	}{
		{None, 0},
		{Byte, 1},
		{Short, 2},
		{Int, 4},
		{Float, 4},
		{Object, 4},
	}
	total := 0
	for _, tt := range tests {
		if tt.tag.Size() != tt.size {
			t.Errorf("%s: expected size %d, got %d", tt.tag, tt.size, tt.tag.Size())
		}
		if _, err := a.Alloc(tt.tag); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total += tt.size
	}
	if a.Live() != total {
		t.Errorf("expected %d live bytes, got %d", total, a.Live())
	}
	if _, err := a.Alloc(Any); !errors.Is(err, ErrBadTag) {
		t.Errorf("expected ErrBadTag for any, got %v", err)
	}
}

func TestReleaseReusesSlots(t *testing.T) {
	a := NewArena()
	x, _ := a.Alloc(Int)
	if err := a.SetBits(x, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Release(x); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	y, _ := a.Alloc(Float)
	if y.Offset != x.Offset {
		t.Errorf("expected the freed 4-byte slot to be reused")
	}
	if v, _ := a.Bits(y); v != 0 {
		t.Errorf("expected a reused slot to be zeroed, got %d", v)
	}
	if a.Cap() != 4 {
		t.Errorf("expected the buffer not to grow, got %d", a.Cap())
	}
}

func TestInvariantErrors(t *testing.T) {
	a := NewArena()
	x, _ := a.Alloc(Int)
	if _, err := a.Float(x); !errors.Is(err, ErrTagMismatch) {
		t.Errorf("expected ErrTagMismatch reading int as float, got %v", err)
	}
	wrong := StackItem{Tag: Float, Offset: x.Offset}
	if _, err := a.Bits(wrong); !errors.Is(err, ErrTagMismatch) {
		t.Errorf("expected ErrTagMismatch for a mistagged item, got %v", err)
	}
	if err := a.Release(wrong); !errors.Is(err, ErrTagMismatch) {
		t.Errorf("expected ErrTagMismatch releasing a mistagged item, got %v", err)
	}
	if err := a.Release(x); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Release(x); !errors.Is(err, ErrDoubleFree) {
		t.Errorf("expected ErrDoubleFree, got %v", err)
	}
	if _, err := a.Int(x); !errors.Is(err, ErrNotLive) {
		t.Errorf("expected ErrNotLive reading a freed slot, got %v", err)
	}
	if err := a.Release(NoValue); err != nil {
		t.Errorf("expected releasing no value to be a no-op, got %v", err)
	}
}

func TestCopyOwnsNewSlot(t *testing.T) {
	a := NewArena()
	x, _ := a.Store(IntScalar(-3))
	y, err := a.Copy(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if y.Offset == x.Offset {
		t.Fatalf("expected a distinct slot")
	}
	if err := a.Release(x); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := a.Int(y); v != -3 {
		t.Errorf("expected the copy to survive, got %d", v)
	}
	if a.Slots() != 1 {
		t.Errorf("expected 1 slot, got %d", a.Slots())
	}
}

func TestScalarRoundTrip(t *testing.T) {
	a := NewArena()
	for _, s := range []Scalar{Null, Bool(true), Bool(false), {Tag: Short, Bits: 0xFFFF}, IntScalar(-9), FloatScalar(1.5), ObjectScalar(3)} {
		it, err := a.Store(s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := a.Load(it)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != s {
			t.Errorf("expected %+v, got %+v", s, got)
		}
	}
}

func TestEqualAndKey(t *testing.T) {
	a := NewArena()
	x, _ := a.Store(IntScalar(1))
	y, _ := a.Store(IntScalar(1))
	z, _ := a.Store(FloatScalar(1))
	if eq, _ := a.Equal(x, y); !eq {
		t.Errorf("expected equal ints to be byte-identical")
	}
	if eq, _ := a.Equal(x, z); eq {
		t.Errorf("expected int 1 and float 1 to differ")
	}
	kx, _ := a.Key(nil, []StackItem{x, NoValue})
	ky, _ := a.Key(nil, []StackItem{y, NoValue})
	kz, _ := a.Key(nil, []StackItem{z, NoValue})
	if string(kx) != string(ky) || string(kx) == string(kz) {
		t.Errorf("expected keys to follow byte identity")
	}
}

func TestScalarConversions(t *testing.T) {
	tests := []struct {
		s      Scalar
		i      int64
		f      float64
		truthy bool
	}{
		{Null, 0, 0, false},
		{Bool(true), 1, 1, true},
		{Scalar{Tag: Short, Bits: 0xFFFF}, -1, -1, true},
		{IntScalar(0), 0, 0, false},
		{FloatScalar(-2.5), -2, -2.5, true},
		{FloatScalar(0), 0, 0, false},
		{ObjectScalar(0), 0, 0, true},
	}
	for _, tt := range tests {
		if tt.s.Tag.Numeric() && (tt.s.Int() != tt.i || tt.s.Float() != tt.f) {
			t.Errorf("%+v: got int %d float %g", tt.s, tt.s.Int(), tt.s.Float())
		}
		if tt.s.Truthy() != tt.truthy {
			t.Errorf("%+v: expected truthy=%v", tt.s, tt.truthy)
		}
	}
}
