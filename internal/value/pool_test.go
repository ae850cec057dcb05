package value

import (
	"reflect"
	"testing"
)

func TestPoolInterning(t *testing.T) {
	p := NewPool()
	a := p.Require("hello")
	b := p.Require("hello")
	arr1 := p.Require(Array{IntScalar(1), Bool(true)})
	arr2 := p.Require(Array{IntScalar(1), Bool(true)})
	arr3 := p.Require(Array{IntScalar(1), Bool(false)})
	if a != b || arr1 != arr2 {
		t.Errorf("expected equal terms to share an index")
	}
	if arr1 == arr3 || arr1 == a {
		t.Errorf("expected distinct terms to get distinct indexes")
	}
	// Slices are not comparable and are appended every time.
	if p.Require([]int{1}) == p.Require([]int{1}) {
		t.Errorf("expected non-comparable terms to be appended")
	}
	if _, ok := p.Term(uint32(p.Len())); ok {
		t.Errorf("expected no term past the end")
	}
}

func TestPoolDecodeAndFormat(t *testing.T) {
	p := NewPool()
	str := ObjectScalar(p.Require("hi"))
	arr := ObjectScalar(p.Require(Array{IntScalar(2), str, Null}))

	if got, ok := p.Text(str); !ok || got != "hi" {
		t.Errorf("expected text hi, got %q", got)
	}
	if _, ok := p.Text(IntScalar(0)); ok {
		t.Errorf("expected no text for an int")
	}

	want := []any{int32(2), "hi", nil}
	if got := p.Decode(arr); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	tests := []struct {
		s    Scalar
		want string
	}{
		{Null, "null"},
		{Bool(true), "true"},
		{IntScalar(-4), "-4"},
		{FloatScalar(0.5), "0.5"},
		{str, `"hi"`},
		{arr, `[2, "hi", null]`},
	}
	for _, tt := range tests {
		if got := p.Format(tt.s); got != tt.want {
			t.Errorf("Format(%+v) = %s, want %s", tt.s, got, tt.want)
		}
	}
}
