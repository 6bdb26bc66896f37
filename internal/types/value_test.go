package types

import (
	"bytes"
	"sort"
	"testing"
)

func TestEncodeSortableIntOrdering(t *testing.T) {
	ints := []int64{-100, -1, 0, 1, 42, 1000, -9999999}
	encoded := make([][]byte, len(ints))
	for i, v := range ints {
		encoded[i] = EncodeSortable(nil, NewInt64(v))
	}
	sort.Slice(encoded, func(i, j int) bool { return bytes.Compare(encoded[i], encoded[j]) < 0 })

	want := append([]int64(nil), ints...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for i, enc := range encoded {
		v, n, err := DecodeSortable(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(enc) {
			t.Fatalf("decode consumed %d bytes, want %d", n, len(enc))
		}
		if v.AsInt64() != want[i] {
			t.Fatalf("sorted position %d: got %d, want %d", i, v.AsInt64(), want[i])
		}
	}
}

func TestEncodeSortableFloatOrdering(t *testing.T) {
	floats := []float64{-3.5, -0.001, 0, 0.5, 2.25, 1e9}
	encoded := make([][]byte, len(floats))
	for i, v := range floats {
		encoded[i] = EncodeSortable(nil, NewFloat64(v))
	}
	for i := 1; i < len(encoded); i++ {
		if bytes.Compare(encoded[i-1], encoded[i]) >= 0 {
			t.Fatalf("encoding of %v should sort before %v", floats[i-1], floats[i])
		}
	}
}

func TestEncodeSortableStringPrefixOrdering(t *testing.T) {
	a := EncodeSortable(nil, NewVarchar("apple"))
	b := EncodeSortable(nil, NewVarchar("applesauce"))
	if bytes.Compare(a, b) >= 0 {
		t.Fatalf("prefix %q should sort before extension %q", "apple", "applesauce")
	}
}

func TestEncodeSortableNullSortsFirst(t *testing.T) {
	n := EncodeSortable(nil, Null)
	v := EncodeSortable(nil, NewInt64(-1<<62))
	if bytes.Compare(n, v) >= 0 {
		t.Fatal("NULL encoding should sort before any non-NULL value")
	}
}

func TestCompareNullOrdering(t *testing.T) {
	if Compare(Null, NewInt64(0)) != -1 {
		t.Fatal("NULL should compare less than any value")
	}
	if Compare(NewInt64(0), Null) != 1 {
		t.Fatal("any value should compare greater than NULL")
	}
	if Compare(Null, Null) != 0 {
		t.Fatal("NULL should compare equal to NULL")
	}
}

func TestKeyComparatorMatchesCompare(t *testing.T) {
	var kc KeyComparator
	cases := [][2]Value{
		{NewInt64(1), NewInt64(2)},
		{NewVarchar("a"), NewVarchar("b")},
		{NewFloat64(1.5), NewFloat64(1.5)},
	}
	for _, c := range cases {
		got := sign(kc.CompareValues(c[0], c[1]))
		want := sign(Compare(c[0], c[1]))
		if got != want {
			t.Fatalf("CompareValues(%v,%v)=%d want sign %d", c[0], c[1], got, want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestDecimalFloat64(t *testing.T) {
	d := Decimal{Unscaled: 12345, Scale: 2}
	if got := d.Float64(); got != 123.45 {
		t.Fatalf("Decimal.Float64() = %v, want 123.45", got)
	}
}
