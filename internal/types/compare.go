package types

import "bytes"

// Compare orders two Values of compatible kinds. NULL sorts before every
// non-NULL value (index ordering; this is distinct from SQL's three-valued
// comparison logic used by the expression evaluator, which treats any
// comparison against NULL as UNKNOWN rather than an ordering).
func Compare(a, b Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	switch {
	case a.IsNumeric() || b.IsNumeric():
		af, bf := a.AsFloat64(), b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case a.IsString() || b.IsString():
		return bytes.Compare([]byte(a.S), []byte(b.S))
	case a.Kind == KindBlob:
		return bytes.Compare(a.Blob, b.Blob)
	case a.Kind == KindBoolean:
		return int(a.I) - int(b.I)
	case a.Kind == KindDate || a.Kind == KindTime || a.Kind == KindDateTime:
		switch {
		case a.T.Before(b.T):
			return -1
		case a.T.After(b.T):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// KeyComparator orders two index keys by their canonical sortable byte
// encoding, so B+-tree/hash-index storage can use a plain bytes.Compare on
// already-encoded keys without re-decoding them.
type KeyComparator struct{}

// CompareEncoded compares two EncodeSortable-produced byte strings.
func (KeyComparator) CompareEncoded(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CompareValues encodes both values and compares the encodings. It agrees
// with Compare when both values are integers (of any width), both floats,
// or both strings. It does not agree across numeric kinds (integers,
// floats and decimals are ordered by type tag first), for blobs (ordered
// by length before content), or for decimals of different scales
// (ordered by unscaled value).
func (KeyComparator) CompareValues(a, b Value) int {
	var bufA, bufB []byte
	bufA = EncodeSortable(bufA, a)
	bufB = EncodeSortable(bufB, b)
	return bytes.Compare(bufA, bufB)
}
