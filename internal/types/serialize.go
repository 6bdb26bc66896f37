package types

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/qindb/qindb/internal/dberr"
)

// Tag bytes for the on-disk/wire encoding. These are distinct from Kind's
// ordinal values so the disk format doesn't break if Kind gains members.
const (
	tagNull byte = iota
	tagInt
	tagFloat
	tagDecimal
	tagString
	tagBlob
	tagBool
	tagDate
	tagTime
	tagDateTime
)

// EncodeSortable writes v's order-preserving byte encoding to the end of
// dst and returns the extended slice. Two encoded keys compare equal under
// bytes.Compare iff the underlying values compare equal under SQL
// ordering, for values of the same Kind family.
//
// Integers: sign bit flipped, big-endian, so two's-complement ordering
// becomes unsigned-byte ordering.
// Floats: IEEE-754 bits, big-endian, with the sign bit inverted (and all
// other bits inverted too when negative) so that negative floats sort
// before positive ones; a positive NaN sorts after +Inf and a negative
// NaN before -Inf.
// Strings: raw UTF-8 bytes, NUL-terminated so prefixes sort before their
// extensions.
func EncodeSortable(dst []byte, v Value) []byte {
	dst = append(dst, tagForKind(v))
	switch {
	case v.Kind == KindNull:
		return dst
	case v.Kind == KindBoolean:
		if v.Bool() {
			return append(dst, 1)
		}
		return append(dst, 0)
	case v.IsIntegral():
		return encodeSortableInt(dst, v.AsInt64())
	case v.Kind == KindFloat32, v.Kind == KindFloat64:
		return encodeSortableFloat(dst, v.F)
	case v.Kind == KindDecimal:
		return encodeSortableInt(dst, v.Dec.Unscaled)
	case v.IsString():
		dst = append(dst, []byte(v.S)...)
		return append(dst, 0)
	case v.Kind == KindBlob:
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(v.Blob)))
		dst = append(dst, lenBuf[:]...)
		return append(dst, v.Blob...)
	case v.Kind == KindDate, v.Kind == KindTime, v.Kind == KindDateTime:
		return encodeSortableInt(dst, v.T.UnixNano())
	default:
		return dst
	}
}

func tagForKind(v Value) byte {
	switch v.Kind {
	case KindNull:
		return tagNull
	case KindBoolean:
		return tagBool
	case KindFloat32, KindFloat64:
		return tagFloat
	case KindDecimal:
		return tagDecimal
	case KindVarchar, KindChar, KindText:
		return tagString
	case KindBlob:
		return tagBlob
	case KindDate:
		return tagDate
	case KindTime:
		return tagTime
	case KindDateTime:
		return tagDateTime
	default:
		return tagInt
	}
}

func encodeSortableInt(dst []byte, i int64) []byte {
	u := uint64(i) ^ (1 << 63) // flip sign bit: two's complement -> unsigned order
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], u)
	return append(dst, buf[:]...)
}

func decodeSortableInt(b []byte) int64 {
	u := binary.BigEndian.Uint64(b)
	return int64(u ^ (1 << 63))
}

func encodeSortableFloat(dst []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		// negative: invert every bit so more-negative sorts first
		bits = ^bits
	} else {
		// positive (or +0): flip only the sign bit
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return append(dst, buf[:]...)
}

func decodeSortableFloat(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// DecodeSortable reads one value back from its EncodeSortable encoding,
// returning the value and the number of bytes consumed.
func DecodeSortable(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return Value{}, 0, dberr.New(dberr.Corruption, "empty key buffer")
	}
	tag := b[0]
	rest := b[1:]
	switch tag {
	case tagNull:
		return Null, 1, nil
	case tagBool:
		if len(rest) < 1 {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated bool key")
		}
		return NewBool(rest[0] != 0), 2, nil
	case tagInt:
		if len(rest) < 8 {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated int key")
		}
		return NewInt64(decodeSortableInt(rest[:8])), 9, nil
	case tagFloat:
		if len(rest) < 8 {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated float key")
		}
		return NewFloat64(decodeSortableFloat(rest[:8])), 9, nil
	case tagDecimal:
		if len(rest) < 8 {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated decimal key")
		}
		return NewDecimal(Decimal{Unscaled: decodeSortableInt(rest[:8])}), 9, nil
	case tagString:
		idx := bytes.IndexByte(rest, 0)
		if idx < 0 {
			return Value{}, 0, dberr.New(dberr.Corruption, "unterminated string key")
		}
		return NewVarchar(string(rest[:idx])), idx + 2, nil
	case tagBlob:
		if len(rest) < 8 {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated blob length")
		}
		n := int(binary.BigEndian.Uint64(rest[:8]))
		if len(rest) < 8+n {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated blob body")
		}
		blob := make([]byte, n)
		copy(blob, rest[8:8+n])
		return NewBlob(blob), 1 + 8 + n, nil
	case tagDate, tagTime, tagDateTime:
		if len(rest) < 8 {
			return Value{}, 0, dberr.New(dberr.Corruption, "truncated time key")
		}
		return Value{}, 0, dberr.New(dberr.NotImplemented, "time key decode needs location context")
	default:
		return Value{}, 0, dberr.Newf(dberr.Corruption, "unknown key tag %d", tag)
	}
}
