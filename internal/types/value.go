// Package types defines the tagged-union SQL Value and its canonical,
// order-preserving byte serialization (§3, §4.6 of the design).
//
// What: Value holds one SQL scalar (NULL, integers, floats, DECIMAL,
// VARCHAR/CHAR/TEXT, BLOB, BOOLEAN, DATE, TIME, DATETIME) tagged by Kind.
// How: grounded on storage.ColType's enumeration (tinySQL's in-memory
// column typing) but reshaped into a single struct-with-tag Value instead
// of a bare `any`, so comparisons and serialization can be total functions.
// Why: a tagged union keeps three-valued NULL logic and byte-order
// serialization in one place instead of scattered type switches.
package types

import (
	"fmt"
	"math"
	"time"
)

// Kind tags the SQL type carried by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindDecimal
	KindVarchar
	KindChar
	KindText
	KindBlob
	KindBoolean
	KindDate
	KindTime
	KindDateTime
)

func (k Kind) String() string {
	names := [...]string{
		"NULL", "INT8", "INT16", "INT32", "INT64", "FLOAT32", "FLOAT64",
		"DECIMAL", "VARCHAR", "CHAR", "TEXT", "BLOB", "BOOLEAN", "DATE",
		"TIME", "DATETIME",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "UNKNOWN"
}

// Decimal is a fixed-point value: Unscaled * 10^-Scale.
type Decimal struct {
	Unscaled  int64
	Precision int
	Scale     int
}

func (d Decimal) Float64() float64 {
	return float64(d.Unscaled) / math.Pow10(d.Scale)
}

// Value is a tagged SQL scalar.
type Value struct {
	Kind Kind

	I     int64   // INT8/16/32/64, BOOLEAN(0/1)
	F     float64 // FLOAT32/64
	Dec   Decimal
	S     string // VARCHAR/CHAR/TEXT
	Blob  []byte
	T     time.Time // DATE/TIME/DATETIME
}

// Null is the canonical NULL value.
var Null = Value{Kind: KindNull}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func NewInt64(i int64) Value   { return Value{Kind: KindInt64, I: i} }
func NewInt32(i int32) Value   { return Value{Kind: KindInt32, I: int64(i)} }
func NewBool(b bool) Value {
	i := int64(0)
	if b {
		i = 1
	}
	return Value{Kind: KindBoolean, I: i}
}
func NewFloat64(f float64) Value  { return Value{Kind: KindFloat64, F: f} }
func NewVarchar(s string) Value   { return Value{Kind: KindVarchar, S: s} }
func NewText(s string) Value      { return Value{Kind: KindText, S: s} }
func NewBlob(b []byte) Value      { return Value{Kind: KindBlob, Blob: b} }
func NewDecimal(d Decimal) Value  { return Value{Kind: KindDecimal, Dec: d} }
func NewDateTime(t time.Time) Value { return Value{Kind: KindDateTime, T: t} }

func (v Value) Bool() bool { return v.I != 0 }

// IsNumeric reports whether v is an integer, float, or decimal kind.
func (v Value) IsNumeric() bool {
	switch v.Kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindFloat32, KindFloat64, KindDecimal:
		return true
	}
	return false
}

// IsString reports whether v is a textual kind.
func (v Value) IsString() bool {
	switch v.Kind {
	case KindVarchar, KindChar, KindText:
		return true
	}
	return false
}

// AsFloat64 converts a numeric Value to float64. Panics-free: callers must
// check IsNumeric first.
func (v Value) AsFloat64() float64 {
	switch v.Kind {
	case KindFloat32, KindFloat64:
		return v.F
	case KindDecimal:
		return v.Dec.Float64()
	default:
		return float64(v.I)
	}
}

// AsInt64 converts an integral Value to int64.
func (v Value) AsInt64() int64 {
	switch v.Kind {
	case KindFloat32, KindFloat64:
		return int64(v.F)
	case KindDecimal:
		return int64(v.Dec.Float64())
	default:
		return v.I
	}
}

// IsIntegral reports whether v holds an exact integer (used to decide
// integer vs. float arithmetic in the expression evaluator, §4.11).
func (v Value) IsIntegral() bool {
	switch v.Kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindBoolean:
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindVarchar, KindChar, KindText:
		return v.S
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	case KindBoolean:
		return fmt.Sprintf("%v", v.Bool())
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%g", v.F)
	case KindDecimal:
		return fmt.Sprintf("%g", v.Dec.Float64())
	case KindDate:
		return v.T.Format("2006-01-02")
	case KindTime:
		return v.T.Format("15:04:05")
	case KindDateTime:
		return v.T.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%d", v.I)
	}
}
