// Package expr implements the alarms engine's expression evaluator: a
// tokenizer producing a postfix token stream, stateful and stateless
// token variants, and an evaluator binding variables to incoming
// record fields (spec §4.1).
package expr

import (
	"fmt"
	"time"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindDouble Kind = iota
	KindInt
	KindString
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindDouble:
		return "double"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is the tagged union every variable, literal, and evaluation
// result is expressed in (spec §3 "Value"). Every value carries a
// timestamp, independent of which Kind it holds.
type Value struct {
	Kind   Kind
	Double float64
	Int    int64
	Str    string
	Time   time.Time // populated when Kind == KindTimestamp
	Stamp  time.Time // when this value was observed/assigned
}

// NewDouble builds a double-valued Value stamped at t.
func NewDouble(v float64, t time.Time) Value { return Value{Kind: KindDouble, Double: v, Stamp: t} }

// NewInt builds an int64-valued Value stamped at t.
func NewInt(v int64, t time.Time) Value { return Value{Kind: KindInt, Int: v, Stamp: t} }

// NewString builds a string-valued Value stamped at t.
func NewString(v string, t time.Time) Value { return Value{Kind: KindString, Str: v, Stamp: t} }

// NewTimestamp builds a timestamp-valued Value stamped at t.
func NewTimestamp(v time.Time, t time.Time) Value {
	return Value{Kind: KindTimestamp, Time: v, Stamp: t}
}

// AsFloat coerces a numeric Value (double, int, or timestamp-as-epoch-ns)
// to float64. Returns an error for a string value.
func (v Value) AsFloat() (float64, error) {
	switch v.Kind {
	case KindDouble:
		return v.Double, nil
	case KindInt:
		return float64(v.Int), nil
	case KindTimestamp:
		return float64(v.Time.UnixNano()), nil
	default:
		return 0, fmt.Errorf("cannot coerce string value to numeric")
	}
}

// IsNumeric reports whether the value is double, int, or timestamp.
func (v Value) IsNumeric() bool {
	return v.Kind == KindDouble || v.Kind == KindInt || v.Kind == KindTimestamp
}

// Truthy reports whether the value is non-zero (numeric) or non-empty
// (string); used to evaluate boolean-context operands like on-expr.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindDouble:
		return v.Double != 0
	case KindInt:
		return v.Int != 0
	case KindString:
		return v.Str != ""
	case KindTimestamp:
		return !v.Time.IsZero()
	default:
		return false
	}
}

// String renders the value for log annotation (spec §4.1 annotate_source).
func (v Value) String() string {
	switch v.Kind {
	case KindDouble:
		return fmt.Sprintf("%g", v.Double)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindString:
		return v.Str
	case KindTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	default:
		return ""
	}
}
