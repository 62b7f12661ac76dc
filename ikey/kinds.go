// Package ikey defines the keyspace of an indexed database: the byte
// layout of record, index and metadata keys, the order-preserving value
// encodings behind index entries, and the cursor tokens that resume
// iteration over them.
package ikey

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrTypeMismatch  = errors.New("ikey: value does not match the declared kind")
	ErrMalformedKey  = errors.New("ikey: malformed key")
	ErrCursorInvalid = errors.New("ikey: invalid cursor")
)

// Kind selects the order-preserving encoding of an indexed value.
type Kind byte

const (
	StringKind Kind = 'S'
	IntKind    Kind = 'I'
	FloatKind  Kind = 'F'
	BoolKind   Kind = 'B'
)

func (k Kind) Valid() bool {
	switch k {
	case StringKind, IntKind, FloatKind, BoolKind:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case StringKind:
		return "string"
	case IntKind:
		return "int64"
	case FloatKind:
		return "float64"
	case BoolKind:
		return "bool"
	}
	return fmt.Sprintf("kind(%q)", byte(k))
}

// Value is a typed field value; only the field selected by Kind is set.
type Value struct {
	Kind Kind
	S    string
	I    int64
	F    float64
	B    bool
}

func String(s string) Value { return Value{Kind: StringKind, S: s} }
func Int(i int64) Value     { return Value{Kind: IntKind, I: i} }
func Float(f float64) Value { return Value{Kind: FloatKind, F: f} }
func Bool(b bool) Value     { return Value{Kind: BoolKind, B: b} }

func (v Value) Native() any {
	switch v.Kind {
	case StringKind:
		return v.S
	case IntKind:
		return v.I
	case FloatKind:
		return v.F
	case BoolKind:
		return v.B
	}
	return nil
}

// Coerce converts a dynamically typed field value into a Value of the
// declared kind. Integers widen to float64 for FloatKind; everything else
// must match exactly. NaN is rejected, it has no place in a total order.
func Coerce(k Kind, raw any) (Value, error) {
	if v, ok := raw.(Value); ok {
		if v.Kind != k {
			return Value{}, errors.Join(ErrTypeMismatch, fmt.Errorf("have %s, want %s", v.Kind, k))
		}
		return v, nil
	}
	switch k {
	case StringKind:
		switch s := raw.(type) {
		case string:
			return String(s), nil
		case []byte:
			return String(string(s)), nil
		}
	case IntKind:
		switch i := raw.(type) {
		case int:
			return Int(int64(i)), nil
		case int8:
			return Int(int64(i)), nil
		case int16:
			return Int(int64(i)), nil
		case int32:
			return Int(int64(i)), nil
		case int64:
			return Int(i), nil
		case uint:
			return coerceUint(uint64(i))
		case uint8:
			return Int(int64(i)), nil
		case uint16:
			return Int(int64(i)), nil
		case uint32:
			return Int(int64(i)), nil
		case uint64:
			return coerceUint(i)
		case json.Number:
			if i64, err := i.Int64(); err == nil {
				return Int(i64), nil
			}
		}
	case FloatKind:
		switch f := raw.(type) {
		case float64:
			return coerceFloat(f)
		case float32:
			return coerceFloat(float64(f))
		case int:
			return Float(float64(f)), nil
		case int32:
			return Float(float64(f)), nil
		case int64:
			return Float(float64(f)), nil
		case json.Number:
			if f64, err := f.Float64(); err == nil {
				return coerceFloat(f64)
			}
		}
	case BoolKind:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	default:
		return Value{}, errors.Join(ErrTypeMismatch, fmt.Errorf("unknown kind %q", byte(k)))
	}
	return Value{}, errors.Join(ErrTypeMismatch, fmt.Errorf("have %T, want %s", raw, k))
}

func coerceUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, errors.Join(ErrTypeMismatch, fmt.Errorf("%d overflows int64", u))
	}
	return Int(int64(u)), nil
}

func coerceFloat(f float64) (Value, error) {
	if math.IsNaN(f) {
		return Value{}, errors.Join(ErrTypeMismatch, errors.New("NaN is not orderable"))
	}
	return Float(f), nil
}
