package ikey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const signBit = uint64(1) << 63

// String encodings escape 0x00 as 0x00 0xff and close with 0x00 0x01, so
// no encoding is a prefix of another and byte order follows string order.
const (
	strEscape    byte = 0x00
	strEscaped   byte = 0xff
	strTerm      byte = 0x01
	boolFalseEnc byte = 0x00
	boolTrueEnc  byte = 0x01
)

// AppendValue appends the order-preserving encoding of v to dst.
// Byte-lexicographic comparison of two encodings of the same kind matches
// the natural comparison of the values.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case StringKind:
		for i := 0; i < len(v.S); i++ {
			if v.S[i] == strEscape {
				dst = append(dst, strEscape, strEscaped)
			} else {
				dst = append(dst, v.S[i])
			}
		}
		return append(dst, strEscape, strTerm)
	case IntKind:
		return binary.BigEndian.AppendUint64(dst, uint64(v.I)^signBit)
	case FloatKind:
		bits := math.Float64bits(v.F)
		if bits&signBit != 0 {
			bits = ^bits
		} else {
			bits |= signBit
		}
		return binary.BigEndian.AppendUint64(dst, bits)
	case BoolKind:
		if v.B {
			return append(dst, boolTrueEnc)
		}
		return append(dst, boolFalseEnc)
	}
	return dst
}

// DecodeValue reads one encoded value of the given kind off the front of
// data and returns it together with the remaining bytes.
func DecodeValue(k Kind, data []byte) (v Value, rest []byte, err error) {
	switch k {
	case StringKind:
		return decodeString(data)
	case IntKind:
		if len(data) < 8 {
			return Value{}, nil, errors.Join(ErrMalformedKey, errors.New("short int64 encoding"))
		}
		return Int(int64(binary.BigEndian.Uint64(data) ^ signBit)), data[8:], nil
	case FloatKind:
		if len(data) < 8 {
			return Value{}, nil, errors.Join(ErrMalformedKey, errors.New("short float64 encoding"))
		}
		bits := binary.BigEndian.Uint64(data)
		if bits&signBit != 0 {
			bits ^= signBit
		} else {
			bits = ^bits
		}
		return Float(math.Float64frombits(bits)), data[8:], nil
	case BoolKind:
		if len(data) < 1 {
			return Value{}, nil, errors.Join(ErrMalformedKey, errors.New("short bool encoding"))
		}
		switch data[0] {
		case boolFalseEnc:
			return Bool(false), data[1:], nil
		case boolTrueEnc:
			return Bool(true), data[1:], nil
		}
		return Value{}, nil, errors.Join(ErrMalformedKey, fmt.Errorf("bad bool byte 0x%02x", data[0]))
	}
	return Value{}, nil, errors.Join(ErrMalformedKey, fmt.Errorf("unknown kind %q", byte(k)))
}

func decodeString(data []byte) (Value, []byte, error) {
	s := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != strEscape {
			s = append(s, data[i])
			continue
		}
		if i+1 >= len(data) {
			break
		}
		switch data[i+1] {
		case strEscaped:
			s = append(s, strEscape)
			i++
		case strTerm:
			return String(string(s)), data[i+2:], nil
		default:
			return Value{}, nil, errors.Join(ErrMalformedKey, fmt.Errorf("bad escape 0x00 0x%02x", data[i+1]))
		}
	}
	return Value{}, nil, errors.Join(ErrMalformedKey, errors.New("unterminated string encoding"))
}

// PrefixSuccessor returns the smallest key that is greater than every key
// starting with prefix, or nil when no such key exists (all 0xff).
// A nil result means iteration is unbounded above.
func PrefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			succ := make([]byte, i+1)
			copy(succ, prefix[:i+1])
			succ[i]++
			return succ
		}
	}
	return nil
}

// Next returns the immediate successor of key in byte order.
func Next(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}
