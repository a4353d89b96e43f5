// Package keys encodes view keys into byte strings whose bytewise order
// matches the logical key order.
//
// Each value is:
//
//	[type_tag:1B][value bytes...]
//
// Type tags (ascending order): null=0x01 < bool=0x02 < number=0x03 < string=0x04 < tuple=0x05
//
// Numbers are float64 with the sign bit flipped (all bits for negatives).
// Strings escape 0x00 as 0x00 0x01 and terminate with 0x00 0x00.
// Tuples hold their encoded elements and end with 0x00, which sorts below
// every tag, so a tuple sorts before any longer tuple it prefixes.
//
// Encodings are prefix-free: no encoded key is a proper prefix of another.
// Stores rely on this to append a tie-break suffix and still scan one key
// as a byte prefix.
package keys

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// Type tags for value encoding.
const (
	TypeNull   byte = 0x01
	TypeBool   byte = 0x02
	TypeNumber byte = 0x03
	TypeString byte = 0x04
	TypeTuple  byte = 0x05

	tupleEnd byte = 0x00
)

// Errors
var (
	ErrUnsupportedType = errors.New("unsupported key type")
	ErrInvalidNumber   = errors.New("key numbers must be finite")
	ErrInvalidEncoding = errors.New("invalid key encoding")
)

// Normalize converts a key into its canonical form: nil, bool, float64,
// string or []any of canonical values. Integer and float types become
// float64 and typed slices become []any.
func Normalize(key any) (any, error) {
	switch v := key.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		return v, nil
	case float64:
		return finite(v)
	case float32:
		return finite(float64(v))
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return finite(f)
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []float64:
		out := make([]any, len(v))
		for i, f := range v {
			n, err := finite(f)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, key)
	}
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrInvalidNumber
	}
	return f, nil
}

// Encode normalizes key and returns its order-preserving encoding.
func Encode(key any) ([]byte, error) {
	n, err := Normalize(key)
	if err != nil {
		return nil, err
	}
	return appendValue(make([]byte, 0, 32), n), nil
}

// EncodeString encodes s the same way as a string key.
func EncodeString(s string) []byte {
	return appendString(make([]byte, 0, len(s)+3), s)
}

// appendValue expects a normalized value.
func appendValue(buf []byte, v any) []byte {
	switch v := v.(type) {
	case nil:
		return append(buf, TypeNull)
	case bool:
		if v {
			return append(buf, TypeBool, 0x01)
		}
		return append(buf, TypeBool, 0x00)
	case float64:
		buf = append(buf, TypeNumber)
		return appendFloat64(buf, v)
	case string:
		return appendString(buf, v)
	case []any:
		buf = append(buf, TypeTuple)
		for _, e := range v {
			buf = appendValue(buf, e)
		}
		return append(buf, tupleEnd)
	}
	panic(fmt.Sprintf("keys: value %T not normalized", v))
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, TypeString)
	for i := 0; i < len(s); i++ {
		if s[i] == 0x00 {
			buf = append(buf, 0x00, 0x01)
		} else {
			buf = append(buf, s[i])
		}
	}
	return append(buf, 0x00, 0x00)
}

// appendFloat64 appends a sortable float64.
// Positive numbers: flip sign bit. Negative numbers: flip all bits.
func appendFloat64(buf []byte, v float64) []byte {
	if v == 0 {
		v = 0 // -0 sorts with +0
	}
	bits := math.Float64bits(v)
	if v >= 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return binary.BigEndian.AppendUint64(buf, bits)
}

// Decode decodes one value from the front of b and returns the rest.
func Decode(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, ErrInvalidEncoding
	}
	switch b[0] {
	case TypeNull:
		return nil, b[1:], nil
	case TypeBool:
		if len(b) < 2 {
			return nil, nil, ErrInvalidEncoding
		}
		return b[1] == 0x01, b[2:], nil
	case TypeNumber:
		if len(b) < 9 {
			return nil, nil, ErrInvalidEncoding
		}
		bits := binary.BigEndian.Uint64(b[1:9])
		if bits&(1<<63) != 0 {
			bits ^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), b[9:], nil
	case TypeString:
		return decodeString(b[1:])
	case TypeTuple:
		rest := b[1:]
		out := []any{}
		for {
			if len(rest) == 0 {
				return nil, nil, ErrInvalidEncoding
			}
			if rest[0] == tupleEnd {
				return out, rest[1:], nil
			}
			var (
				e   any
				err error
			)
			e, rest, err = Decode(rest)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, e)
		}
	default:
		return nil, nil, fmt.Errorf("%w: tag 0x%02x", ErrInvalidEncoding, b[0])
	}
}

// DecodeString decodes a string encoded by EncodeString from the front of b.
func DecodeString(b []byte) (string, []byte, error) {
	if len(b) == 0 || b[0] != TypeString {
		return "", nil, ErrInvalidEncoding
	}
	v, rest, err := decodeString(b[1:])
	if err != nil {
		return "", nil, err
	}
	return v.(string), rest, nil
}

func decodeString(b []byte) (any, []byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			return nil, nil, ErrInvalidEncoding
		}
		switch b[i+1] {
		case 0x00:
			return string(out), b[i+2:], nil
		case 0x01:
			out = append(out, 0x00)
			i++
		default:
			return nil, nil, ErrInvalidEncoding
		}
	}
	return nil, nil, ErrInvalidEncoding
}

// PrefixEnd returns the smallest byte string greater than every string
// that has prefix p. It returns nil when no such bound exists.
func PrefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Compare orders two keys. Keys that fail to encode sort first.
func Compare(a, b any) int {
	ea, _ := Encode(a)
	eb, _ := Encode(b)
	return bytes.Compare(ea, eb)
}

// Sort orders keys in place by Compare.
func Sort(ks []any) {
	sort.SliceStable(ks, func(i, j int) bool { return Compare(ks[i], ks[j]) < 0 })
}
