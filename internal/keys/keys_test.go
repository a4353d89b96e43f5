package keys

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, k any) []byte {
	t.Helper()
	b, err := Encode(k)
	require.NoError(t, err)
	return b
}

func TestEncode_TypeOrdering(t *testing.T) {
	// null < bool < number < string < tuple
	ordered := []any{nil, false, true, -1e9, 0, 3.5, "", "a", []any{}, []any{nil}}
	for i := 1; i < len(ordered); i++ {
		a := mustEncode(t, ordered[i-1])
		b := mustEncode(t, ordered[i])
		assert.Equal(t, -1, bytes.Compare(a, b), "%v < %v", ordered[i-1], ordered[i])
	}
}

func TestEncode_NumberOrdering(t *testing.T) {
	nums := []float64{math.Inf(-1), -1e300, -2.5, -1, -1e-300, 0, 1e-300, 1, 2, 10, 1e300, math.Inf(1)}
	for i := 1; i < len(nums); i++ {
		a := appendFloat64(nil, nums[i-1])
		b := appendFloat64(nil, nums[i])
		assert.Equal(t, -1, bytes.Compare(a, b), "%v < %v", nums[i-1], nums[i])
	}
	assert.Equal(t, appendFloat64(nil, 0), appendFloat64(nil, math.Copysign(0, -1)))
}

func TestEncode_StringOrdering(t *testing.T) {
	strs := []string{"", "\x00", "\x00\x00", "\x00a", "a", "a\x00", "ab", "b", "ba"}
	for i := 1; i < len(strs); i++ {
		a := mustEncode(t, strs[i-1])
		b := mustEncode(t, strs[i])
		assert.Equal(t, -1, bytes.Compare(a, b), "%q < %q", strs[i-1], strs[i])
	}
}

func TestEncode_TupleOrdering(t *testing.T) {
	// Given: tuples that compare component by component
	tuples := []any{
		[]any{"a"},
		[]any{"a", 1},
		[]any{"a", 2},
		[]any{"a", "x"},
		[]any{"a", "x", nil},
		[]any{"ab"},
		[]any{"b"},
		[]any{[]any{"a"}},
	}

	// Then: encodings sort in the same order
	for i := 1; i < len(tuples); i++ {
		assert.Equal(t, -1, Compare(tuples[i-1], tuples[i]), "%v < %v", tuples[i-1], tuples[i])
	}
}

func TestEncode_PrefixFree(t *testing.T) {
	keys := []any{"a", "ab", []any{"a"}, []any{"a", "b"}, 1, nil, true, []any{}}
	for _, a := range keys {
		for _, b := range keys {
			ea, eb := mustEncode(t, a), mustEncode(t, b)
			if bytes.Equal(ea, eb) {
				continue
			}
			assert.False(t, bytes.HasPrefix(eb, ea), "%v prefixes %v", a, b)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 3, 3.0},
		{"uint8", uint8(7), 7.0},
		{"float32", float32(1.5), 1.5},
		{"json number", json.Number("12"), 12.0},
		{"strings", []string{"a", "b"}, []any{"a", "b"}},
		{"nested", []any{1, []any{int64(2)}}, []any{1.0, []any{2.0}}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := Normalize(map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Normalize(math.NaN())
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = Normalize([]any{1, math.Inf(1)})
	assert.ErrorIs(t, err, ErrInvalidNumber)
}

func TestDecode_RoundTrip(t *testing.T) {
	for _, k := range []any{nil, true, false, -3.25, "he\x00llo", []any{"a", 1.0, []any{nil, false}}, []any{}} {
		enc := mustEncode(t, k)
		got, rest, err := Decode(enc)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, k, got)
	}
}

func TestDecodeString_WithSuffix(t *testing.T) {
	// Given: an encoded string followed by other bytes
	b := append(EncodeString("dat://a/x.json"), 0xAA, 0xBB)

	// When: decoding
	s, rest, err := DecodeString(b)

	// Then: the suffix is returned untouched
	require.NoError(t, err)
	assert.Equal(t, "dat://a/x.json", s)
	assert.Equal(t, []byte{0xAA, 0xBB}, rest)
}

func TestDecode_Invalid(t *testing.T) {
	for _, b := range [][]byte{nil, {0x7f}, {TypeNumber, 1}, {TypeString, 'a'}, {TypeTuple, TypeNull}} {
		_, _, err := Decode(b)
		assert.Error(t, err, "%x", b)
	}
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, PrefixEnd([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, PrefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, PrefixEnd([]byte{0xff, 0xff}))

	// Every extension of the prefix sorts below PrefixEnd.
	p := mustEncode(t, []any{"a"})
	ext := append(append([]byte(nil), p...), 0xff, 0xff)
	assert.Equal(t, -1, bytes.Compare(ext, PrefixEnd(p)))
}

func TestSort(t *testing.T) {
	ks := []any{"b", 2, []any{"a"}, nil, "a", 1}
	Sort(ks)
	assert.Equal(t, []any{nil, 1, 2, "a", "b", []any{"a"}}, ks)
	assert.True(t, sort.SliceIsSorted(ks, func(i, j int) bool { return Compare(ks[i], ks[j]) < 0 }))
}
