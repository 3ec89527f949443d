package obfuscate

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestWithShift_RoundTrip_AllShifts(t *testing.T) {
	req := require.New(t)
	const text = "Hello, signaling world_42"

	for shift := MinShift; shift <= MaxShift; shift++ {
		encoded := WithShift(text, shift)
		req.Equal(byte('0'+shift), encoded[0])
		req.Equal(byte(':'), encoded[1])
		req.NotEqual(text, encoded[2:])

		decoded, err := Reverse(encoded)
		req.NoError(err)
		req.Equal(text, decoded)
	}
}

func TestApply_RoundTrip_Unicode(t *testing.T) {
	req := require.New(t)
	text := "héllo wörld ☎ 你好"

	encoded := Apply(text)
	decoded, err := Reverse(encoded)
	req.NoError(err)
	req.Equal(text, decoded)
}

func TestWithShift_MaxLengthMessage(t *testing.T) {
	req := require.New(t)
	text := strings.Repeat("a", 1000)

	encoded := WithShift(text, 5)
	decoded, err := Reverse(encoded)
	req.NoError(err)
	req.Equal(text, decoded)
}

func TestWithShift_RoundTripAtScalarBoundaries(t *testing.T) {
	req := require.New(t)

	// Code points that would shift into the surrogate block, or past
	// the top of the rune range, must still come back intact.
	texts := []string{
		string(rune(0xD7FB)),
		string(rune(0xD7FF)),
		string(rune(0xE000)),
		string(rune(utf8.MaxRune)),
		string(rune(utf8.MaxRune - 4)),
		"mixed ퟻ text \U0010FFFF end",
	}
	for _, text := range texts {
		for shift := MinShift; shift <= MaxShift; shift++ {
			encoded := WithShift(text, shift)
			req.True(utf8.ValidString(encoded))
			decoded, err := Reverse(encoded)
			req.NoError(err)
			req.Equal(text, decoded, "shift %d input %q", shift, text)
		}
	}
}

func TestWithShift_ClampsOutOfRangeShift(t *testing.T) {
	req := require.New(t)

	req.Equal(byte('1'), WithShift("abc", 0)[0])
	req.Equal(byte('1'), WithShift("abc", -7)[0])
	req.Equal(byte('9'), WithShift("abc", 15)[0])
}

func TestWithShift_EmptyText(t *testing.T) {
	req := require.New(t)

	encoded := WithShift("", 3)
	req.Equal("3:", encoded)
	decoded, err := Reverse(encoded)
	req.NoError(err)
	req.Equal("", decoded)
}

func TestReverse_Malformed(t *testing.T) {
	req := require.New(t)

	for _, in := range []string{"", "5", "abc", "5;abc", "0:abc", "x:abc"} {
		_, err := Reverse(in)
		req.ErrorIs(err, ErrMalformed, "input %q", in)
	}
}
