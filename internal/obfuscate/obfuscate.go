// Package obfuscate implements the chat-text transit transform: a
// per-message single-digit shift of every code point, carried on the
// wire as "{shift}:{shifted}". The shift travels with the message, so
// this is obfuscation against casual inspection, not cryptographic
// confidentiality.
package obfuscate

import (
	"errors"
	"math/rand"
	"strings"
	"unicode/utf8"
)

const (
	MinShift = 1
	MaxShift = 9
)

// Valid scalar values are [0, 0xD7FF] and [0xE000, 0x10FFFF]. The
// shift runs over that space with the surrogate gap removed, so every
// rune maps to another valid rune and the transform stays invertible
// at the block boundaries and past the top of the range.
const (
	surrogateMin  = 0xD800
	surrogateSize = 0xE000 - 0xD800
	scalarCount   = utf8.MaxRune + 1 - surrogateSize
)

func scalarIndex(r rune) rune {
	if r >= surrogateMin {
		return r - surrogateSize
	}
	return r
}

func indexScalar(i rune) rune {
	if i >= surrogateMin {
		return i + surrogateSize
	}
	return i
}

var ErrMalformed = errors.New("obfuscate: malformed input")

// Apply encodes text with a random shift in [1,9].
func Apply(text string) string {
	return WithShift(text, MinShift+rand.Intn(MaxShift-MinShift+1))
}

// WithShift encodes text with a fixed shift. Shifts outside [1,9] are
// clamped into range so the wire format stays a single digit.
func WithShift(text string, shift int) string {
	if shift < MinShift {
		shift = MinShift
	}
	if shift > MaxShift {
		shift = MaxShift
	}
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(byte('0' + shift))
	b.WriteByte(':')
	for _, r := range text {
		b.WriteRune(indexScalar((scalarIndex(r) + rune(shift)) % scalarCount))
	}
	return b.String()
}

// Reverse decodes "{shift}:{shifted}" back to the original text.
func Reverse(encoded string) (string, error) {
	if len(encoded) < 2 || encoded[1] != ':' {
		return "", ErrMalformed
	}
	shift := int(encoded[0] - '0')
	if shift < MinShift || shift > MaxShift {
		return "", ErrMalformed
	}
	var b strings.Builder
	b.Grow(len(encoded) - 2)
	for _, r := range encoded[2:] {
		b.WriteRune(indexScalar((scalarIndex(r) - rune(shift) + scalarCount) % scalarCount))
	}
	return b.String(), nil
}
