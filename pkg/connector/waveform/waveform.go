// Package waveform packs and unpacks Telegram voice message waveforms.
//
// A Telegram waveform is a sequence of 5-bit amplitude values packed into a
// byte stream least-significant-bits first, so values regularly straddle
// byte boundaries:
//
//	[210|43210][0|43210|43][3210|4321][10|43210|4]...
//	[111|00000][3|22222|11][4444|3333][66|55555|4]...
//
// The top row is the bit position within a value, the bottom row the value
// index.
package waveform

import "math"

const bitsPerValue = 5

// Normalize scales amplitudes into [0, 31] so they fit in five bits.
func Normalize(values []int) []byte {
	var peak int
	for _, v := range values {
		peak = max(peak, v)
	}
	divisor := max(float64(peak)/31, 1)
	out := make([]byte, len(values))
	for i, v := range values {
		out[i] = byte(math.Round(float64(v) / divisor))
	}
	return out
}

// Encode normalizes and packs a Matrix waveform into Telegram's format.
func Encode(values []int) []byte {
	packedLen := (len(values)*bitsPerValue + 7) / 8
	// one spare byte so the high-bit spill below never goes out of range
	packed := make([]byte, packedLen+1)

	shift := 0
	for i, v := range Normalize(values) {
		pos := i * bitsPerValue / 8
		packed[pos] |= v << shift
		packed[pos+1] |= v >> (8 - shift)
		shift = (shift + bitsPerValue) % 8
	}
	return packed[:packedLen]
}

// Decode unpacks a Telegram waveform into plain amplitude values.
func Decode(packed []byte) []int {
	count := len(packed) * 8 / bitsPerValue
	values := make([]int, count)

	shift := 0
	for i := range values {
		pos := i * bitsPerValue / 8
		v := packed[pos] >> shift
		if pos+1 < len(packed) {
			v |= packed[pos+1] << (8 - shift)
		}
		values[i] = int(v & 0b11111)
		shift = (shift + bitsPerValue) % 8
	}
	return values
}
