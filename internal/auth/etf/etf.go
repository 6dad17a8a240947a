// Package etf implements the small subset of Erlang External Term Format
// used inside the shared-secret auth token: a version byte, a 3-element
// small tuple, a binary, and an integer narrowed to the smallest of
// SMALL_INTEGER_EXT / INTEGER_EXT / SMALL_BIG_EXT.
package etf

import "math"

const (
	tagVersion     = 131
	tagSmallTuple  = 104
	tagBinary      = 109
	tagSmallInt    = 97
	tagInt32       = 98
	tagSmallBigInt = 110
)

// EncodeToken encodes the 3-tuple (identifier, signedAtMs, maxAge) as
// :erlang.term_to_binary({identifier, signed_at_ms, max_age}) would.
func EncodeToken(identifier string, signedAtMs, maxAge uint64) []byte {
	buf := make([]byte, 0, 32+len(identifier))
	buf = append(buf, tagVersion)
	buf = append(buf, tagSmallTuple, 3)
	buf = appendBinary(buf, identifier)
	buf = appendInteger(buf, signedAtMs)
	buf = appendInteger(buf, maxAge)
	return buf
}

func appendBinary(buf []byte, s string) []byte {
	buf = append(buf, tagBinary)
	n := uint32(len(s))
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, s...)
}

// appendInteger emits the narrowest applicable tag: SMALL_INTEGER_EXT for
// values <= 255, INTEGER_EXT for values that fit a signed 32-bit int, and
// SMALL_BIG_EXT (little-endian magnitude, positive sign) otherwise.
func appendInteger(buf []byte, value uint64) []byte {
	switch {
	case value <= 255:
		return append(buf, tagSmallInt, byte(value))
	case value <= math.MaxInt32:
		v := int32(value)
		return append(buf, tagInt32, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		mag := littleEndianTrimmed(value)
		buf = append(buf, tagSmallBigInt, byte(len(mag)), 0)
		return append(buf, mag...)
	}
}

func littleEndianTrimmed(value uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(value >> (8 * uint(i)))
	}
	end := 8
	for end > 1 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
