package protocol

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxVarIntLen is the maximum number of bytes a VarInt can occupy.
// The value domain is unsigned 32-bit, which needs at most 5 groups of 7 bits.
const MaxVarIntLen = 5

const (
	segmentBits  = 0x7F
	continueBit  = 0x80
	maxVarIntVal = math.MaxUint32
)

// AppendVarInt appends the VarInt encoding of v to dst.
// Negative values and values above 32 bits are rejected with ErrEncoding.
func AppendVarInt(dst []byte, v int64) ([]byte, error) {
	if v < 0 || v > maxVarIntVal {
		return dst, fmt.Errorf("%w: varint %d", ErrEncoding, v)
	}
	u := uint32(v)
	for u >= continueBit {
		dst = append(dst, byte(u)|continueBit)
		u >>= 7
	}
	return append(dst, byte(u)), nil
}

// VarIntSize returns the number of bytes AppendVarInt would write for v.
// Out-of-range values report 0.
func VarIntSize(v int64) int {
	if v < 0 || v > maxVarIntVal {
		return 0
	}
	n := 1
	for u := uint32(v); u >= continueBit; u >>= 7 {
		n++
	}
	return n
}

// ReadVarInt reads one VarInt from r.
//
// io.EOF is returned unchanged if r is exhausted before the first byte, so
// callers reading frame lengths can tell an orderly close from a truncated
// value, which yields ErrUnexpectedEndOfStream.
func ReadVarInt(r io.ByteReader) (int64, error) {
	var result uint64
	for i := 0; i < MaxVarIntLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if i == 0 {
					return 0, io.EOF
				}
				return 0, ErrUnexpectedEndOfStream
			}
			return 0, err
		}

		result |= uint64(b&segmentBits) << (7 * i)
		if b&continueBit == 0 {
			if result > maxVarIntVal {
				return 0, ErrMalformedVarInt
			}
			return int64(result), nil
		}
	}
	return 0, ErrMalformedVarInt
}

// DecodeVarInt decodes a VarInt from the start of b and reports how many
// bytes it used.
func DecodeVarInt(b []byte) (int64, int, error) {
	var result uint64
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrUnexpectedEndOfStream
		}
		result |= uint64(b[i]&segmentBits) << (7 * i)
		if b[i]&continueBit == 0 {
			if result > maxVarIntVal {
				return 0, 0, ErrMalformedVarInt
			}
			return int64(result), i + 1, nil
		}
	}
	return 0, 0, ErrMalformedVarInt
}
