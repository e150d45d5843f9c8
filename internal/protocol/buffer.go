package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Buffer is a byte cursor used by packet encode and decode routines.
//
// Reads advance an independent read position and never return partial
// data. Writes only ever append. A buffer built with NewBuffer over a frame
// payload cannot be read past the end of that payload.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns a buffer positioned at the start of data.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len returns the total number of bytes held by the buffer.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.pos
}

// Bytes returns the full contents of the buffer, including bytes already read.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Read returns the next n bytes and advances past them. If fewer than n
// bytes remain it returns ErrBufferUnderrun and the position is unchanged.
func (b *Buffer) Read(n int) ([]byte, error) {
	if n < 0 || n > b.Remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferUnderrun, n, b.Remaining())
	}
	out := b.data[b.pos : b.pos+n : b.pos+n]
	b.pos += n
	return out, nil
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Remaining() < 1 {
		return 0, fmt.Errorf("%w: need 1 byte, have 0", ErrBufferUnderrun)
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

// ReadRemaining consumes and returns every unread byte.
func (b *Buffer) ReadRemaining() []byte {
	out, _ := b.Read(b.Remaining())
	return out
}

// ReadVarInt reads a VarInt. A truncated value reports ErrBufferUnderrun
// and leaves the position unchanged.
func (b *Buffer) ReadVarInt() (int64, error) {
	v, n, err := DecodeVarInt(b.data[b.pos:])
	if errors.Is(err, ErrUnexpectedEndOfStream) {
		return 0, fmt.Errorf("%w: truncated varint", ErrBufferUnderrun)
	}
	if err != nil {
		return 0, err
	}
	b.pos += n
	return v, nil
}

// ReadUint16 reads a big-endian unsigned short.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// ReadInt64 reads a big-endian signed long.
func (b *Buffer) ReadInt64() (int64, error) {
	p, err := b.Read(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

// ReadBool reads a single byte boolean. Any value other than 0 or 1 is an error.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		b.pos--
		return false, fmt.Errorf("%w: 0x%02X", ErrInvalidBool, v)
	}
}

// ReadString reads a VarInt length-prefixed UTF-8 string of at most maxRunes
// characters.
func (b *Buffer) ReadString(maxRunes int) (string, error) {
	start := b.pos
	n, err := b.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n > int64(maxRunes)*utf8.UTFMax {
		b.pos = start
		return "", fmt.Errorf("%w: byte length %d exceeds limit for %d characters", ErrInvalidString, n, maxRunes)
	}
	p, err := b.Read(int(n))
	if err != nil {
		b.pos = start
		return "", err
	}
	if !utf8.Valid(p) {
		b.pos = start
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidString)
	}
	if utf8.RuneCount(p) > maxRunes {
		b.pos = start
		return "", fmt.Errorf("%w: %d characters exceeds limit %d", ErrInvalidString, utf8.RuneCount(p), maxRunes)
	}
	return string(p), nil
}

// ReadByteArray reads a VarInt length-prefixed byte array. The returned
// slice is a copy.
func (b *Buffer) ReadByteArray() ([]byte, error) {
	start := b.pos
	n, err := b.ReadVarInt()
	if err != nil {
		return nil, err
	}
	if n > int64(b.Remaining()) {
		b.pos = start
		return nil, fmt.Errorf("%w: byte array of %d bytes, have %d", ErrBufferUnderrun, n, b.Remaining())
	}
	p, _ := b.Read(int(n))
	return append([]byte(nil), p...), nil
}

// ReadUUID reads a 128-bit UUID as two big-endian longs.
func (b *Buffer) ReadUUID() (uuid.UUID, error) {
	p, err := b.Read(16)
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], p)
	return id, nil
}

// Write appends p to the buffer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) error {
	b.data = append(b.data, v)
	return nil
}

// WriteVarInt appends the VarInt encoding of v.
func (b *Buffer) WriteVarInt(v int64) error {
	out, err := AppendVarInt(b.data, v)
	if err != nil {
		return err
	}
	b.data = out
	return nil
}

// WriteUint16 appends a big-endian unsigned short.
func (b *Buffer) WriteUint16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

// WriteInt64 appends a big-endian signed long.
func (b *Buffer) WriteInt64(v int64) {
	b.data = binary.BigEndian.AppendUint64(b.data, uint64(v))
}

// WriteBool appends a single byte boolean.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.data = append(b.data, 1)
		return
	}
	b.data = append(b.data, 0)
}

// WriteString appends a VarInt length-prefixed UTF-8 string.
func (b *Buffer) WriteString(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %w", ErrEncoding, ErrInvalidString)
	}
	if err := b.WriteVarInt(int64(len(s))); err != nil {
		return err
	}
	b.data = append(b.data, s...)
	return nil
}

// WriteByteArray appends a VarInt length-prefixed byte array.
func (b *Buffer) WriteByteArray(p []byte) error {
	if err := b.WriteVarInt(int64(len(p))); err != nil {
		return err
	}
	b.data = append(b.data, p...)
	return nil
}

// WriteUUID appends a 128-bit UUID.
func (b *Buffer) WriteUUID(id uuid.UUID) {
	b.data = append(b.data, id[:]...)
}

// String returns a hex dump of the buffer for debugging.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer[%d bytes, pos %d]: %x", len(b.data), b.pos, b.data)
}
