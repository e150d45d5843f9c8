package protocol

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the largest frame body accepted by default. It is
// the largest value a 3-byte VarInt can hold.
const DefaultMaxFrameSize = 2097151

// Frame is one length-prefixed unit of wire data.
type Frame struct {
	// Length is the declared body length: the packet id plus the payload.
	Length  int
	ID      PacketID
	Payload []byte
}

// FrameReader is the source ReadFrame consumes. *bufio.Reader satisfies it.
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// ReadFrameLength reads the VarInt length prefix one byte at a time.
func ReadFrameLength(r io.ByteReader) (int, error) {
	length, err := ReadVarInt(r)
	if err != nil {
		return 0, err
	}
	return int(length), nil
}

// ReadFrameBody reads exactly length bytes of frame body and splits off the
// packet id.
func ReadFrameBody(r io.Reader, length, maxSize int) (Frame, error) {
	body, err := ReadBody(r, length, maxSize)
	if err != nil {
		return Frame{}, err
	}
	return ParseFrame(body)
}

// ReadBody reads exactly length raw body bytes without interpreting them.
func ReadBody(r io.Reader, length, maxSize int) ([]byte, error) {
	if length <= 0 {
		return nil, ErrEmptyFrame
	}
	if maxSize > 0 && length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame body (%d bytes): %w", length, err)
	}
	return body, nil
}

// ParseFrame splits a frame body into packet id and payload.
func ParseFrame(body []byte) (Frame, error) {
	id, n, err := DecodeVarInt(body)
	if errors.Is(err, ErrUnexpectedEndOfStream) {
		// The body was read in full, so a short id is malformed, not a close.
		return Frame{}, fmt.Errorf("failed to read packet id: %w", ErrMalformedVarInt)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("failed to read packet id: %w", err)
	}
	return Frame{
		Length:  len(body),
		ID:      PacketID(id),
		Payload: body[n:],
	}, nil
}

// ReadFrame reads one complete frame from r.
//
// io.EOF is returned when the stream ends cleanly before a frame starts; a
// stream that ends inside a frame yields an error matching io.ErrUnexpectedEOF.
func ReadFrame(r FrameReader, maxSize int) (Frame, error) {
	length, err := ReadFrameLength(r)
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, fmt.Errorf("failed to read frame length: %w", err)
	}
	return ReadFrameBody(r, length, maxSize)
}

// AppendFrame appends a frame holding id and payload to dst.
func AppendFrame(dst []byte, id PacketID, payload []byte) ([]byte, error) {
	idLen := VarIntSize(int64(id))
	if idLen == 0 {
		return dst, fmt.Errorf("%w: packet id %d", ErrEncoding, id)
	}
	out, err := AppendVarInt(dst, int64(idLen+len(payload)))
	if err != nil {
		return dst, err
	}
	out, _ = AppendVarInt(out, int64(id))
	return append(out, payload...), nil
}

// AppendLengthPrefixed appends body preceded by its VarInt length.
func AppendLengthPrefixed(dst, body []byte) ([]byte, error) {
	out, err := AppendVarInt(dst, int64(len(body)))
	if err != nil {
		return dst, err
	}
	return append(out, body...), nil
}

// EncodeBody encodes p as a frame body: VarInt id followed by the payload.
func EncodeBody(p Packet) ([]byte, error) {
	payload, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	body, err := AppendVarInt(make([]byte, 0, MaxVarIntLen+len(payload)), int64(p.ID()))
	if err != nil {
		return nil, fmt.Errorf("%w: packet id %d", ErrEncoding, p.ID())
	}
	return append(body, payload...), nil
}

// EncodeFrame encodes p and wraps it in a frame.
func EncodeFrame(p Packet) ([]byte, error) {
	payload, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	return AppendFrame(nil, p.ID(), payload)
}

// WriteFrame encodes p and writes the whole frame with a single Write call.
func WriteFrame(w io.Writer, p Packet) error {
	data, err := EncodeFrame(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}
