package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Codec and buffer errors. These are returned to the framing/decode caller
// and never swallowed below the connection layer.
var (
	ErrBufferUnderrun  = errors.New("buffer underrun")
	ErrMalformedVarInt = errors.New("malformed varint: value exceeds 32 bits")
	ErrEncoding        = errors.New("value out of encodable range")
	ErrInvalidString   = errors.New("invalid string")
	ErrInvalidBool     = errors.New("invalid boolean")

	// ErrUnexpectedEndOfStream is returned when a source runs dry in the
	// middle of a value. It matches io.ErrUnexpectedEOF as well.
	ErrUnexpectedEndOfStream = fmt.Errorf("unexpected end of stream: %w", io.ErrUnexpectedEOF)
)

// Framing and registry errors.
var (
	ErrEmptyFrame      = errors.New("frame length must be positive")
	ErrFrameTooLarge   = errors.New("frame exceeds maximum size")
	ErrTrailingBytes   = errors.New("packet did not consume its whole payload")
	ErrDuplicatePacket = errors.New("packet already registered for phase")
	ErrRegistryFrozen  = errors.New("registry is frozen")
)

// Connection-level categories, matched with errors.Is.
var (
	ErrUnknownPacket = errors.New("unknown packet")
	ErrDecode        = errors.New("packet decode failed")
	ErrTransport     = errors.New("transport failure")
)

// UnknownPacketError reports a frame whose id has no registry entry in the
// connection's current phase. The frame has already been consumed, so the
// stream remains in sync.
type UnknownPacketError struct {
	Phase  Phase
	ID     PacketID
	Length int
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet 0x%02X in phase %s (%d bytes)", int32(e.ID), e.Phase, e.Length)
}

// Is makes errors.Is(err, ErrUnknownPacket) hold.
func (e *UnknownPacketError) Is(target error) bool {
	return target == ErrUnknownPacket
}

// DecodeError reports a registered packet whose payload did not match its
// structure.
type DecodeError struct {
	Phase Phase
	ID    PacketID
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode packet 0x%02X in phase %s: %v", int32(e.ID), e.Phase, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) hold.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// TransportError wraps an I/O failure on the underlying stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) hold.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// IsClosed reports whether err represents an orderly end of stream rather
// than a failure.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
