package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	data, err := EncodeFrame(&PingRequest{Payload: 42})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09, 0x01, 0, 0, 0, 0, 0, 0, 0, 0x2a}, data)

	frame, err := ReadFrame(bytes.NewReader(data), DefaultMaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, 9, frame.Length)
	assert.Equal(t, C2SPingRequest, frame.ID)
	assert.Len(t, frame.Payload, 8)
}

func TestReadFrameSequence(t *testing.T) {
	var stream bytes.Buffer
	require.NoError(t, WriteFrame(&stream, &StatusRequest{}))
	require.NoError(t, WriteFrame(&stream, &PingRequest{Payload: 7}))

	r := bufio.NewReader(&stream)
	first, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, C2SStatusRequest, first.ID)
	assert.Empty(t, first.Payload)

	second, err := ReadFrame(r, 0)
	require.NoError(t, err)
	assert.Equal(t, C2SPingRequest, second.ID)

	_, err = ReadFrame(r, 0)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		max     int
		want    error
		closing bool
	}{
		{"zero_length", []byte{0x00}, 0, ErrEmptyFrame, false},
		{"too_large", []byte{0x10, 0x00}, 8, ErrFrameTooLarge, false},
		{"truncated_body", []byte{0x05, 0x00, 0x01}, 0, io.ErrUnexpectedEOF, true},
		{"truncated_length", []byte{0x80}, 0, io.ErrUnexpectedEOF, true},
		{"malformed_length", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, 0, ErrMalformedVarInt, false},
		{"malformed_id", []byte{0x01, 0x80}, 0, ErrMalformedVarInt, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tc.data), tc.max)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.closing, IsClosed(err))
		})
	}
}

func TestAppendFrameRejectsBadID(t *testing.T) {
	_, err := AppendFrame(nil, PacketID(-1), nil)
	assert.ErrorIs(t, err, ErrEncoding)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

type countingWriter struct {
	calls int
	bytes.Buffer
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.calls++
	return w.Buffer.Write(p)
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &countingWriter{}
	require.NoError(t, WriteFrame(w, &LoginStart{Name: "Steve"}))
	assert.Equal(t, 1, w.calls)
	assert.Equal(t, []byte{0x07, 0x00, 0x05, 'S', 't', 'e', 'v', 'e'}, w.Bytes())
}

func TestWriteFrameTransportError(t *testing.T) {
	err := WriteFrame(failingWriter{}, &StatusRequest{})
	assert.ErrorIs(t, err, ErrTransport)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "write", te.Op)
}

func FuzzReadFrame(f *testing.F) {
	f.Add([]byte{0x01, 0x00})
	f.Add([]byte{0x09, 0x01, 0, 0, 0, 0, 0, 0, 0, 0x2a})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0x0f})
	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := ReadFrame(bytes.NewReader(data), 1024)
		if err != nil {
			return
		}
		if frame.Length <= 0 || frame.Length > 1024 || len(frame.Payload) >= frame.Length {
			t.Fatalf("inconsistent frame %+v from %x", frame, data)
		}
	})
}

func TestEncodeBodyAndLengthPrefix(t *testing.T) {
	body, err := EncodeBody(&PongResponse{Payload: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0x01}, body)

	framed, err := AppendLengthPrefixed(nil, body)
	require.NoError(t, err)
	direct, err := EncodeFrame(&PongResponse{Payload: 1})
	require.NoError(t, err)
	assert.Equal(t, direct, framed)

	raw, err := ReadBody(bytes.NewReader(body), len(body), 0)
	require.NoError(t, err)
	frame, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, S2CPongResponse, frame.ID)
}
