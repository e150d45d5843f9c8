package protocol

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		want  []byte
	}{
		{"zero", 0, []byte{0x00}},
		{"one", 1, []byte{0x01}},
		{"max_1byte", 127, []byte{0x7f}},
		{"min_2byte", 128, []byte{0x80, 0x01}},
		{"255", 255, []byte{0xff, 0x01}},
		{"default_port", 25565, []byte{0xdd, 0xc7, 0x01}},
		{"max_3byte", 2097151, []byte{0xff, 0xff, 0x7f}},
		{"max_int32", math.MaxInt32, []byte{0xff, 0xff, 0xff, 0xff, 0x07}},
		{"max_uint32", math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AppendVarInt(nil, tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, len(tc.want), VarIntSize(tc.value))

			decoded, n, err := DecodeVarInt(got)
			require.NoError(t, err)
			assert.Equal(t, tc.value, decoded)
			assert.Equal(t, len(tc.want), n)

			streamed, err := ReadVarInt(bytes.NewReader(got))
			require.NoError(t, err)
			assert.Equal(t, tc.value, streamed)
		})
	}
}

func TestVarIntRejectsOutOfRange(t *testing.T) {
	for _, v := range []int64{-1, math.MinInt32, math.MaxUint32 + 1} {
		_, err := AppendVarInt(nil, v)
		assert.ErrorIs(t, err, ErrEncoding, "value %d", v)
		assert.Zero(t, VarIntSize(v))
	}
}

func TestAppendVarIntKeepsPrefix(t *testing.T) {
	out, err := AppendVarInt([]byte{0xaa}, 300)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xac, 0x02}, out)
}

func TestReadVarIntErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, io.EOF},
		{"truncated", []byte{0x80}, ErrUnexpectedEndOfStream},
		{"truncated_long", []byte{0xff, 0xff, 0xff}, ErrUnexpectedEndOfStream},
		{"too_many_bytes", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ErrMalformedVarInt},
		{"exceeds_32_bits", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}, ErrMalformedVarInt},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadVarInt(bytes.NewReader(tc.data))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestReadVarIntTruncatedIsUnexpectedEOF(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0x80}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.True(t, IsClosed(err))
}

func TestReadVarIntStopsAtTerminator(t *testing.T) {
	r := bytes.NewReader([]byte{0xac, 0x02, 0x05})
	v, err := ReadVarInt(r)
	require.NoError(t, err)
	assert.Equal(t, int64(300), v)
	assert.Equal(t, 1, r.Len())
}

func TestDecodeVarIntErrors(t *testing.T) {
	_, _, err := DecodeVarInt(nil)
	assert.ErrorIs(t, err, ErrUnexpectedEndOfStream)

	_, _, err = DecodeVarInt([]byte{0xff, 0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, ErrMalformedVarInt)
}

func FuzzVarIntRoundTrip(f *testing.F) {
	for _, seed := range []uint32{0, 1, 127, 128, 25565, math.MaxInt32, math.MaxUint32} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, v uint32) {
		enc, err := AppendVarInt(nil, int64(v))
		if err != nil {
			t.Fatalf("AppendVarInt(%d): %v", v, err)
		}
		if len(enc) > MaxVarIntLen {
			t.Fatalf("encoded %d into %d bytes", v, len(enc))
		}
		got, n, err := DecodeVarInt(enc)
		if err != nil || n != len(enc) || got != int64(v) {
			t.Fatalf("DecodeVarInt(%x) = %d, %d, %v", enc, got, n, err)
		}
	})
}

func FuzzDecodeVarInt(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0xff, 0xff, 0xff, 0xff, 0x0f})
	f.Add([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80})
	f.Fuzz(func(t *testing.T, data []byte) {
		v, n, err := DecodeVarInt(data)
		if err != nil {
			return
		}
		if n < 1 || n > MaxVarIntLen || v < 0 || v > math.MaxUint32 {
			t.Fatalf("DecodeVarInt(%x) = %d, %d", data, v, n)
		}
	})
}
