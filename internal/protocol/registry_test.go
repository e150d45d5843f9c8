package protocol

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterPacket(func() Packet { return &PingRequest{} }))
	require.NoError(t, r.Register(PhaseLogin, 0x01, func() Packet { return &PingRequest{} }))

	p, ok := r.Lookup(PhaseStatus, C2SPingRequest)
	require.True(t, ok)
	assert.IsType(t, &PingRequest{}, p)

	_, ok = r.Lookup(PhasePlay, C2SPingRequest)
	assert.False(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterPacket(func() Packet { return &StatusRequest{} }))
	err := r.Register(PhaseStatus, C2SStatusRequest, func() Packet { return &StatusRequest{} })
	assert.ErrorIs(t, err, ErrDuplicatePacket)
}

func TestRegistryFreeze(t *testing.T) {
	r := NewRegistry()
	r.Freeze()
	assert.True(t, r.Frozen())
	err := r.RegisterPacket(func() Packet { return &StatusRequest{} })
	assert.ErrorIs(t, err, ErrRegistryFrozen)
}

func TestRegistryLookupReturnsFreshInstances(t *testing.T) {
	r := DefaultServerbound()
	a, _ := r.Lookup(PhaseStatus, C2SPingRequest)
	b, _ := r.Lookup(PhaseStatus, C2SPingRequest)
	a.(*PingRequest).Payload = 9
	assert.Zero(t, b.(*PingRequest).Payload)
}

func TestDefaultServerbound(t *testing.T) {
	r := DefaultServerbound()
	assert.True(t, r.Frozen())
	assert.Equal(t, []PacketID{C2SHandshake}, r.IDs(PhaseHandshaking))
	assert.Equal(t, []PacketID{C2SStatusRequest, C2SPingRequest}, r.IDs(PhaseStatus))
	assert.Equal(t, []PacketID{C2SLoginStart, C2SEncryptionResponse}, r.IDs(PhaseLogin))
	assert.Equal(t, []PacketID{C2SChatMessage, C2SKeepAlive}, r.IDs(PhasePlay))
}

func TestRegistryDecode(t *testing.T) {
	r := DefaultServerbound()

	payload, err := Marshal(&PingRequest{Payload: 5})
	require.NoError(t, err)

	p, err := r.Decode(PhaseStatus, Frame{Length: 9, ID: C2SPingRequest, Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.(*PingRequest).Payload)

	_, err = r.Decode(PhasePlay, Frame{Length: 9, ID: 0x7f, Payload: payload})
	assert.ErrorIs(t, err, ErrUnknownPacket)
	var unknown *UnknownPacketError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, PhasePlay, unknown.Phase)
	assert.Equal(t, PacketID(0x7f), unknown.ID)
	assert.Equal(t, 9, unknown.Length)

	_, err = r.Decode(PhaseStatus, Frame{Length: 4, ID: C2SPingRequest, Payload: payload[:3]})
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, ErrBufferUnderrun)
	assert.False(t, IsClosed(err))

	_, err = r.Decode(PhaseStatus, Frame{Length: 2, ID: C2SStatusRequest, Payload: []byte{0x00}})
	assert.ErrorIs(t, err, ErrTrailingBytes)
}

func TestRegistryConcurrentLookup(t *testing.T) {
	r := DefaultServerbound()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, ok := r.Lookup(PhaseHandshaking, C2SHandshake)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}
