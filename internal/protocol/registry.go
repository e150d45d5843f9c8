package protocol

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor returns a fresh, zero-valued packet ready for Decode.
type Constructor func() Packet

type registryKey struct {
	phase Phase
	id    PacketID
}

// Registry maps (phase, packet id) to a packet constructor.
//
// A registry is populated at startup and then frozen. Once frozen it is
// read-only and may be shared by any number of connections without locking.
type Registry struct {
	mu      sync.Mutex
	entries map[registryKey]Constructor
	frozen  bool
}

// NewRegistry creates an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[registryKey]Constructor),
	}
}

// Register adds a constructor for (phase, id). Keys must be unique per phase.
func (r *Registry) Register(phase Phase, id PacketID, ctor Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}

	key := registryKey{phase: phase, id: id}
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicatePacket, phase, id)
	}
	r.entries[key] = ctor
	return nil
}

// RegisterPacket registers a packet using its own ID and Phase.
func (r *Registry) RegisterPacket(ctor Constructor) error {
	sample := ctor()
	return r.Register(sample.Phase(), sample.ID(), ctor)
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Lookup returns a new packet instance for (phase, id).
// Only call Lookup on a frozen registry when sharing it between goroutines.
func (r *Registry) Lookup(phase Phase, id PacketID) (Packet, bool) {
	ctor, ok := r.entries[registryKey{phase: phase, id: id}]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Len returns the number of registered packets across all phases.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// IDs returns the sorted packet ids registered for phase.
func (r *Registry) IDs(phase Phase) []PacketID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []PacketID
	for key := range r.entries {
		if key.phase == phase {
			ids = append(ids, key.id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Decode resolves frame in phase and decodes its payload.
// A registry miss returns *UnknownPacketError; a payload that does not match
// the packet's structure returns *DecodeError.
func (r *Registry) Decode(phase Phase, frame Frame) (Packet, error) {
	p, ok := r.Lookup(phase, frame.ID)
	if !ok {
		return nil, &UnknownPacketError{Phase: phase, ID: frame.ID, Length: frame.Length}
	}
	if err := Unmarshal(frame.Payload, p); err != nil {
		return nil, &DecodeError{Phase: phase, ID: frame.ID, Err: err}
	}
	return p, nil
}

// DefaultServerbound returns a frozen registry of every packet a client may
// send to the server.
func DefaultServerbound() *Registry {
	r := NewRegistry()
	for _, ctor := range []Constructor{
		func() Packet { return &Handshake{} },
		func() Packet { return &StatusRequest{} },
		func() Packet { return &PingRequest{} },
		func() Packet { return &LoginStart{} },
		func() Packet { return &EncryptionResponse{} },
		func() Packet { return &ChatMessage{} },
		func() Packet { return &KeepAliveServerbound{} },
	} {
		if err := r.RegisterPacket(ctor); err != nil {
			panic(err)
		}
	}
	r.Freeze()
	return r
}
