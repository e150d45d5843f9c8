// Package protocol implements the wire layer of the blockgate game protocol:
// the VarInt codec, the packet buffer, packet framing, the packet model and
// the (phase, id) registry. Frames are length-prefixed with a VarInt and
// carry a VarInt packet id followed by the payload.
package protocol

import "fmt"

// PacketID identifies a packet within one phase.
type PacketID int32

func (id PacketID) String() string {
	return fmt.Sprintf("0x%02X", int32(id))
}

// Packet is implemented by every concrete packet type. Encode and Decode must
// be symmetric: Decode consumes exactly the bytes Encode wrote, in the same
// field order.
type Packet interface {
	ID() PacketID
	Phase() Phase
	Encode(buf *Buffer) error
	Decode(buf *Buffer) error
}

// Marshal encodes the payload of p (without id or length).
func Marshal(p Packet) ([]byte, error) {
	buf := NewBuffer(nil)
	if err := p.Encode(buf); err != nil {
		return nil, fmt.Errorf("encode packet %s in phase %s: %w", p.ID(), p.Phase(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes payload into p and requires the payload to be fully
// consumed.
func Unmarshal(payload []byte, p Packet) error {
	buf := NewBuffer(payload)
	if err := p.Decode(buf); err != nil {
		return err
	}
	if buf.Remaining() != 0 {
		return fmt.Errorf("%w: %d bytes left", ErrTrailingBytes, buf.Remaining())
	}
	return nil
}
