package protocol

import "github.com/google/uuid"

// ChatMessage is a chat line typed by a player.
type ChatMessage struct {
	Message string
}

func (*ChatMessage) ID() PacketID { return C2SChatMessage }
func (*ChatMessage) Phase() Phase { return PhasePlay }

func (p *ChatMessage) Encode(buf *Buffer) error {
	return buf.WriteString(p.Message)
}

func (p *ChatMessage) Decode(buf *Buffer) (err error) {
	p.Message, err = buf.ReadString(MaxChatLen)
	return err
}

// KeepAliveServerbound answers a KeepAliveClientbound with the same id.
type KeepAliveServerbound struct {
	KeepAliveID int64
}

func (*KeepAliveServerbound) ID() PacketID { return C2SKeepAlive }
func (*KeepAliveServerbound) Phase() Phase { return PhasePlay }

func (p *KeepAliveServerbound) Encode(buf *Buffer) error {
	buf.WriteInt64(p.KeepAliveID)
	return nil
}

func (p *KeepAliveServerbound) Decode(buf *Buffer) (err error) {
	p.KeepAliveID, err = buf.ReadInt64()
	return err
}

// ChatBroadcast delivers a chat component to a player.
type ChatBroadcast struct {
	JSON     string
	Position byte
	Sender   uuid.UUID
}

func (*ChatBroadcast) ID() PacketID { return S2CChatBroadcast }
func (*ChatBroadcast) Phase() Phase { return PhasePlay }

func (p *ChatBroadcast) Encode(buf *Buffer) error {
	if err := buf.WriteString(p.JSON); err != nil {
		return err
	}
	_ = buf.WriteByte(p.Position)
	buf.WriteUUID(p.Sender)
	return nil
}

func (p *ChatBroadcast) Decode(buf *Buffer) (err error) {
	if p.JSON, err = buf.ReadString(MaxChatJSONLen); err != nil {
		return err
	}
	if p.Position, err = buf.ReadByte(); err != nil {
		return err
	}
	p.Sender, err = buf.ReadUUID()
	return err
}

// PlayDisconnect closes a Play connection with a reason.
type PlayDisconnect struct {
	Reason string
}

func (*PlayDisconnect) ID() PacketID { return S2CDisconnect }
func (*PlayDisconnect) Phase() Phase { return PhasePlay }

func (p *PlayDisconnect) Encode(buf *Buffer) error {
	return buf.WriteString(p.Reason)
}

func (p *PlayDisconnect) Decode(buf *Buffer) (err error) {
	p.Reason, err = buf.ReadString(MaxChatJSONLen)
	return err
}

// KeepAliveClientbound probes a Play connection.
type KeepAliveClientbound struct {
	KeepAliveID int64
}

func (*KeepAliveClientbound) ID() PacketID { return S2CKeepAlive }
func (*KeepAliveClientbound) Phase() Phase { return PhasePlay }

func (p *KeepAliveClientbound) Encode(buf *Buffer) error {
	buf.WriteInt64(p.KeepAliveID)
	return nil
}

func (p *KeepAliveClientbound) Decode(buf *Buffer) (err error) {
	p.KeepAliveID, err = buf.ReadInt64()
	return err
}
