package protocol

import "github.com/google/uuid"

// LoginStart opens the login sequence with the player's name.
type LoginStart struct {
	Name string
}

func (*LoginStart) ID() PacketID { return C2SLoginStart }
func (*LoginStart) Phase() Phase { return PhaseLogin }

func (p *LoginStart) Encode(buf *Buffer) error {
	return buf.WriteString(p.Name)
}

func (p *LoginStart) Decode(buf *Buffer) (err error) {
	p.Name, err = buf.ReadString(MaxUsernameLen)
	return err
}

// EncryptionResponse answers an encryption request. The server never sends
// one, so receiving it is a protocol violation, but it still has to decode
// so the violation is reported against the right packet.
type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
}

func (*EncryptionResponse) ID() PacketID { return C2SEncryptionResponse }
func (*EncryptionResponse) Phase() Phase { return PhaseLogin }

func (p *EncryptionResponse) Encode(buf *Buffer) error {
	if err := buf.WriteByteArray(p.SharedSecret); err != nil {
		return err
	}
	return buf.WriteByteArray(p.VerifyToken)
}

func (p *EncryptionResponse) Decode(buf *Buffer) (err error) {
	if p.SharedSecret, err = buf.ReadByteArray(); err != nil {
		return err
	}
	p.VerifyToken, err = buf.ReadByteArray()
	return err
}

// LoginDisconnect rejects a login. Reason is a JSON chat component.
type LoginDisconnect struct {
	Reason string
}

func (*LoginDisconnect) ID() PacketID { return S2CLoginDisconnect }
func (*LoginDisconnect) Phase() Phase { return PhaseLogin }

func (p *LoginDisconnect) Encode(buf *Buffer) error {
	return buf.WriteString(p.Reason)
}

func (p *LoginDisconnect) Decode(buf *Buffer) (err error) {
	p.Reason, err = buf.ReadString(MaxChatJSONLen)
	return err
}

// LoginSuccess completes the login sequence.
type LoginSuccess struct {
	UUID     uuid.UUID
	Username string
}

func (*LoginSuccess) ID() PacketID { return S2CLoginSuccess }
func (*LoginSuccess) Phase() Phase { return PhaseLogin }

func (p *LoginSuccess) Encode(buf *Buffer) error {
	buf.WriteUUID(p.UUID)
	return buf.WriteString(p.Username)
}

func (p *LoginSuccess) Decode(buf *Buffer) (err error) {
	if p.UUID, err = buf.ReadUUID(); err != nil {
		return err
	}
	p.Username, err = buf.ReadString(MaxUsernameLen)
	return err
}

// SetCompression announces the compression threshold for all later frames.
type SetCompression struct {
	Threshold int
}

func (*SetCompression) ID() PacketID { return S2CSetCompression }
func (*SetCompression) Phase() Phase { return PhaseLogin }

func (p *SetCompression) Encode(buf *Buffer) error {
	return buf.WriteVarInt(int64(p.Threshold))
}

func (p *SetCompression) Decode(buf *Buffer) error {
	v, err := buf.ReadVarInt()
	if err != nil {
		return err
	}
	p.Threshold = int(v)
	return nil
}
