package protocol

// Packet ids per phase. S2C are clientbound, C2S serverbound.
const (
	// Handshaking
	C2SHandshake PacketID = 0x00

	// Status
	C2SStatusRequest  PacketID = 0x00
	C2SPingRequest    PacketID = 0x01
	S2CStatusResponse PacketID = 0x00
	S2CPongResponse   PacketID = 0x01

	// Login
	C2SLoginStart         PacketID = 0x00
	C2SEncryptionResponse PacketID = 0x01
	S2CLoginDisconnect    PacketID = 0x00
	S2CLoginSuccess       PacketID = 0x02
	S2CSetCompression     PacketID = 0x03

	// Play
	C2SChatMessage   PacketID = 0x03
	C2SKeepAlive     PacketID = 0x10
	S2CChatBroadcast PacketID = 0x0E
	S2CDisconnect    PacketID = 0x19
	S2CKeepAlive     PacketID = 0x1F
)

// String length limits, in characters.
const (
	MaxServerAddressLen = 255
	MaxUsernameLen      = 16
	MaxChatLen          = 256
	MaxJSONLen          = 32767
	MaxChatJSONLen      = 262144
)

// Chat positions carried by ChatBroadcast.
const (
	ChatPositionChat   byte = 0
	ChatPositionSystem byte = 1
)

// Handshake is the first packet of every connection. It selects the next phase.
type Handshake struct {
	ProtocolVersion int
	ServerAddress   string
	ServerPort      uint16
	NextState       int
}

func (*Handshake) ID() PacketID { return C2SHandshake }
func (*Handshake) Phase() Phase { return PhaseHandshaking }

func (p *Handshake) Encode(buf *Buffer) error {
	if err := buf.WriteVarInt(int64(p.ProtocolVersion)); err != nil {
		return err
	}
	if err := buf.WriteString(p.ServerAddress); err != nil {
		return err
	}
	buf.WriteUint16(p.ServerPort)
	return buf.WriteVarInt(int64(p.NextState))
}

func (p *Handshake) Decode(buf *Buffer) error {
	version, err := buf.ReadVarInt()
	if err != nil {
		return err
	}
	addr, err := buf.ReadString(MaxServerAddressLen)
	if err != nil {
		return err
	}
	port, err := buf.ReadUint16()
	if err != nil {
		return err
	}
	next, err := buf.ReadVarInt()
	if err != nil {
		return err
	}
	p.ProtocolVersion = int(version)
	p.ServerAddress = addr
	p.ServerPort = port
	p.NextState = int(next)
	return nil
}
