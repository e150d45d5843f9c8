package protocol

import (
	"bytes"
	"encoding/json"
)

// StatusRequest asks for the server list entry. It has no fields.
type StatusRequest struct{}

func (*StatusRequest) ID() PacketID         { return C2SStatusRequest }
func (*StatusRequest) Phase() Phase         { return PhaseStatus }
func (*StatusRequest) Encode(*Buffer) error { return nil }
func (*StatusRequest) Decode(*Buffer) error { return nil }

// PingRequest carries an opaque payload the server echoes back.
type PingRequest struct {
	Payload int64
}

func (*PingRequest) ID() PacketID { return C2SPingRequest }
func (*PingRequest) Phase() Phase { return PhaseStatus }

func (p *PingRequest) Encode(buf *Buffer) error {
	buf.WriteInt64(p.Payload)
	return nil
}

func (p *PingRequest) Decode(buf *Buffer) (err error) {
	p.Payload, err = buf.ReadInt64()
	return err
}

// StatusResponse returns the server list entry as JSON.
type StatusResponse struct {
	JSON string
}

func (*StatusResponse) ID() PacketID { return S2CStatusResponse }
func (*StatusResponse) Phase() Phase { return PhaseStatus }

func (p *StatusResponse) Encode(buf *Buffer) error {
	return buf.WriteString(p.JSON)
}

func (p *StatusResponse) Decode(buf *Buffer) (err error) {
	p.JSON, err = buf.ReadString(MaxJSONLen)
	return err
}

// PongResponse echoes a PingRequest payload.
type PongResponse struct {
	Payload int64
}

func (*PongResponse) ID() PacketID { return S2CPongResponse }
func (*PongResponse) Phase() Phase { return PhaseStatus }

func (p *PongResponse) Encode(buf *Buffer) error {
	buf.WriteInt64(p.Payload)
	return nil
}

func (p *PongResponse) Decode(buf *Buffer) (err error) {
	p.Payload, err = buf.ReadInt64()
	return err
}

// ServerStatus is the document carried by StatusResponse.
type ServerStatus struct {
	Version     StatusVersion `json:"version"`
	Players     StatusPlayers `json:"players"`
	Description ChatText      `json:"description"`
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type StatusPlayers struct {
	Max    int `json:"max"`
	Online int `json:"online"`
}

// ChatText is the minimal chat component used for descriptions and
// disconnect reasons.
type ChatText struct {
	Text string `json:"text"`
}

// NewStatusResponse marshals status into a StatusResponse packet.
func NewStatusResponse(status ServerStatus) (*StatusResponse, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	return &StatusResponse{JSON: string(data)}, nil
}

// ChatJSON renders text as a chat component. Angle brackets are kept
// literal so "<name> message" lines stay readable on the wire.
func ChatJSON(text string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(ChatText{Text: text})
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
