// Package events defines the event types emitted by the blockgate server and
// the bus that carries them to the journal, telemetry and metrics consumers.
package events

import (
	"time"

	"github.com/blockgate-project/blockgate/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Connection lifecycle
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"
	EventPhaseChanged     EventType = "phase_changed"

	// Protocol
	EventStatusQuery   EventType = "status_query"
	EventPlayerLogin   EventType = "player_login"
	EventLoginRejected EventType = "login_rejected"
	EventUnknownPacket EventType = "unknown_packet"
	EventChat          EventType = "chat"
	EventKick          EventType = "kick"

	// System
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// ConnectionEvents lists the events that describe one connection's life,
// in the order they can occur.
var ConnectionEvents = []EventType{
	EventConnectionOpened,
	EventPhaseChanged,
	EventPlayerLogin,
	EventLoginRejected,
	EventConnectionClosed,
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload describes a connection being opened or closed.
type ConnectionPayload struct {
	ConnID     string         `json:"conn_id"`
	RemoteAddr string         `json:"remote_addr"`
	Username   string         `json:"username,omitempty"`
	Phase      protocol.Phase `json:"phase"`
	OpenedAt   time.Time      `json:"opened_at"`
	Duration   time.Duration  `json:"duration_ns,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// PhaseChangePayload is emitted on every phase transition.
type PhaseChangePayload struct {
	ConnID string         `json:"conn_id"`
	From   protocol.Phase `json:"from"`
	To     protocol.Phase `json:"to"`
}

// StatusQueryPayload is emitted when a client reads the server list entry.
type StatusQueryPayload struct {
	ConnID          string `json:"conn_id"`
	RemoteAddr      string `json:"remote_addr"`
	ProtocolVersion int    `json:"protocol_version"`
	Online          int    `json:"online"`
}

// LoginPayload is emitted when a connection reaches Play.
type LoginPayload struct {
	ConnID          string `json:"conn_id"`
	Username        string `json:"username"`
	UUID            string `json:"uuid"`
	ProtocolVersion int    `json:"protocol_version"`
}

// LoginRejectedPayload is emitted when a login is refused with a disconnect.
type LoginRejectedPayload struct {
	ConnID   string `json:"conn_id"`
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason"`
}

// UnknownPacketPayload reports a frame that had no registry entry.
type UnknownPacketPayload struct {
	ConnID   string            `json:"conn_id"`
	Phase    protocol.Phase    `json:"phase"`
	PacketID protocol.PacketID `json:"packet_id"`
	Length   int               `json:"length"`
	Count    int               `json:"count"`
}

// ChatPayload is emitted for every chat line relayed to players.
type ChatPayload struct {
	ConnID     string `json:"conn_id,omitempty"`
	Username   string `json:"username"`
	Message    string `json:"message"`
	Recipients int    `json:"recipients"`
}

// KickPayload is emitted when an operator disconnects a player.
type KickPayload struct {
	ConnID   string `json:"conn_id"`
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason"`
	By       string `json:"by"`
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
