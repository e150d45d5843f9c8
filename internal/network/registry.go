package network

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/protocol"
)

var (
	ErrServerFull    = errors.New("server is full")
	ErrDuplicateName = errors.New("a player with that name is already connected")
)

// ConnectionInfo is a snapshot of one connection.
type ConnectionInfo struct {
	ID                   string         `json:"id"`
	RemoteAddr           string         `json:"remote_addr"`
	Phase                protocol.Phase `json:"phase"`
	Username             string         `json:"username,omitempty"`
	UUID                 string         `json:"uuid,omitempty"`
	ProtocolVersion      int            `json:"protocol_version,omitempty"`
	ConnectedAt          time.Time      `json:"connected_at"`
	LastActivity         time.Time      `json:"last_activity"`
	UnknownPackets       int            `json:"unknown_packets"`
	LatencyMS            int64          `json:"latency_ms"`
	CompressionThreshold int            `json:"compression_threshold"`
	Encrypted            bool           `json:"encrypted"`
}

// ConnectionRegistry tracks live client connections by connection id.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[string]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID()] = conn
	log.Debug().Str("conn_id", conn.ID()).Msg("connection registered")
}

// Unregister removes a connection from the registry and closes it.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()

	if ok {
		conn.Close()
		log.Debug().Str("conn_id", id).Msg("connection unregistered")
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// GetAll returns all live connections.
func (r *ConnectionRegistry) GetAll() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		result = append(result, c)
	}
	return result
}

// InPhase returns the live connections currently in phase.
func (r *ConnectionRegistry) InPhase(phase protocol.Phase) []*Connection {
	var result []*Connection
	for _, c := range r.GetAll() {
		if c.Phase() == phase {
			result = append(result, c)
		}
	}
	return result
}

// Snapshot returns info for every connection, oldest first.
func (r *ConnectionRegistry) Snapshot() []ConnectionInfo {
	conns := r.GetAll()
	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountInPhase returns the number of live connections in phase.
func (r *ConnectionRegistry) CountInPhase(phase protocol.Phase) int {
	return len(r.InPhase(phase))
}

// CountByPhase returns live connection counts keyed by phase name.
func (r *ConnectionRegistry) CountByPhase() map[string]int {
	counts := make(map[string]int, len(protocol.Phases))
	for _, p := range protocol.Phases {
		counts[p.String()] = 0
	}
	for _, c := range r.GetAll() {
		counts[c.Phase().String()]++
	}
	return counts
}

// FindByUsername returns the logged-in connection for name, ignoring case.
func (r *ConnectionRegistry) FindByUsername(name string) (*Connection, bool) {
	for _, c := range r.GetAll() {
		if strings.EqualFold(c.Username(), name) {
			return c, true
		}
	}
	return nil, false
}

// ClaimPlayer atomically binds name and id to conn, failing when maxPlayers
// connections already hold a name or when name is taken.
func (r *ConnectionRegistry) ClaimPlayer(conn *Connection, name string, id uuid.UUID, maxPlayers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	players := 0
	for _, c := range r.conns {
		existing := c.Username()
		if existing == "" || c == conn {
			continue
		}
		if strings.EqualFold(existing, name) {
			return ErrDuplicateName
		}
		players++
	}
	if maxPlayers > 0 && players >= maxPlayers {
		return ErrServerFull
	}

	conn.mu.Lock()
	conn.setPlayer(name, id)
	conn.mu.Unlock()
	return nil
}

// CloseAll closes all connections in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.setCloseReason("server stopping")
		conn.Close()
	}

	log.Info().Int("count", len(conns)).Msg("all connections closed")
}

// CleanStale closes connections that have been inactive for longer than timeout.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		last := conn.LastActivity()
		if last.Before(cutoff) {
			conn.setCloseReason("stale")
			conn.Close()
			delete(r.conns, id)
			cleaned++
			log.Warn().
				Str("conn_id", id).
				Time("last_activity", last).
				Msg("cleaned stale connection")
		}
	}

	return cleaned
}

// Broadcast queues p on every connection in phase and returns how many
// accepted it. Writes happen on each connection's writer goroutine.
func (r *ConnectionRegistry) Broadcast(phase protocol.Phase, p protocol.Packet) int {
	sent := 0
	for _, conn := range r.InPhase(phase) {
		if err := conn.Send(p); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to broadcast packet")
			continue
		}
		sent++
	}
	return sent
}
