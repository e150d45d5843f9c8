// Package network implements the game listener, the per-connection protocol
// state machine, the live connection registry and the LAN announcer.
package network

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/metrics"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

// Default deadlines used when ConnectionOptions leaves them zero.
const (
	DefaultReadTimeout  = 30 * time.Second
	DefaultFrameTimeout = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	// DefaultOutboxSize is how many queued packets a connection may fall
	// behind before it is dropped.
	DefaultOutboxSize = 128
)

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrOutboxFull       = errors.New("outbound queue full")
)

// FrameTransform rewrites frame bodies between the length prefix and the
// packet id, as compression or encryption would. Inbound sees the raw body
// read from the wire; Outbound sees the encoded id and payload.
type FrameTransform interface {
	Inbound(body []byte) ([]byte, error)
	Outbound(body []byte) ([]byte, error)
}

// ConnectionOptions configures a Connection's limits and collaborators.
type ConnectionOptions struct {
	// ReadTimeout bounds the wait for the first byte of the next frame.
	ReadTimeout time.Duration
	// FrameTimeout bounds the wait for the rest of a frame once its length
	// has been read.
	FrameTimeout time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
	OutboxSize   int

	Packets *protocol.Registry
	Metrics *metrics.Metrics
}

func (o *ConnectionOptions) setDefaults() {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = DefaultFrameTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = DefaultOutboxSize
	}
	if o.Packets == nil {
		o.Packets = protocol.DefaultServerbound()
	}
}

// Connection is one client session. Reads happen only on the connection's
// own goroutine; writes may come from any goroutine and are serialized so
// frames never interleave.
type Connection struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader
	opts   ConnectionOptions

	writeMu sync.Mutex

	// Packets queued by Send, drained by the writer goroutine.
	outbox     chan protocol.Packet
	writerOnce sync.Once
	done       chan struct{}

	mu     sync.Mutex
	logger zerolog.Logger

	phase                protocol.Phase
	compressionThreshold int
	encrypted            bool
	protocolVersion      int
	hasProtocolVersion   bool
	username             string
	playerID             uuid.UUID
	transform            FrameTransform

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// Keep-alive bookkeeping
	keepAliveID      int64
	keepAliveSentAt  time.Time
	keepAlivePending bool
	latency          time.Duration

	unknownPackets int
	closed         bool
	closeReason    string
}

// NewConnection wraps an accepted net.Conn. The connection starts in the
// Handshaking phase with compression disabled.
func NewConnection(conn net.Conn, opts ConnectionOptions) *Connection {
	opts.setDefaults()
	id := uuid.NewString()
	now := time.Now()
	return &Connection{
		id:                   id,
		conn:                 conn,
		reader:               bufio.NewReader(conn),
		opts:                 opts,
		outbox:               make(chan protocol.Packet, opts.OutboxSize),
		done:                 make(chan struct{}),
		phase:                protocol.PhaseHandshaking,
		compressionThreshold: -1,
		connectedAt:          now,
		lastActivity:         now,
		logger: log.With().
			Str("component", "connection").
			Str("conn_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the connection id assigned at accept time.
func (c *Connection) ID() string {
	return c.id
}

// Logger returns the connection's logger.
func (c *Connection) Logger() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.logger
	return &l
}

// ReadPacket reads, resolves and decodes the next packet.
//
// The frame length is read under the idle deadline and the body under the
// frame deadline. An unknown id yields *protocol.UnknownPacketError with the
// frame already consumed, so the caller may keep reading.
func (c *Connection) ReadPacket() (protocol.Packet, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	length, err := protocol.ReadFrameLength(c.reader)
	if err != nil {
		return nil, c.readError("read frame length", err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.opts.FrameTimeout))
	body, err := protocol.ReadBody(c.reader, length, c.opts.MaxFrameSize)
	if err != nil {
		return nil, c.readError("read frame body", err)
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	phase := c.phase
	transform := c.transform
	logger := c.logger
	c.mu.Unlock()

	if transform != nil {
		if body, err = transform.Inbound(body); err != nil {
			return nil, fmt.Errorf("inbound transform: %w", err)
		}
	}

	frame, err := protocol.ParseFrame(body)
	if err != nil {
		return nil, err
	}
	frame.Length = length
	c.opts.Metrics.FrameRead(phase)

	logger.Trace().
		Stringer("phase", phase).
		Stringer("packet_id", frame.ID).
		Int("length", length).
		Msg("frame read")

	return c.opts.Packets.Decode(phase, frame)
}

func (c *Connection) readError(op string, err error) error {
	if err == io.EOF {
		return io.EOF
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &protocol.TransportError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WritePacket encodes p and writes it as one frame with a single Write call.
// A failed Write may have left part of the frame on the wire, so the
// connection is closed and every later write returns ErrConnectionClosed.
func (c *Connection) WritePacket(p protocol.Packet) error {
	body, err := protocol.EncodeBody(p)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	closed := c.closed
	transform := c.transform
	phase := c.phase
	c.mu.Unlock()

	if closed {
		return ErrConnectionClosed
	}
	if transform != nil {
		if body, err = transform.Outbound(body); err != nil {
			return fmt.Errorf("outbound transform: %w", err)
		}
	}
	frame, err := protocol.AppendLengthPrefixed(nil, body)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := c.conn.Write(frame); err != nil {
		c.setCloseReason("write failed")
		c.Close()
		return &protocol.TransportError{Op: "write", Err: err}
	}
	c.opts.Metrics.FrameWritten(phase)

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
	return nil
}

// Send queues p for the connection's writer goroutine and returns without
// waiting for the write. Fan-out paths use it so a peer that stops reading
// cannot stall the caller. A peer whose queue is full is closed.
func (c *Connection) Send(p protocol.Packet) error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	c.writerOnce.Do(func() { go c.drainOutbox() })

	select {
	case c.outbox <- p:
		return nil
	default:
		c.Logger().Warn().Int("queued", len(c.outbox)).Msg("outbound queue full, dropping connection")
		c.setCloseReason("outbound queue full")
		c.Close()
		return ErrOutboxFull
	}
}

func (c *Connection) drainOutbox() {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.outbox:
			if err := c.WritePacket(p); err != nil {
				c.Logger().Debug().Err(err).Stringer("packet_id", p.ID()).Msg("queued write failed")
				return
			}
		}
	}
}

// Disconnect sends the phase's disconnect packet when it has one, then
// closes the connection. Write failures are ignored since the connection is
// going away regardless.
func (c *Connection) Disconnect(reason string) error {
	var p protocol.Packet
	switch c.Phase() {
	case protocol.PhaseLogin:
		p = &protocol.LoginDisconnect{Reason: protocol.ChatJSON(reason)}
	case protocol.PhasePlay:
		p = &protocol.PlayDisconnect{Reason: protocol.ChatJSON(reason)}
	}
	if p != nil {
		if err := c.WritePacket(p); err != nil {
			c.Logger().Debug().Err(err).Msg("failed to send disconnect")
		}
	}
	c.setCloseReason(reason)
	return c.Close()
}

// Phase returns the current protocol phase.
func (c *Connection) Phase() protocol.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// SetPhase moves the connection to next. Only the transitions allowed by
// protocol.Phase.CanTransition succeed.
func (c *Connection) SetPhase(next protocol.Phase) (protocol.Phase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.phase
	if !prev.CanTransition(next) {
		return prev, fmt.Errorf("illegal phase transition %s -> %s", prev, next)
	}
	c.phase = next
	c.logger = c.logger.With().Stringer("phase", next).Logger()
	return prev, nil
}

// ProtocolVersion returns the version from the handshake, if one was seen.
func (c *Connection) ProtocolVersion() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion, c.hasProtocolVersion
}

func (c *Connection) SetProtocolVersion(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protocolVersion = v
	c.hasProtocolVersion = true
}

// Username returns the player name, empty before login.
func (c *Connection) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// PlayerID returns the player's UUID, uuid.Nil before login.
func (c *Connection) PlayerID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Connection) setPlayer(name string, id uuid.UUID) {
	c.username = name
	c.playerID = id
	c.logger = c.logger.With().Str("username", name).Logger()
}

// CompressionThreshold returns the negotiated threshold, -1 when disabled.
func (c *Connection) CompressionThreshold() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compressionThreshold
}

func (c *Connection) SetCompressionThreshold(threshold int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compressionThreshold = threshold
}

// Encrypted reports whether an encryption transform has been negotiated.
func (c *Connection) Encrypted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encrypted
}

func (c *Connection) SetEncrypted(encrypted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encrypted = encrypted
}

// SetTransform installs t for all later frames in both directions.
func (c *Connection) SetTransform(t FrameTransform) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transform = t
}

func (c *Connection) Transform() FrameTransform {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transform
}

// NoteUnknownPacket bumps and returns the connection's unknown packet count.
func (c *Connection) NoteUnknownPacket() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unknownPackets++
	return c.unknownPackets
}

// SendKeepAlive writes a keep-alive probe and remembers its id.
func (c *Connection) SendKeepAlive(id int64) error {
	c.mu.Lock()
	c.keepAliveID = id
	c.keepAliveSentAt = time.Now()
	c.keepAlivePending = true
	c.mu.Unlock()

	return c.Send(&protocol.KeepAliveClientbound{KeepAliveID: id})
}

// AckKeepAlive matches a client's keep-alive against the last one sent and
// returns the round trip time.
func (c *Connection) AckKeepAlive(id int64) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.keepAlivePending || id != c.keepAliveID {
		return 0, fmt.Errorf("keep-alive mismatch: got %d, expected %d", id, c.keepAliveID)
	}
	c.keepAlivePending = false
	c.latency = time.Since(c.keepAliveSentAt)
	return c.latency, nil
}

// PendingKeepAlive reports when the unanswered keep-alive was sent.
func (c *Connection) PendingKeepAlive() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAliveSentAt, c.keepAlivePending
}

// Latency returns the last measured keep-alive round trip.
func (c *Connection) Latency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency
}

// Close closes the connection. It is safe to call more than once and from
// any goroutine; a blocked ReadPacket returns once the socket is closed.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)
	c.logger.Debug().Str("reason", c.closeReason).Msg("connection closed")
	return c.conn.Close()
}

func (c *Connection) setCloseReason(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeReason == "" {
		c.closeReason = reason
	}
}

// CloseReason returns the first reason recorded for closing.
func (c *Connection) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Info returns a point-in-time view of the connection for the API and console.
func (c *Connection) Info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := ConnectionInfo{
		ID:                   c.id,
		RemoteAddr:           c.conn.RemoteAddr().String(),
		Phase:                c.phase,
		Username:             c.username,
		ConnectedAt:          c.connectedAt,
		LastActivity:         c.lastActivity,
		UnknownPackets:       c.unknownPackets,
		LatencyMS:            c.latency.Milliseconds(),
		CompressionThreshold: c.compressionThreshold,
		Encrypted:            c.encrypted,
	}
	if c.hasProtocolVersion {
		info.ProtocolVersion = c.protocolVersion
	}
	if c.playerID != uuid.Nil {
		info.UUID = c.playerID.String()
	}
	return info
}
