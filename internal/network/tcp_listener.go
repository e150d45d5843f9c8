package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/metrics"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

var ErrConnectionNotFound = errors.New("connection not found")

// Disconnect reasons used as metric labels.
const (
	reasonEOF           = "eof"
	reasonTimeout       = "timeout"
	reasonFinished      = "finished"
	reasonServerClosed  = "closed_by_server"
	reasonDecodeError   = "decode_error"
	reasonProtocolError = "protocol_error"
	reasonUnknownLimit  = "unknown_limit"
	reasonTransport     = "transport_error"
)

// TransformFactory builds the frame transform a connection switches to once
// compression has been negotiated. Returning nil leaves frames untouched.
type TransformFactory func(c *Connection) FrameTransform

// Server accepts game clients and runs one protocol state machine per
// connection. Connections are registered in a shared ConnectionRegistry so
// the admin API, console and housekeeping can reach them.
type Server struct {
	cfg        *config.Config
	eventBus   *events.EventBus
	metrics    *metrics.Metrics
	packets    *protocol.Registry
	conns      *ConnectionRegistry
	dispatcher *Dispatcher

	mu               sync.Mutex
	listener         net.Listener
	transformFactory TransformFactory
	startedAt        time.Time
	stopped          bool
	ready            chan struct{}
	stopCh           chan struct{}

	wg sync.WaitGroup
}

// NewServer creates a server. eventBus and m may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, m *metrics.Metrics, conns *ConnectionRegistry) *Server {
	if conns == nil {
		conns = NewConnectionRegistry()
	}
	s := &Server{
		cfg:        cfg,
		eventBus:   eventBus,
		metrics:    m,
		packets:    protocol.DefaultServerbound(),
		conns:      conns,
		dispatcher: NewDispatcher(),
		ready:      make(chan struct{}),
		stopCh:     make(chan struct{}),
	}
	s.registerHandlers()
	return s
}

// SetTransformFactory installs the factory used after compression is
// negotiated. Without one the server never sends SetCompression.
func (s *Server) SetTransformFactory(f TransformFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformFactory = f
}

// Start binds the configured address and accepts connections until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.GetServer().Addr()

	// SO_REUSEADDR allows immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.startedAt = time.Now()
	close(s.ready)
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("game listener started")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("game listener stopping")
				return nil
			}
			log.Error().Err(err).Msg("failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		log.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new client connection")

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, nil before Start has bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// StartedAt returns when the listener was bound.
func (s *Server) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Connections returns the live connection registry.
func (s *Server) Connections() *ConnectionRegistry {
	return s.conns
}

// Stop closes the listener and every live connection. It is safe to call
// concurrently with accepts and more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.conns.CloseAll()
	return err
}

// Wait blocks until every connection goroutine has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// handleConnection runs one client from accept to close.
func (s *Server) handleConnection(ctx context.Context, rawConn net.Conn) {
	netCfg := s.cfg.GetNetwork()
	conn := NewConnection(rawConn, ConnectionOptions{
		ReadTimeout:  netCfg.ReadTimeout(),
		FrameTimeout: netCfg.FrameTimeout(),
		WriteTimeout: netCfg.WriteTimeout(),
		MaxFrameSize: netCfg.MaxFrameSize,
		Packets:      s.packets,
		Metrics:      s.metrics,
	})

	s.conns.Register(conn)
	// Stop may have swept the registry between Accept and Register.
	if s.isStopped() {
		s.conns.Unregister(conn.ID())
		return
	}

	s.metrics.ConnectionOpened()
	s.emit(ctx, events.EventConnectionOpened, conn.ID(), events.ConnectionPayload{
		ConnID:     conn.ID(),
		RemoteAddr: rawConn.RemoteAddr().String(),
		Phase:      protocol.PhaseHandshaking,
		OpenedAt:   conn.ConnectedAt(),
	})
	conn.Logger().Info().Msg("connection accepted")

	reason := s.serve(ctx, conn)

	info := conn.Info()
	s.conns.Unregister(conn.ID())
	s.metrics.ConnectionClosed(info.Phase, reason)

	detail := conn.CloseReason()
	if detail == "" {
		detail = reason
	}
	s.emit(ctx, events.EventConnectionClosed, conn.ID(), events.ConnectionPayload{
		ConnID:     conn.ID(),
		RemoteAddr: info.RemoteAddr,
		Username:   info.Username,
		Phase:      info.Phase,
		OpenedAt:   info.ConnectedAt,
		Duration:   time.Since(info.ConnectedAt),
		Reason:     detail,
	})
	conn.Logger().Info().Str("reason", detail).Msg("connection finished")
}

// serve is the read loop. It returns the disconnect reason.
func (s *Server) serve(ctx context.Context, conn *Connection) string {
	maxUnknown := s.cfg.GetNetwork().MaxUnknownPackets

	for {
		if ctx.Err() != nil {
			conn.setCloseReason("server stopping")
			return reasonServerClosed
		}

		p, err := conn.ReadPacket()
		if err != nil {
			if conn.IsClosed() {
				return reasonServerClosed
			}

			var unknown *protocol.UnknownPacketError
			if errors.As(err, &unknown) {
				if s.noteUnknown(ctx, conn, unknown, maxUnknown) {
					continue
				}
				return reasonUnknownLimit
			}

			return s.classifyReadError(conn, err)
		}

		if err := s.dispatcher.Dispatch(ctx, conn, p); err != nil {
			if errors.Is(err, errFinished) {
				return reasonFinished
			}
			if conn.IsClosed() {
				return reasonServerClosed
			}
			conn.Logger().Error().Err(err).Msg("protocol error, closing connection")
			conn.setCloseReason(err.Error())
			return reasonProtocolError
		}
	}
}

// noteUnknown records a discarded frame and reports whether the connection
// may continue.
func (s *Server) noteUnknown(ctx context.Context, conn *Connection, e *protocol.UnknownPacketError, limit int) bool {
	count := conn.NoteUnknownPacket()
	s.metrics.UnknownPacket(e.Phase)
	s.emit(ctx, events.EventUnknownPacket, conn.ID(), events.UnknownPacketPayload{
		ConnID:   conn.ID(),
		Phase:    e.Phase,
		PacketID: e.ID,
		Length:   e.Length,
		Count:    count,
	})
	conn.Logger().Warn().
		Stringer("packet_id", e.ID).
		Int("length", e.Length).
		Int("count", count).
		Msg("discarding unknown packet")

	if limit > 0 && count > limit {
		conn.Disconnect("Too many unknown packets")
		return false
	}
	return true
}

func (s *Server) classifyReadError(conn *Connection, err error) string {
	logger := conn.Logger()

	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) {
		s.metrics.DecodeError(decodeErr.Phase)
		logger.Error().Err(err).Msg("malformed packet, closing connection")
		conn.setCloseReason("malformed packet")
		return reasonDecodeError
	}

	if protocol.IsClosed(err) {
		logger.Debug().Err(err).Msg("client closed connection")
		return reasonEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		logger.Warn().Msg("connection timed out")
		conn.setCloseReason("timed out")
		return reasonTimeout
	}

	if errors.Is(err, protocol.ErrTransport) {
		logger.Warn().Err(err).Msg("transport error, closing connection")
		return reasonTransport
	}

	logger.Error().Err(err).Msg("framing error, closing connection")
	conn.setCloseReason(err.Error())
	return reasonProtocolError
}

// transition moves conn to next and publishes the change.
func (s *Server) transition(ctx context.Context, conn *Connection, next protocol.Phase) error {
	prev, err := conn.SetPhase(next)
	if err != nil {
		return err
	}
	s.metrics.PhaseChanged(prev, next)
	s.emit(ctx, events.EventPhaseChanged, conn.ID(), events.PhaseChangePayload{
		ConnID: conn.ID(),
		From:   prev,
		To:     next,
	})
	conn.Logger().Debug().Stringer("from", prev).Msg("phase changed")
	return nil
}

// emit publishes on the event bus without tying handlers to the connection's
// lifetime.
func (s *Server) emit(ctx context.Context, t events.EventType, source string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    t,
		Source:  source,
		Payload: payload,
	})
}

// ServerStatus builds the server list entry. Online counts players in Play.
func (s *Server) ServerStatus() protocol.ServerStatus {
	cfg := s.cfg.GetServer()
	return protocol.ServerStatus{
		Version: protocol.StatusVersion{
			Name:     cfg.VersionName,
			Protocol: cfg.ProtocolVersion,
		},
		Players: protocol.StatusPlayers{
			Max:    cfg.MaxPlayers,
			Online: s.conns.CountInPhase(protocol.PhasePlay),
		},
		Description: protocol.ChatText{Text: cfg.MOTD},
	}
}

// Kick disconnects the connection identified by id or player name.
func (s *Server) Kick(ctx context.Context, target, reason, by string) (ConnectionInfo, error) {
	conn, ok := s.conns.Get(target)
	if !ok {
		conn, ok = s.conns.FindByUsername(target)
	}
	if !ok {
		return ConnectionInfo{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, target)
	}
	if reason == "" {
		reason = "Kicked by an operator"
	}

	info := conn.Info()
	conn.Disconnect(reason)
	s.emit(ctx, events.EventKick, conn.ID(), events.KickPayload{
		ConnID:   info.ID,
		Username: info.Username,
		Reason:   reason,
		By:       by,
	})
	log.Info().
		Str("conn_id", info.ID).
		Str("username", info.Username).
		Str("by", by).
		Str("reason", reason).
		Msg("connection kicked")
	return info, nil
}

// Announce sends a system chat line to every player and returns how many
// received it.
func (s *Server) Announce(ctx context.Context, message, by string) int {
	sent := s.conns.Broadcast(protocol.PhasePlay, &protocol.ChatBroadcast{
		JSON:     protocol.ChatJSON("[Server] " + message),
		Position: protocol.ChatPositionSystem,
	})
	s.emit(ctx, events.EventChat, by, events.ChatPayload{
		Username:   by,
		Message:    message,
		Recipients: sent,
	})
	return sent
}

// SendKeepAlives probes every Play connection. A connection whose previous
// probe is still unanswered after the read timeout is disconnected.
func (s *Server) SendKeepAlives() (sent, dropped int) {
	timeout := s.cfg.GetNetwork().ReadTimeout()
	id := time.Now().UnixMilli()

	for _, conn := range s.conns.InPhase(protocol.PhasePlay) {
		if sentAt, pending := conn.PendingKeepAlive(); pending {
			if time.Since(sentAt) > timeout {
				conn.Disconnect("Timed out")
				dropped++
			}
			continue
		}
		if err := conn.SendKeepAlive(id); err != nil {
			conn.Logger().Warn().Err(err).Msg("failed to send keep-alive")
			continue
		}
		sent++
	}
	return sent, dropped
}
