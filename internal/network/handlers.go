package network

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/metrics"
	"github.com/blockgate-project/blockgate/internal/protocol"
)

var errEncryptionNotNegotiated = errors.New("encryption not negotiated")

func (s *Server) registerHandlers() {
	s.dispatcher.Handle(protocol.PhaseHandshaking, s.handleHandshaking)
	s.dispatcher.Handle(protocol.PhaseStatus, s.handleStatus)
	s.dispatcher.Handle(protocol.PhaseLogin, s.handleLogin)
	s.dispatcher.Handle(protocol.PhasePlay, s.handlePlay)
}

func (s *Server) handleHandshaking(ctx context.Context, c *Connection, p protocol.Packet) error {
	hs, ok := p.(*protocol.Handshake)
	if !ok {
		return unexpectedPacket(protocol.PhaseHandshaking, p)
	}

	c.SetProtocolVersion(hs.ProtocolVersion)
	next, err := protocol.PhaseForNextState(hs.NextState)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, c, next); err != nil {
		return err
	}

	c.Logger().Debug().
		Int("protocol_version", hs.ProtocolVersion).
		Str("server_address", hs.ServerAddress).
		Uint16("server_port", hs.ServerPort).
		Msg("handshake received")

	server := s.cfg.GetServer()
	if next == protocol.PhaseLogin && hs.ProtocolVersion != server.ProtocolVersion {
		reason := fmt.Sprintf("Outdated server! I'm still on %s", server.VersionName)
		if hs.ProtocolVersion < server.ProtocolVersion {
			reason = fmt.Sprintf("Outdated client! Please use %s", server.VersionName)
		}
		s.rejectLogin(ctx, c, "", reason)
		return errFinished
	}
	return nil
}

func (s *Server) handleStatus(ctx context.Context, c *Connection, p protocol.Packet) error {
	switch pkt := p.(type) {
	case *protocol.StatusRequest:
		status := s.ServerStatus()
		resp, err := protocol.NewStatusResponse(status)
		if err != nil {
			return fmt.Errorf("build status response: %w", err)
		}
		if err := c.WritePacket(resp); err != nil {
			return err
		}
		version, _ := c.ProtocolVersion()
		s.emit(ctx, events.EventStatusQuery, c.ID(), events.StatusQueryPayload{
			ConnID:          c.ID(),
			RemoteAddr:      c.RemoteAddr().String(),
			ProtocolVersion: version,
			Online:          status.Players.Online,
		})
		return nil

	case *protocol.PingRequest:
		if err := c.WritePacket(&protocol.PongResponse{Payload: pkt.Payload}); err != nil {
			return err
		}
		return errFinished

	default:
		return unexpectedPacket(protocol.PhaseStatus, p)
	}
}

func (s *Server) handleLogin(ctx context.Context, c *Connection, p protocol.Packet) error {
	switch pkt := p.(type) {
	case *protocol.LoginStart:
		return s.login(ctx, c, pkt.Name)

	case *protocol.EncryptionResponse:
		return errEncryptionNotNegotiated

	default:
		return unexpectedPacket(protocol.PhaseLogin, p)
	}
}

func (s *Server) login(ctx context.Context, c *Connection, name string) error {
	if c.Username() != "" {
		return fmt.Errorf("duplicate login start for %s", c.Username())
	}
	if !protocol.ValidUsername(name) {
		s.rejectLogin(ctx, c, name, "Invalid username")
		return errFinished
	}

	server := s.cfg.GetServer()
	id := protocol.OfflineUUID(name)
	if err := s.conns.ClaimPlayer(c, name, id, server.MaxPlayers); err != nil {
		reason := "The server is full!"
		if errors.Is(err, ErrDuplicateName) {
			reason = "You are already logged in from another location"
		}
		s.rejectLogin(ctx, c, name, reason)
		return errFinished
	}

	if err := s.negotiateCompression(c, server.CompressionThreshold); err != nil {
		return err
	}
	if err := c.WritePacket(&protocol.LoginSuccess{UUID: id, Username: name}); err != nil {
		return err
	}
	if err := s.transition(ctx, c, protocol.PhasePlay); err != nil {
		return err
	}

	s.metrics.Login(metrics.LoginAccepted)
	version, _ := c.ProtocolVersion()
	s.emit(ctx, events.EventPlayerLogin, c.ID(), events.LoginPayload{
		ConnID:          c.ID(),
		Username:        name,
		UUID:            id.String(),
		ProtocolVersion: version,
	})
	c.Logger().Info().Str("uuid", id.String()).Msg("player logged in")
	return nil
}

// negotiateCompression sends SetCompression and switches the connection to
// the factory's transform. It does nothing when the threshold is negative or
// no factory is installed, so clients never expect a transform that is not
// there.
func (s *Server) negotiateCompression(c *Connection, threshold int) error {
	s.mu.Lock()
	factory := s.transformFactory
	s.mu.Unlock()

	if threshold < 0 || factory == nil {
		return nil
	}
	if err := c.WritePacket(&protocol.SetCompression{Threshold: threshold}); err != nil {
		return err
	}
	c.SetCompressionThreshold(threshold)
	if t := factory(c); t != nil {
		c.SetTransform(t)
	}
	return nil
}

func (s *Server) rejectLogin(ctx context.Context, c *Connection, name, reason string) {
	s.metrics.Login(metrics.LoginRejected)
	s.emit(ctx, events.EventLoginRejected, c.ID(), events.LoginRejectedPayload{
		ConnID:   c.ID(),
		Username: name,
		Reason:   reason,
	})
	c.Logger().Info().Str("name", name).Str("reason", reason).Msg("login rejected")
	c.Disconnect(reason)
}

func (s *Server) handlePlay(ctx context.Context, c *Connection, p protocol.Packet) error {
	switch pkt := p.(type) {
	case *protocol.KeepAliveServerbound:
		rtt, err := c.AckKeepAlive(pkt.KeepAliveID)
		if err != nil {
			return err
		}
		s.metrics.KeepAliveLatency(rtt.Seconds())
		return nil

	case *protocol.ChatMessage:
		message := strings.TrimSpace(pkt.Message)
		if message == "" {
			return nil
		}
		s.relayChat(ctx, c, message)
		return nil

	default:
		return unexpectedPacket(protocol.PhasePlay, p)
	}
}

// relayChat sends a player's chat line to everyone in Play, sender included.
func (s *Server) relayChat(ctx context.Context, from *Connection, message string) int {
	name := from.Username()
	sent := s.conns.Broadcast(protocol.PhasePlay, &protocol.ChatBroadcast{
		JSON:     protocol.ChatJSON(fmt.Sprintf("<%s> %s", name, message)),
		Position: protocol.ChatPositionChat,
		Sender:   from.PlayerID(),
	})
	s.emit(ctx, events.EventChat, from.ID(), events.ChatPayload{
		ConnID:     from.ID(),
		Username:   name,
		Message:    message,
		Recipients: sent,
	})
	from.Logger().Info().Str("message", message).Int("recipients", sent).Msg("chat")
	return sent
}
