package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/config"
)

// LANMulticastAddr is the group clients listen on for LAN worlds.
const LANMulticastAddr = "224.0.2.60:4445"

// LANAnnouncement builds the datagram advertising a server on the LAN.
func LANAnnouncement(motd string, port int) []byte {
	return []byte(fmt.Sprintf("[MOTD]%s[/MOTD][AD]%d[/AD]", motd, port))
}

// LANAnnouncer periodically multicasts the server's MOTD and port so clients
// on the local network list it without a manual address.
type LANAnnouncer struct {
	cfg    *config.Config
	target string
	port   func() int
}

// NewLANAnnouncer creates an announcer. port reports the game listener's
// bound port; when nil the configured port is advertised.
func NewLANAnnouncer(cfg *config.Config, port func() int) *LANAnnouncer {
	return &LANAnnouncer{
		cfg:    cfg,
		target: LANMulticastAddr,
		port:   port,
	}
}

// Start sends announcements until ctx is cancelled.
func (a *LANAnnouncer) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", a.target)
	if err != nil {
		return fmt.Errorf("failed to resolve LAN announce address %s: %w", a.target, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("failed to open LAN announce socket: %w", err)
	}
	defer conn.Close()

	interval := a.cfg.GetLAN().Interval()
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	log.Info().Str("group", a.target).Dur("interval", interval).Msg("LAN announcer started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.announce(conn)
		select {
		case <-ctx.Done():
			log.Info().Msg("LAN announcer stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (a *LANAnnouncer) announce(conn *net.UDPConn) {
	port := a.cfg.GetServer().Port
	if a.port != nil {
		if p := a.port(); p > 0 {
			port = p
		}
	}
	msg := LANAnnouncement(a.cfg.GetServer().MOTD, port)
	if _, err := conn.Write(msg); err != nil {
		log.Warn().Err(err).Str("group", a.target).Msg("failed to send LAN announcement")
		return
	}
	log.Trace().Int("port", port).Msg("LAN announcement sent")
}
