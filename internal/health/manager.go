// Package health runs the periodic connection checks: keep-alive probes for
// players, the stale connection sweep and a disk space watch on the data
// directory.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/network"
	"github.com/blockgate-project/blockgate/internal/util"
)

const diskCheckInterval = 5 * time.Minute

// Manager runs periodic health checks against the game server.
type Manager struct {
	cfg    *config.Config
	game   *network.Server
	logger zerolog.Logger

	diskUsage func(path string) (*util.DiskUsage, error)
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, game *network.Server) *Manager {
	return &Manager{
		cfg:       cfg,
		game:      game,
		logger:    util.ComponentLogger("health"),
		diskUsage: util.GetDiskUsage,
	}
}

type check struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
}

func (m *Manager) checks() []check {
	netCfg := m.cfg.GetNetwork()

	sweep := netCfg.StaleTimeout() / 2
	if sweep > 0 && sweep < time.Second {
		sweep = time.Second
	}

	return []check{
		{"keep_alive", netCfg.KeepAliveInterval(), m.checkKeepAlive},
		{"stale_connections", sweep, m.checkStaleConnections},
		{"disk_utilization", diskCheckInterval, m.checkDiskUtilization},
	}
}

// Start launches every enabled check and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	started := 0
	for _, c := range m.checks() {
		if c.interval <= 0 {
			m.logger.Debug().Str("check", c.name).Msg("health check disabled")
			continue
		}
		started++

		c := c
		go func() {
			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.fn(ctx)
				}
			}
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	m.logger.Info().Msg("health check manager stopped")
}

// checkKeepAlive probes Play connections and drops those that stopped
// answering.
func (m *Manager) checkKeepAlive(ctx context.Context) {
	sent, dropped := m.game.SendKeepAlives()
	if dropped > 0 {
		m.logger.Info().Int("dropped", dropped).Msg("disconnected players that stopped answering keep-alives")
	}
	m.logger.Trace().Int("sent", sent).Msg("keep-alive round completed")
}

// checkStaleConnections closes connections idle past the stale timeout.
func (m *Manager) checkStaleConnections(ctx context.Context) {
	cleaned := m.game.Connections().CleanStale(m.cfg.GetNetwork().StaleTimeout())
	if cleaned > 0 {
		m.logger.Info().Int("cleaned", cleaned).Msg("cleaned stale connections")
	}
}

// diskLevel maps a usage percentage to an alert level, "" meaning no alert.
func diskLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 100:
		return "critical"
	case usedPercent >= 95:
		return "error"
	case usedPercent >= 90:
		return "warning"
	case usedPercent >= 80:
		return "info"
	default:
		return ""
	}
}

// checkDiskUtilization warns when the volume holding the session journal
// fills up.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := filepath.Dir(m.cfg.GetStorage().DatabasePath)

	usage, err := m.diskUsage(path)
	if err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
		return
	}

	m.logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	level := diskLevel(usage.UsedPercent)
	if level == "" {
		return
	}

	m.logger.Warn().
		Str("level", level).
		Str("path", path).
		Msg(fmt.Sprintf("Disk usage at %.1f%% (%d GB free of %d GB total)",
			usage.UsedPercent, usage.Free, usage.Total))
}
