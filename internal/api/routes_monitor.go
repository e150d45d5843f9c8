package api

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/util"
)

// handleStatus returns listener, connection and host state.
func (s *Server) handleStatus(c *gin.Context) {
	serverCfg := s.cfg.GetServer()
	conns := s.game.Connections()

	resp := gin.H{
		"version": s.version,
		"listener": gin.H{
			"addr":             serverCfg.Addr(),
			"motd":             serverCfg.MOTD,
			"max_players":      serverCfg.MaxPlayers,
			"protocol_version": serverCfg.ProtocolVersion,
		},
		"connections": gin.H{
			"total":    conns.Count(),
			"by_phase": conns.CountByPhase(),
		},
		"host": util.CollectHostStats(filepath.Dir(s.cfg.GetStorage().DatabasePath)),
	}

	if addr := s.game.Addr(); addr != nil {
		resp["listener"].(gin.H)["bound"] = addr.String()
	}
	if started := s.game.StartedAt(); !started.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(started).Seconds())
	}

	if s.journal != nil {
		stats, err := s.journal.Stats()
		if err != nil {
			log.Warn().Err(err).Msg("API: failed to read session stats")
		} else {
			resp["sessions"] = stats
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleListConnections returns every live connection.
func (s *Server) handleListConnections(c *gin.Context) {
	snapshot := s.game.Connections().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"connections": snapshot,
		"total":       len(snapshot),
	})
}

// handleGetConnection returns one live connection by id.
func (s *Server) handleGetConnection(c *gin.Context) {
	id := c.Param("id")
	conn, ok := s.game.Connections().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found", "id": id})
		return
	}
	c.JSON(http.StatusOK, conn.Info())
}

// handleListSessions returns recent session journal rows.
func (s *Server) handleListSessions(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session journal is disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	sessions, err := s.journal.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("API: failed to read sessions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// handleMetrics serves the Prometheus registry.
func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics are disabled"})
		return
	}
	gin.WrapH(s.metrics.Handler())(c)
}
