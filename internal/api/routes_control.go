package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/network"
)

type kickRequest struct {
	Reason string `json:"reason"`
}

type broadcastRequest struct {
	Message string `json:"message" binding:"required"`
}

// handleKick disconnects a connection by id or player name.
func (s *Server) handleKick(c *gin.Context) {
	target := c.Param("id")

	var req kickRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	info, err := s.game.Kick(c.Request.Context(), target, strings.TrimSpace(req.Reason), operator(c))
	if err != nil {
		if errors.Is(err, network.ErrConnectionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found", "id": target})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "kicked",
		"connection": info,
	})
}

// handleBroadcast sends a system chat line to every player.
func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	sent := s.game.Announce(c.Request.Context(), message, operator(c))
	log.Info().Int("recipients", sent).Str("by", operator(c)).Msg("API: broadcast sent")

	c.JSON(http.StatusOK, gin.H{
		"status":     "sent",
		"recipients": sent,
	})
}
