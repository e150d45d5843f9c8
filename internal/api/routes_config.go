package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/events"
)

// restartFields are server keys that only take effect on the next start.
var restartFields = map[string]bool{
	"host":             true,
	"port":             true,
	"online_mode":      true,
	"protocol_version": true,
}

// handleGetConfig returns the current configuration with secrets removed.
func (s *Server) handleGetConfig(c *gin.Context) {
	apiCfg := s.cfg.GetAPI()
	tokenSet := apiCfg.Token != ""
	apiCfg.Token = ""

	c.JSON(http.StatusOK, gin.H{
		"server":    s.cfg.GetServer(),
		"network":   s.cfg.GetNetwork(),
		"api":       apiCfg,
		"api_token": tokenSet,
		"mqtt":      s.cfg.GetMQTT(),
		"lan":       s.cfg.GetLAN(),
		"storage":   s.cfg.GetStorage(),
		"logging":   s.cfg.GetLogging(),
	})
}

// handlePatchServerConfig updates fields of the server section. The body is
// a JSON object keyed like the server section of config.json.
func (s *Server) handlePatchServerConfig(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields given"})
		return
	}

	if err := s.cfg.PatchServer(fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	restart := false
	for key := range fields {
		if restartFields[key] {
			restart = true
		}
	}

	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			log.Error().Err(err).Msg("API: failed to save config")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
			return
		}
	}

	for key, value := range fields {
		s.emit(c.Request.Context(), events.EventConfigChanged, events.ConfigChangedPayload{
			Section: "server",
			Key:     key,
			Value:   value,
		})
	}

	log.Info().Interface("fields", fields).Str("by", operator(c)).Msg("API: server config updated")

	c.JSON(http.StatusOK, gin.H{
		"status":           "updated",
		"server":           s.cfg.GetServer(),
		"restart_required": restart,
	})
}
