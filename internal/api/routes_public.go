package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blockgate-project/blockgate/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pong":    true,
		"status":  "ok",
		"service": "blockgate",
		"version": s.version,
	})
}

// handleServerInfo returns what a server list would show plus host basics.
func (s *Server) handleServerInfo(c *gin.Context) {
	status := s.game.ServerStatus()
	sysInfo := util.GetSystemInfo()

	info := gin.H{
		"motd":             status.Description.Text,
		"version_name":     status.Version.Name,
		"protocol_version": status.Version.Protocol,
		"players_online":   status.Players.Online,
		"players_max":      status.Players.Max,
		"platform":         sysInfo.OS,
		"cpu_cores":        sysInfo.CPUCores,
	}
	if ip, err := util.GetLocalIP(); err == nil {
		info["local_ip"] = ip
	}

	c.JSON(http.StatusOK, info)
}
