package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uolink-project/uolink/internal/util"
)

const version = "1.0.0"

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "uolink",
		"version": version,
	})
}

// handleGetInfo returns host and client version information.
func (s *Server) handleGetInfo(c *gin.Context) {
	login := s.cfg.GetLogin()
	sysInfo := util.GetSystemInfo()

	c.JSON(http.StatusOK, gin.H{
		"version":         version,
		"client_version":  login.ClientVersion,
		"login_server":    login.IP,
		"os":              sysInfo.OS,
		"arch":            sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	})
}
