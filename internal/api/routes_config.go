package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/login"
)

const redacted = "********"

// handleGetConfig returns the configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	loginCfg := s.cfg.GetLogin()
	if loginCfg.Password != "" {
		loginCfg.Password = redacted
	}
	telemetry := s.cfg.GetTelemetry()
	if telemetry.Password != "" {
		telemetry.Password = redacted
	}
	apiCfg := s.cfg.GetAPI()
	if apiCfg.Token != "" {
		apiCfg.Token = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"login":     loginCfg,
		"reconnect": s.cfg.GetReconnect(),
		"network":   s.cfg.GetNetwork(),
		"ping":      s.cfg.GetPing(),
		"telemetry": telemetry,
		"api":       apiCfg,
		"history":   s.cfg.GetHistory(),
	})
}

// handleSetConfigField updates a single field, validates and saves.
func (s *Server) handleSetConfigField(c *gin.Context) {
	section, key := c.Param("section"), c.Param("key")

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	previous, err := s.cfg.Field(section, key)
	if err != nil && !(section == "login" && key == "password") {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.cfg.UpdateField(section, key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := config.Validate(s.cfg)
	if !result.IsValid() {
		if rerr := s.cfg.UpdateField(section, key, previous); rerr != nil {
			log.Error().Err(rerr).Str("section", section).Str("key", key).Msg("API: failed to restore config field")
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "errors": result.Errors})
		return
	}

	if err := s.cfg.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	s.applyLive(section, key)

	s.bus.Emit(context.Background(), events.Event{
		Type:   events.EventConfigChanged,
		Source: "api",
		Payload: events.ConfigChangedPayload{
			Section: section,
			Key:     key,
		},
	})

	log.Info().Str("section", section).Str("key", key).Msg("API: config updated")

	c.JSON(http.StatusOK, gin.H{
		"status":   "updated",
		"warnings": result.Warnings,
	})
}

// applyLive pushes settings that take effect without a restart.
func (s *Server) applyLive(section, key string) {
	if section == "reconnect" && key == "enabled" {
		enabled := s.cfg.GetReconnect().Enabled
		if err := s.client.Post(func(h *login.Handshake) { h.SetReconnect(enabled) }); err != nil {
			log.Warn().Err(err).Msg("API: failed to apply reconnect setting")
		}
	}
}
