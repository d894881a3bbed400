package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/login"
)

type connectRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// errWrongStep marks a command that was rejected by the login step.
var errWrongStep = errors.New("not allowed in the current login step")

// exec runs cmd on the tick loop and maps the outcome to a response. cmd
// returns errWrongStep (or another error) to reject the request.
func (s *Server) exec(c *gin.Context, action string, cmd func(h *login.Handshake) error) bool {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	var cmdErr error
	err := s.client.Exec(ctx, func(h *login.Handshake) {
		cmdErr = cmd(h)
	})
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("API: command not executed")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "client loop did not respond"})
		return false
	}
	if cmdErr != nil {
		status := http.StatusBadRequest
		if errors.Is(cmdErr, errWrongStep) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error": cmdErr.Error(),
			"step":  s.client.Handshake().Step(),
		})
		return false
	}

	log.Info().Str("action", action).Str("client_ip", c.ClientIP()).Msg("API: command executed")
	return true
}

// handleConnect starts a login. Fields missing from the body come from the
// configuration.
func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	cfgLogin := s.cfg.GetLogin()
	if req.Username == "" {
		req.Username = cfgLogin.Username
	}
	if req.Password == "" {
		req.Password = s.cfg.Password()
	}
	if req.IP == "" {
		req.IP = cfgLogin.IP
	}
	if req.Port == 0 {
		req.Port = cfgLogin.Port
	}
	if req.Username == "" || req.IP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and login server address are required"})
		return
	}
	if req.Port < 1 || req.Port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return
	}

	ok := s.exec(c, "connect", func(h *login.Handshake) error {
		if h.Step() == login.Connecting {
			return errWrongStep
		}
		h.Connect(req.Username, req.Password, req.IP, uint16(req.Port))
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":  "connecting",
		"account": req.Username,
		"address": s.client.Handshake().Address(),
	})
}

// handleSelectServer picks a shard from the server list.
func (s *Server) handleSelectServer(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}

	var name string
	ok = s.exec(c, "select_server", func(h *login.Handshake) error {
		if h.Step() != login.ServerSelection {
			return errWrongStep
		}
		entry := findServer(h.Servers(), uint16(index))
		if entry == nil {
			return errors.New("server not found")
		}
		name = entry.Name
		h.SelectServer(entry.Index, entry.Name)
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "selected", "index": index, "name": name})
}

// handleSelectCharacter enters the world with a character.
func (s *Server) handleSelectCharacter(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}

	var name string
	ok = s.exec(c, "select_character", func(h *login.Handshake) error {
		if h.Step() != login.CharacterSelection {
			return errWrongStep
		}
		chars := h.Characters()
		if index >= len(chars) || chars[index] == "" {
			return errors.New("character slot is empty")
		}
		name = chars[index]
		h.SendSelectCharacter(index)
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "entering_world", "slot": index, "name": name})
}

// handleDeleteCharacter asks the server to delete a character.
func (s *Server) handleDeleteCharacter(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}

	ok = s.exec(c, "delete_character", func(h *login.Handshake) error {
		if h.Step() != login.CharacterSelection {
			return errWrongStep
		}
		chars := h.Characters()
		if index >= len(chars) || chars[index] == "" {
			return errors.New("character slot is empty")
		}
		h.SendDeleteCharacter(index)
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "delete_requested", "slot": index})
}

// handleDisconnect closes the connection and returns to the main step.
func (s *Server) handleDisconnect(c *gin.Context) {
	ok := s.exec(c, "disconnect", func(h *login.Handshake) error {
		h.Disconnect()
		return nil
	})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}
