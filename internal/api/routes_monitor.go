package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/login"
	"github.com/uolink-project/uolink/internal/util"
)

// handleGetStatus returns the client status snapshot.
func (s *Server) handleGetStatus(c *gin.Context) {
	status := s.client.Status()
	resp := gin.H{
		"status":            status,
		"reconnect_attempt": s.client.Handshake().ReconnectAttempt(),
	}
	if delay, ok := s.client.Handshake().LoginDelay(); ok {
		resp["login_delay"] = gin.H{
			"min_seconds": int(delay.Min.Seconds()),
			"max_seconds": int(delay.Max.Seconds()),
		}
	}
	if deadline := s.client.Handshake().ReconnectDeadline(); !deadline.IsZero() {
		resp["reconnect_at"] = deadline.UTC()
	}
	c.JSON(http.StatusOK, resp)
}

// handleGetServers returns the server list with probe results.
func (s *Server) handleGetServers(c *gin.Context) {
	entries := s.client.Handshake().Servers()
	servers := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		servers = append(servers, gin.H{
			"index":        e.Index,
			"name":         e.Name,
			"percent_full": e.PercentFull,
			"timezone":     e.Timezone,
			"ip":           e.IP().String(),
			"ping":         e.Ping(),
		})
	}

	index, name := s.client.Handshake().SelectedServer()
	c.JSON(http.StatusOK, gin.H{
		"step":     s.client.Handshake().Step(),
		"servers":  servers,
		"selected": gin.H{"index": index, "name": name},
	})
}

// handleGetPingHistory returns recorded probe windows of one server.
func (s *Server) handleGetPingHistory(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not available"})
		return
	}
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	entry := findServer(s.client.Handshake().Servers(), uint16(index))
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "server not found", "index": index})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	samples, err := s.store.PingHistory(c.Request.Context(), entry.Name, limit)
	if err != nil {
		log.Error().Err(err).Str("server", entry.Name).Msg("API: failed to load ping history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"server": entry.Name, "samples": samples})
}

// handleGetCharacters returns the character list.
func (s *Server) handleGetCharacters(c *gin.Context) {
	h := s.client.Handshake()
	names := h.Characters()
	characters := make([]gin.H, 0, len(names))
	for i, n := range names {
		characters = append(characters, gin.H{"slot": i, "name": n})
	}
	c.JSON(http.StatusOK, gin.H{
		"step":       h.Step(),
		"characters": characters,
		"flags":      h.CharacterListFlags(),
	})
}

// handleGetCities returns all starting locations.
func (s *Server) handleGetCities(c *gin.Context) {
	cities := s.client.Handshake().Cities()
	out := make([]gin.H, 0, len(cities))
	for _, city := range cities {
		out = append(out, cityJSON(city))
	}
	c.JSON(http.StatusOK, gin.H{"cities": out})
}

// handleGetCity returns one starting location.
func (s *Server) handleGetCity(c *gin.Context) {
	index, ok := parseIndex(c)
	if !ok {
		return
	}
	city, found := s.client.Handshake().City(index)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "city not found", "index": index})
		return
	}
	c.JSON(http.StatusOK, cityJSON(city))
}

// handleGetFailures returns recent connection failures and server errors.
func (s *Server) handleGetFailures(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is not available"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	failures, err := s.store.RecentFailures(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("API: failed to load failures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load failures"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

// handleGetResources returns process host CPU and memory usage.
func (s *Server) handleGetResources(c *gin.Context) {
	usage, err := util.GetResourceUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

func cityJSON(city login.CityInfo) gin.H {
	return gin.H{
		"index":          city.Index,
		"name":           city.Name,
		"building":       city.Building,
		"x":              city.X,
		"y":              city.Y,
		"z":              city.Z,
		"map":            city.Map,
		"description_id": city.DescriptionID,
		"new_format":     city.NewFormat,
	}
}

func findServer(entries []*login.ServerListEntry, index uint16) *login.ServerListEntry {
	for _, e := range entries {
		if e.Index == index {
			return e
		}
	}
	return nil
}

// parseIndex reads the :index path parameter and writes a 400 on failure.
func parseIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index > 0xFFFF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return 0, false
	}
	return index, true
}
