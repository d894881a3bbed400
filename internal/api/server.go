package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/uolink-project/uolink/internal/client"
	"github.com/uolink-project/uolink/internal/config"
	"github.com/uolink-project/uolink/internal/db"
	"github.com/uolink-project/uolink/internal/events"
	"github.com/uolink-project/uolink/internal/util"
)

// commandTimeout bounds how long a request waits for the tick loop.
const commandTimeout = 5 * time.Second

// Server is the local status and control API.
type Server struct {
	cfg    *config.Config
	bus    *events.Bus
	client *client.Client
	store  *db.ProfileStore

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates an API server. store may be nil, in which case the
// history endpoints report 503.
func NewServer(cfg *config.Config, bus *events.Bus, cl *client.Client, store *db.ProfileStore) *Server {
	if cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    cfg,
		bus:    bus,
		client: cl,
		store:  store,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()

	s.httpServer = &http.Server{
		Addr:         apiCfg.Address,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", apiCfg.Address)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if apiCfg.TLSEnabled {
		host, _, _ := net.SplitHostPort(apiCfg.Address)
		if err := util.EnsureSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, []string{host, "localhost"}); err != nil {
			ln.Close()
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		ln = tls.NewListener(ln, s.httpServer.TLSConfig)
	}

	log.Info().
		Str("addr", apiCfg.Address).
		Bool("tls", apiCfg.TLSEnabled).
		Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(defaultRateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.Token))
	{
		protected.GET("/status", s.handleGetStatus)
		protected.GET("/servers", s.handleGetServers)
		protected.GET("/servers/:index/history", s.handleGetPingHistory)
		protected.GET("/characters", s.handleGetCharacters)
		protected.GET("/cities", s.handleGetCities)
		protected.GET("/cities/:index", s.handleGetCity)
		protected.GET("/failures", s.handleGetFailures)
		protected.GET("/resources", s.handleGetResources)

		protected.POST("/connect", s.handleConnect)
		protected.POST("/servers/:index/select", s.handleSelectServer)
		protected.POST("/characters/:index/select", s.handleSelectCharacter)
		protected.POST("/characters/:index/delete", s.handleDeleteCharacter)
		protected.POST("/disconnect", s.handleDisconnect)

		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/:section/:key", s.handleSetConfigField)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "uolink API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
