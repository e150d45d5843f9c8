package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/db"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/metrics"
	"github.com/blockgate-project/blockgate/internal/network"
	"github.com/blockgate-project/blockgate/internal/util"
)

// Server is the admin REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	game     *network.Server
	version  string

	// Optional dependencies
	journal *db.SessionJournal
	metrics *metrics.Metrics

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
}

// NewServer creates a new API server for game.
func NewServer(cfg *config.Config, eventBus *events.EventBus, game *network.Server, version string) *Server {
	if cfg.GetLogging().Level == "debug" || cfg.GetLogging().Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		eventBus: eventBus,
		game:     game,
		version:  version,
		ready:    make(chan struct{}),
	}
}

// SetDependencies injects the optional journal and metrics. Either may be
// nil; the matching endpoints then answer 503.
func (s *Server) SetDependencies(journal *db.SessionJournal, m *metrics.Metrics) {
	s.journal = journal
	s.metrics = m
}

// Start binds the configured address and serves until ctx is cancelled or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := apiCfg.Addr()

	httpServer := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		created, err := util.EnsureSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, apiCfg.Host, "localhost")
		if err != nil {
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		if created {
			log.Warn().Str("cert", apiCfg.TLSCertFile).Msg("using a generated self-signed certificate for the admin API")
		}
		cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, httpServer.TLSConfig)
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.listener = ln
	close(s.ready)
	s.mu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Bool("tls", apiCfg.TLSEnabled).Msg("admin API starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, nil before Start has bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
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
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.Token))
	{
		protected.GET("/status", s.handleStatus)
		protected.GET("/connections", s.handleListConnections)
		protected.GET("/connections/:id", s.handleGetConnection)
		protected.GET("/sessions", s.handleListSessions)

		protected.POST("/connections/:id/kick", s.handleKick)
		protected.POST("/broadcast", s.handleBroadcast)

		protected.GET("/config", s.handleGetConfig)
		protected.PATCH("/config/server", s.handlePatchServerConfig)
	}

	router.GET("/metrics", s.handleMetrics)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func (s *Server) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Emit(context.WithoutCancel(ctx), events.Event{
		Type:    t,
		Source:  "api",
		Payload: payload,
	})
}
