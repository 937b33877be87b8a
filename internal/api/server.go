package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/config"
	"github.com/sourcequery-project/sourcequery/internal/db"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/metrics"
	intnet "github.com/sourcequery-project/sourcequery/internal/network"
	"github.com/sourcequery-project/sourcequery/internal/server"
	"github.com/sourcequery-project/sourcequery/internal/util"
)

// StatsSource reports responder counters.
type StatsSource interface {
	Stats() intnet.ResponderStats
}

// Dependencies are the components the API reads and writes.
type Dependencies struct {
	Config    *config.Config
	State     *server.GameState
	Rules     *db.RulesDatabase // nil disables the custom rules endpoints
	Responder StatsSource
	Metrics   *metrics.QueryMetrics
	Gatherer  prometheus.Gatherer
	EventBus  *events.EventBus
	Version   string
}

// Server is the management REST API.
type Server struct {
	deps Dependencies

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and builds its router.
func NewServer(deps Dependencies) *Server {
	if deps.Config.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{deps: deps}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.deps.Config.GetApplicationData().API
	addr := net.JoinHostPort(apiCfg.BindAddress, strconv.Itoa(apiCfg.Port))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var tlsConfig *tls.Config
	if apiCfg.TLSEnabled {
		var err error
		if tlsConfig, err = s.loadTLS(apiCfg); err != nil {
			return err
		}
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	log.Info().Str("addr", addr).Bool("tls", tlsConfig != nil).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) loadTLS(apiCfg config.APIConfig) (*tls.Config, error) {
	certFile, keyFile := apiCfg.TLSCertFile, apiCfg.TLSKeyFile
	if certFile == "" || keyFile == "" {
		dir := filepath.Join(filepath.Dir(s.deps.Config.Path()), "tls")
		certFile = filepath.Join(dir, "api.crt")
		keyFile = filepath.Join(dir, "api.key")
	}
	if _, err := util.EnsureTLSCert(certFile, keyFile); err != nil {
		return nil, fmt.Errorf("failed to prepare API certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	appCfg := s.deps.Config.GetApplicationData()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.deps.Metrics))
	router.Use(SecurityHeaders())

	allowedOrigins := appCfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must stay false with a "*" origin
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(appCfg.API.RateLimitRPS).Middleware())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetInfo)
		public.GET("/players", s.handleGetPlayers)
		public.GET("/rules", s.handleGetRules)
	}

	protected := router.Group("/api")
	protected.Use(NewAuthMiddleware(s.deps.Config).RequireAuth())

	state := protected.Group("/state")
	{
		state.PUT("/info", s.handlePutInfo)
		state.PUT("/players", s.handlePutPlayers)
		state.POST("/players/:name", s.handleAddPlayer)
		state.DELETE("/players/:name", s.handleRemovePlayer)
	}

	rules := protected.Group("/rules/custom")
	{
		rules.GET("", s.handleListCustomRules)
		rules.PUT("/:name", s.handleSetCustomRule)
		rules.DELETE("/:name", s.handleDeleteCustomRule)
	}

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/stats", s.handleGetStats)
		monitor.GET("/system", s.handleGetSystem)
		monitor.GET("/logs", s.handleGetLogEntries)
	}

	control := protected.Group("/control")
	{
		control.POST("/update_check", s.handleUpdateCheck)
		control.POST("/shutdown", s.handleShutdown)
	}

	configure := protected.Group("/config")
	{
		configure.GET("", s.handleGetConfig)
		configure.PATCH("/query", s.handlePatchQueryConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// emit publishes detached from the request context, which ends with the response.
func (s *Server) emit(event events.Event) {
	if s.deps.EventBus == nil {
		return
	}
	s.deps.EventBus.Emit(context.Background(), event)
}
