package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/webviewrpc/internal/api/http"
	"github.com/GriffinCanCode/webviewrpc/internal/api/middleware"
	"github.com/GriffinCanCode/webviewrpc/internal/api/ws"
	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/config"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webviewrpc/internal/loader"
	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/GriffinCanCode/webviewrpc/internal/sandbox"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	handler http.Handler
	coord   *coordinator.Coordinator
	hub     *ws.Hub
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics

	mu   sync.Mutex
	addr net.Addr
}

// NewLogger builds the logger described by cfg
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	base := logging.DefaultConfig()
	if cfg.Logging.Development {
		base = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		base.Level = cfg.Logging.Level
	}
	return logging.New(base)
}

// NewCoordinator builds a coordinator whose contexts are sandbox runtimes
// sharing one loader.
func NewCoordinator(cfg *config.Config, logger *logging.Logger) *coordinator.Coordinator {
	l := loader.New(cfg.Loader.Config())
	factory := sandbox.NewFactory(l, cfg.SandboxConfig(), logger.Named("sandbox"))
	return coordinator.New(cfg.Coordinator.Options(), factory, logger.Named("coordinator"))
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("Initializing webviewrpc server",
		zap.String("addr", cfg.Server.Address()),
		zap.Bool("background_mode", cfg.Coordinator.BackgroundMode),
		zap.Int("pool_max", cfg.Coordinator.PoolMax),
	)

	coord := NewCoordinator(cfg, logger)

	metrics := monitoring.NewMetrics(func() pool.Stats { return coord.Stats().Pool })
	coord.SetObserver(metrics)
	logger.Info("Performance monitoring initialized")

	hub := ws.NewHub(64)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(coord, hub, logger.Named("api"))
	wsHandler := ws.NewHandler(hub, coord, metrics, logger.Named("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	v1.GET("/pool", handlers.Pool)
	v1.POST("/registrations", handlers.Register)
	v1.GET("/registrations/:id", handlers.GetRegistration)
	v1.DELETE("/registrations/:id", handlers.Unregister)
	v1.POST("/registrations/:id/call", handlers.Call)
	v1.POST("/registrations/:id/request", handlers.Request)
	v1.GET("/registrations/:id/events", wsHandler.Stream)

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		handler: compress(router, cfg.Server.Compress),
		coord:   coord,
		hub:     hub,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// compress gzips responses except websocket upgrades, which must reach the
// router with a hijackable writer.
func compress(next http.Handler, enabled bool) http.Handler {
	if !enabled {
		return next
	}
	gz := gzhttp.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Coordinator returns the coordinator served by s
func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Addr returns the listening address once Run has started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{Handler: s.handler}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("Starting HTTP server", zap.Stringer("addr", ln.Addr()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout())
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// Close releases every context and flushes the logger
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	if err := s.coord.Close(); err != nil {
		s.logger.Error("Failed to close coordinator", zap.Error(err))
		return fmt.Errorf("failed to close coordinator: %w", err)
	}

	_ = s.logger.Sync()
	return nil
}
