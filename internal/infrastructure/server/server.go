package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	apihttp "github.com/GriffinCanCode/AgentOS/fsbridge/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/bridge"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/persistence"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/providers/localdir"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	bridge   *bridge.Bridge
	provider *localdir.Provider
	store    *persistence.FileStore
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	return newServer(cfg, logger)
}

func newServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Initializing fsbridge server",
		zap.String("addr", cfg.Addr()),
		zap.String("state_path", cfg.Bridge.StatePath),
	)

	// Metrics first; the bridge and the API report into them
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("fsbridge", logger.Logger)

	s := &Server{
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}

	var store bridge.StateStore
	if cfg.Bridge.StatePath != "" {
		fileStore, err := persistence.NewFileStore(cfg.Bridge.StatePath, cfg.Bridge.StateBackups, logger.Component("state"))
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("open state store: %w", err)
		}
		s.store = fileStore
		store = fileStore
	}

	breaker := resilience.New("provider", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.Bridge.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Bridge.BreakerFailures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Provider circuit changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	s.bridge = bridge.New(bridge.Options{
		Logger:       logger.Component("bridge"),
		Metrics:      metrics,
		Store:        store,
		Breaker:      breaker,
		EventBuffer:  cfg.Bridge.EventBuffer,
		EventHistory: cfg.Bridge.EventHistory,
	})

	if s.store != nil {
		restored, err := s.bridge.Restore(context.Background())
		if err != nil {
			logger.Warn("Failed to restore persistent mounts", zap.Error(err))
		} else if restored > 0 {
			logger.Info("Persistent mounts restored", zap.Int("count", restored))
		}
	}

	if err := s.startLocalProvider(); err != nil {
		_ = s.closeBackends()
		return nil, err
	}

	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// startLocalProvider serves the configured directories. Without any, the
// provider slot stays free for a remote provider on /provider.
func (s *Server) startLocalProvider() error {
	specs, err := s.config.Mounts()
	if err != nil {
		return fmt.Errorf("load mounts: %w", err)
	}
	if len(specs) == 0 {
		s.logger.Info("No local mounts configured, waiting for a remote provider")
		return nil
	}

	roots := make([]localdir.Root, 0, len(specs))
	for _, spec := range specs {
		roots = append(roots, localdir.Root{
			Options: spec.Options(),
			Dir:     spec.Root,
			Ignore:  spec.Ignore,
		})
	}

	provider, err := localdir.New(s.bridge, roots, localdir.Options{
		Logger:    s.logger.Logger,
		PageSize:  s.config.Provider.PageSize,
		ReadChunk: s.config.Provider.ReadChunk,
	})
	if err != nil {
		return fmt.Errorf("local provider: %w", err)
	}
	if err := s.bridge.AttachProvider(provider); err != nil {
		_ = provider.Close()
		return fmt.Errorf("attach local provider: %w", err)
	}
	if err := provider.Start(); err != nil {
		s.logger.Warn("Some local mounts failed", zap.Error(err))
	}
	s.provider = provider

	s.logger.Info("Local provider started", zap.Int("roots", len(roots)))
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = s.config.RateLimit.RequestsPerSecond
		limits.Burst = s.config.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}
	router.Use(middleware.Gzip(middleware.DefaultGzipConfig()))

	handlers := apihttp.NewHandlers(apihttp.Options{
		Bridge:  s.bridge,
		Metrics: s.metrics,
		Logger:  s.logger.Component("http"),
		Level:   &s.logger.Level,
		Timeout: s.config.Bridge.RequestTimeout,
	})
	handlers.Register(router)

	gateway := ws.NewGateway(ws.Options{
		Bridge:         s.bridge,
		Metrics:        s.metrics,
		Logger:         s.logger.Component("ws"),
		AllowedOrigins: middleware.DefaultCORSConfig().AllowOrigins,
	})
	gateway.Register(router)

	return router
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Bridge exposes the bridge the server fronts
func (s *Server) Bridge() *bridge.Bridge {
	return s.bridge
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close
func (s *Server) Serve(ln net.Listener) error {
	if n := s.config.Server.MaxConnections; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	s.logger.Info("Starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.config.Server.MaxConnections),
	)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := s.closeBackends(); err != nil {
		errs = append(errs, err)
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func (s *Server) closeBackends() error {
	var errs []error
	if s.provider != nil {
		s.bridge.DetachProvider(s.provider)
		if err := s.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local provider: %w", err))
		}
		s.logger.Info("Closed local provider")
	}
	if s.bridge != nil {
		s.bridge.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close state store: %w", err))
		}
	}
	s.tracer.Close()
	return errors.Join(errs...)
}
