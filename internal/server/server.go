package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/scanline/internal/api"
	"github.com/jackzampolin/scanline/internal/config"
	"github.com/jackzampolin/scanline/internal/home"
	"github.com/jackzampolin/scanline/internal/pipeline"
	"github.com/jackzampolin/scanline/internal/server/endpoints"
	"github.com/jackzampolin/scanline/internal/svcctx"
)

// PipelineFactory builds a pipeline from a settings snapshot. The CLI wires
// the Tesseract recognizer in here; tests inject fakes.
type PipelineFactory func(pipeline.Settings) (*pipeline.Pipeline, error)

// Server is the main Scanline HTTP server.
// It builds the OCR pipeline on start and rebuilds it when the config file
// changes.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	factory    PipelineFactory
	pipelines  *pipeline.Holder
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support.
	// Without one the pipeline is built from pipeline.DefaultSettings.
	ConfigManager *config.Manager
	// PipelineFactory builds the OCR pipeline (required)
	PipelineFactory PipelineFactory
	// Home is the scanline home directory
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PipelineFactory == nil {
		return nil, errors.New("pipeline factory is required")
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		factory:   cfg.PipelineFactory,
		pipelines: pipeline.NewHolder(nil),
		logger:    cfg.Logger,
	}
	s.services = &svcctx.Services{
		Pipelines: s.pipelines,
		Config:    cfg.ConfigManager,
		Logger:    cfg.Logger,
		Home:      cfg.Home,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		// Remote OCR can poll for several rounds per page batch.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Init builds the first pipeline and subscribes to config changes. Start
// calls it; it is exported so handlers can be exercised without a listener.
func (s *Server) Init() error {
	if s.pipelines.Load() != nil {
		return nil
	}

	settings := pipeline.DefaultSettings()
	if s.configMgr != nil {
		settings = s.configMgr.Get().Settings()
	}
	p, err := s.factory(settings)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	s.pipelines.Store(p)
	s.logger.Info("pipeline ready",
		"azure_configured", settings.AzureConfigured(),
		"offline", settings.Offline,
		"threshold", settings.ConfidenceThreshold)

	if s.configMgr != nil {
		s.configMgr.OnChange(s.reload)
	}
	return nil
}

// reload swaps in a pipeline built from cfg. Invocations in flight keep the
// pipeline they started with. A failed build keeps the previous pipeline.
func (s *Server) reload(cfg *config.Config) {
	p, err := s.factory(cfg.Settings())
	if err != nil {
		s.logger.Error("pipeline rebuild failed, keeping previous", "error", err)
		return
	}
	s.pipelines.Store(p)
	s.logger.Info("pipeline reloaded from config")
}

// Start starts the server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.Init(); err != nil {
		s.setNotRunning()
		return err
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address. Once started it is the bound
// address, which differs from the configured one for port 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Pipeline returns the current pipeline, or nil before Init.
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipelines.Load()
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := svcctx.WithServices(r.Context(), s.services)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the pipeline is built.
// Returns 503 Service Unavailable until it is.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pipelines.Load() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
