// Package api exposes the fetch client over HTTP.
// Callers post a request document and receive the response envelope, or the
// upstream body streamed through when the document asks for it.
// Configuration reloads are applied through UpdateConfig without a restart.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/Aslarex/go-curl2/internal/config"
	"github.com/Aslarex/go-curl2/internal/fetch"
	log "github.com/Aslarex/go-curl2/internal/logging"
	"github.com/gin-gonic/gin"
)

const defaultReadHeaderTimeout = 10 * time.Second

type serverOptionConfig struct {
	extraMiddleware    []gin.HandlerFunc
	engineConfigurator func(*gin.Engine)
	localPassword      string
	keepAliveEnabled   bool
	keepAliveTimeout   time.Duration
	keepAliveOnTimeout func()
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithEngineConfigurator allows callers to mutate the Gin engine prior to middleware setup.
func WithEngineConfigurator(fn func(*gin.Engine)) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.engineConfigurator = fn
	}
}

// WithLocalPassword stores a runtime-only password accepted by the keep-alive endpoint.
func WithLocalPassword(password string) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.localPassword = password
	}
}

// WithKeepAliveEndpoint enables a keep-alive endpoint with the provided timeout and callback.
func WithKeepAliveEndpoint(timeout time.Duration, onTimeout func()) ServerOption {
	return func(cfg *serverOptionConfig) {
		if timeout <= 0 || onTimeout == nil {
			return
		}
		cfg.keepAliveEnabled = true
		cfg.keepAliveTimeout = timeout
		cfg.keepAliveOnTimeout = onTimeout
	}
}

// Server is the HTTP front of a fetch.Client.
type Server struct {
	engine *gin.Engine
	server *http.Server
	client *fetch.Client

	// cfg holds the configuration last applied.
	cfg atomic.Pointer[config.Config]

	// apiKeys is replaced wholesale on reload; nil or empty disables auth.
	apiKeys atomic.Pointer[[]string]

	localPassword string

	keepAlive *heartbeat
}

// NewServer creates a server for client configured by cfg.
func NewServer(cfg *config.Config, client *fetch.Client, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	if optionState.engineConfigurator != nil {
		optionState.engineConfigurator(engine)
	}

	engine.Use(log.GinLogger())
	engine.Use(log.GinRecovery())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s := &Server{
		engine:        engine,
		client:        client,
		localPassword: optionState.localPassword,
	}
	s.cfg.Store(cfg)
	s.setAPIKeys(cfg.Server.APIKeys)
	s.setupRoutes()
	if optionState.keepAliveEnabled {
		s.enableKeepAlive(optionState.keepAliveTimeout, optionState.keepAliveOnTimeout)
	}

	readHeaderTimeout := cfg.Server.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = defaultReadHeaderTimeout
	}
	s.server = &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the routed engine, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	log.Infof("API server listening on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping API server...")

	if s.keepAlive != nil {
		s.keepAlive.stop()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}

	log.Debug("API server stopped")
	return nil
}

// UpdateConfig applies a reloaded configuration: log settings, API keys and
// the client's request defaults. The listen address is fixed at construction.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	oldCfg := s.cfg.Load()

	if oldCfg == nil || oldCfg.Debug != cfg.Debug {
		log.SetDebug(cfg.Debug)
	}
	if oldCfg == nil || oldCfg.LoggingToFile != cfg.LoggingToFile || oldCfg.LogDir != cfg.LogDir || oldCfg.LogRotation != cfg.LogRotation {
		if err := log.ConfigureLogOutput(cfg); err != nil {
			log.WithError(err).Error("failed to reconfigure log output")
		}
	}
	if oldCfg != nil && oldCfg.Server.Listen != cfg.Server.Listen {
		log.Warnf("listen address changed to %s; restart to apply", cfg.Server.Listen)
	}
	if oldCfg == nil || !slices.Equal(oldCfg.Server.APIKeys, cfg.Server.APIKeys) {
		s.setAPIKeys(cfg.Server.APIKeys)
		log.Debugf("API keys updated (%d configured)", len(cfg.Server.APIKeys))
	}
	if err := s.client.Reconfigure(cfg); err != nil {
		log.WithError(err).Error("rejected reloaded request defaults; keeping previous settings")
	} else {
		s.cfg.Store(cfg)
	}
}

func (s *Server) setAPIKeys(keys []string) {
	cp := slices.Clone(keys)
	s.apiKeys.Store(&cp)
}
