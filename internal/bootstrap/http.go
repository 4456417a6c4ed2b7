package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/core"
	httpx "github.com/target/mmk-research-api/internal/http"
)

// NewHTTPHandler builds the API router for the job services in c.
func NewHTTPHandler(cfg config.HTTPConfig, c ServiceContainer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	services := httpx.RouterServices{
		Dispatcher:     c.Dispatcher,
		Callbacks:      c.Callbacks,
		Status:         c.Status,
		MetricsHandler: c.Observability.MetricsHandler,
		Collectors:     c.Observability.Collectors,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Logger:         logger,
	}
	if c.Hub != nil {
		services.Changes = c.Hub
	}
	return httpx.NewRouter(services)
}

// NewHTTPServer configures an http.Server. There is no write timeout because
// watch streams stay open for as long as the client observes a job.
func NewHTTPServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ServeHTTP listens on server.Addr and serves until Shutdown. ready, when
// non-nil, receives the bound address once the listener is open.
func ServeHTTP(ctx context.Context, server *http.Server, logger *slog.Logger, ready chan<- net.Addr) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting HTTP server", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr()
	}
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	// Changes is stopped first so watch handlers return before Shutdown waits on them.
	Changes core.ChangeSubscriber
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down HTTP server")

	if cfg.Changes != nil {
		cfg.Changes.StopAll()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	shutdownCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("HTTP server stopped")
	return nil
}
