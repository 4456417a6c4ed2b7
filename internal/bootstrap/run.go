package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/target/mmk-research-api/config"
)

// ServiceOrchestrationConfig contains dependencies for running services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	// Ready, when set, receives the HTTP listener address.
	Ready chan<- net.Addr
}

// RunServicesWithShutdown starts all enabled services and blocks until ctx is
// cancelled, SIGINT or SIGTERM arrives, or a service fails. Shutdown stops the
// change hub, then the HTTP server, then background services.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	if enabled[config.ServiceModeHTTP] && cfg.Services.Dispatcher == nil {
		return errors.New("http service enabled without job services")
	}
	if enabled[config.ServiceModeJobStats] && cfg.Services.StatsReporter == nil {
		return errors.New("job-stats service enabled without a stats reporter")
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)

	// Background services outlive gctx until the HTTP server has drained.
	bgCtx, stopBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackground()

	if enabled[config.ServiceModeHTTP] {
		server := NewHTTPServer(cfg.Config.HTTP, NewHTTPHandler(cfg.Config.HTTP, cfg.Services, logger))
		g.Go(func() error {
			if err := ServeHTTP(gctx, server, logger, cfg.Ready); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			defer stopBackground()
			err := ShutdownHTTPServer(ShutdownConfig{
				Context: context.WithoutCancel(gctx),
				Server:  server,
				Changes: cfg.Services.Hub,
				Timeout: cfg.Config.HTTP.ShutdownTimeout,
				Logger:  logger,
			})
			if err != nil {
				return fmt.Errorf("http shutdown: %w", err)
			}
			return nil
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			stopBackground()
			return nil
		})
	}

	if enabled[config.ServiceModeJobStats] {
		reporter := cfg.Services.StatsReporter
		g.Go(func() error {
			logger.InfoContext(gctx, "background service started", "service", config.ServiceModeJobStats)
			if err := reporter.Run(bgCtx); err != nil {
				return fmt.Errorf("%s failed: %w", config.ServiceModeJobStats, err)
			}
			logger.Info("background service stopped", "service", config.ServiceModeJobStats)
			return nil
		})
	}

	err = g.Wait()
	if sigCtx.Err() != nil && ctx.Err() == nil {
		logger.Info("shutdown signal received")
	}
	return err
}
