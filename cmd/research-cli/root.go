package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/observer"
)

type rootOptions struct {
	APIURL   string
	Timeout  time.Duration
	LogLevel string

	// Observer supplies the defaults for --interval, --max-wait and --jitter.
	Observer config.ObserverConfig

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	obsCfg, obsErr := loadObserverConfig()
	opts := &rootOptions{Observer: obsCfg}
	cmd := &cobra.Command{
		Use:           "research-cli",
		Short:         "Dispatch research jobs and watch them to completion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			opts.logger = newLogger(cmd.ErrOrStderr(), opts.LogLevel)
			return obsErr
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.APIURL, "api", envOr("RESEARCH_API_URL", "http://localhost:8080"), "research API base URL")
	flags.DurationVar(&opts.Timeout, "request-timeout", 15*time.Second, "timeout for each API request")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newDispatchCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newCallbackCmd(opts),
		newMigrateCmd(opts),
	)
	return cmd
}

func (o *rootOptions) client() (*observer.APIClient, error) {
	return observer.NewAPIClient(observer.ClientConfig{
		BaseURL: o.APIURL,
		Timeout: o.Timeout,
		Logger:  o.logger,
	})
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// loadDotenv reads .env when present. Variables already set win.
func loadDotenv() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *fs.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

// loadObserverConfig reads OBSERVER_* the same way the server reads its
// config. On error the built-in defaults are returned with the error.
func loadObserverConfig() (config.ObserverConfig, error) {
	defaults := config.ObserverConfig{
		PollInterval: observer.DefaultInterval,
		MaxWait:      observer.DefaultMaxWait,
	}
	if err := loadDotenv(); err != nil {
		return defaults, err
	}
	var cfg config.ObserverConfig
	if err := env.Parse(&cfg); err != nil {
		return defaults, fmt.Errorf("parse observer config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}
