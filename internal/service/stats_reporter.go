package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lthibault/jitterbug/v2"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/domain/model"
	"github.com/target/mmk-research-api/internal/observability/metrics"
)

// JobStatsReader is the read-only slice of the job store the stats reporter needs.
type JobStatsReader interface {
	Stats(ctx context.Context) (*model.JobCounts, error)
}

// StatsReporterOptions groups dependencies for StatsReporter.
type StatsReporterOptions struct {
	Repo    JobStatsReader             // Required: job counts source
	Config  config.StatsReporterConfig // Required: sweep cadence
	Logger  *slog.Logger               // Optional: structured logger
	Metrics *metrics.Recorder          // Optional: gauge destination
}

// StatsReporter periodically gauges the number of jobs in each status.
type StatsReporter struct {
	repo    JobStatsReader
	config  config.StatsReporterConfig
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewStatsReporter constructs a StatsReporter.
func NewStatsReporter(opts StatsReporterOptions) (*StatsReporter, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobStatsReader is required")
	}
	if opts.Config.Interval <= 0 {
		return nil, fmt.Errorf("stats interval must be positive, got %s", opts.Config.Interval)
	}
	return &StatsReporter{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  loggerOrDefault(opts.Logger).With("component", "job_stats_reporter"),
		metrics: opts.Metrics,
	}, nil
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
// It returns nil on cancellation.
func (s *StatsReporter) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting job stats reporter",
		"interval", s.config.Interval,
		"jitter", s.config.Jitter,
	)

	ticker := jitterbug.New(s.config.Interval, &jitterbug.Norm{Stdev: s.config.Jitter})
	defer ticker.Stop()

	s.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "job stats reporter stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

// Sweep reads the current counts and publishes them as gauges.
func (s *StatsReporter) Sweep(ctx context.Context) (*model.JobCounts, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	counts, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read job stats: %w", err)
	}
	s.metrics.JobCounts(*counts)
	return counts, nil
}

func (s *StatsReporter) sweepAndLog(ctx context.Context) {
	counts, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.WarnContext(ctx, "job stats sweep failed", "error", err)
		return
	}
	s.logger.DebugContext(ctx, "job stats reported",
		"pending", counts.Pending,
		"processing", counts.Processing,
		"completed", counts.Completed,
		"errored", counts.Error,
		"unknown", counts.Unknown,
	)
}
