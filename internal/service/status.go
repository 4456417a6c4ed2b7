package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
)

// StatusReconcilerOptions groups dependencies for StatusReconciler.
type StatusReconcilerOptions struct {
	Repo   core.JobRepository // Required: job store
	Logger *slog.Logger       // Optional: structured logger
}

// StatusReconciler answers status queries. It never writes.
type StatusReconciler struct {
	repo   core.JobRepository
	logger *slog.Logger
}

// NewStatusReconciler constructs a StatusReconciler.
func NewStatusReconciler(opts StatusReconcilerOptions) (*StatusReconciler, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	return &StatusReconciler{
		repo:   opts.Repo,
		logger: loggerOrDefault(opts.Logger).With("component", "status_reconciler"),
	}, nil
}

// GetStatus returns the current status view of a job. A malformed ID is reported
// as not found without querying the store.
func (s *StatusReconciler) GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	resp := model.StatusFromJob(job)
	if resp.Inferred {
		s.logger.DebugContext(ctx, "returning inferred job status",
			"job_id", job.ID,
			"status", resp.Status,
			"inferred", true,
		)
	}
	return resp, nil
}

// GetJob returns the full job record.
func (s *StatusReconciler) GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", apperrors.MapDBError(err))
	}
	return job, nil
}
