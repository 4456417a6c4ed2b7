package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
	"github.com/target/mmk-research-api/internal/observability/metrics"
	"github.com/target/mmk-research-api/internal/validation"
)

// CallbackTarget tells the engine where and how to report a job outcome.
type CallbackTarget struct {
	// BaseURL is the externally reachable prefix of this service.
	BaseURL string
	// Secret is echoed back by the engine as the callback credential.
	Secret string
}

// AddressFor returns the callback URL for a job.
func (t CallbackTarget) AddressFor(jobID string) (string, error) {
	return url.JoinPath(t.BaseURL, "api", "jobs", jobID, "callback")
}

// DispatcherOptions groups dependencies for Dispatcher.
type DispatcherOptions struct {
	Repo     core.JobRepository  // Required: job store
	Engine   core.WorkflowEngine // Required: workflow engine trigger
	Callback CallbackTarget      // Required: callback address and credential
	Feed     core.ChangeFeed     // Optional: change notifications
	Logger   *slog.Logger        // Optional: structured logger
	Metrics  *metrics.Recorder   // Optional: job metrics

	// TriggerTimeout bounds the engine trigger, which outlives the caller's
	// request. Defaults to defaultTriggerTimeout.
	TriggerTimeout time.Duration
}

const defaultTriggerTimeout = 15 * time.Second

// Dispatcher starts research jobs on the workflow engine without waiting for them.
type Dispatcher struct {
	repo     core.JobRepository
	engine   core.WorkflowEngine
	callback CallbackTarget
	feed     core.ChangeFeed
	logger   *slog.Logger
	metrics  *metrics.Recorder

	triggerTimeout time.Duration
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("WorkflowEngine is required")
	}
	if opts.Callback.Secret == "" {
		return nil, errors.New("callback secret is required")
	}
	base, err := url.Parse(opts.Callback.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("callback base url must be absolute: %q", opts.Callback.BaseURL)
	}

	return &Dispatcher{
		repo:     opts.Repo,
		engine:   opts.Engine,
		callback: opts.Callback,
		feed:     opts.Feed,
		logger:   loggerOrDefault(opts.Logger).With("component", "dispatcher"),
		metrics:  opts.Metrics,

		triggerTimeout: cmp.Or(max(opts.TriggerTimeout, 0), defaultTriggerTimeout),
	}, nil
}

// StartJob creates the job if needed, fires the engine trigger and returns at once.
// Only malformed requests and store failures before the trigger are reported;
// everything after the trigger is attempted is logged and swallowed.
func (d *Dispatcher) StartJob(ctx context.Context, req model.StartJobRequest) (*model.StartJobResult, error) {
	if err := validation.Struct(&req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.ValidationField("input", err.Error())
	}

	jobID := uuid.NewString()
	if req.JobID != "" {
		jobID = strings.ToLower(req.JobID)
	}

	job, created, err := d.repo.CreateIfAbsent(ctx, core.CreateJobParams{ID: jobID, Input: req.Input})
	if err != nil {
		d.metrics.Transition(metrics.JobMetric{Transition: metrics.TransitionCreate, Result: metrics.ResultError, Err: err})
		return nil, fmt.Errorf("start job: %w", apperrors.MapDBError(err))
	}
	if created {
		d.metrics.Transition(metrics.JobMetric{Transition: metrics.TransitionCreate, Result: metrics.ResultSuccess})
		publishChange(ctx, d.feed, d.logger, jobID)
	} else if job.Status != model.JobStatusPending {
		return nil, apperrors.ValidationField("jobId",
			fmt.Sprintf("job %s was already dispatched (status %s)", jobID, job.Status))
	}

	outcome := d.trigger(ctx, jobID, req.Input)
	d.markProcessing(ctx, jobID)

	return &model.StartJobResult{JobID: jobID, Accepted: true, Trigger: outcome.Result.String()}, nil
}

// trigger runs detached from ctx's cancellation so a client that hangs up
// mid-dispatch does not abort the engine call.
func (d *Dispatcher) trigger(ctx context.Context, jobID string, input []byte) core.TriggerOutcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.triggerTimeout)
	defer cancel()

	address, err := d.callback.AddressFor(jobID)
	if err != nil {
		outcome := core.TriggerOutcome{Result: core.TriggerTransportFailed, Err: err}
		d.logTriggerFailure(ctx, jobID, outcome, 0)
		return outcome
	}

	start := time.Now()
	outcome := d.engine.Trigger(ctx, core.TriggerRequest{
		JobID:              jobID,
		Input:              input,
		CallbackAddress:    address,
		CallbackCredential: d.callback.Secret,
	})
	elapsed := time.Since(start)

	if !outcome.Sent() {
		d.logTriggerFailure(ctx, jobID, outcome, elapsed)
		return outcome
	}
	d.metrics.Transition(metrics.JobMetric{
		Transition: metrics.TransitionTrigger,
		Result:     metrics.ResultSuccess,
		Duration:   elapsed,
	})
	d.logger.InfoContext(ctx, "research job triggered", "job_id", jobID, "duration", elapsed)
	return outcome
}

func (d *Dispatcher) logTriggerFailure(ctx context.Context, jobID string, outcome core.TriggerOutcome, elapsed time.Duration) {
	d.metrics.Transition(metrics.JobMetric{
		Transition: metrics.TransitionTrigger,
		Result:     metrics.ResultError,
		Duration:   elapsed,
		Err:        outcome.Err,
	})
	d.logger.WarnContext(ctx, "engine trigger failed; job left for callback or client timeout",
		"job_id", jobID,
		"outcome", outcome.Result.String(),
		"error", outcome.Err,
	)
}

// markProcessing is best-effort: the trigger has already been attempted.
func (d *Dispatcher) markProcessing(ctx context.Context, jobID string) {
	ctx = context.WithoutCancel(ctx)
	advanced, err := d.repo.MarkProcessing(ctx, jobID)
	switch {
	case err != nil:
		d.metrics.Transition(metrics.JobMetric{Transition: metrics.TransitionProcessing, Result: metrics.ResultError, Err: err})
		d.logger.WarnContext(ctx, "mark job processing failed", "job_id", jobID, "error", err)
	case !advanced:
		// A fast callback may already have written the terminal state.
		d.metrics.Transition(metrics.JobMetric{Transition: metrics.TransitionProcessing, Result: metrics.ResultNoop})
		d.logger.DebugContext(ctx, "job no longer pending; processing mark skipped", "job_id", jobID)
	default:
		d.metrics.Transition(metrics.JobMetric{Transition: metrics.TransitionProcessing, Result: metrics.ResultSuccess})
		publishChange(ctx, d.feed, d.logger, jobID)
	}
}
