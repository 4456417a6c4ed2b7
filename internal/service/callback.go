package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-research-api/internal/core"
	domainjob "github.com/target/mmk-research-api/internal/domain/job"
	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
	"github.com/target/mmk-research-api/internal/observability/metrics"
	"github.com/target/mmk-research-api/internal/observability/notify"
	"github.com/target/mmk-research-api/internal/service/failurenotifier"
	"github.com/target/mmk-research-api/internal/validation"
)

// CallbackReceiverOptions groups dependencies for CallbackReceiver.
type CallbackReceiverOptions struct {
	Repo            core.JobRepository       // Required: job store
	Secret          string                   // Required: expected callback credential
	Feed            core.ChangeFeed          // Optional: change notifications
	Logger          *slog.Logger             // Optional: structured logger
	Metrics         *metrics.Recorder        // Optional: job metrics
	FailureNotifier *failurenotifier.Service // Optional: alert fan-out
}

// ReceiveCallbackParams is one inbound callback from the workflow engine.
type ReceiveCallbackParams struct {
	JobID      string
	Credential string
	Result     model.CallbackResult
	// RemoteAddr is recorded on security events.
	RemoteAddr string
}

// CallbackReceiver applies the single terminal transition of a job.
type CallbackReceiver struct {
	repo     core.JobRepository
	secret   []byte
	feed     core.ChangeFeed
	logger   *slog.Logger
	metrics  *metrics.Recorder
	notifier *failurenotifier.Service
}

// NewCallbackReceiver constructs a CallbackReceiver.
func NewCallbackReceiver(opts CallbackReceiverOptions) (*CallbackReceiver, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Secret == "" {
		return nil, errors.New("callback secret is required")
	}
	return &CallbackReceiver{
		repo:     opts.Repo,
		secret:   []byte(opts.Secret),
		feed:     opts.Feed,
		logger:   loggerOrDefault(opts.Logger).With("component", "callback_receiver"),
		metrics:  opts.Metrics,
		notifier: opts.FailureNotifier,
	}, nil
}

// Receive authorizes and applies a callback. A callback for a job that is already
// terminal is acknowledged without touching the stored outcome.
func (c *CallbackReceiver) Receive(ctx context.Context, params ReceiveCallbackParams) (*model.CallbackAck, error) {
	if err := c.Authorize(ctx, params); err != nil {
		return nil, err
	}

	result := params.Result
	if err := validation.Struct(&result); err != nil {
		c.metrics.Callback(metrics.CallbackInvalid)
		return nil, err
	}
	if err := result.Validate(); err != nil {
		c.metrics.Callback(metrics.CallbackInvalid)
		return nil, apperrors.Validation(err.Error())
	}

	job, err := c.load(ctx, params.JobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.metrics.Callback(metrics.CallbackNotFound)
		}
		return nil, err
	}
	if job.Status.IsTerminal() {
		return c.duplicate(ctx, job, &result), nil
	}
	if err := domainjob.CheckTransition(job.Status, result.TargetStatus()); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "unexpected job state")
	}

	applied, err := c.apply(ctx, job.ID, &result)
	if err != nil {
		c.metrics.Transition(metrics.JobMetric{Transition: transitionFor(&result), Result: metrics.ResultError, Err: err})
		return nil, fmt.Errorf("apply callback: %w", apperrors.MapDBError(err))
	}
	if !applied {
		// Lost a race with a concurrent callback; the winner's outcome stands.
		current, loadErr := c.load(ctx, job.ID)
		if loadErr != nil {
			c.logger.WarnContext(ctx, "reload after lost callback race failed", "job_id", job.ID, "error", loadErr)
			c.metrics.Callback(metrics.CallbackDuplicate)
			return &model.CallbackAck{Success: true, Duplicate: true}, nil
		}
		return c.duplicate(ctx, current, &result), nil
	}

	c.applied(ctx, job, &result)
	return &model.CallbackAck{Success: true, Applied: true}, nil
}

// Authorize checks the callback credential without touching the job. A rejected
// credential is recorded as a security event.
func (c *CallbackReceiver) Authorize(ctx context.Context, params ReceiveCallbackParams) error {
	if subtle.ConstantTimeCompare([]byte(params.Credential), c.secret) == 1 {
		return nil
	}
	c.rejectCredential(ctx, params)
	return apperrors.Unauthorized("invalid callback credential")
}

func (c *CallbackReceiver) load(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, apperrors.NotFoundf("job %s not found", jobID)
	}
	job, err := c.repo.GetByID(ctx, jobID)
	if errors.Is(err, core.ErrJobNotFound) {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeNotFound, "job %s not found", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", apperrors.MapDBError(err))
	}
	return job, nil
}

func (c *CallbackReceiver) apply(ctx context.Context, jobID string, result *model.CallbackResult) (bool, error) {
	if result.Succeeded() {
		return c.repo.Complete(ctx, core.CompleteJobParams{ID: jobID, Payload: result.Data})
	}
	return c.repo.Fail(ctx, core.FailJobParams{ID: jobID, ErrorDetail: result.ErrorDetail})
}

func (c *CallbackReceiver) applied(ctx context.Context, job *model.ResearchJob, result *model.CallbackResult) {
	var elapsed time.Duration
	if job.DispatchedAt != nil {
		elapsed = time.Since(*job.DispatchedAt)
	}
	c.metrics.Callback(metrics.CallbackApplied)
	c.metrics.Transition(metrics.JobMetric{
		Transition: transitionFor(result),
		Result:     metrics.ResultSuccess,
		Duration:   elapsed,
	})
	c.logger.InfoContext(ctx, "job reached terminal state",
		"job_id", job.ID,
		"from", job.Status,
		"status", result.TargetStatus(),
	)

	publishChange(ctx, c.feed, c.logger, job.ID)

	if !result.Succeeded() {
		c.alert(ctx, notify.Event{
			Kind:       notify.KindJobFailure,
			JobID:      job.ID,
			Error:      result.ErrorDetail,
			ErrorClass: "engine_reported",
			Severity:   notify.SeverityCritical,
		})
	}
}

func (c *CallbackReceiver) duplicate(
	ctx context.Context,
	stored *model.ResearchJob,
	result *model.CallbackResult,
) *model.CallbackAck {
	ack := &model.CallbackAck{Success: true, Duplicate: true}
	if domainjob.OutcomeMatches(stored, result) {
		c.metrics.Callback(metrics.CallbackDuplicate)
		c.logger.InfoContext(ctx, "duplicate callback ignored", "job_id", stored.ID, "status", stored.Status)
		return ack
	}
	ack.Conflicting = true
	c.metrics.Callback(metrics.CallbackConflicting)
	c.logger.WarnContext(ctx, "conflicting duplicate callback",
		"job_id", stored.ID,
		"status", stored.Status,
		"incoming_status", result.TargetStatus(),
	)
	return ack
}

func (c *CallbackReceiver) rejectCredential(ctx context.Context, params ReceiveCallbackParams) {
	c.metrics.Callback(metrics.CallbackUnauthorized)
	c.logger.WarnContext(ctx, "callback rejected: invalid credential",
		"security_event", true,
		"job_id", params.JobID,
		"remote_addr", params.RemoteAddr,
	)
	c.alert(ctx, notify.Event{
		Kind:     notify.KindSecurity,
		JobID:    params.JobID,
		Error:    "invalid callback credential",
		Severity: notify.SeverityWarning,
		Metadata: map[string]string{"remote_addr": params.RemoteAddr},
	})
}

// alert fans an event out without holding up the engine's callback request.
func (c *CallbackReceiver) alert(ctx context.Context, event notify.Event) {
	if !c.notifier.Enabled() {
		return
	}
	go c.notifier.Notify(context.WithoutCancel(ctx), event)
}

func transitionFor(result *model.CallbackResult) string {
	if result.Succeeded() {
		return metrics.TransitionComplete
	}
	return metrics.TransitionFail
}
