// Package observer follows a research job from dispatch to a terminal state
// within a bounded wait. It polls the status endpoint on a fixed interval, or
// follows the websocket change stream and falls back to polling when the
// stream is unavailable.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/target/mmk-research-api/internal/domain/model"
)

// Phase is the client-local state of an observed job.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseProcessing   Phase = "processing"
	PhaseCompleting   Phase = "completing"
	PhaseComplete     Phase = "complete"
	PhaseError        Phase = "error"
)

// IsTerminal reports whether the observer stops after entering p.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}

var (
	// ErrTimeout is reported when the job is still running after MaxWait.
	ErrTimeout = errors.New("timed out waiting for research job")
	// ErrNotFound is reported when the server does not know the job.
	ErrNotFound = errors.New("research job not found")
	// ErrTransient marks request failures that do not end observation.
	ErrTransient = errors.New("transient status failure")
	// ErrJobFailed is reported when the job reached the error status.
	ErrJobFailed = errors.New("research job failed")
)

// Snapshot is one observed transition.
type Snapshot struct {
	Phase       Phase
	JobID       string
	Status      model.JobStatus
	Payload     json.RawMessage
	ErrorDetail *string
	// Err is set for PhaseError.
	Err     error
	Elapsed time.Duration
}

// Default observer cadence.
const (
	DefaultInterval = 3 * time.Second
	DefaultMaxWait  = 300 * time.Second
)

// Options tune an Observer.
type Options struct {
	Interval time.Duration
	MaxWait  time.Duration
	// Jitter is the standard deviation of the random offset applied to each poll.
	Jitter time.Duration
	// Stream, when set, follows the change stream before falling back to polling.
	Stream Stream
	Logger *slog.Logger
}

// StatusSource answers status queries for a job.
type StatusSource interface {
	GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error)
}

// JobStarter dispatches a new job.
type JobStarter interface {
	StartJob(ctx context.Context, req model.StartJobRequest) (*model.StartJobResult, error)
}

// Stream delivers the job record at subscribe time and after every change.
// The channel is closed when the stream ends for any reason.
type Stream interface {
	Subscribe(ctx context.Context, jobID string) (<-chan model.ResearchJob, error)
}

// Observer reduces a job into a bounded sequence of phase transitions.
type Observer struct {
	starter JobStarter
	status  StatusSource
	opts    Options
	logger  *slog.Logger
}

// New builds an Observer. starter may be nil when only Watch is used.
func New(starter JobStarter, status StatusSource, opts Options) (*Observer, error) {
	if status == nil {
		return nil, errors.New("status source is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	if opts.Jitter < 0 || opts.Jitter >= opts.Interval {
		opts.Jitter = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{
		starter: starter,
		status:  status,
		opts:    opts,
		logger:  logger.With("component", "observer"),
	}, nil
}

// Start dispatches req and observes the resulting job.
func (o *Observer) Start(ctx context.Context, req model.StartJobRequest) (*Handle, error) {
	if o.starter == nil {
		return nil, errors.New("observer has no job starter")
	}
	h := newHandle(ctx)
	go o.run(h, func(ctx context.Context) (string, error) {
		res, err := o.starter.StartJob(ctx, req)
		if err != nil {
			return "", fmt.Errorf("start job: %w", err)
		}
		return res.JobID, nil
	})
	return h, nil
}

// Watch observes an already dispatched job.
func (o *Observer) Watch(ctx context.Context, jobID string) *Handle {
	h := newHandle(ctx)
	h.setJobID(jobID)
	go o.run(h, nil)
	return h
}

func (o *Observer) run(h *Handle, start func(context.Context) (string, error)) {
	defer h.finish()
	ctx := h.ctx

	if start != nil {
		h.emit(Snapshot{Phase: PhaseInitializing})
		jobID, err := start(ctx)
		if err != nil {
			h.emit(Snapshot{Phase: PhaseError, Err: err})
			return
		}
		h.setJobID(jobID)
	}

	began := time.Now()
	budget, cancel := context.WithTimeout(ctx, o.opts.MaxWait)
	defer cancel()

	t := &tracker{h: h, began: began}
	t.emit(Snapshot{Phase: PhaseProcessing, Status: model.JobStatusProcessing})

	if o.opts.Stream != nil && o.follow(budget, t) {
		return
	}
	o.poll(budget, t)
}

// follow consumes the change stream. It returns true once a terminal
// snapshot has been emitted.
func (o *Observer) follow(ctx context.Context, t *tracker) bool {
	updates, err := o.opts.Stream.Subscribe(ctx, t.h.JobID())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			t.fail(ErrNotFound, nil)
			return true
		}
		if ctx.Err() != nil {
			t.stop(ctx, t.h.ctx)
			return true
		}
		o.logger.WarnContext(ctx, "change stream unavailable, polling instead", "job_id", t.h.JobID(), "error", err)
		return false
	}

	for {
		select {
		case <-ctx.Done():
			t.stop(ctx, t.h.ctx)
			return true
		case job, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					t.stop(ctx, t.h.ctx)
					return true
				}
				o.logger.InfoContext(ctx, "change stream ended before a terminal state, polling instead", "job_id", t.h.JobID())
				return false
			}
			if t.apply(model.StatusFromJob(&job)) {
				return true
			}
		}
	}
}

func (o *Observer) poll(ctx context.Context, t *tracker) {
	ticker := jitterbug.New(o.opts.Interval, &jitterbug.Norm{Stdev: o.opts.Jitter})
	defer ticker.Stop()

	for {
		if o.check(ctx, t) {
			return
		}
		select {
		case <-ctx.Done():
			t.stop(ctx, t.h.ctx)
			return
		case <-ticker.C:
		}
	}
}

// check issues one status request. It returns true when observation is over.
func (o *Observer) check(ctx context.Context, t *tracker) bool {
	resp, err := o.status.GetStatus(ctx, t.h.JobID())
	switch {
	case err == nil:
		return t.apply(resp)
	case isNotFound(err):
		t.fail(ErrNotFound, nil)
		return true
	case ctx.Err() != nil:
		t.stop(ctx, t.h.ctx)
		return true
	default:
		o.logger.WarnContext(ctx, "status request failed", "job_id", t.h.JobID(), "error", err)
		return false
	}
}

// tracker emits snapshots stamped with the job ID and the elapsed budget.
type tracker struct {
	h     *Handle
	began time.Time
}

func (t *tracker) emit(s Snapshot) {
	s.JobID = t.h.JobID()
	s.Elapsed = time.Since(t.began)
	t.h.emit(s)
}

func (t *tracker) fail(err error, detail *string) {
	t.emit(Snapshot{Phase: PhaseError, Err: err, ErrorDetail: detail})
}

// stop reports why the budget context ended: the caller cancelled, or MaxWait elapsed.
func (t *tracker) stop(budget, parent context.Context) {
	if err := parent.Err(); err != nil {
		t.fail(err, nil)
		return
	}
	if errors.Is(budget.Err(), context.DeadlineExceeded) {
		t.fail(ErrTimeout, nil)
		return
	}
	t.fail(budget.Err(), nil)
}

// apply folds one status reading into the phase machine.
func (t *tracker) apply(resp *model.StatusResponse) bool {
	switch resp.Status {
	case model.JobStatusCompleted:
		t.emit(Snapshot{Phase: PhaseCompleting, Status: resp.Status, Payload: resp.Payload})
		t.emit(Snapshot{Phase: PhaseComplete, Status: resp.Status, Payload: resp.Payload})
		return true
	case model.JobStatusError:
		t.emit(Snapshot{Phase: PhaseError, Status: resp.Status, ErrorDetail: resp.ErrorDetail, Err: ErrJobFailed})
		return true
	default:
		return false
	}
}
