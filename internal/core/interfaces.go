package core

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/target/mmk-research-api/internal/domain/model"
)

// This file contains the ports between the research job services and their
// collaborators: the relational store, the external workflow engine and the
// change notification transport. Services depend on these interfaces, never on
// concrete implementations.

// ErrJobNotFound is returned by JobRepository reads when no job has the given ID.
var ErrJobNotFound = errors.New("job not found")

// JobRepository defines the job record store. Only the dispatcher writes
// pending/processing and only the callback receiver writes terminal states.
type JobRepository interface {
	// CreateIfAbsent inserts a pending job unless a row with the same ID exists.
	// The bool reports whether this call created it.
	CreateIfAbsent(ctx context.Context, params CreateJobParams) (*model.ResearchJob, bool, error)
	GetByID(ctx context.Context, id string) (*model.ResearchJob, error)
	// MarkProcessing advances a pending job. It returns false when the job was not pending.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// Complete and Fail apply the terminal transition once. They return false
	// when the job was already terminal.
	Complete(ctx context.Context, params CompleteJobParams) (bool, error)
	Fail(ctx context.Context, params FailJobParams) (bool, error)
	Stats(ctx context.Context) (*model.JobCounts, error)
}

// CreateJobParams groups parameters for JobRepository.CreateIfAbsent.
type CreateJobParams struct {
	ID    string
	Input json.RawMessage
}

// CompleteJobParams groups parameters for JobRepository.Complete.
type CompleteJobParams struct {
	ID      string
	Payload json.RawMessage
}

// FailJobParams groups parameters for JobRepository.Fail.
type FailJobParams struct {
	ID          string
	ErrorDetail string
}

// TriggerRequest is the body sent to the workflow engine.
type TriggerRequest struct {
	JobID              string          `json:"jobId"`
	Input              json.RawMessage `json:"input"`
	CallbackAddress    string          `json:"callbackAddress"`
	CallbackCredential string          `json:"callbackCredential"`
}

// TriggerResult distinguishes a trigger accepted for transport from one that
// never reached the engine.
type TriggerResult int

const (
	// TriggerSent means the engine acknowledged the request with a 2xx.
	TriggerSent TriggerResult = iota + 1
	// TriggerTransportFailed means the request failed or was rejected.
	TriggerTransportFailed
)

func (r TriggerResult) String() string {
	switch r {
	case TriggerSent:
		return "sent"
	case TriggerTransportFailed:
		return "transport_failed"
	default:
		return "unknown"
	}
}

// TriggerOutcome is the explicit result of a fire-and-forget trigger.
type TriggerOutcome struct {
	Result TriggerResult
	// Err is set when Result is TriggerTransportFailed.
	Err error
}

// Sent reports whether the trigger was accepted for transport.
func (o TriggerOutcome) Sent() bool { return o.Result == TriggerSent }

// WorkflowEngine starts research runs on the external engine. Trigger never
// waits for the run itself, only for transport acceptance.
type WorkflowEngine interface {
	Trigger(ctx context.Context, req TriggerRequest) TriggerOutcome
}

// ChangeListenOptions configures a ChangeFeed listener.
type ChangeListenOptions struct {
	// OnReady is called each time the listener is (re)subscribed, before any
	// OnChange for that subscription.
	OnReady func()
	// OnChange is called with the ID of each job that changed.
	OnChange func(jobID string)
}

// ChangeFeed carries job change notifications between processes.
type ChangeFeed interface {
	Publish(ctx context.Context, jobID string) error
	// Listen blocks delivering notifications until ctx is done or the
	// underlying subscription fails.
	Listen(ctx context.Context, opts ChangeListenOptions) error
}

// ChangeSubscriber hands out per-job streams of updated records.
type ChangeSubscriber interface {
	Subscribe(jobID string) (func(), <-chan model.ResearchJob)
	StopAll()
}
