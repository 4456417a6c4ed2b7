// Package job holds the research job lifecycle rules and the change hub that
// pushes committed job records to in-process subscribers.
package job

import (
	"errors"
	"fmt"

	"github.com/target/mmk-research-api/internal/domain/model"
)

var (
	// ErrTerminal indicates the job already reached completed or error.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition indicates the requested move is not part of the lifecycle.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// CheckTransition reports whether a job may move from one status to another.
// pending → processing is the dispatcher's move; pending|processing → completed|error
// is the callback's. Nothing leaves a terminal state.
func CheckTransition(from, to model.JobStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, from)
	}
	switch {
	case from == model.JobStatusPending && to == model.JobStatusProcessing:
		return nil
	case (from == model.JobStatusPending || from == model.JobStatusProcessing) && to.IsTerminal():
		return nil
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
}

// OutcomeMatches reports whether a stored terminal job agrees with a callback
// outcome. It is used to flag conflicting duplicate callbacks.
func OutcomeMatches(stored *model.ResearchJob, result *model.CallbackResult) bool {
	if stored.Status != result.TargetStatus() {
		return false
	}
	if stored.Status == model.JobStatusError {
		return stored.ErrorDetail != nil && *stored.ErrorDetail == result.ErrorDetail
	}
	return jsonEqual(stored.Payload, result.Data)
}
