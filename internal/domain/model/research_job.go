// Package model defines the research job record and the request/response shapes
// exchanged by the dispatcher, callback receiver, status reconciler and observer.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a research job.
type JobStatus string

const (
	// JobStatusPending indicates the job exists but has not been handed to the engine.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates the engine trigger was issued.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the engine reported success. Terminal.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusError indicates the engine reported failure. Terminal.
	JobStatusError JobStatus = "error"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusError,
}

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// ErrOutcomeConflict is returned when a job carries both a payload and an error detail.
var ErrOutcomeConflict = errors.New("payload and error detail are mutually exclusive")

// ResearchJob is one asynchronous research run tracked by its ID.
type ResearchJob struct {
	ID           string          `json:"id"`
	Status       JobStatus       `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	ErrorDetail  *string         `json:"errorDetail,omitempty"`
	DispatchedAt *time.Time      `json:"dispatchedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	// StatusInferred is set when the status was derived from a legacy record.
	StatusInferred bool `json:"-"`
}

// Validate checks the record-level invariants.
func (j *ResearchJob) Validate() error {
	if !j.Status.Valid() {
		return fmt.Errorf("invalid job status %q", j.Status)
	}
	if len(j.Payload) > 0 && j.ErrorDetail != nil {
		return ErrOutcomeConflict
	}
	if j.ErrorDetail != nil && j.Status != JobStatusError {
		return fmt.Errorf("error detail present on %s job", j.Status)
	}
	if len(j.Payload) > 0 && j.Status != JobStatusCompleted {
		return fmt.Errorf("payload present on %s job", j.Status)
	}
	return nil
}

// StatusResponse is the read model returned by the status reconciler.
type StatusResponse struct {
	Status      JobStatus       `json:"status"`
	ErrorDetail *string         `json:"errorDetail,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	// Inferred is true when Status came from the legacy-schema inference.
	Inferred bool `json:"-"`
}

// StatusFromJob projects a job onto the status read model.
func StatusFromJob(j *ResearchJob) *StatusResponse {
	resp := &StatusResponse{Status: j.Status, Inferred: j.StatusInferred}
	switch j.Status {
	case JobStatusCompleted:
		resp.Payload = j.Payload
	case JobStatusError:
		resp.ErrorDetail = j.ErrorDetail
	}
	return resp
}

// StartJobRequest asks the dispatcher to begin a research run.
type StartJobRequest struct {
	// JobID is optional. When empty the dispatcher assigns one.
	JobID string          `json:"jobId,omitempty" validate:"omitempty,uuid"`
	Input json.RawMessage `json:"input"           validate:"required,json_object"`
}

// Validate checks fields the struct tags cannot express.
func (r *StartJobRequest) Validate() error {
	in := bytes.TrimSpace(r.Input)
	if len(in) == 0 || in[0] != '{' || !json.Valid(in) {
		return errors.New("input must be a JSON object")
	}
	return nil
}

// StartJobResult is the public dispatch acknowledgement.
type StartJobResult struct {
	JobID    string `json:"jobId"`
	Accepted bool   `json:"accepted"`
	// Trigger records what happened to the engine trigger ("sent",
	// "transport_failed", or empty when no trigger was attempted).
	Trigger string `json:"-"`
}

// CallbackResult is the discriminated outcome posted by the workflow engine.
type CallbackResult struct {
	Success     *bool           `json:"success"               validate:"required"`
	Data        json.RawMessage `json:"data,omitempty"`
	ErrorDetail string          `json:"errorDetail,omitempty"`
}

// Validate checks that the outcome is well formed.
func (r *CallbackResult) Validate() error {
	if r.Success == nil {
		return errors.New("success is required")
	}
	if !*r.Success && strings.TrimSpace(r.ErrorDetail) == "" {
		return errors.New("errorDetail is required when success is false")
	}
	if *r.Success && len(r.Data) > 0 && !json.Valid(r.Data) {
		return errors.New("data must be valid JSON")
	}
	return nil
}

// Succeeded reports the outcome. Callers must Validate first.
func (r *CallbackResult) Succeeded() bool {
	return r.Success != nil && *r.Success
}

// TargetStatus returns the terminal status this outcome writes.
func (r *CallbackResult) TargetStatus() JobStatus {
	if r.Succeeded() {
		return JobStatusCompleted
	}
	return JobStatusError
}

// CallbackAck is returned to the engine for every accepted callback.
type CallbackAck struct {
	Success bool `json:"success"`
	// Applied is false when the job was already terminal.
	Applied bool `json:"-"`
	// Duplicate is true when the callback arrived after the terminal write.
	Duplicate bool `json:"-"`
	// Conflicting is true when a duplicate disagreed with the stored outcome.
	Conflicting bool `json:"-"`
}

// JobCounts holds the number of jobs per status.
type JobCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Error      int `json:"error"`
	// Unknown counts rows whose status column is NULL.
	Unknown int `json:"unknown"`
}

// ByStatus returns the counts keyed by status label.
func (c JobCounts) ByStatus() map[string]int {
	return map[string]int{
		string(JobStatusPending):    c.Pending,
		string(JobStatusProcessing): c.Processing,
		string(JobStatusCompleted):  c.Completed,
		string(JobStatusError):      c.Error,
		"unknown":                   c.Unknown,
	}
}
