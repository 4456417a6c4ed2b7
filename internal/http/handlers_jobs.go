// Package httpx provides the HTTP surface of the research job service: dispatch,
// engine callbacks, status queries and the websocket change stream.
package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/target/mmk-research-api/internal/domain/model"
	"github.com/target/mmk-research-api/internal/service"
)

// CallbackTokenHeader carries the callback credential.
const CallbackTokenHeader = "X-Callback-Token"

// StatusInferredHeader is set to "true" when the status came from a legacy record.
const StatusInferredHeader = "X-Status-Inferred"

// JobStarter starts research jobs.
type JobStarter interface {
	StartJob(ctx context.Context, req model.StartJobRequest) (*model.StartJobResult, error)
}

// CallbackApplier authorizes and applies engine callbacks.
type CallbackApplier interface {
	Authorize(ctx context.Context, params service.ReceiveCallbackParams) error
	Receive(ctx context.Context, params service.ReceiveCallbackParams) (*model.CallbackAck, error)
}

// StatusReader answers status and record queries.
type StatusReader interface {
	GetStatus(ctx context.Context, jobID string) (*model.StatusResponse, error)
	GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error)
}

// JobHandlers provides HTTP handlers for research job operations.
type JobHandlers struct {
	Dispatcher JobStarter
	Callbacks  CallbackApplier
	Status     StatusReader
}

// StartJob handles POST /api/jobs.
func (h *JobHandlers) StartJob(w http.ResponseWriter, r *http.Request) {
	var req model.StartJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.Dispatcher.StartJob(r.Context(), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}

// Callback handles POST /api/jobs/{id}/callback.
func (h *JobHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	params := service.ReceiveCallbackParams{
		JobID:      r.PathValue("id"),
		Credential: callbackCredential(r),
		RemoteAddr: r.RemoteAddr,
	}
	// The credential is checked before the body is even parsed.
	if err := h.Callbacks.Authorize(r.Context(), params); err != nil {
		WriteAppError(w, err)
		return
	}
	if !DecodeJSON(w, r, &params.Result) {
		return
	}

	ack, err := h.Callbacks.Receive(r.Context(), params)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, ack)
}

// GetStatus handles GET /api/jobs/{id}/status.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Status.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if status.Inferred {
		w.Header().Set(StatusInferredHeader, "true")
	}
	WriteJSON(w, http.StatusOK, status)
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Status.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if job.StatusInferred {
		w.Header().Set(StatusInferredHeader, "true")
	}
	WriteJSON(w, http.StatusOK, job)
}

func callbackCredential(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(CallbackTokenHeader)); token != "" {
		return token
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}
