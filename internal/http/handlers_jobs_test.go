package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-research-api/internal/domain/model"
)

func TestStartJob_Accepted(t *testing.T) {
	s := newTestStack(t)

	resp := DoJSON(t, JSONRequest{
		Method:  http.MethodPost,
		URL:     s.Server.URL + "/api/jobs",
		Payload: map[string]any{"input": map[string]any{"topic": "lithium supply"}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, body["accepted"])
	jobID, _ := body["jobId"].(string)
	_, err := uuid.Parse(jobID)
	require.NoError(t, err)
	assert.NotContains(t, body, "Trigger")

	reqs := s.Engine.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, jobID, reqs[0].JobID)
	assert.Equal(t, "http://research.test/api/jobs/"+jobID+"/callback", reqs[0].CallbackAddress)
	assert.Equal(t, testCallbackSecret, reqs[0].CallbackCredential)

	job, err := s.Repo.GetByID(t.Context(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusProcessing, job.Status)
}

func TestStartJob_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		status  int
		errCode string
	}{
		{"empty body", "", http.StatusBadRequest, ErrCodeInvalidJSON},
		{"malformed json", `{"input":`, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"trailing document", `{"input":{}} {}`, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"missing input", `{}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"input not an object", `{"input":"go"}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"bad job id", `{"jobId":"abc","input":{}}`, http.StatusBadRequest, ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStack(t)
			req := JSONRequest{Method: http.MethodPost, URL: s.Server.URL + "/api/jobs", Raw: tt.raw}

			resp := DoJSON(t, req)
			require.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[ErrorResponse](t, resp)
			assert.Equal(t, tt.errCode, body.Error)
			assert.Empty(t, s.Engine.Requests(), "engine must not be contacted")
			assert.Empty(t, s.Repo.IDs(), "nothing may be stored")
		})
	}
}

func TestStartJob_BodyTooLarge(t *testing.T) {
	s := newTestStack(t)
	huge := `{"input":{"blob":"` + strings.Repeat("x", 1<<20) + `"}}`

	resp := DoJSON(t, JSONRequest{Method: http.MethodPost, URL: s.Server.URL + "/api/jobs", Raw: huge})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestCallback_Unauthorized(t *testing.T) {
	s := newTestStack(t)
	jobID := uuid.NewString()
	now := time.Now().UTC()
	s.Repo.Put(model.ResearchJob{ID: jobID, Status: model.JobStatusProcessing, CreatedAt: now, UpdatedAt: now})

	tests := []struct {
		name    string
		headers map[string]string
		raw     string
	}{
		{"missing credential", nil, `{"success":true}`},
		{"wrong token", map[string]string{CallbackTokenHeader: "nope"}, `{"success":true}`},
		{"wrong bearer", map[string]string{"Authorization": "Bearer nope"}, `{"success":true}`},
		{"garbage body with wrong token", map[string]string{CallbackTokenHeader: "nope"}, `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := DoJSON(t, JSONRequest{
				Method:  http.MethodPost,
				URL:     s.Server.URL + "/api/jobs/" + jobID + "/callback",
				Raw:     tt.raw,
				Headers: tt.headers,
			})
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, ErrCodeUnauthorized, decodeBody[ErrorResponse](t, resp).Error)

			job, err := s.Repo.GetByID(t.Context(), jobID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusProcessing, job.Status)
		})
	}
}

func TestCallback_BearerTokenAccepted(t *testing.T) {
	s := newTestStack(t)
	jobID := uuid.NewString()
	now := time.Now().UTC()
	s.Repo.Put(model.ResearchJob{ID: jobID, Status: model.JobStatusProcessing, CreatedAt: now, UpdatedAt: now})

	resp := DoJSON(t, JSONRequest{
		Method:  http.MethodPost,
		URL:     s.Server.URL + "/api/jobs/" + jobID + "/callback",
		Raw:     `{"success":true,"data":{"ok":1}}`,
		Headers: map[string]string{"Authorization": "Bearer " + testCallbackSecret},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true}`, readAll(t, resp))
}

func TestCallback_ErrorResponses(t *testing.T) {
	s := newTestStack(t)
	jobID := uuid.NewString()
	now := time.Now().UTC()
	s.Repo.Put(model.ResearchJob{ID: jobID, Status: model.JobStatusProcessing, CreatedAt: now, UpdatedAt: now})

	tests := []struct {
		name    string
		id      string
		raw     string
		status  int
		errCode string
	}{
		{"malformed json", jobID, `{"success":`, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"missing success", jobID, `{"data":{}}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"failure without detail", jobID, `{"success":false}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"unknown job", uuid.NewString(), `{"success":true}`, http.StatusNotFound, ErrCodeJobNotFound},
		{"malformed job id", "not-a-uuid", `{"success":true}`, http.StatusNotFound, ErrCodeJobNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := DoJSON(t, JSONRequest{
				Method:  http.MethodPost,
				URL:     s.Server.URL + "/api/jobs/" + tt.id + "/callback",
				Raw:     tt.raw,
				Headers: callbackHeaders(),
			})
			require.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.errCode, decodeBody[ErrorResponse](t, resp).Error)
		})
	}
}

func TestGetStatus(t *testing.T) {
	s := newTestStack(t)
	now := time.Now().UTC()
	detail := "engine crashed"

	pendingID, doneID, failedID, legacyID := uuid.NewString(), uuid.NewString(), uuid.NewString(), uuid.NewString()
	s.Repo.Put(model.ResearchJob{ID: pendingID, Status: model.JobStatusPending, CreatedAt: now, UpdatedAt: now})
	s.Repo.Put(model.ResearchJob{
		ID: doneID, Status: model.JobStatusCompleted, Payload: json.RawMessage(`{"summary":"ok"}`),
		CreatedAt: now, UpdatedAt: now,
	})
	s.Repo.Put(model.ResearchJob{ID: failedID, Status: model.JobStatusError, ErrorDetail: &detail, CreatedAt: now, UpdatedAt: now})
	s.Repo.Put(model.ResearchJob{
		ID: legacyID, Status: model.JobStatusCompleted, Payload: json.RawMessage(`{"old":true}`),
		StatusInferred: true, CreatedAt: now, UpdatedAt: now,
	})

	tests := []struct {
		name     string
		id       string
		want     string
		inferred bool
	}{
		{"pending", pendingID, `{"status":"pending"}`, false},
		{"completed", doneID, `{"status":"completed","payload":{"summary":"ok"}}`, false},
		{"error", failedID, `{"status":"error","errorDetail":"engine crashed"}`, false},
		{"legacy", legacyID, `{"status":"completed","payload":{"old":true}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := DoJSON(t, JSONRequest{Method: http.MethodGet, URL: s.Server.URL + "/api/jobs/" + tt.id + "/status"})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, tt.want, readAll(t, resp))
			if tt.inferred {
				assert.Equal(t, "true", resp.Header.Get(StatusInferredHeader))
			} else {
				assert.Empty(t, resp.Header.Get(StatusInferredHeader))
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		resp := DoJSON(t, JSONRequest{Method: http.MethodGet, URL: s.Server.URL + "/api/jobs/" + uuid.NewString() + "/status"})
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, ErrCodeJobNotFound, decodeBody[ErrorResponse](t, resp).Error)
	})
}

func TestGetJob(t *testing.T) {
	s := newTestStack(t)
	jobID := uuid.NewString()
	now := time.Now().UTC()
	s.Repo.Put(model.ResearchJob{
		ID: jobID, Status: model.JobStatusPending, Input: json.RawMessage(`{"topic":"x"}`),
		CreatedAt: now, UpdatedAt: now,
	})

	resp := DoJSON(t, JSONRequest{Method: http.MethodGet, URL: s.Server.URL + "/api/jobs/" + jobID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decodeBody[model.ResearchJob](t, resp)
	assert.Equal(t, jobID, job.ID)
	assert.JSONEq(t, `{"topic":"x"}`, string(job.Input))
}

func TestCallbackCredential(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"token header", map[string]string{CallbackTokenHeader: " tok "}, "tok"},
		{"bearer", map[string]string{"Authorization": "Bearer tok"}, "tok"},
		{"lowercase bearer", map[string]string{"Authorization": "bearer tok"}, "tok"},
		{"basic auth ignored", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, ""},
		{"token header wins", map[string]string{CallbackTokenHeader: "a", "Authorization": "Bearer b"}, "a"},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := http.NewRequest(http.MethodPost, "/", http.NoBody)
			require.NoError(t, err)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, callbackCredential(r))
		})
	}
}
