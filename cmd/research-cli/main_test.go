package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-research-api/internal/domain/model"
	"github.com/target/mmk-research-api/internal/observer"
)

// fakeAPI answers the job routes the CLI talks to. The status route reports
// processing for the first pollsBeforeDone requests.
type fakeAPI struct {
	pollsBeforeDone int32
	final           model.StatusResponse

	polls     atomic.Int32
	started   atomic.Pointer[model.StartJobRequest]
	callback  atomic.Pointer[model.CallbackResult]
	lastToken atomic.Value
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		var req model.StartJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.started.Store(&req)
		id := req.JobID
		if id == "" {
			id = "job-1"
		}
		writeTestJSON(w, http.StatusAccepted, model.StartJobResult{JobID: id, Accepted: true})
	})
	mux.HandleFunc("GET /api/jobs/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			writeTestJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "job not found"})
			return
		}
		if f.polls.Add(1) <= f.pollsBeforeDone {
			writeTestJSON(w, http.StatusOK, model.StatusResponse{Status: model.JobStatusProcessing})
			return
		}
		writeTestJSON(w, http.StatusOK, f.final)
	})
	mux.HandleFunc("POST /api/jobs/{id}/callback", func(w http.ResponseWriter, r *http.Request) {
		f.lastToken.Store(r.Header.Get("X-Callback-Token"))
		var res model.CallbackResult
		if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.callback.Store(&res)
		writeTestJSON(w, http.StatusOK, model.CallbackAck{Success: true})
	})
	return mux
}

func writeTestJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func runCLI(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--api", srv.URL}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func newFakeServer(t *testing.T, api *fakeAPI) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestDispatch_PrintsJobID(t *testing.T) {
	api := &fakeAPI{}
	srv := newFakeServer(t, api)

	out, err := runCLI(t, srv, "dispatch", "--input", `{"topic":"tariffs"}`)
	require.NoError(t, err)
	assert.Equal(t, "job-1\n", out)

	req := api.started.Load()
	require.NotNil(t, req)
	assert.JSONEq(t, `{"topic":"tariffs"}`, string(req.Input))
}

func TestDispatch_InputFile(t *testing.T) {
	api := &fakeAPI{}
	srv := newFakeServer(t, api)

	path := filepath.Join(t.TempDir(), "req.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"topic":"ports"}`), 0o600))

	_, err := runCLI(t, srv, "dispatch", "--input-file", path, "--job-id", "7d9f4a0e-2b7c-4a55-9d4e-1b1c2d3e4f50")
	require.NoError(t, err)
	req := api.started.Load()
	require.NotNil(t, req)
	assert.Equal(t, "7d9f4a0e-2b7c-4a55-9d4e-1b1c2d3e4f50", req.JobID)
}

func TestDispatch_RejectsBadInput(t *testing.T) {
	srv := newFakeServer(t, &fakeAPI{})

	tests := []struct {
		name string
		args []string
	}{
		{"missing", []string{"dispatch"}},
		{"not an object", []string{"dispatch", "--input", `["a"]`}},
		{"invalid json", []string{"dispatch", "--input", `{"a":`}},
		{"both sources", []string{"dispatch", "--input", `{}`, "--input-file", "x.json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, srv, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestDispatch_WatchUntilComplete(t *testing.T) {
	api := &fakeAPI{
		pollsBeforeDone: 2,
		final:           model.StatusResponse{Status: model.JobStatusCompleted, Payload: json.RawMessage(`{"summary":"done"}`)},
	}
	srv := newFakeServer(t, api)

	out, err := runCLI(t, srv, "dispatch", "--input", `{"topic":"x"}`, "--watch", "--interval", "5ms", "--max-wait", "2s")
	require.NoError(t, err)
	assert.Contains(t, out, "initializing")
	assert.Contains(t, out, "processing")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, `"summary": "done"`)
	assert.GreaterOrEqual(t, api.polls.Load(), int32(3))
}

func TestWatch_FailedJob(t *testing.T) {
	detail := "engine crashed"
	api := &fakeAPI{final: model.StatusResponse{Status: model.JobStatusError, ErrorDetail: &detail}}
	srv := newFakeServer(t, api)

	out, err := runCLI(t, srv, "watch", "job-1", "--interval", "5ms")
	require.ErrorIs(t, err, errJobUnsuccessful)
	assert.Contains(t, err.Error(), detail)
	assert.Contains(t, out, "error")
	assert.Equal(t, 3, exitCode(err))
}

func TestWatch_Timeout(t *testing.T) {
	api := &fakeAPI{pollsBeforeDone: 1 << 30}
	srv := newFakeServer(t, api)

	_, err := runCLI(t, srv, "watch", "job-1", "--interval", "5ms", "--max-wait", "40ms")
	require.ErrorIs(t, err, errJobUnsuccessful)
	assert.Contains(t, err.Error(), "timed out")
}

func TestWatch_UnknownJob(t *testing.T) {
	srv := newFakeServer(t, &fakeAPI{})

	_, err := runCLI(t, srv, "watch", "missing", "--interval", "5ms")
	require.ErrorIs(t, err, errJobUnsuccessful)
	assert.Contains(t, err.Error(), "not found")
}

func TestStatus(t *testing.T) {
	api := &fakeAPI{final: model.StatusResponse{Status: model.JobStatusCompleted, Payload: json.RawMessage(`{"a":1}`)}}
	srv := newFakeServer(t, api)

	out, err := runCLI(t, srv, "status", "job-1")
	require.NoError(t, err)

	var got model.StatusResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))

	_, err = runCLI(t, srv, "status", "missing")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
}

func TestCallback(t *testing.T) {
	t.Run("success with data", func(t *testing.T) {
		api := &fakeAPI{}
		srv := newFakeServer(t, api)

		out, err := runCLI(t, srv, "callback", "job-1", "--token", "s3cret", "--data", `{"k":"v"}`)
		require.NoError(t, err)
		assert.Contains(t, out, "recorded completed for job-1")

		got := api.callback.Load()
		require.NotNil(t, got)
		assert.True(t, got.Succeeded())
		assert.JSONEq(t, `{"k":"v"}`, string(got.Data))
		assert.Equal(t, "s3cret", api.lastToken.Load())
	})

	t.Run("error detail implies failure", func(t *testing.T) {
		api := &fakeAPI{}
		srv := newFakeServer(t, api)

		out, err := runCLI(t, srv, "callback", "job-1", "--token", "s3cret", "--error-detail", "quota exceeded")
		require.NoError(t, err)
		assert.Contains(t, out, "recorded error")

		got := api.callback.Load()
		require.NotNil(t, got)
		assert.False(t, got.Succeeded())
		assert.Equal(t, "quota exceeded", got.ErrorDetail)
	})

	t.Run("failure without detail is rejected locally", func(t *testing.T) {
		api := &fakeAPI{}
		srv := newFakeServer(t, api)

		_, err := runCLI(t, srv, "callback", "job-1", "--success=false")
		require.Error(t, err)
		assert.Nil(t, api.callback.Load())
	})

	t.Run("invalid data", func(t *testing.T) {
		srv := newFakeServer(t, &fakeAPI{})
		_, err := runCLI(t, srv, "callback", "job-1", "--data", "{")
		require.Error(t, err)
	})
}

func TestMigrate_RejectsNonPositiveTimeout(t *testing.T) {
	srv := newFakeServer(t, &fakeAPI{})
	_, err := runCLI(t, srv, "migrate", "--timeout", "0s")
	require.ErrorContains(t, err, "--timeout")
}

func TestWatch_MaxWaitFromEnvironment(t *testing.T) {
	t.Setenv("OBSERVER_POLL_INTERVAL", "100ms")
	t.Setenv("OBSERVER_MAX_WAIT", "150ms")
	api := &fakeAPI{pollsBeforeDone: 1 << 30}
	srv := newFakeServer(t, api)

	start := time.Now()
	_, err := runCLI(t, srv, "watch", "job-1")
	require.ErrorIs(t, err, errJobUnsuccessful)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLoadObserverConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"OBSERVER_POLL_INTERVAL", "OBSERVER_MAX_WAIT", "OBSERVER_POLL_JITTER"} {
			t.Setenv(key, "")
			require.NoError(t, os.Unsetenv(key))
		}
		cfg, err := loadObserverConfig()
		require.NoError(t, err)
		assert.Equal(t, observer.DefaultInterval, cfg.PollInterval)
		assert.Equal(t, observer.DefaultMaxWait, cfg.MaxWait)
		assert.Zero(t, cfg.PollJitter)
	})

	t.Run("overrides are sanitized", func(t *testing.T) {
		t.Setenv("OBSERVER_POLL_INTERVAL", "10ms")
		t.Setenv("OBSERVER_MAX_WAIT", "2m")
		t.Setenv("OBSERVER_POLL_JITTER", "20ms")
		cfg, err := loadObserverConfig()
		require.NoError(t, err)
		assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
		assert.Equal(t, 2*time.Minute, cfg.MaxWait)
		assert.Equal(t, 20*time.Millisecond, cfg.PollJitter)
	})

	t.Run("flag defaults follow the environment", func(t *testing.T) {
		t.Setenv("OBSERVER_MAX_WAIT", "42s")
		cmd, _, err := newRootCmd().Find([]string{"watch"})
		require.NoError(t, err)
		assert.Equal(t, "42s", cmd.Flags().Lookup("max-wait").DefValue)
	})

	t.Run("invalid value fails the command", func(t *testing.T) {
		t.Setenv("OBSERVER_MAX_WAIT", "soon")
		srv := newFakeServer(t, &fakeAPI{})
		_, err := runCLI(t, srv, "status", "job-1")
		require.ErrorContains(t, err, "observer config")
	})
}
