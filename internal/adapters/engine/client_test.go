package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-research-api/internal/core"
	apperrors "github.com/target/mmk-research-api/internal/errors"
)

func testRequest() core.TriggerRequest {
	return core.TriggerRequest{
		JobID:              "6f1c1c1e-8a8b-4c59-9a8f-0d7c2c1d9b11",
		Input:              json.RawMessage(`{"topic":"coffee"}`),
		CallbackAddress:    "https://api.example.com/api/jobs/6f1c1c1e-8a8b-4c59-9a8f-0d7c2c1d9b11/callback",
		CallbackCredential: "s3cret",
	}
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    string
	}{
		{name: "missing base", cfg: Config{}, wantErr: true},
		{name: "relative base", cfg: Config{BaseURL: "engine.local"}, wantErr: true},
		{name: "ftp base", cfg: Config{BaseURL: "ftp://engine.local"}, wantErr: true},
		{name: "default path", cfg: Config{BaseURL: "https://engine.local/"}, want: "https://engine.local/webhook/research"},
		{name: "custom path", cfg: Config{BaseURL: "https://engine.local/base", TriggerPath: "hooks/run"}, want: "https://engine.local/base/hooks/run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Endpoint())
		})
	}
}

func TestClient_TriggerSent(t *testing.T) {
	var got core.TriggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/webhook/research", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"executionId":"ignored"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	out := c.Trigger(context.Background(), testRequest())
	assert.True(t, out.Sent())
	assert.Equal(t, core.TriggerSent, out.Result)
	assert.NoError(t, out.Err)
	assert.Equal(t, testRequest().JobID, got.JobID)
	assert.Equal(t, "s3cret", got.CallbackCredential)
	assert.JSONEq(t, `{"topic":"coffee"}`, string(got.Input))
}

func TestClient_TriggerTransportFailed(t *testing.T) {
	t.Run("non 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "workflow inactive", http.StatusNotFound)
		}))
		defer srv.Close()

		c, err := NewClient(Config{BaseURL: srv.URL})
		require.NoError(t, err)

		out := c.Trigger(context.Background(), testRequest())
		assert.False(t, out.Sent())
		assert.Equal(t, core.TriggerTransportFailed, out.Result)
		require.Error(t, out.Err)
		assert.True(t, apperrors.IsTransient(out.Err))
		assert.Contains(t, out.Err.Error(), "workflow inactive")
	})

	t.Run("connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		c, err := NewClient(Config{BaseURL: url, Timeout: time.Second})
		require.NoError(t, err)

		out := c.Trigger(context.Background(), testRequest())
		assert.Equal(t, core.TriggerTransportFailed, out.Result)
		assert.True(t, apperrors.IsTransient(out.Err))
	})

	t.Run("slow engine hits timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-release
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		defer close(release)

		c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
		require.NoError(t, err)

		out := c.Trigger(context.Background(), testRequest())
		assert.Equal(t, core.TriggerTransportFailed, out.Result)
	})
}

func TestClient_RateLimitRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, RatePerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	require.True(t, c.Trigger(context.Background(), testRequest()).Sent())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out := c.Trigger(ctx, testRequest())
	assert.Equal(t, core.TriggerTransportFailed, out.Result)
	assert.Contains(t, out.Err.Error(), "rate limit")
}
