package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/mmk-research-api/internal/core"
	domainjob "github.com/target/mmk-research-api/internal/domain/job"
	"github.com/target/mmk-research-api/internal/observability/metrics"
	"github.com/target/mmk-research-api/internal/service"
	"github.com/target/mmk-research-api/internal/testutil"
)

const testCallbackSecret = "callback-secret"

// recordingEngine accepts every trigger and remembers it.
type recordingEngine struct {
	mu       sync.Mutex
	requests []core.TriggerRequest
	outcome  core.TriggerOutcome
	notify   chan core.TriggerRequest
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{
		outcome: core.TriggerOutcome{Result: core.TriggerSent},
		notify:  make(chan core.TriggerRequest, 16),
	}
}

func (e *recordingEngine) Trigger(_ context.Context, req core.TriggerRequest) core.TriggerOutcome {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	outcome := e.outcome
	e.mu.Unlock()
	select {
	case e.notify <- req:
	default:
	}
	return outcome
}

func (e *recordingEngine) Requests() []core.TriggerRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.TriggerRequest(nil), e.requests...)
}

// testStack wires the real services over in-memory storage behind the router.
type testStack struct {
	Repo       *testutil.MemoryJobRepo
	Feed       *testutil.MemoryChangeFeed
	Hub        *domainjob.ChangeHub
	Engine     *recordingEngine
	Collectors *metrics.Collectors
	Handler    http.Handler
	Server     *httptest.Server
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := &testStack{
		Repo:       testutil.NewMemoryJobRepo(),
		Feed:       testutil.NewMemoryChangeFeed(),
		Engine:     newRecordingEngine(),
		Collectors: metrics.NewCollectors(),
	}
	hub, err := domainjob.NewChangeHub(domainjob.HubOptions{
		Feed:    s.Feed,
		Loader:  s.Repo,
		Logger:  logger,
		Backoff: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	s.Hub = hub
	t.Cleanup(hub.StopAll)

	recorder := metrics.NewRecorder(nil, s.Collectors)
	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Repo:     s.Repo,
		Engine:   s.Engine,
		Callback: service.CallbackTarget{BaseURL: "http://research.test", Secret: testCallbackSecret},
		Feed:     s.Feed,
		Logger:   logger,
		Metrics:  recorder,
	})
	require.NoError(t, err)
	callbacks, err := service.NewCallbackReceiver(service.CallbackReceiverOptions{
		Repo:    s.Repo,
		Secret:  testCallbackSecret,
		Feed:    s.Feed,
		Logger:  logger,
		Metrics: recorder,
	})
	require.NoError(t, err)
	status, err := service.NewStatusReconciler(service.StatusReconcilerOptions{Repo: s.Repo, Logger: logger})
	require.NoError(t, err)

	s.Handler = NewRouter(RouterServices{
		Dispatcher:   dispatcher,
		Callbacks:    callbacks,
		Status:       status,
		Changes:      hub,
		Collectors:   s.Collectors,
		MaxBodyBytes: 1 << 20,
		CheckOrigin:  func(*http.Request) bool { return true },
		Logger:       logger,
	})
	s.Server = httptest.NewServer(s.Handler)
	t.Cleanup(s.Server.Close)
	return s
}

// JSONRequest encapsulates the parameters needed to execute a JSON HTTP request.
type JSONRequest struct {
	Method  string
	URL     string
	Payload any
	// Raw is sent verbatim when set, instead of marshaling Payload.
	Raw     string
	Headers map[string]string
}

// DoJSON performs req with a short timeout and returns the response.
func DoJSON(t testing.TB, req JSONRequest) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	var body io.Reader = http.NoBody
	switch {
	case req.Raw != "":
		body = bytes.NewBufferString(req.Raw)
	case req.Payload != nil:
		b, err := json.Marshal(req.Payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	require.NoError(t, err)
	if req.Payload != nil || req.Raw != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t testing.TB, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func callbackHeaders() map[string]string {
	return map[string]string{CallbackTokenHeader: testCallbackSecret}
}

func readAll(t testing.TB, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
