package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
	"github.com/target/mmk-research-api/internal/mocks"
	"github.com/target/mmk-research-api/internal/observability/notify"
	"github.com/target/mmk-research-api/internal/service/failurenotifier"
)

// alertRecorder captures events delivered through the failure notifier.
type alertRecorder struct {
	mu     sync.Mutex
	events []notify.Event
	sent   chan struct{}
}

func newAlertRecorder() *alertRecorder {
	return &alertRecorder{sent: make(chan struct{}, 8)}
}

func (a *alertRecorder) Send(_ context.Context, event notify.Event) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	a.sent <- struct{}{}
	return nil
}

func (a *alertRecorder) wait(t *testing.T) notify.Event {
	t.Helper()
	select {
	case <-a.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type callbackFixture struct {
	repo   *mocks.MockJobRepository
	feed   *mocks.MockChangeFeed
	alerts *alertRecorder
	svc    *CallbackReceiver
}

func newCallbackFixture(t *testing.T) *callbackFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &callbackFixture{
		repo:   mocks.NewMockJobRepository(ctrl),
		feed:   mocks.NewMockChangeFeed(ctrl),
		alerts: newAlertRecorder(),
	}
	svc, err := NewCallbackReceiver(CallbackReceiverOptions{
		Repo:   f.repo,
		Secret: testSecret,
		Feed:   f.feed,
		Logger: discardLogger(),
		FailureNotifier: failurenotifier.NewService(failurenotifier.Options{
			Logger: discardLogger(),
			Sinks:  []failurenotifier.SinkRegistration{{Name: "recorder", Sink: f.alerts}},
		}),
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func successParams(data string) ReceiveCallbackParams {
	result := model.CallbackResult{Success: boolPtr(true)}
	if data != "" {
		result.Data = json.RawMessage(data)
	}
	return ReceiveCallbackParams{JobID: testJobID, Credential: testSecret, Result: result}
}

func failureParams(detail string) ReceiveCallbackParams {
	return ReceiveCallbackParams{
		JobID:      testJobID,
		Credential: testSecret,
		Result:     model.CallbackResult{Success: boolPtr(false), ErrorDetail: detail},
	}
}

func TestNewCallbackReceiver_RequiredDependencies(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, err := NewCallbackReceiver(CallbackReceiverOptions{Secret: testSecret})
	require.Error(t, err)

	_, err = NewCallbackReceiver(CallbackReceiverOptions{Repo: mocks.NewMockJobRepository(ctrl)})
	require.Error(t, err)
}

func TestCallbackReceiver_Unauthorized(t *testing.T) {
	for _, credential := range []string{"", "wrong", testSecret + "x"} {
		t.Run("credential "+credential, func(t *testing.T) {
			// No repository expectations: a rejected callback must not read or write.
			f := newCallbackFixture(t)
			params := successParams(`{"answer":42}`)
			params.Credential = credential
			params.RemoteAddr = "203.0.113.7:4242"

			ack, err := f.svc.Receive(context.Background(), params)
			require.Error(t, err)
			assert.Nil(t, ack)
			assert.True(t, apperrors.IsUnauthorized(err))

			event := f.alerts.wait(t)
			assert.Equal(t, notify.KindSecurity, event.Kind)
			assert.Equal(t, testJobID, event.JobID)
			assert.Equal(t, "203.0.113.7:4242", event.Metadata["remote_addr"])
		})
	}
}

func TestCallbackReceiver_InvalidResult(t *testing.T) {
	tests := []struct {
		name   string
		result model.CallbackResult
	}{
		{"missing success", model.CallbackResult{Data: json.RawMessage(`{}`)}},
		{"failure without detail", model.CallbackResult{Success: boolPtr(false)}},
		{"failure with blank detail", model.CallbackResult{Success: boolPtr(false), ErrorDetail: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCallbackFixture(t)
			ack, err := f.svc.Receive(context.Background(), ReceiveCallbackParams{
				JobID:      testJobID,
				Credential: testSecret,
				Result:     tt.result,
			})
			require.Error(t, err)
			assert.Nil(t, ack)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestCallbackReceiver_NotFound(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		f := newCallbackFixture(t)
		f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(nil, core.ErrJobNotFound)

		_, err := f.svc.Receive(context.Background(), successParams(""))
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("malformed id never reaches the store", func(t *testing.T) {
		f := newCallbackFixture(t)
		params := successParams("")
		params.JobID = "not-a-uuid"

		_, err := f.svc.Receive(context.Background(), params)
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestCallbackReceiver_Complete(t *testing.T) {
	f := newCallbackFixture(t)
	payload := json.RawMessage(`{"summary":"done"}`)

	gomock.InOrder(
		f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(jobWithStatus(testJobID, model.JobStatusProcessing), nil),
		f.repo.EXPECT().Complete(gomock.Any(), core.CompleteJobParams{ID: testJobID, Payload: payload}).Return(true, nil),
		f.feed.EXPECT().Publish(gomock.Any(), testJobID).Return(nil),
	)

	ack, err := f.svc.Receive(context.Background(), successParams(string(payload)))
	require.NoError(t, err)
	assert.True(t, ack.Success)
	assert.True(t, ack.Applied)
	assert.False(t, ack.Duplicate)
}

func TestCallbackReceiver_CompleteWithoutData(t *testing.T) {
	f := newCallbackFixture(t)

	f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(jobWithStatus(testJobID, model.JobStatusPending), nil)
	f.repo.EXPECT().Complete(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p core.CompleteJobParams) (bool, error) {
			assert.Empty(t, p.Payload)
			return true, nil
		})
	f.feed.EXPECT().Publish(gomock.Any(), testJobID).Return(nil)

	ack, err := f.svc.Receive(context.Background(), successParams(""))
	require.NoError(t, err)
	assert.True(t, ack.Applied)
}

func TestCallbackReceiver_FailRaisesAlert(t *testing.T) {
	f := newCallbackFixture(t)

	f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(jobWithStatus(testJobID, model.JobStatusProcessing), nil)
	f.repo.EXPECT().Fail(gomock.Any(), core.FailJobParams{ID: testJobID, ErrorDetail: "search quota exhausted"}).Return(true, nil)
	f.feed.EXPECT().Publish(gomock.Any(), testJobID).Return(nil)

	ack, err := f.svc.Receive(context.Background(), failureParams("search quota exhausted"))
	require.NoError(t, err)
	assert.True(t, ack.Applied)

	event := f.alerts.wait(t)
	assert.Equal(t, notify.KindJobFailure, event.Kind)
	assert.Equal(t, testJobID, event.JobID)
	assert.Equal(t, "search quota exhausted", event.Error)
	assert.Equal(t, notify.SeverityCritical, event.Severity)
}

func TestCallbackReceiver_DuplicateIsIdempotent(t *testing.T) {
	stored := jobWithStatus(testJobID, model.JobStatusCompleted)
	stored.Payload = json.RawMessage(`{"summary":"done"}`)

	tests := []struct {
		name        string
		params      ReceiveCallbackParams
		conflicting bool
	}{
		{"same outcome", successParams(`{ "summary": "done" }`), false},
		{"different payload", successParams(`{"summary":"other"}`), true},
		{"opposite outcome", failureParams("late failure"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCallbackFixture(t)
			// Neither Complete nor Fail may be called on a terminal job.
			f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(stored, nil)

			ack, err := f.svc.Receive(context.Background(), tt.params)
			require.NoError(t, err)
			assert.True(t, ack.Success)
			assert.False(t, ack.Applied)
			assert.True(t, ack.Duplicate)
			assert.Equal(t, tt.conflicting, ack.Conflicting)
		})
	}
}

func TestCallbackReceiver_LostRaceIsDuplicate(t *testing.T) {
	f := newCallbackFixture(t)
	winner := jobWithStatus(testJobID, model.JobStatusError)
	winner.ErrorDetail = strPtr("engine crashed")

	gomock.InOrder(
		f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(jobWithStatus(testJobID, model.JobStatusProcessing), nil),
		f.repo.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(false, nil),
		f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(winner, nil),
	)

	ack, err := f.svc.Receive(context.Background(), successParams(`{"x":1}`))
	require.NoError(t, err)
	assert.False(t, ack.Applied)
	assert.True(t, ack.Duplicate)
	assert.True(t, ack.Conflicting)
}

func TestCallbackReceiver_StoreFailure(t *testing.T) {
	f := newCallbackFixture(t)

	f.repo.EXPECT().GetByID(gomock.Any(), testJobID).Return(jobWithStatus(testJobID, model.JobStatusProcessing), nil)
	f.repo.EXPECT().Fail(gomock.Any(), gomock.Any()).Return(false, errors.New("disk full"))

	ack, err := f.svc.Receive(context.Background(), failureParams("boom"))
	require.Error(t, err)
	assert.Nil(t, ack)
	assert.Contains(t, err.Error(), "disk full")
}
