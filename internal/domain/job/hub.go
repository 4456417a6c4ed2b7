package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/domain/model"
)

var (
	// ErrFeedRequired indicates a hub cannot be constructed without a change feed.
	ErrFeedRequired = errors.New("change hub feed is required")
	// ErrLoaderRequired indicates a hub cannot be constructed without a loader.
	ErrLoaderRequired = errors.New("change hub loader is required")
)

// Loader reads the current committed record for a job.
type Loader interface {
	GetByID(ctx context.Context, id string) (*model.ResearchJob, error)
}

// HubOptions configure the change hub.
type HubOptions struct {
	Feed   core.ChangeFeed
	Loader Loader
	Logger *slog.Logger
	// Backoff is the delay before re-listening after the feed fails.
	Backoff time.Duration
	// LoadTimeout bounds each record reload.
	LoadTimeout time.Duration
}

// ChangeHub fans change notifications out to per-job subscribers. Each
// notification reloads the record so subscribers always see committed state.
// A single feed listener runs while at least one subscription exists.
type ChangeHub struct {
	feed        core.ChangeFeed
	loader      Loader
	logger      *slog.Logger
	backoff     time.Duration
	loadTimeout time.Duration

	mu       sync.Mutex
	subs     map[string]map[chan model.ResearchJob]struct{}
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// NewChangeHub constructs a hub over the given feed.
func NewChangeHub(opts HubOptions) (*ChangeHub, error) {
	if opts.Feed == nil {
		return nil, ErrFeedRequired
	}
	if opts.Loader == nil {
		return nil, ErrLoaderRequired
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 5 * time.Second
	}

	return &ChangeHub{
		feed:        opts.Feed,
		loader:      opts.Loader,
		logger:      logger.With("component", "change_hub"),
		backoff:     backoff,
		loadTimeout: loadTimeout,
		subs:        make(map[string]map[chan model.ResearchJob]struct{}),
	}, nil
}

// Subscribe registers interest in jobID. The channel has room for one record
// and always holds the latest one; it is closed by the returned func or StopAll.
func (h *ChangeHub) Subscribe(jobID string) (func(), <-chan model.ResearchJob) {
	jobID = jobKey(jobID)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopLoop == nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.stopLoop = cancel
		h.loopDone = make(chan struct{})
		go h.listenLoop(ctx, h.loopDone)
	}

	ch := make(chan model.ResearchJob, 1)
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan model.ResearchJob]struct{})
	}
	h.subs[jobID][ch] = struct{}{}

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subscribers := h.subs[jobID]
		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			delete(h.subs, jobID)
		}
		if len(h.subs) == 0 {
			h.stopListenerLocked()
		}
	}

	return unsub, ch
}

// StopAll closes every subscription and stops the feed listener.
func (h *ChangeHub) StopAll() {
	h.mu.Lock()
	done := h.loopDone
	h.stopListenerLocked()
	for jobID, subscribers := range h.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(h.subs, jobID)
	}
	h.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (h *ChangeHub) stopListenerLocked() {
	if h.stopLoop == nil {
		return
	}
	h.stopLoop()
	h.stopLoop = nil
	h.loopDone = nil
}

func (h *ChangeHub) listenLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	opts := core.ChangeListenOptions{
		// Notifications may have been missed while (re)connecting.
		OnReady:  func() { h.refreshAll(ctx) },
		OnChange: func(jobID string) { h.refresh(ctx, jobID) },
	}

	for ctx.Err() == nil {
		err := h.feed.Listen(ctx, opts)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.logger.WarnContext(ctx, "change feed listener stopped", "error", err)
		}

		timer := time.NewTimer(h.backoff)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

func (h *ChangeHub) refreshAll(ctx context.Context) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.refresh(ctx, id)
	}
}

func (h *ChangeHub) refresh(ctx context.Context, jobID string) {
	jobID = jobKey(jobID)
	if !h.hasSubscribers(jobID) {
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, h.loadTimeout)
	defer cancel()
	job, err := h.loader.GetByID(loadCtx, jobID)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.WarnContext(ctx, "reload changed job", "job_id", jobID, "error", err)
		}
		return
	}

	h.broadcast(*job)
}

func (h *ChangeHub) hasSubscribers(jobID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID]) > 0
}

func (h *ChangeHub) broadcast(job model.ResearchJob) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[jobKey(job.ID)] {
		select {
		case ch <- job:
			continue
		default:
		}
		// Replace the stale buffered record with the newer one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- job:
		default:
		}
	}
}

// jobKey folds any UUID spelling onto the canonical lowercase form the store
// returns, so subscribers and reloaded records meet under the same key.
func jobKey(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

// drainAndClose removes any buffered record before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan model.ResearchJob) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ core.ChangeSubscriber = (*ChangeHub)(nil)
