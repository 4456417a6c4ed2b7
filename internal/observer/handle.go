package observer

import (
	"context"
	"sync"
)

// transitionBuffer holds every snapshot a single observation can emit.
const transitionBuffer = 8

// Handle controls one running observation.
type Handle struct {
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	transitions chan Snapshot

	mu    sync.Mutex
	jobID string
	last  Snapshot
}

func newHandle(parent context.Context) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		transitions: make(chan Snapshot, transitionBuffer),
	}
}

// Cancel stops the observation and waits for it to exit. No status request
// is issued after Cancel returns. It is safe to call more than once.
func (h *Handle) Cancel() {
	h.cancel()
	<-h.done
}

// Done is closed once the observation has stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Transitions delivers every phase change in order and is closed when the
// observation stops.
func (h *Handle) Transitions() <-chan Snapshot { return h.transitions }

// Result waits for the observation to stop and returns the final snapshot.
func (h *Handle) Result() Snapshot {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// JobID returns the observed job ID, or "" while dispatch is in flight.
func (h *Handle) JobID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jobID
}

func (h *Handle) setJobID(id string) {
	h.mu.Lock()
	h.jobID = id
	h.mu.Unlock()
}

func (h *Handle) emit(s Snapshot) {
	h.mu.Lock()
	h.last = s
	h.mu.Unlock()
	select {
	case h.transitions <- s:
	default:
	}
}

func (h *Handle) finish() {
	h.cancel()
	close(h.transitions)
	close(h.done)
}
