package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/domain/model"
)

// MemoryJobRepo is an in-process core.JobRepository with the same guarded
// transitions as the Postgres repository. UUID keys are matched
// case-insensitively and stored lowercase, like a uuid column. It backs end-to-end handler and
// observer tests that run without a database.
type MemoryJobRepo struct {
	mu   sync.Mutex
	jobs map[string]model.ResearchJob
	now  func() time.Time
}

// NewMemoryJobRepo returns an empty repository.
func NewMemoryJobRepo() *MemoryJobRepo {
	return &MemoryJobRepo{
		jobs: make(map[string]model.ResearchJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Put stores job as-is, bypassing transition rules.
func (r *MemoryJobRepo) Put(job model.ResearchJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = storageKey(job.ID)
	r.jobs[job.ID] = job
}

// IDs returns the stored job IDs in sorted order.
func (r *MemoryJobRepo) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.jobs))
}

func (r *MemoryJobRepo) CreateIfAbsent(
	_ context.Context,
	params core.CreateJobParams,
) (*model.ResearchJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := storageKey(params.ID)
	if job, ok := r.jobs[id]; ok {
		return &job, false, nil
	}
	now := r.now()
	job := model.ResearchJob{
		ID:        id,
		Status:    model.JobStatusPending,
		Input:     slices.Clone(params.Input),
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.jobs[job.ID] = job
	return &job, true, nil
}

func (r *MemoryJobRepo) GetByID(_ context.Context, id string) (*model.ResearchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[storageKey(id)]
	if !ok {
		return nil, core.ErrJobNotFound
	}
	return &job, nil
}

func (r *MemoryJobRepo) MarkProcessing(_ context.Context, id string) (bool, error) {
	id = storageKey(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusPending {
		return false, nil
	}
	now := r.now()
	job.Status = model.JobStatusProcessing
	job.DispatchedAt = &now
	job.UpdatedAt = now
	r.jobs[id] = job
	return true, nil
}

func (r *MemoryJobRepo) Complete(_ context.Context, params core.CompleteJobParams) (bool, error) {
	return r.terminate(params.ID, func(job *model.ResearchJob) {
		job.Status = model.JobStatusCompleted
		job.Payload = slices.Clone(params.Payload)
	})
}

func (r *MemoryJobRepo) Fail(_ context.Context, params core.FailJobParams) (bool, error) {
	return r.terminate(params.ID, func(job *model.ResearchJob) {
		detail := params.ErrorDetail
		job.Status = model.JobStatusError
		job.ErrorDetail = &detail
	})
}

func (r *MemoryJobRepo) terminate(id string, apply func(*model.ResearchJob)) (bool, error) {
	id = storageKey(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := r.now()
	apply(&job)
	job.CompletedAt = &now
	job.UpdatedAt = now
	r.jobs[id] = job
	return true, nil
}

func storageKey(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return id
}

func (r *MemoryJobRepo) Stats(_ context.Context) (*model.JobCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var counts model.JobCounts
	for _, job := range r.jobs {
		switch job.Status {
		case model.JobStatusPending:
			counts.Pending++
		case model.JobStatusProcessing:
			counts.Processing++
		case model.JobStatusCompleted:
			counts.Completed++
		case model.JobStatusError:
			counts.Error++
		default:
			counts.Unknown++
		}
	}
	return &counts, nil
}

var _ core.JobRepository = (*MemoryJobRepo)(nil)

// MemoryChangeFeed is an in-process core.ChangeFeed.
type MemoryChangeFeed struct {
	mu        sync.Mutex
	listeners map[chan string]struct{}
}

// NewMemoryChangeFeed returns a feed with no listeners.
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{listeners: make(map[chan string]struct{})}
}

// Publish delivers jobID to every active listener, dropping it for listeners
// whose buffer is full.
func (f *MemoryChangeFeed) Publish(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.listeners {
		select {
		case ch <- jobID:
		default:
		}
	}
	return nil
}

// Listen blocks until ctx is done.
func (f *MemoryChangeFeed) Listen(ctx context.Context, opts core.ChangeListenOptions) error {
	ch := make(chan string, 64)
	f.mu.Lock()
	f.listeners[ch] = struct{}{}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.listeners, ch)
		f.mu.Unlock()
	}()

	if opts.OnReady != nil {
		opts.OnReady()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-ch:
			if opts.OnChange != nil {
				opts.OnChange(id)
			}
		}
	}
}

var _ core.ChangeFeed = (*MemoryChangeFeed)(nil)
