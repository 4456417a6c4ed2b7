package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/mmk-research-api/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
	// SchemaRecheck is how long a "status column missing" check result is
	// trusted before probing again. Zero means one minute.
	SchemaRecheck time.Duration
}

// JobRepo provides database operations for research jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
	recheck      time.Duration

	schemaMu       sync.Mutex
	hasStatus      bool
	schemaCheckedAt time.Time
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recheck := cfg.SchemaRecheck
	if recheck <= 0 {
		recheck = time.Minute
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
		recheck:      recheck,
	}
}

const (
	legacyColumns = `id, input, payload, error_detail, dispatched_at, completed_at, created_at, updated_at`
	jobColumns    = legacyColumns + `, status`

	// writableJobCondition matches rows that are not terminal, including
	// legacy rows whose inferred status is processing.
	writableJobCondition = `(status IN ('pending', 'processing') OR (status IS NULL AND payload IS NULL))`
)

type rowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	id                        string
	input, payload            []byte
	errorDetail, status       sql.NullString
	dispatchedAt, completedAt sql.NullTime
	createdAt, updatedAt      time.Time
}

func (d *jobRowData) targets(withStatus bool) []any {
	dest := []any{
		&d.id,
		&d.input,
		&d.payload,
		&d.errorDetail,
		&d.dispatchedAt,
		&d.completedAt,
		&d.createdAt,
		&d.updatedAt,
	}
	if withStatus {
		dest = append(dest, &d.status)
	}
	return dest
}

// record converts the scanned row into the storage boundary union.
func (d *jobRowData) record() (model.StoredRecord, error) {
	fields := model.RecordFields{
		ID:           d.id,
		Input:        cloneJSON(d.input),
		Payload:      cloneJSON(d.payload),
		ErrorDetail:  cloneNullableString(d.errorDetail),
		DispatchedAt: cloneNullableTime(d.dispatchedAt),
		CompletedAt:  cloneNullableTime(d.completedAt),
		CreatedAt:    d.createdAt.UTC(),
		UpdatedAt:    d.updatedAt.UTC(),
	}
	if !d.status.Valid {
		return model.LegacyRecord{RecordFields: fields}, nil
	}

	status := model.JobStatus(d.status.String)
	if !status.Valid() {
		return nil, fmt.Errorf("job %s has unknown status %q", d.id, d.status.String)
	}
	return model.FullRecord{RecordFields: fields, Status: status}, nil
}

func scanRecord(scanner rowScanner, withStatus bool) (model.StoredRecord, error) {
	var d jobRowData
	if err := scanner.Scan(d.targets(withStatus)...); err != nil {
		return nil, err
	}
	return d.record()
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullableJSON maps absent and JSON-null payloads to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}

// statusColumnPresent reports whether research_jobs.status exists. A positive
// answer is cached for the process lifetime; a negative one for r.recheck so
// a migration applied while running is picked up.
func (r *JobRepo) statusColumnPresent(ctx context.Context) (bool, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	now := r.timeProvider.Now()
	if r.hasStatus || (!r.schemaCheckedAt.IsZero() && now.Sub(r.schemaCheckedAt) < r.recheck) {
		return r.hasStatus, nil
	}

	var present bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = 'research_jobs'
			  AND column_name = 'status'
		)`).Scan(&present)
	if err != nil {
		return false, fmt.Errorf("inspect research_jobs schema: %w", err)
	}

	if !present {
		r.logger.WarnContext(ctx, "research_jobs.status column missing; inferring job status from payload")
	}
	r.hasStatus = present
	r.schemaCheckedAt = now
	return present, nil
}

// forgetSchema drops the cached check result after a query proved it wrong.
func (r *JobRepo) forgetSchema() {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	r.hasStatus = false
	r.schemaCheckedAt = time.Time{}
}
