package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/data/pgxutil"
	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
)

// Writes always target the migrated schema. Only reads degrade.

// CreateIfAbsent inserts a pending job unless one with the same ID already
// exists, in which case the stored row is returned with created=false.
func (r *JobRepo) CreateIfAbsent(
	ctx context.Context,
	params core.CreateJobParams,
) (*model.ResearchJob, bool, error) {
	if params.ID == "" {
		return nil, false, ErrJobIDRequired
	}

	input := params.Input
	if len(input) == 0 {
		input = []byte(`{}`)
	}
	now := r.timeProvider.Now().UTC()

	var (
		rec     model.StoredRecord
		created bool
	)
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, `
				INSERT INTO research_jobs (id, status, input, created_at, updated_at)
				VALUES ($1, 'pending', $2, $3, $3)
				ON CONFLICT (id) DO NOTHING
				RETURNING `+jobColumns, params.ID, []byte(input), now)

			var scanErr error
			rec, scanErr = scanRecord(row, true)
			if scanErr == nil {
				created = true
				return nil
			}
			if !errors.Is(scanErr, pgx.ErrNoRows) {
				return scanErr
			}

			existing := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, params.ID)
			rec, scanErr = scanRecord(existing, true)
			return scanErr
		},
	})
	if txErr != nil {
		return nil, false, r.writeErr("create job", txErr)
	}

	job, _ := model.ToJob(rec)
	return &job, created, nil
}

// MarkProcessing advances a pending job to processing and stamps dispatched_at.
func (r *JobRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'processing',
		    dispatched_at = COALESCE(dispatched_at, $2),
		    updated_at = GREATEST(updated_at, $2)
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return false, r.writeErr("mark job processing", err)
	}
	return affected(res)
}

// Complete records a successful outcome exactly once.
func (r *JobRepo) Complete(ctx context.Context, params core.CompleteJobParams) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'completed',
		    payload = $2,
		    error_detail = NULL,
		    completed_at = $3,
		    updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND `+writableJobCondition,
		params.ID, nullableJSON(params.Payload), now)
	if err != nil {
		return false, r.writeErr("complete job", err)
	}
	return affected(res)
}

// Fail records a failed outcome exactly once.
func (r *JobRepo) Fail(ctx context.Context, params core.FailJobParams) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE research_jobs
		SET status = 'error',
		    payload = NULL,
		    error_detail = $2,
		    completed_at = $3,
		    updated_at = GREATEST(updated_at, $3)
		WHERE id = $1 AND `+writableJobCondition,
		params.ID, params.ErrorDetail, now)
	if err != nil {
		return false, r.writeErr("fail job", err)
	}
	return affected(res)
}

func (r *JobRepo) writeErr(op string, err error) error {
	if apperrors.IsUndefinedColumn(err) {
		r.forgetSchema()
		return fmt.Errorf("%s: %w", op, errors.Join(ErrSchemaNotMigrated, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func affected(res rowsAffecter) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

var _ core.JobRepository = (*JobRepo)(nil)
