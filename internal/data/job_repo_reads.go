package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/mmk-research-api/internal/data/pgxutil"
	"github.com/target/mmk-research-api/internal/domain/model"
	apperrors "github.com/target/mmk-research-api/internal/errors"
)

// GetByID retrieves a job by its ID. On an unmigrated schema, or for a row
// whose status is NULL, the status is inferred and job.StatusInferred is set.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.ResearchJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}

	rec, err := r.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	job, inferred := model.ToJob(rec)
	if inferred {
		r.logger.DebugContext(ctx, "job status inferred from legacy record",
			"job_id", id,
			"status", job.Status,
			"inferred", true,
		)
	}
	return &job, nil
}

// GetRecord reads the raw storage record for a job.
func (r *JobRepo) GetRecord(ctx context.Context, id string) (model.StoredRecord, error) {
	withStatus, err := r.statusColumnPresent(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := r.queryRecord(ctx, id, withStatus)
	if withStatus && apperrors.IsUndefinedColumn(err) {
		// The column went away (restored backup, manual rollback); read the legacy shape.
		r.forgetSchema()
		rec, err = r.queryRecord(ctx, id, false)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

func (r *JobRepo) queryRecord(ctx context.Context, id string, withStatus bool) (model.StoredRecord, error) {
	cols := legacyColumns
	if withStatus {
		cols = jobColumns
	}

	var rec model.StoredRecord
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		row := conn.QueryRow(ctx, `SELECT `+cols+` FROM research_jobs WHERE id = $1`, id)
		var scanErr error
		rec, scanErr = scanRecord(row, withStatus)
		return scanErr
	})
	return rec, err
}

// Stats counts jobs per status. Rows without a status are reported as Unknown.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobCounts, error) {
	withStatus, err := r.statusColumnPresent(ctx)
	if err != nil {
		return nil, err
	}

	counts := &model.JobCounts{}
	if !withStatus {
		if scanErr := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM research_jobs`).Scan(&counts.Unknown); scanErr != nil {
			return nil, fmt.Errorf("count jobs: %w", scanErr)
		}
		return counts, nil
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT COALESCE(status, ''), count(*)
		FROM research_jobs
		GROUP BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if scanErr := rows.Scan(&status, &n); scanErr != nil {
			return nil, fmt.Errorf("scan job counts: %w", scanErr)
		}
		switch model.JobStatus(status) {
		case model.JobStatusPending:
			counts.Pending = n
		case model.JobStatusProcessing:
			counts.Processing = n
		case model.JobStatusCompleted:
			counts.Completed = n
		case model.JobStatusError:
			counts.Error = n
		default:
			counts.Unknown += n
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate job counts: %w", rowsErr)
	}
	return counts, nil
}
