package data

import (
	"errors"

	"github.com/target/mmk-research-api/internal/core"
)

// Shared sentinel errors for the research job store.
var (
	// ErrJobNotFound is returned when no row exists for the job ID.
	ErrJobNotFound = core.ErrJobNotFound
	// ErrJobIDRequired is returned when a write is attempted without an ID.
	ErrJobIDRequired = errors.New("job id is required")
	// ErrSchemaNotMigrated is returned by writes while the status column is missing.
	ErrSchemaNotMigrated = errors.New("research_jobs.status column missing; run migrations")
)
