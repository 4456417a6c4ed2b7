package model

import (
	"encoding/json"
	"time"
)

// StoredRecord is a job row as read at the storage boundary. It is either a
// FullRecord (status column present and set) or a LegacyRecord (status column
// absent from the schema, or NULL on the row). ToJob is the only conversion
// to ResearchJob.
type StoredRecord interface {
	storedRecord()
}

// RecordFields are the columns present in every schema version.
type RecordFields struct {
	ID           string
	Input        json.RawMessage
	Payload      json.RawMessage
	ErrorDetail  *string
	DispatchedAt *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FullRecord is a row with an authoritative status.
type FullRecord struct {
	RecordFields
	Status JobStatus
}

// LegacyRecord is a row without a usable status.
type LegacyRecord struct {
	RecordFields
}

func (FullRecord) storedRecord()   {}
func (LegacyRecord) storedRecord() {}

// InferStatus derives a status for a record that has none. A payload means
// the callback already landed; anything else is assumed to be in flight, so a
// genuinely pending job is reported as processing until the migration runs.
func (r LegacyRecord) InferStatus() JobStatus {
	if len(r.Payload) > 0 && string(r.Payload) != "null" {
		return JobStatusCompleted
	}
	return JobStatusProcessing
}

// ToJob maps a stored record onto the canonical job. The second return value
// reports whether the status was inferred.
func ToJob(rec StoredRecord) (ResearchJob, bool) {
	switch r := rec.(type) {
	case FullRecord:
		return fromFields(r.RecordFields, r.Status, false), false
	case *FullRecord:
		return fromFields(r.RecordFields, r.Status, false), false
	case LegacyRecord:
		return fromFields(r.RecordFields, r.InferStatus(), true), true
	case *LegacyRecord:
		return fromFields(r.RecordFields, r.InferStatus(), true), true
	default:
		return ResearchJob{}, false
	}
}

func fromFields(f RecordFields, status JobStatus, inferred bool) ResearchJob {
	job := ResearchJob{
		ID:             f.ID,
		Status:         status,
		Input:          f.Input,
		DispatchedAt:   f.DispatchedAt,
		CompletedAt:    f.CompletedAt,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
		StatusInferred: inferred,
	}
	// Only the field matching the status is carried so the outcome stays exclusive
	// even if an unmigrated row holds both columns.
	switch status {
	case JobStatusCompleted:
		job.Payload = f.Payload
	case JobStatusError:
		job.ErrorDetail = f.ErrorDetail
	}
	return job
}
