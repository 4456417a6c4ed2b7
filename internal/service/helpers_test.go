package service

import (
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/target/mmk-research-api/internal/domain/model"
)

const (
	testSecret  = "s3cret-callback-token"
	testBaseURL = "https://research.example.com"
	testJobID   = "6f1c2d3e-4b5a-4c6d-8e9f-0a1b2c3d4e5f"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func jobWithStatus(id string, status model.JobStatus) *model.ResearchJob {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.ResearchJob{
		ID:        id,
		Status:    status,
		Input:     json.RawMessage(`{"topic":"supply chains"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
