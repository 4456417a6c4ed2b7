// Package mocks provides gomock implementations of the research job ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	repo := mocks.NewMockJobRepository(ctrl)
//	repo.EXPECT().GetByID(gomock.Any(), id).Return(job, nil)
package mocks

// Generate mocks for the ports in internal/core:
// JobRepository (CreateIfAbsent, GetByID, MarkProcessing, Complete, Fail, Stats),
// WorkflowEngine (Trigger) and ChangeFeed (Publish, Listen).
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=core_mock.go github.com/target/mmk-research-api/internal/core JobRepository,WorkflowEngine,ChangeFeed
