package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/target/mmk-research-api/internal/core"
)

const publishTimeout = 2 * time.Second

// publishChange announces a committed job change. Failures are logged only:
// observers that miss a notification still converge through polling.
func publishChange(ctx context.Context, feed core.ChangeFeed, logger *slog.Logger, jobID string) {
	if feed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := feed.Publish(ctx, jobID); err != nil {
		logger.WarnContext(ctx, "publish job change failed", "job_id", jobID, "error", err)
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
