package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/testutil"
)

func exerciseFeed(t *testing.T, feed core.ChangeFeed) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{}, 1)
	changes := make(chan string, 4)
	done := make(chan error, 1)
	go func() {
		done <- feed.Listen(ctx, core.ChangeListenOptions{
			OnReady:  func() { ready <- struct{}{} },
			OnChange: func(id string) { changes <- id },
		})
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never became ready")
	}

	require.NoError(t, feed.Publish(ctx, "job-1"))

	select {
	case id := <-changes:
		require.Equal(t, "job-1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestPostgresChangeFeed(t *testing.T) {
	testutil.SkipIfNoTestDB(t)
	testutil.WithTestDB(t, func(db *sql.DB) {
		feed := NewPostgresChangeFeed(db, PostgresChangeFeedOptions{Channel: testutil.UniqueName("research_job_changed")})
		exerciseFeed(t, feed)
	})
}

func TestRedisChangeFeed(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	feed := NewRedisChangeFeed(client, RedisChangeFeedOptions{Channel: testutil.UniqueName("research_job_changed")})
	exerciseFeed(t, feed)
}
