package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/mmk-research-api/internal/core"
)

// DefaultChangeChannel is the notification channel carrying changed job IDs.
const DefaultChangeChannel = "research_job_changed"

// PostgresChangeFeedOptions configures a PostgresChangeFeed.
type PostgresChangeFeedOptions struct {
	Channel string
	Logger  *slog.Logger
}

// PostgresChangeFeed publishes job changes with pg_notify and listens with
// LISTEN on a dedicated pooled connection.
type PostgresChangeFeed struct {
	DB      *sql.DB
	channel string
	logger  *slog.Logger
}

// NewPostgresChangeFeed creates a feed on db.
func NewPostgresChangeFeed(db *sql.DB, opts PostgresChangeFeedOptions) *PostgresChangeFeed {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChangeChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresChangeFeed{
		DB:      db,
		channel: channel,
		logger:  logger.With("component", "pg_change_feed"),
	}
}

// Publish notifies listeners that jobID changed.
func (f *PostgresChangeFeed) Publish(ctx context.Context, jobID string) error {
	if _, err := f.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, f.channel, jobID); err != nil {
		return fmt.Errorf("notify %s: %w", f.channel, err)
	}
	return nil
}

// Listen holds a connection in LISTEN mode and reports each notification
// until ctx is done or the connection fails.
func (f *PostgresChangeFeed) Listen(ctx context.Context, opts core.ChangeListenOptions) error {
	conn, err := f.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{f.channel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", f.channel, execErr)
	}
	defer func() {
		// Fails when the wait was interrupted and the connection is gone; the pool discards it.
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	f.logger.DebugContext(ctx, "listening for job changes", "channel", f.channel)
	if opts.OnReady != nil {
		opts.OnReady()
	}

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		for {
			n, waitErr := sc.Conn().WaitForNotification(ctx)
			if waitErr != nil {
				return waitErr
			}
			if opts.OnChange != nil && n.Payload != "" {
				opts.OnChange(n.Payload)
			}
		}
	})
}

var _ core.ChangeFeed = (*PostgresChangeFeed)(nil)
