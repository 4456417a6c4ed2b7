package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/mmk-research-api/internal/core"
)

// RedisChangeFeedOptions configures a RedisChangeFeed.
type RedisChangeFeedOptions struct {
	Channel string
	Logger  *slog.Logger
}

// RedisChangeFeed carries job change notifications over Redis pub/sub. It is
// used when the API replicas share Redis but LISTEN connections are not wanted.
type RedisChangeFeed struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// NewRedisChangeFeed creates a feed on client.
func NewRedisChangeFeed(client redis.UniversalClient, opts RedisChangeFeedOptions) *RedisChangeFeed {
	channel := opts.Channel
	if channel == "" {
		channel = DefaultChangeChannel
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChangeFeed{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_change_feed"),
	}
}

// Publish notifies subscribers that jobID changed.
func (f *RedisChangeFeed) Publish(ctx context.Context, jobID string) error {
	if err := f.client.Publish(ctx, f.channel, jobID).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", f.channel, err)
	}
	return nil
}

// Listen subscribes to the channel and reports each message until ctx is done
// or the subscription fails.
func (f *RedisChangeFeed) Listen(ctx context.Context, opts core.ChangeListenOptions) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			f.logger.Debug("close redis subscription", "error", err)
		}
	}()

	// Wait for the subscription confirmation so OnReady is not premature.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	f.logger.DebugContext(ctx, "listening for job changes", "channel", f.channel)
	if opts.OnReady != nil {
		opts.OnReady()
	}

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive %s: %w", f.channel, err)
		}
		if opts.OnChange != nil && msg.Payload != "" {
			opts.OnChange(msg.Payload)
		}
	}
}

var _ core.ChangeFeed = (*RedisChangeFeed)(nil)
