// Package events broadcasts medal level-ups to listeners outside the process.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/parley/internal/model"
)

// DefaultStream is the Redis stream achievements are appended to.
const DefaultStream = "parley:achievements"

// RedisPublisher appends achievements to a Redis stream.
type RedisPublisher struct {
	rdb    *redis.Client
	stream string
}

// NewRedisPublisher connects to the Redis server at url
// (redis://[user:pass@]host:port/db) and verifies it is reachable.
func NewRedisPublisher(ctx context.Context, url, stream string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{rdb: rdb, stream: stream}, nil
}

// PublishAchievement adds one stream entry per level-up.
func (p *RedisPublisher) PublishAchievement(ctx context.Context, e model.AchievementEntry) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: Fields(e),
	}).Err()
	if err != nil {
		return fmt.Errorf("publish achievement: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Fields flattens an achievement into stream entry values.
func Fields(e model.AchievementEntry) map[string]any {
	return map[string]any{
		"user_id": e.UserID,
		"medal":   string(e.Medal),
		"level":   strconv.Itoa(e.Level),
		"at":      e.At.UTC().Format(time.RFC3339),
	}
}

// LogPublisher writes achievements to the structured log. It is used when no
// Redis server is configured.
type LogPublisher struct{}

// PublishAchievement logs the level-up.
func (LogPublisher) PublishAchievement(_ context.Context, e model.AchievementEntry) error {
	slog.Info("achievement unlocked", "user", e.UserID, "medal", e.Medal, "level", e.Level)
	return nil
}
