// Package redis stores per-session conversation memory in Redis lists so a
// replacement upstream session can be primed from any relay replica.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
)

const (
	memoryTTL    = 24 * time.Hour
	memoryPrefix = "dawayir:memory:"
)

// NewClient parses a redis:// URL and verifies the server is reachable.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// ConversationMemory keeps the last maxLines transcript lines of each
// session in a capped list.
type ConversationMemory struct {
	rdb      redis.Cmdable
	maxLines int
	logger   *zap.Logger
}

var _ repositories.ConversationMemory = (*ConversationMemory)(nil)

func NewConversationMemory(rdb redis.Cmdable, maxLines int, logger *zap.Logger) *ConversationMemory {
	if maxLines < 1 {
		maxLines = 1
	}
	return &ConversationMemory{rdb: rdb, maxLines: maxLines, logger: logger}
}

func memoryKey(sessionID string) string {
	return memoryPrefix + sessionID
}

// Append implements repositories.ConversationMemory
func (m *ConversationMemory) Append(ctx context.Context, sessionID string, line entities.TranscriptLine) error {
	data, err := sonic.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript line: %w", err)
	}

	key := memoryKey(sessionID)
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-m.maxLines), -1)
		pipe.Expire(ctx, key, memoryTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append conversation memory: %w", err)
	}
	return nil
}

// Recent implements repositories.ConversationMemory
func (m *ConversationMemory) Recent(ctx context.Context, sessionID string, n int) ([]entities.TranscriptLine, error) {
	if n <= 0 || n > m.maxLines {
		n = m.maxLines
	}
	raw, err := m.rdb.LRange(ctx, memoryKey(sessionID), int64(-n), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation memory: %w", err)
	}

	lines := make([]entities.TranscriptLine, 0, len(raw))
	for _, item := range raw {
		var line entities.TranscriptLine
		if err := sonic.UnmarshalString(item, &line); err != nil {
			m.logger.Warn("Skipping corrupt conversation memory entry",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Forget implements repositories.ConversationMemory
func (m *ConversationMemory) Forget(ctx context.Context, sessionID string) error {
	if err := m.rdb.Del(ctx, memoryKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation memory: %w", err)
	}
	return nil
}
