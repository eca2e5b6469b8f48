package memory

import (
	"context"
	"sync"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
)

// ConversationMemory keeps the last MaxLines lines per session
type ConversationMemory struct {
	mu       sync.Mutex
	maxLines int
	lines    map[string][]entities.TranscriptLine
}

var _ repositories.ConversationMemory = (*ConversationMemory)(nil)

// NewConversationMemory creates a memory bounded to maxLines per session
func NewConversationMemory(maxLines int) *ConversationMemory {
	if maxLines < 1 {
		maxLines = 1
	}
	return &ConversationMemory{maxLines: maxLines, lines: make(map[string][]entities.TranscriptLine)}
}

// Append implements repositories.ConversationMemory
func (c *ConversationMemory) Append(_ context.Context, sessionID string, line entities.TranscriptLine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := append(c.lines[sessionID], line)
	if over := len(lines) - c.maxLines; over > 0 {
		lines = append([]entities.TranscriptLine(nil), lines[over:]...)
	}
	c.lines[sessionID] = lines
	return nil
}

// Recent implements repositories.ConversationMemory
func (c *ConversationMemory) Recent(_ context.Context, sessionID string, n int) ([]entities.TranscriptLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines := c.lines[sessionID]
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append([]entities.TranscriptLine(nil), lines...), nil
}

// Forget implements repositories.ConversationMemory
func (c *ConversationMemory) Forget(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, sessionID)
	return nil
}
