package redis

import (
	"context"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
)

func TestMemoryKey(t *testing.T) {
	if got := memoryKey("abc"); got != "dawayir:memory:abc" {
		t.Errorf("memoryKey = %q", got)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient(context.Background(), "not a url"); err == nil {
		t.Error("expected an error for an invalid url")
	}
}

// Requires a running Redis; skipped when REDIS_URL is not set.
func TestConversationMemory_Integration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("Skipping Redis integration test - REDIS_URL not set")
	}

	ctx := context.Background()
	rdb, err := NewClient(ctx, url)
	if err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	mem := NewConversationMemory(rdb, 3, zap.NewNop())
	const id = "integration-test-session"
	defer mem.Forget(ctx, id)

	for _, text := range []string{"one", "two", "three", "four"} {
		if err := mem.Append(ctx, id, entities.TranscriptLine{Role: entities.TranscriptRoleUser, Text: text}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	lines, err := mem.Recent(ctx, id, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(lines) != 3 || lines[0].Text != "two" || lines[2].Text != "four" {
		t.Errorf("Recent = %+v", lines)
	}

	if err := mem.Forget(ctx, id); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if lines, _ = mem.Recent(ctx, id, 10); len(lines) != 0 {
		t.Errorf("Forget left %d lines", len(lines))
	}
}
