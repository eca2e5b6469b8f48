package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
)

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()

	older := entities.NewSessionRecord("a", "1.1.1.1:1")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	older.LastActiveAt = older.CreatedAt
	newer := entities.NewSessionRecord("b", "2.2.2.2:2")

	for _, r := range []*entities.SessionRecord{older, newer} {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create(%s): %v", r.ID, err)
		}
	}
	if err := repo.Create(ctx, newer); err == nil {
		t.Error("duplicate create should fail")
	}
	if err := repo.Create(ctx, &entities.SessionRecord{}); err == nil {
		t.Error("invalid record should fail")
	}

	// Stored copies are isolated from the caller.
	newer.AddTranscript(entities.TranscriptRoleUser, "hi")
	got, err := repo.GetByID(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Transcript) != 0 {
		t.Error("repository must store a copy")
	}

	list, _ := repo.ListRecent(ctx, 10)
	if len(list) != 2 || list[0].ID != "b" {
		t.Errorf("ListRecent order wrong: %v", list)
	}
	if list, _ = repo.ListRecent(ctx, 1); len(list) != 1 {
		t.Errorf("limit ignored: %d", len(list))
	}

	n, _ := repo.ExpireSessions(ctx, time.Now().Add(-30*time.Minute))
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ = repo.GetByID(ctx, "a")
	if got.Status != entities.SessionStatusExpired {
		t.Errorf("status = %s", got.Status)
	}

	if _, err := repo.GetByID(ctx, "zzz"); !errors.Is(err, repositories.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationMemory(t *testing.T) {
	ctx := context.Background()
	mem := NewConversationMemory(3)
	for _, text := range []string{"1", "2", "3", "4"} {
		_ = mem.Append(ctx, "s", entities.TranscriptLine{Role: entities.TranscriptRoleUser, Text: text})
	}

	lines, _ := mem.Recent(ctx, "s", 10)
	if len(lines) != 3 || lines[0].Text != "2" || lines[2].Text != "4" {
		t.Errorf("Recent = %v", lines)
	}
	lines, _ = mem.Recent(ctx, "s", 2)
	if len(lines) != 2 || lines[0].Text != "3" {
		t.Errorf("Recent(2) = %v", lines)
	}

	_ = mem.Forget(ctx, "s")
	if lines, _ = mem.Recent(ctx, "s", 10); len(lines) != 0 {
		t.Errorf("Forget left %v", lines)
	}
}

func TestEchoConnector(t *testing.T) {
	ctx := context.Background()
	live, err := EchoConnector{}.Connect(ctx, repositories.ConnectOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer live.Close()

	first, err := live.Receive(ctx)
	if err != nil || first.SetupComplete == nil {
		t.Fatalf("first message = %+v, %v", first, err)
	}

	if err := live.Send(ctx, protocol.NewAudioInput([]byte{0, 0}, 16000)); err != nil {
		t.Fatal(err)
	}
	if err := live.Send(ctx, protocol.NewUserTurn("grow truth")); err != nil {
		t.Fatal(err)
	}

	in, _ := live.Receive(ctx)
	if in.ServerContent.InputTranscription.Text != "grow truth" || !in.ServerContent.InputTranscription.Finished {
		t.Errorf("input transcription = %+v", in.ServerContent.InputTranscription)
	}
	out, _ := live.Receive(ctx)
	if out.ServerContent.OutputTranscription.Text != "grow truth" {
		t.Errorf("output transcription = %+v", out.ServerContent.OutputTranscription)
	}
	done, _ := live.Receive(ctx)
	if !done.ServerContent.TurnComplete {
		t.Error("expected turnComplete")
	}

	live.Close()
	if _, err := live.Receive(ctx); err == nil {
		t.Error("Receive after Close should fail")
	}
}
