package entities

import (
	"fmt"
	"testing"
	"time"
)

func TestSessionRecordCreation(t *testing.T) {
	record := NewSessionRecord("session-1", "127.0.0.1:5000")

	if record.Status != SessionStatusActive {
		t.Errorf("Expected status %s, got %s", SessionStatusActive, record.Status)
	}

	if len(record.Transcript) != 0 {
		t.Errorf("Expected empty transcript, got %d lines", len(record.Transcript))
	}

	if record.ExpiresAt.Sub(record.CreatedAt) != recordTTL {
		t.Errorf("Expected expiry %v after creation", recordTTL)
	}
}

func TestAddTranscript(t *testing.T) {
	record := NewSessionRecord("session-1", "")

	record.AddTranscript(TranscriptRoleUser, "كبّر دايرة الوعي")
	record.AddTranscript(TranscriptRoleAgent, "حاضر")
	record.AddTranscript(TranscriptRoleUser, "shrink truth")

	if len(record.Transcript) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(record.Transcript))
	}

	user := record.Lines(TranscriptRoleUser, 5)
	if len(user) != 2 || user[0] != "كبّر دايرة الوعي" || user[1] != "shrink truth" {
		t.Errorf("Unexpected user lines %v", user)
	}

	last := record.Lines("", 2)
	if len(last) != 2 || last[0] != "حاضر" {
		t.Errorf("Unexpected last lines %v", last)
	}
}

func TestAddTranscriptCap(t *testing.T) {
	record := NewSessionRecord("session-1", "")
	for i := 0; i < maxTranscriptLines+25; i++ {
		record.AddTranscript(TranscriptRoleUser, fmt.Sprintf("line %d", i))
	}

	if len(record.Transcript) != maxTranscriptLines {
		t.Fatalf("Expected %d lines, got %d", maxTranscriptLines, len(record.Transcript))
	}
	if record.Transcript[0].Text != "line 25" {
		t.Errorf("Expected oldest lines dropped, first is %q", record.Transcript[0].Text)
	}
}

func TestSessionRecordExpiration(t *testing.T) {
	record := NewSessionRecord("session-1", "")
	now := time.Now()

	if record.IsExpired(now) {
		t.Error("Record should not be expired initially")
	}

	if !record.IsExpired(now.Add(25 * time.Hour)) {
		t.Error("Record should be expired after its TTL")
	}

	record.Close()
	if record.IsExpired(now.Add(25 * time.Hour)) {
		t.Error("Closed records are never expired")
	}
	if record.EndedAt == nil {
		t.Error("Expected EndedAt to be set")
	}
}

func TestSessionRecordFail(t *testing.T) {
	record := NewSessionRecord("session-1", "")
	record.Fail("upstream gone")

	if record.Status != SessionStatusFailed {
		t.Errorf("Expected failed status, got %s", record.Status)
	}
	if record.Error != "upstream gone" {
		t.Errorf("Expected error to be recorded, got %q", record.Error)
	}
}

func TestSessionRecordClone(t *testing.T) {
	record := NewSessionRecord("session-1", "")
	record.AddTranscript(TranscriptRoleUser, "hello")

	clone := record.Clone()
	clone.Transcript[0].Text = "changed"
	clone.Counters.ToolCalls = 9

	if record.Transcript[0].Text != "hello" {
		t.Error("Clone shares transcript storage with the original")
	}
	if record.Counters.ToolCalls != 0 {
		t.Error("Clone shares counters with the original")
	}
}

func TestSessionRecordValidation(t *testing.T) {
	record := NewSessionRecord("session-1", "")
	if err := record.Validate(); err != nil {
		t.Errorf("Valid record should not have validation errors, got: %v", err)
	}

	record.ID = ""
	if err := record.Validate(); err == nil {
		t.Error("Record with empty id should have validation error")
	}

	record.ID = "session-1"
	record.Status = SessionStatus("invalid")
	if err := record.Validate(); err == nil {
		t.Error("Record with invalid status should have validation error")
	}
}
