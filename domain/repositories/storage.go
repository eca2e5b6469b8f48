package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// SessionRepository persists relay session records
type SessionRepository interface {
	Create(ctx context.Context, record *entities.SessionRecord) error
	Update(ctx context.Context, record *entities.SessionRecord) error
	GetByID(ctx context.Context, id string) (*entities.SessionRecord, error)
	// ListRecent returns the newest records first
	ListRecent(ctx context.Context, limit int) ([]*entities.SessionRecord, error)
	// ExpireSessions marks active records idle since before cutoff as expired
	// and returns how many were changed
	ExpireSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// ConversationMemory keeps the most recent transcript lines of a session so
// that a replacement upstream session can be primed with them
type ConversationMemory interface {
	Append(ctx context.Context, sessionID string, line entities.TranscriptLine) error
	Recent(ctx context.Context, sessionID string, n int) ([]entities.TranscriptLine, error)
	Forget(ctx context.Context, sessionID string) error
}
