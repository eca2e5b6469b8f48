package entities

import (
	"errors"
	"time"
)

// SessionStatus represents the status of a relay session
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusClosed  SessionStatus = "closed"
	SessionStatusFailed  SessionStatus = "failed"
	SessionStatusExpired SessionStatus = "expired"
)

// TranscriptRole identifies who spoke a transcript line
type TranscriptRole string

const (
	TranscriptRoleUser  TranscriptRole = "user"
	TranscriptRoleAgent TranscriptRole = "agent"
)

// recordTTL is how long an inactive record is kept before it may be expired.
const recordTTL = 24 * time.Hour

// maxTranscriptLines bounds the transcript kept on a record.
const maxTranscriptLines = 200

// TranscriptLine is one flushed utterance
type TranscriptLine struct {
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Role      TranscriptRole `json:"role" bson:"role"`
	Text      string         `json:"text" bson:"text"`
}

// SessionCounters aggregates per-session activity
type SessionCounters struct {
	AudioChunks       int `json:"audio_chunks" bson:"audio_chunks"`
	ToolCalls         int `json:"tool_calls" bson:"tool_calls"`
	SyntheticCommands int `json:"synthetic_commands" bson:"synthetic_commands"`
	Reconnects        int `json:"reconnects" bson:"reconnects"`
}

// SessionRecord is the persisted summary of one client connection to the relay
type SessionRecord struct {
	ID           string           `json:"id" bson:"_id"`
	RemoteAddr   string           `json:"remote_addr" bson:"remote_addr"`
	Subject      string           `json:"subject,omitempty" bson:"subject,omitempty"`
	CreatedAt    time.Time        `json:"created_at" bson:"created_at"`
	LastActiveAt time.Time        `json:"last_active_at" bson:"last_active_at"`
	EndedAt      *time.Time       `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	ExpiresAt    time.Time        `json:"expires_at" bson:"expires_at"`
	Status       SessionStatus    `json:"status" bson:"status"`
	Counters     SessionCounters  `json:"counters" bson:"counters"`
	Transcript   []TranscriptLine `json:"transcript" bson:"transcript"`
	Error        string           `json:"error,omitempty" bson:"error,omitempty"`
}

// NewSessionRecord creates an active record for a freshly accepted connection
func NewSessionRecord(id, remoteAddr string) *SessionRecord {
	now := time.Now()
	return &SessionRecord{
		ID:           id,
		RemoteAddr:   remoteAddr,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(recordTTL),
		Status:       SessionStatusActive,
		Transcript:   make([]TranscriptLine, 0),
	}
}

// AddTranscript appends a line, dropping the oldest beyond the cap
func (s *SessionRecord) AddTranscript(role TranscriptRole, text string) {
	s.Transcript = append(s.Transcript, TranscriptLine{
		Timestamp: time.Now(),
		Role:      role,
		Text:      text,
	})
	if len(s.Transcript) > maxTranscriptLines {
		s.Transcript = s.Transcript[len(s.Transcript)-maxTranscriptLines:]
	}
	s.UpdateLastActive()
}

// UpdateLastActive updates the last active timestamp and extends expiration
func (s *SessionRecord) UpdateLastActive() {
	s.LastActiveAt = time.Now()
	s.ExpiresAt = s.LastActiveAt.Add(recordTTL)
}

// IsExpired checks if an active record has outlived its expiry
func (s *SessionRecord) IsExpired(now time.Time) bool {
	return s.Status == SessionStatusActive && now.After(s.ExpiresAt)
}

// Close marks the record as ended normally
func (s *SessionRecord) Close() {
	s.end(SessionStatusClosed)
}

// Fail marks the record as ended by an unrecoverable error
func (s *SessionRecord) Fail(reason string) {
	s.Error = reason
	s.end(SessionStatusFailed)
}

// Expire marks the record as abandoned
func (s *SessionRecord) Expire() {
	s.Status = SessionStatusExpired
}

func (s *SessionRecord) end(status SessionStatus) {
	now := time.Now()
	s.Status = status
	s.EndedAt = &now
	s.LastActiveAt = now
}

// Duration is the time between creation and end, or now if still active
func (s *SessionRecord) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.CreatedAt)
	}
	return time.Since(s.CreatedAt)
}

// Lines returns the text of the last n transcript lines for the given role,
// or for every role when role is empty.
func (s *SessionRecord) Lines(role TranscriptRole, n int) []string {
	var out []string
	for i := len(s.Transcript) - 1; i >= 0 && len(out) < n; i-- {
		if role == "" || s.Transcript[i].Role == role {
			out = append(out, s.Transcript[i].Text)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Clone returns a copy safe to hand to another goroutine
func (s *SessionRecord) Clone() *SessionRecord {
	c := *s
	c.Transcript = append([]TranscriptLine(nil), s.Transcript...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Validate validates the record
func (s *SessionRecord) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}

	switch s.Status {
	case SessionStatusActive, SessionStatusClosed, SessionStatusFailed, SessionStatusExpired:
	default:
		return errors.New("invalid session status")
	}

	return nil
}
