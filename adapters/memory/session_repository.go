// Package memory holds in-process implementations of the storage interfaces
// and an offline upstream. They back the relay when MongoDB or Redis are not
// configured.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/entities"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
)

// SessionRepository keeps session records in a map
type SessionRepository struct {
	mu      sync.RWMutex
	records map[string]*entities.SessionRecord
}

var _ repositories.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates an empty repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{records: make(map[string]*entities.SessionRecord)}
}

// Create implements repositories.SessionRepository
func (m *SessionRepository) Create(_ context.Context, record *entities.SessionRecord) error {
	if record == nil {
		return errors.New("session record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[record.ID]; exists {
		return errors.New("session record already exists")
	}
	m.records[record.ID] = record.Clone()
	return nil
}

// Update implements repositories.SessionRepository
func (m *SessionRepository) Update(_ context.Context, record *entities.SessionRecord) error {
	if record == nil {
		return errors.New("session record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record.Clone()
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *SessionRepository) GetByID(_ context.Context, id string) (*entities.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return record.Clone(), nil
}

// ListRecent implements repositories.SessionRepository
func (m *SessionRepository) ListRecent(_ context.Context, limit int) ([]*entities.SessionRecord, error) {
	m.mu.RLock()
	out := make([]*entities.SessionRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExpireSessions implements repositories.SessionRepository
func (m *SessionRepository) ExpireSessions(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Status == entities.SessionStatusActive && r.LastActiveAt.Before(cutoff) {
			r.Expire()
			n++
		}
	}
	return n, nil
}
