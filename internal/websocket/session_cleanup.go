package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
)

// SessionCleanupService expires session records left active by relays that
// stopped without finalizing them
type SessionCleanupService struct {
	sessionRepo repositories.SessionRepository
	maxIdle     time.Duration
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger
	stopChan    chan struct{}
	doneChan    chan struct{}
}

// NewSessionCleanupService creates a service that expires records idle for
// longer than maxIdle
func NewSessionCleanupService(sessionRepo repositories.SessionRepository, maxIdle time.Duration, logger *zap.Logger) *SessionCleanupService {
	return &SessionCleanupService{
		sessionRepo: sessionRepo,
		maxIdle:     maxIdle,
		interval:    30 * time.Minute,
		now:         time.Now,
		logger:      logger,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started", zap.Duration("maxIdle", s.maxIdle))
}

// Stop stops the cleanup service and waits for a running pass to finish
func (s *SessionCleanupService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run initial cleanup after 1 minute
	initialTimer := time.NewTimer(1 * time.Minute)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.RunOnce(context.Background())
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce performs one cleanup pass and returns how many records expired
func (s *SessionCleanupService) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.maxIdle)
	n, err := s.sessionRepo.ExpireSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to expire sessions", zap.Error(err))
		return 0
	}

	s.logger.Info("Session cleanup completed", zap.Int("expired", n), zap.Time("cutoff", cutoff))
	return n
}
