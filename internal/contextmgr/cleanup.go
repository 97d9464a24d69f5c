package contextmgr

import (
	"context"
	"time"

	"servis/internal/errors"
	"servis/internal/persistence"
)

// CleanupExpiredSessions removes sessions whose inactivity has reached the
// TTL (the boundary itself counts as expired). The session lock is released
// whenever the configured slice is used up so command dispatch never stalls
// behind a long scan. Returns the number of sessions removed.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) int {
	now := time.Now()

	var expired []string
	m.sessionMu.Lock()
	sliceStart := time.Now()
	for id, session := range m.sessions {
		if now.Sub(session.LastAccessed) >= m.config.SessionTTL {
			expired = append(expired, id)
		}
		if time.Since(sliceStart) >= m.config.CleanupSlice {
			m.sessionMu.Unlock()
			m.sessionMu.Lock()
			sliceStart = time.Now()
		}
	}
	m.sessionMu.Unlock()

	removed := 0
	for _, id := range expired {
		if ctx.Err() != nil {
			break
		}
		if err := errors.Retry(ctx, m.retry, func(ctx context.Context) error {
			return m.port.Delete(ctx, persistence.KindSession, id)
		}); err != nil {
			m.logger.Warn("failed to delete expired session", "session_id", id, "error", err)
			continue
		}
		m.sessionMu.Lock()
		// Re-check: the session may have been touched while unlocked.
		if session, ok := m.sessions[id]; ok && time.Since(session.LastAccessed) >= m.config.SessionTTL {
			delete(m.sessions, id)
			removed++
			m.metrics.SessionsAdd(ctx, -1)
		}
		m.sessionMu.Unlock()
	}

	if removed > 0 {
		m.logger.Info("cleaned up expired sessions", "count", removed)
	}
	return removed
}

// RunCleanupLoop runs CleanupExpiredSessions at the configured interval
// until ctx is cancelled. Intended to run as a supervised background task.
func (m *Manager) RunCleanupLoop(ctx context.Context) {
	interval := m.config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupExpiredSessions(ctx)
		}
	}
}

// SessionCount reports the cached session population.
func (m *Manager) SessionCount() int {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	return len(m.sessions)
}
