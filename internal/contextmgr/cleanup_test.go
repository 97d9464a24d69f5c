package contextmgr

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/persistence"
)

func expireSession(m *Manager, id string, age time.Duration) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	if session, ok := m.sessions[id]; ok {
		session.LastAccessed = time.Now().Add(-age)
	}
}

func TestCleanupRemovesExpiredSessions(t *testing.T) {
	store := persistence.NewMemStore()
	m, err := NewManager(store, Config{SessionTTL: 10 * time.Minute, HistoryLimit: 50}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	expired, err := m.CreateSession(ctx, "u1", domain.InterfaceVoice)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	active, err := m.CreateSession(ctx, "u1", domain.InterfaceWeb)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	expireSession(m, expired, 11*time.Minute)

	if removed := m.CleanupExpiredSessions(ctx); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := m.GetSessionContext(ctx, expired); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("expired session still loadable: %v", err)
	}
	if _, err := m.GetSessionContext(ctx, active); err != nil {
		t.Errorf("active session removed: %v", err)
	}
}

func TestCleanupTTLBoundaryCountsAsExpired(t *testing.T) {
	m, err := NewManager(persistence.NewMemStore(),
		Config{SessionTTL: 10 * time.Minute, HistoryLimit: 50}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceText)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// Inactivity exactly equal to the TTL is expired. The set age is a
	// hair past the boundary by the time the scan runs, which is the same
	// side of the comparison.
	expireSession(m, id, 10*time.Minute)

	if removed := m.CleanupExpiredSessions(ctx); removed != 1 {
		t.Fatalf("removed = %d, want 1 at the TTL boundary", removed)
	}
}

func TestCleanupSkipsTouchedSessions(t *testing.T) {
	m, err := NewManager(persistence.NewMemStore(),
		Config{SessionTTL: 10 * time.Minute, HistoryLimit: 50}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceVoice)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	expireSession(m, id, 9*time.Minute)

	if removed := m.CleanupExpiredSessions(ctx); removed != 0 {
		t.Fatalf("removed = %d, want 0 for a still-active session", removed)
	}
	if m.SessionCount() != 1 {
		t.Errorf("session count = %d, want 1", m.SessionCount())
	}
}
