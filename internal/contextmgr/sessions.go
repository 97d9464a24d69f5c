package contextmgr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/persistence"
)

// NewSessionID generates a fresh session id: crypto RNG, 128 bits, hex.
func NewSessionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return "sess_" + hex.EncodeToString(buf[:]), nil
}

// CreateSession generates a session for the user on the given interface and
// persists it immediately. An id collision regenerates once, then fails.
func (m *Manager) CreateSession(ctx context.Context, userID string, iface domain.InterfaceTag) (string, error) {
	if !iface.Valid() {
		return "", errors.NewPermanent(fmt.Errorf("invalid interface tag %q", iface), "")
	}

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	id, err := NewSessionID()
	if err != nil {
		return "", err
	}
	if _, exists := m.sessions[id]; exists {
		if id, err = NewSessionID(); err != nil {
			return "", err
		}
		if _, exists := m.sessions[id]; exists {
			return "", errors.NewPermanent(fmt.Errorf("session id collision after regeneration"), "")
		}
	}

	now := time.Now()
	session := &domain.SessionRecord{
		ID:           id,
		UserID:       userID,
		Interface:    iface,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := m.persist(ctx, persistence.KindSession, id, session); err != nil {
		return "", err
	}
	m.sessions[id] = session
	m.metrics.SessionsAdd(ctx, 1)
	return id, nil
}

// GetSessionContext returns a snapshot of the session and touches
// last-accessed. Missing sessions are loaded from persistence.
func (m *Manager) GetSessionContext(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	touch(session)
	if err := m.persist(ctx, persistence.KindSession, sessionID, session); err != nil {
		m.logger.Warn("failed to persist session touch", "session_id", sessionID, "error", err)
	}
	return session.Clone(), nil
}

// UpdateSession replaces the stored session with the given record.
func (m *Manager) UpdateSession(ctx context.Context, record *domain.SessionRecord) error {
	if record == nil || record.ID == "" {
		return errors.NewPermanent(fmt.Errorf("session record requires an id"), "")
	}
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	current, err := m.sessionLocked(ctx, record.ID)
	if err != nil {
		return err
	}
	clone := record.Clone()
	// Last-accessed never moves backwards.
	if clone.LastAccessed.Before(current.LastAccessed) {
		clone.LastAccessed = current.LastAccessed
	}
	touch(clone)
	if err := m.persist(ctx, persistence.KindSession, clone.ID, clone); err != nil {
		return err
	}
	m.sessions[clone.ID] = clone
	return nil
}

// DeleteSession removes the session from cache and persistence.
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	if _, err := m.sessionLocked(ctx, sessionID); err != nil {
		return err
	}
	if err := errors.Retry(ctx, m.retry, func(ctx context.Context) error {
		return m.port.Delete(ctx, persistence.KindSession, sessionID)
	}); err != nil {
		return err
	}
	delete(m.sessions, sessionID)
	m.metrics.SessionsAdd(ctx, -1)
	return nil
}

// AddCommandToHistory appends a (command, response) pair, evicting the
// oldest entry past the configured cap.
func (m *Manager) AddCommandToHistory(ctx context.Context, sessionID, command, response string, failed bool) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	session.History = append(session.History, domain.HistoryEntry{
		Command:  command,
		Response: response,
		Failed:   failed,
		At:       time.Now(),
	})
	if overflow := len(session.History) - m.config.HistoryLimit; overflow > 0 {
		session.History = append([]domain.HistoryEntry(nil), session.History[overflow:]...)
	}
	touch(session)
	return m.persist(ctx, persistence.KindSession, sessionID, session)
}

// SetSessionVariable stores one session variable.
func (m *Manager) SetSessionVariable(ctx context.Context, sessionID, key, value string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Variables == nil {
		session.Variables = make(map[string]string)
	}
	session.Variables[key] = value
	touch(session)
	return m.persist(ctx, persistence.KindSession, sessionID, session)
}

// GetSessionVariable reads one session variable.
func (m *Manager) GetSessionVariable(ctx context.Context, sessionID, key string) (string, bool, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	value, ok := session.Variables[key]
	return value, ok, nil
}

// UpdateLastIntent records the most recent classified intent for the
// session, feeding contextual slot inference on the next command.
func (m *Manager) UpdateLastIntent(ctx context.Context, sessionID string, intentName string, parameters map[string]string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	session.LastIntent = intentName
	session.LastParameters = make(map[string]string, len(parameters))
	for k, v := range parameters {
		session.LastParameters[k] = v
	}
	touch(session)
	return m.persist(ctx, persistence.KindSession, sessionID, session)
}

// UpdateServiceState merges per-service state under "<service>.<key>" and
// records the service as last used.
func (m *Manager) UpdateServiceState(ctx context.Context, sessionID, serviceName string, state map[string]string) error {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.ServiceState == nil {
		session.ServiceState = make(map[string]string, len(state))
	}
	for k, v := range state {
		session.ServiceState[serviceName+"."+k] = v
	}
	session.LastService = serviceName
	touch(session)
	return m.persist(ctx, persistence.KindSession, sessionID, session)
}

// GetRecentCommands returns up to count history entries, most recent last.
func (m *Manager) GetRecentCommands(ctx context.Context, sessionID string, count int) ([]domain.HistoryEntry, error) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	session, err := m.sessionLocked(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := session.History
	if count > 0 && len(history) > count {
		history = history[len(history)-count:]
	}
	return append([]domain.HistoryEntry(nil), history...), nil
}

// sessionLocked returns the cached session or loads it from persistence.
// Callers hold sessionMu.
func (m *Manager) sessionLocked(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	if session, ok := m.sessions[sessionID]; ok {
		return session, nil
	}
	data, err := m.port.Load(ctx, persistence.KindSession, sessionID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", sessionID, errors.ErrNotFound)
		}
		return nil, err
	}
	var session domain.SessionRecord
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.NewPermanent(err, fmt.Sprintf("decode session %s", sessionID))
	}
	m.sessions[sessionID] = &session
	m.metrics.SessionsAdd(ctx, 1)
	return &session, nil
}

func touch(session *domain.SessionRecord) {
	if now := time.Now(); now.After(session.LastAccessed) {
		session.LastAccessed = now
	}
}
