package contextmgr

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"servis/internal/domain"
	"servis/internal/errors"
	"servis/internal/persistence"
)

func TestNewSessionIDShape(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID: %v", err)
		}
		if !strings.HasPrefix(id, "sess_") || len(id) != len("sess_")+32 {
			t.Fatalf("id %q, want sess_ prefix and 32 hex chars", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestCreateSessionAndGet(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceVoice)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	session, err := m.GetSessionContext(ctx, id)
	if err != nil {
		t.Fatalf("GetSessionContext: %v", err)
	}
	if session.UserID != "u1" || session.Interface != domain.InterfaceVoice {
		t.Errorf("session = %+v, want u1/voice", session)
	}
}

func TestCreateSessionRejectsBadInterface(t *testing.T) {
	m := newTestManager(t, nil)
	if _, err := m.CreateSession(context.Background(), "u1", "carrier-pigeon"); err == nil {
		t.Fatal("expected error for unknown interface tag")
	}
}

func TestLastAccessedMonotonic(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceText)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var prev time.Time
	for i := 0; i < 10; i++ {
		session, err := m.GetSessionContext(ctx, id)
		if err != nil {
			t.Fatalf("GetSessionContext: %v", err)
		}
		if session.LastAccessed.Before(prev) {
			t.Fatalf("LastAccessed moved backwards: %v then %v", prev, session.LastAccessed)
		}
		prev = session.LastAccessed
	}

	// An update carrying a stale timestamp must not rewind the clock.
	stale := &domain.SessionRecord{ID: id, UserID: "u1", Interface: domain.InterfaceText,
		LastAccessed: time.Now().Add(-time.Hour)}
	if err := m.UpdateSession(ctx, stale); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	session, err := m.GetSessionContext(ctx, id)
	if err != nil {
		t.Fatalf("GetSessionContext: %v", err)
	}
	if session.LastAccessed.Before(prev) {
		t.Fatalf("stale update rewound LastAccessed to %v", session.LastAccessed)
	}
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	store := persistence.NewMemStore()
	m, err := NewManager(store, Config{SessionTTL: time.Hour, HistoryLimit: 50}, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceWeb)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 60; i++ {
		cmd := fmt.Sprintf("command %d", i)
		if err := m.AddCommandToHistory(ctx, id, cmd, "ok", false); err != nil {
			t.Fatalf("AddCommandToHistory: %v", err)
		}
	}

	history, err := m.GetRecentCommands(ctx, id, 0)
	if err != nil {
		t.Fatalf("GetRecentCommands: %v", err)
	}
	if len(history) != 50 {
		t.Fatalf("history length = %d, want 50", len(history))
	}
	if history[0].Command != "command 10" {
		t.Errorf("oldest entry = %q, want command 10", history[0].Command)
	}
	if history[len(history)-1].Command != "command 59" {
		t.Errorf("newest entry = %q, want command 59", history[len(history)-1].Command)
	}
}

func TestSessionVariables(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceText)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.SetSessionVariable(ctx, id, "room", "kitchen"); err != nil {
		t.Fatalf("SetSessionVariable: %v", err)
	}
	value, ok, err := m.GetSessionVariable(ctx, id, "room")
	if err != nil || !ok || value != "kitchen" {
		t.Fatalf("GetSessionVariable = %q/%v/%v, want kitchen/true/nil", value, ok, err)
	}
	if _, ok, _ := m.GetSessionVariable(ctx, id, "absent"); ok {
		t.Error("absent variable should report ok=false")
	}
}

func TestUpdateLastIntent(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceVoice)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	params := map[string]string{"genre": "jazz"}
	if err := m.UpdateLastIntent(ctx, id, "play_music", params); err != nil {
		t.Fatalf("UpdateLastIntent: %v", err)
	}
	session, err := m.GetSessionContext(ctx, id)
	if err != nil {
		t.Fatalf("GetSessionContext: %v", err)
	}
	if session.LastIntent != "play_music" || session.LastParameters["genre"] != "jazz" {
		t.Errorf("last intent = %q/%v, want play_music/jazz", session.LastIntent, session.LastParameters)
	}
}

func TestDeleteSessionThenGetNotFound(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceMobile)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := m.GetSessionContext(ctx, id); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("GetSessionContext after delete = %v, want ErrNotFound", err)
	}
}

func TestSessionClonesAreIndependent(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	id, err := m.CreateSession(ctx, "u1", domain.InterfaceWeb)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.SetSessionVariable(ctx, id, "k", "v"); err != nil {
		t.Fatalf("SetSessionVariable: %v", err)
	}

	snapshot, err := m.GetSessionContext(ctx, id)
	if err != nil {
		t.Fatalf("GetSessionContext: %v", err)
	}
	snapshot.Variables["k"] = "mutated"

	fresh, err := m.GetSessionContext(ctx, id)
	if err != nil {
		t.Fatalf("GetSessionContext: %v", err)
	}
	if fresh.Variables["k"] != "v" {
		t.Error("mutating a snapshot leaked into the authoritative record")
	}
}
