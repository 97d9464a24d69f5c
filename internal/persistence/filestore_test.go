package persistence

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"servis/internal/errors"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"id":"u1","language":"en"}`)
	if err := store.Save(ctx, KindUser, "u1", payload); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, KindUser, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Load = %s, want %s", got, payload)
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), KindSession, "sess_missing")
	if !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}
}

func TestFileStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, KindDevice, "d1", []byte(`{}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, KindDevice, "d1"); err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if err := store.Delete(ctx, KindDevice, "d1"); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
	if _, err := store.Load(ctx, KindDevice, "d1"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Load after delete = %v, want ErrNotFound", err)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, KindUser, "u1", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, KindUser, "u1", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite Save: %v", err)
	}
	got, err := store.Load(ctx, KindUser, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("Load = %s, want the second write", got)
	}
}

func TestFileStoreRejectsPathEscapingIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"../evil", "a/b", `a\b`, ""} {
		if err := store.Save(ctx, KindUser, id, []byte(`{}`)); err == nil {
			t.Errorf("Save(%q) should be rejected", id)
		}
	}
}

func TestFileStoreLayoutByKind(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Save(context.Background(), KindSession, "sess_ab", []byte(`{}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "sessions", "sess_ab.json")); err != nil {
		t.Errorf("expected <root>/sessions/sess_ab.json: %v", err)
	}
}
