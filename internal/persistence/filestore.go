package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"servis/internal/errors"
	"servis/internal/logging"
)

// FileStore persists one JSON file per record at <root>/<kind>/<id>.json.
type FileStore struct {
	root   string
	logger *logging.Logger
}

// NewFileStore creates the store, expanding a leading ~/ in root.
func NewFileStore(root string, logger *logging.Logger) (*FileStore, error) {
	if strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, root[2:])
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create persistence root %s: %w", root, err)
	}
	return &FileStore{
		root:   root,
		logger: logging.OrNop(logger),
	}, nil
}

// Save writes the record atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, kind Kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewTransient(err, "")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return errors.NewTransient(err, "")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.NewTransient(err, "")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.NewTransient(err, "")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.NewTransient(err, "")
	}
	return nil
}

// Load reads the record, reporting errors.ErrNotFound for missing files.
func (s *FileStore) Load(ctx context.Context, kind Kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(kind, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", kind, id, errors.ErrNotFound)
		}
		return nil, errors.NewTransient(err, "")
	}
	return data, nil
}

// Delete removes the record. Deleting a missing record is a no-op.
func (s *FileStore) Delete(ctx context.Context, kind Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewTransient(err, "")
	}
	return nil
}

// Close releases nothing for the file store but satisfies the Port contract.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(kind Kind, id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", errors.NewPermanent(fmt.Errorf("invalid record id %q", id), "")
	}
	return filepath.Join(s.root, string(kind), id+".json"), nil
}
