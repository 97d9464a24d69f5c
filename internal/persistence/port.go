// Package persistence defines the narrow storage contract the core depends
// on: opaque blobs keyed by (kind, id). Implementations must be idempotent
// and safe for concurrent calls across different ids.
package persistence

import "context"

// Kind partitions records by entity type.
type Kind string

const (
	KindUser    Kind = "users"
	KindSession Kind = "sessions"
	KindDevice  Kind = "devices"
)

// Port is the storage contract. Load returns errors.ErrNotFound for missing
// records; write failures that are safe to retry are marked transient.
type Port interface {
	Save(ctx context.Context, kind Kind, id string, data []byte) error
	Load(ctx context.Context, kind Kind, id string) ([]byte, error)
	Delete(ctx context.Context, kind Kind, id string) error
	Close() error
}
