// Package storage defines persistence interfaces for the resource server.
package storage

import (
	"context"

	archivist "github.com/avenor/archivist/internal"
)

// AccessStore manages access-log persistence.
type AccessStore interface {
	InsertAccess(ctx context.Context, records []archivist.AccessRecord) error
	QueryAccess(ctx context.Context, f archivist.AccessFilter) ([]archivist.AccessRecord, error)
	CountAccess(ctx context.Context, f archivist.AccessFilter) (int, error)
}

// Store combines the storage interfaces with lifecycle management.
type Store interface {
	AccessStore
	Ping(ctx context.Context) error
	Close() error
}
