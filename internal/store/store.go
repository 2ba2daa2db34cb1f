// Package store persists the state of a tracker.
//
// A store keeps the snapshot maps, the event logs and the watermarks of one
// tracker. Commit is all-or-nothing: either the snapshot map, the new
// events and the watermark of a kind are persisted together or nothing is
// changed.
package store

import (
	"context"
	"fmt"

	"github.com/simplesurance/labeltracker/internal/history"
)

// Store persists tracker states.
type Store interface {
	// Init creates an empty state. It fails if a state already exists.
	Init(ctx context.Context, owner, repo, label string) error
	// Load returns the persisted state. If no state exists an error
	// wrapping trackerr.ErrNotFound is returned.
	Load(ctx context.Context) (*history.State, error)
	// Commit persists the snapshot map and the watermark of kind in
	// state. newEvents must already be appended to the history of kind
	// in state.
	Commit(ctx context.Context, kind history.Kind, state *history.State, newEvents []history.Event) error
	Close() error
}

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"
)

// Open returns the Store for backend.
// For BackendFile and BackendSQLite, path is the location of the state
// file or database. For BackendPostgres dsn is the connection string.
func Open(backend, path, dsn string) (Store, error) {
	switch backend {
	case "", BackendFile:
		if path == "" {
			return nil, fmt.Errorf("storage backend %q requires a path", BackendFile)
		}

		return NewFileStore(path), nil

	case BackendSQLite:
		if path == "" {
			return nil, fmt.Errorf("storage backend %q requires a path", BackendSQLite)
		}

		return NewSQLStore(BackendSQLite, path)

	case BackendPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("storage backend %q requires a dsn", BackendPostgres)
		}

		return NewSQLStore(BackendPostgres, dsn)

	default:
		return nil, fmt.Errorf("unsupported storage backend: %q", backend)
	}
}
