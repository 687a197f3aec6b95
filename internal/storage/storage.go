package storage

import (
	"context"

	"lcoreIndexer/internal/model"
)

// PersistResult reports what a block flush changed.
type PersistResult struct {
	Inserted   int
	Duplicates int
	Cursor     uint64
}

// EventStore persists the events of one block and advances the source
// cursor to that block in the same transaction.
type EventStore interface {
	PersistBlock(ctx context.Context, source string, block uint64, events []model.Event) (PersistResult, error)
}

// CursorRepository reads and explicitly writes source cursors.
type CursorRepository interface {
	LoadCursor(ctx context.Context, source string) (model.Cursor, bool, error)
	SaveCursor(ctx context.Context, source string, block uint64) error
	ListCursors(ctx context.Context) ([]model.Cursor, error)
}

// Store is a complete backend.
type Store interface {
	EventStore
	CursorRepository
	Close()
}
