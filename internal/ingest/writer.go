package ingest

import (
	"context"
	"fmt"

	"lcoreIndexer/internal/model"
	"lcoreIndexer/internal/storage"
)

// Writer persists one block of events per call.
type Writer struct {
	store storage.EventStore
}

func NewWriter(store storage.EventStore) *Writer {
	return &Writer{store: store}
}

// Persist stores every event of block and advances the source cursor to
// block in the same transaction. Events already stored count as success.
func (w *Writer) Persist(ctx context.Context, source string, block uint64, events []model.Event) (storage.PersistResult, error) {
	for _, event := range events {
		if _, ok := event.(model.UnknownEvent); ok {
			return storage.PersistResult{}, fmt.Errorf("%w: unknown event in block %d", ErrPersistenceFailure, block)
		}
		if got := event.Provenance().BlockNumber; got != block {
			return storage.PersistResult{}, fmt.Errorf("%w: %s from block %d flushed with block %d", ErrPersistenceFailure, event.Kind(), got, block)
		}
	}

	result, err := w.store.PersistBlock(ctx, source, block, events)
	if err != nil {
		return storage.PersistResult{}, fmt.Errorf("%w: %s block %d: %v", ErrPersistenceFailure, source, block, err)
	}
	return result, nil
}
