package ingest

import (
	"context"
	"fmt"

	"lcoreIndexer/internal/model"
	"lcoreIndexer/internal/storage"
)

// CursorStore reads source cursors and lets operators set them. Ingestion
// itself only advances cursors through Writer.Persist.
type CursorStore struct {
	repo storage.CursorRepository
}

func NewCursorStore(repo storage.CursorRepository) *CursorStore {
	return &CursorStore{repo: repo}
}

// Load returns the last processed block of source; ok is false if the
// source has never been persisted.
func (c *CursorStore) Load(ctx context.Context, source string) (uint64, bool, error) {
	cursor, ok, err := c.repo.LoadCursor(ctx, source)
	if err != nil {
		return 0, false, fmt.Errorf("load cursor %s: %w", source, err)
	}
	return cursor.Block, ok, nil
}

// Store overwrites the cursor of source.
func (c *CursorStore) Store(ctx context.Context, source string, block uint64) error {
	if err := c.repo.SaveCursor(ctx, source, block); err != nil {
		return fmt.Errorf("store cursor %s: %w", source, err)
	}
	return nil
}

// List returns every stored cursor.
func (c *CursorStore) List(ctx context.Context) ([]model.Cursor, error) {
	cursors, err := c.repo.ListCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	return cursors, nil
}

// ResumeBlock is the first block a stream for source must deliver:
// startBlock for a new source, otherwise max(startBlock, cursor+1).
func ResumeBlock(startBlock, cursor uint64, ok bool) uint64 {
	if !ok {
		return startBlock
	}
	return max(startBlock, cursor+1)
}
