package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lcoreIndexer/internal/model"
	"lcoreIndexer/internal/storage"
)

// Store provides Postgres persistence for contract events and source cursors.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const upsertCursorSQL = `
	INSERT INTO source_cursors (source, last_processed_block, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (source) DO UPDATE
	SET last_processed_block = GREATEST(source_cursors.last_processed_block, EXCLUDED.last_processed_block),
		updated_at = now()
	RETURNING last_processed_block
`

// PersistBlock inserts events and advances the cursor in one transaction.
// Rows that already exist are counted as duplicates; the cursor never moves
// backwards.
func (s *Store) PersistBlock(ctx context.Context, source string, block uint64, events []model.Event) (storage.PersistResult, error) {
	var result storage.PersistResult

	blockArg, err := blockParam(block)
	if err != nil {
		return result, err
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		query, args, err := insertStatement(event)
		if err != nil {
			return result, err
		}
		batch.Queue(query, args...)
	}
	batch.Queue(upsertCursorSQL, source, blockArg)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for i := range events {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return storage.PersistResult{}, fmt.Errorf("insert %s: %w", events[i].Kind(), err)
		}
		if tag.RowsAffected() > 0 {
			result.Inserted++
		} else {
			result.Duplicates++
		}
	}

	var cursor int64
	if err := br.QueryRow().Scan(&cursor); err != nil {
		br.Close()
		return storage.PersistResult{}, fmt.Errorf("advance cursor: %w", err)
	}
	if err := br.Close(); err != nil {
		return storage.PersistResult{}, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storage.PersistResult{}, fmt.Errorf("commit: %w", err)
	}

	result.Cursor = uint64(cursor)
	return result, nil
}

// LoadCursor returns the cursor for a source.
func (s *Store) LoadCursor(ctx context.Context, source string) (model.Cursor, bool, error) {
	if source == "" {
		return model.Cursor{}, false, fmt.Errorf("source name required")
	}
	var (
		block  int64
		cursor = model.Cursor{Source: source}
	)
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block, updated_at FROM source_cursors WHERE source=$1`, source)
	if err := row.Scan(&block, &cursor.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Cursor{}, false, nil
		}
		return model.Cursor{}, false, err
	}
	cursor.Block = uint64(block)
	return cursor, true, nil
}

// SaveCursor overwrites the cursor for a source, including moving it back.
func (s *Store) SaveCursor(ctx context.Context, source string, block uint64) error {
	if source == "" {
		return fmt.Errorf("source name required")
	}
	blockArg, err := blockParam(block)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO source_cursors (source, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (source) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, source, blockArg)
	return err
}

// ListCursors returns every cursor ordered by source.
func (s *Store) ListCursors(ctx context.Context) ([]model.Cursor, error) {
	rows, err := s.pool.Query(ctx, `SELECT source, last_processed_block, updated_at FROM source_cursors ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cursors []model.Cursor
	for rows.Next() {
		var (
			cursor model.Cursor
			block  int64
		)
		if err := rows.Scan(&cursor.Source, &block, &cursor.UpdatedAt); err != nil {
			return nil, err
		}
		cursor.Block = uint64(block)
		cursors = append(cursors, cursor)
	}
	return cursors, rows.Err()
}
