package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"lcoreIndexer/internal/model"
	"lcoreIndexer/internal/storage"
)

// FaultFunc is consulted before each event of a block is staged. A non-nil
// error aborts the whole block.
type FaultFunc func(source string, block uint64, index int, event model.Event) error

// Store keeps events and cursors in memory. It is used for dry runs and tests.
type Store struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	events  []model.Event
	cursors map[string]model.Cursor
	fault   FaultFunc
	now     func() time.Time
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		keys:    make(map[string]struct{}),
		cursors: make(map[string]model.Cursor),
		now:     time.Now,
	}
}

// SetFault installs or clears a fault hook.
func (s *Store) SetFault(fault FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

func (s *Store) Close() {}

// PersistBlock stages every event and commits only if all of them succeed.
func (s *Store) PersistBlock(ctx context.Context, source string, block uint64, events []model.Event) (storage.PersistResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.PersistResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result  storage.PersistResult
		staged  []model.Event
		pending = make(map[string]struct{})
	)
	for i, event := range events {
		if s.fault != nil {
			if err := s.fault(source, block, i, event); err != nil {
				return storage.PersistResult{}, err
			}
		}
		key, err := eventKey(event)
		if err != nil {
			return storage.PersistResult{}, err
		}
		if _, ok := s.keys[key]; ok {
			result.Duplicates++
			continue
		}
		if _, ok := pending[key]; ok {
			result.Duplicates++
			continue
		}
		pending[key] = struct{}{}
		staged = append(staged, event)
	}

	for key := range pending {
		s.keys[key] = struct{}{}
	}
	s.events = append(s.events, staged...)
	result.Inserted = len(staged)

	cursor, ok := s.cursors[source]
	if !ok || block > cursor.Block {
		cursor.Block = block
	}
	cursor.Source = source
	cursor.UpdatedAt = s.now()
	s.cursors[source] = cursor
	result.Cursor = cursor.Block

	return result, nil
}

func (s *Store) LoadCursor(_ context.Context, source string) (model.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok := s.cursors[source]
	return cursor, ok, nil
}

// SaveCursor overwrites the cursor for a source, including moving it back.
func (s *Store) SaveCursor(_ context.Context, source string, block uint64) error {
	if source == "" {
		return fmt.Errorf("source name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[source] = model.Cursor{Source: source, Block: block, UpdatedAt: s.now()}
	return nil
}

func (s *Store) ListCursors(context.Context) ([]model.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursors := make([]model.Cursor, 0, len(s.cursors))
	for _, cursor := range s.cursors {
		cursors = append(cursors, cursor)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].Source < cursors[j].Source })
	return cursors, nil
}

// Events returns the persisted events of a source in insertion order.
func (s *Store) Events(source string) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, event := range s.events {
		if event.Meta().Source == source {
			out = append(out, event)
		}
	}
	return out
}

// eventKey mirrors the unique constraints of the Postgres schema.
func eventKey(event model.Event) (string, error) {
	meta := event.Meta()
	origin := fmt.Sprintf("%s/%d/%s/%d", meta.Source, meta.Origin.BlockNumber, meta.Origin.TxHash.Hex(), meta.Origin.LogIndex)

	switch ev := event.(type) {
	case model.VerifierAdded:
		return fmt.Sprintf("verifier/%s/%s/%s", ev.Kind(), ev.Verifier.Hex(), origin), nil
	case model.VerifierRemoved:
		return fmt.Sprintf("verifier/%s/%s/%s", ev.Kind(), ev.Verifier.Hex(), origin), nil
	case model.OwnershipTransferred:
		return fmt.Sprintf("ownership/%s/%s", ev.ContractType, origin), nil
	case model.DeviceRegistered:
		return fmt.Sprintf("device/%s/%s/%s", ev.Kind(), ev.DeviceID.Hex(), origin), nil
	case model.DeviceUpdated:
		return fmt.Sprintf("device/%s/%s/%s", ev.Kind(), ev.DeviceID.Hex(), origin), nil
	case model.DeviceTransferred:
		return fmt.Sprintf("transfer/%s/%s", ev.DeviceID.Hex(), origin), nil
	case model.DataSubmitted:
		return fmt.Sprintf("data/%s/%s", ev.DataHash.Hex(), origin), nil
	case model.MarketplaceConfigUpdated:
		if ev.BaseFee == nil {
			return "", fmt.Errorf("marketplace config at block %d: base fee missing", meta.Origin.BlockNumber)
		}
		return fmt.Sprintf("marketplace/%s", origin), nil
	default:
		return "", fmt.Errorf("unsupported event %s", event.Kind())
	}
}
