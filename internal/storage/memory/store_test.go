package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcoreIndexer/internal/model"
)

func meta(block uint64, index uint) model.EventMeta {
	return model.EventMeta{
		Source:   "pipeline",
		Contract: common.HexToAddress("0xc3"),
		Origin: model.Provenance{
			BlockNumber: block,
			TxHash:      common.HexToHash("0x1234"),
			LogIndex:    index,
		},
	}
}

func TestPersistBlockDeduplicates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	event := model.DataSubmitted{
		EventMeta:   meta(7, 0),
		DataHash:    common.HexToHash("0x01"),
		DeviceOwner: common.HexToAddress("0xaa"),
		Timestamp:   100,
	}

	result, err := store.PersistBlock(ctx, "pipeline", 7, []model.Event{event, event})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Duplicates)

	result, err = store.PersistBlock(ctx, "pipeline", 7, []model.Event{event})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Len(t, store.Events("pipeline"), 1)
}

func TestPersistBlockFaultRollsBack(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	store.SetFault(func(_ string, _ uint64, index int, _ model.Event) error {
		if index == 1 {
			return boom
		}
		return nil
	})

	events := []model.Event{
		model.MarketplaceConfigUpdated{EventMeta: meta(9, 0), BaseFee: big.NewInt(5)},
		model.MarketplaceConfigUpdated{EventMeta: meta(9, 1), BaseFee: big.NewInt(6)},
	}
	_, err := store.PersistBlock(ctx, "pipeline", 9, events)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.Events("pipeline"))

	_, ok, err := store.LoadCursor(ctx, "pipeline")
	require.NoError(t, err)
	assert.False(t, ok)

	store.SetFault(nil)
	result, err := store.PersistBlock(ctx, "pipeline", 9, events)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, uint64(9), result.Cursor)
}

func TestCursorMonotonicUnlessSaved(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.PersistBlock(ctx, "pipeline", 30, nil)
	require.NoError(t, err)
	result, err := store.PersistBlock(ctx, "pipeline", 12, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), result.Cursor)

	require.NoError(t, store.SaveCursor(ctx, "pipeline", 4))
	require.NoError(t, store.SaveCursor(ctx, "devices", 8))

	cursors, err := store.ListCursors(ctx)
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	assert.Equal(t, "devices", cursors[0].Source)
	assert.Equal(t, uint64(4), cursors[1].Block)
}

func TestPersistBlockRejectsUnknownEvent(t *testing.T) {
	store := NewStore()

	_, err := store.PersistBlock(context.Background(), "pipeline", 1, []model.Event{
		model.UnknownEvent{EventMeta: meta(1, 0)},
	})
	require.Error(t, err)
}
