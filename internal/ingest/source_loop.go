package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lcoreIndexer/internal/chain"
	"lcoreIndexer/internal/model"
)

// blockBuffer holds the decoded events of the block being read. A block is
// active as soon as any of its logs is seen, even if none decoded.
type blockBuffer struct {
	active bool
	block  uint64
	events []model.Event
}

func (b *blockBuffer) start(block uint64) {
	b.active = true
	b.block = block
	b.events = nil
}

func (b *blockBuffer) reset() {
	b.active = false
	b.events = nil
}

type sourceLoop struct {
	name       string
	address    common.Address
	startBlock uint64
	decoder    EventDecoder

	opener  StreamOpener
	writer  *Writer
	cursors *CursorStore
	sink    DecodeErrorSink
	metrics Metrics
	health  *sourceHealth
	logger  *zap.Logger

	backoffInitial time.Duration
	backoffMax     time.Duration
	sleep          func(context.Context, time.Duration) error

	// next is the lowest block not yet persisted.
	next uint64
}

func (l *sourceLoop) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.backoffInitial
	b.MaxInterval = l.backoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// run drives the source until ctx is cancelled. Every failure is retried.
func (l *sourceLoop) run(ctx context.Context) {
	defer l.health.setState(StateStopped)

	bo := l.newBackOff()
	for {
		if ctx.Err() != nil {
			return
		}

		err := l.session(ctx, bo)
		if ctx.Err() != nil {
			l.logger.Info("source stopped")
			return
		}
		if err == nil {
			err = errors.New("stream ended")
		}

		failures := l.health.recordFailure(err)
		delay := bo.NextBackOff()
		l.health.setState(StateBackoff)
		l.metrics.ObserveReconnect(l.name, delay)
		l.logger.Warn("source session failed, backing off",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Bool("connection_lost", errors.Is(err, chain.ErrConnectionLost)),
			zap.Bool("persistence_failure", errors.Is(err, ErrPersistenceFailure)),
		)

		if err := l.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// session opens one stream at the resume point and consumes it until it
// fails. Buffered events of an unfinished block are dropped on return.
func (l *sourceLoop) session(ctx context.Context, bo backoff.BackOff) error {
	l.health.setState(StateSubscribing)

	cursor, ok, err := l.cursors.Load(ctx, l.name)
	if err != nil {
		return err
	}
	if ok {
		l.health.setCursor(cursor)
		l.metrics.SetCursor(l.name, cursor)
	}
	l.next = ResumeBlock(l.startBlock, cursor, ok)

	stream, err := l.opener.Open(ctx, chain.Subscription{
		Source:    l.name,
		Address:   l.address,
		FromBlock: l.next,
	})
	if err != nil {
		return fmt.Errorf("open stream from %d: %w", l.next, err)
	}
	defer stream.Close()

	l.health.setState(StateStreaming)
	l.logger.Info("source streaming", zap.Uint64("from", l.next))

	var buf blockBuffer
	for {
		item, err := stream.Next(ctx)
		if err != nil {
			return err
		}

		if item.CaughtUp {
			l.observeBlock(item.Block)
			if err := l.caughtUp(ctx, &buf, item.Block, bo); err != nil {
				return err
			}
			continue
		}

		log := item.Log
		if log == nil {
			continue
		}
		if log.Removed {
			l.logger.Warn("ignoring removed log",
				zap.Uint64("block", log.BlockNumber),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.LogIndex),
			)
			continue
		}
		l.observeBlock(log.BlockNumber)
		if log.BlockNumber < l.next {
			if err := l.late(ctx, *log, bo); err != nil {
				return err
			}
			continue
		}

		if buf.active && buf.block != log.BlockNumber {
			if err := l.flush(ctx, buf.block, buf.events, bo); err != nil {
				return err
			}
			buf.reset()
		}
		if !buf.active {
			buf.start(log.BlockNumber)
		}

		if event, ok := l.decode(*log); ok {
			buf.events = append(buf.events, event)
		}
	}
}

// caughtUp flushes whatever is complete up to block. With nothing buffered
// it still advances the cursor to block.
func (l *sourceLoop) caughtUp(ctx context.Context, buf *blockBuffer, block uint64, bo backoff.BackOff) error {
	if buf.active && buf.block <= block {
		if err := l.flush(ctx, buf.block, buf.events, bo); err != nil {
			return err
		}
		buf.reset()
	}
	if !buf.active && block >= l.next {
		return l.flush(ctx, block, nil, bo)
	}
	return nil
}

// late persists a log of an already flushed block on its own. Redelivered
// logs insert nothing and the cursor stays where it is.
func (l *sourceLoop) late(ctx context.Context, log model.RawLog, bo backoff.BackOff) error {
	event, ok := l.decode(log)
	if !ok {
		return nil
	}
	l.logger.Debug("persisting late log",
		zap.Uint64("block", log.BlockNumber),
		zap.String("tx_hash", log.TxHash.Hex()),
		zap.Uint("log_index", log.LogIndex),
		zap.Uint64("next", l.next),
	)
	return l.flush(ctx, log.BlockNumber, []model.Event{event}, bo)
}

func (l *sourceLoop) decode(log model.RawLog) (model.Event, bool) {
	event, err := l.decoder.Decode(log)
	if err != nil {
		l.metrics.ObserveDecode(l.name, "invalid", "error")

		var decodeErr *model.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = model.NewDecodeError(l.name, log, err)
		}
		l.logger.Warn("skipping undecodable log",
			zap.Uint64("block", log.BlockNumber),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint("log_index", log.LogIndex),
			zap.Error(err),
		)
		if l.sink != nil {
			if err := l.sink.PutDecodeErrors([]*model.DecodeError{decodeErr}); err != nil {
				l.logger.Error("write decode error failed", zap.Error(err))
			}
		}
		return nil, false
	}

	if unknown, ok := event.(model.UnknownEvent); ok {
		l.metrics.ObserveDecode(l.name, string(model.KindUnknown), "unknown")
		l.logger.Debug("skipping unknown event",
			zap.Uint64("block", log.BlockNumber),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint("log_index", log.LogIndex),
			zap.String("topic0", unknown.Topic0.Hex()),
		)
		return nil, false
	}

	l.metrics.ObserveDecode(l.name, string(event.Kind()), "decoded")
	return event, true
}

func (l *sourceLoop) flush(ctx context.Context, block uint64, events []model.Event, bo backoff.BackOff) error {
	started := time.Now()
	result, err := l.writer.Persist(ctx, l.name, block, events)
	l.metrics.ObserveFlush(l.name, err, result.Inserted, result.Duplicates, started)
	if err != nil {
		return err
	}

	l.next = max(l.next, result.Cursor+1)
	l.health.setCursor(result.Cursor)
	l.health.recordSuccess()
	l.metrics.SetCursor(l.name, result.Cursor)
	bo.Reset()

	l.logger.Debug("block persisted",
		zap.Uint64("block", block),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
		zap.Uint64("cursor", result.Cursor),
	)
	return nil
}

func (l *sourceLoop) observeBlock(block uint64) {
	l.health.observeBlock(block)
	l.metrics.SetLatestBlock(l.name, l.health.latest.Load())
}
