package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lcoreIndexer/internal/chain"
	"lcoreIndexer/internal/model"
)

// StreamOpener opens a log stream for one contract.
type StreamOpener interface {
	Open(ctx context.Context, sub chain.Subscription) (chain.Stream, error)
}

// EventDecoder turns a raw log into a typed event.
type EventDecoder interface {
	Decode(log model.RawLog) (model.Event, error)
}

// DecodeErrorSink receives logs that could not be decoded.
type DecodeErrorSink interface {
	PutDecodeErrors(records []*model.DecodeError) error
}

// Metrics records ingestion progress.
type Metrics interface {
	ObserveFlush(source string, err error, inserted, duplicates int, started time.Time)
	ObserveDecode(source, kind, outcome string)
	ObserveReconnect(source string, delay time.Duration)
	SetLatestBlock(source string, block uint64)
	SetCursor(source string, block uint64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFlush(string, error, int, int, time.Time) {}
func (nopMetrics) ObserveDecode(string, string, string)            {}
func (nopMetrics) ObserveReconnect(string, time.Duration)          {}
func (nopMetrics) SetLatestBlock(string, uint64)                   {}
func (nopMetrics) SetCursor(string, uint64)                        {}

// Source is one subscription run by the supervisor.
type Source struct {
	Name       string
	Address    common.Address
	StartBlock uint64
	Decoder    EventDecoder
}

// Config holds reconnect settings shared by every source.
type Config struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	FailedAfter    int
}

// Supervisor runs one ingestion loop per source.
type Supervisor struct {
	loops  []*sourceLoop
	health *Health
	logger *zap.Logger
}

// NewSupervisor wires a loop for every source. sink and metrics may be nil.
func NewSupervisor(
	cfg Config,
	sources []Source,
	opener StreamOpener,
	writer *Writer,
	cursors *CursorStore,
	sink DecodeErrorSink,
	metrics Metrics,
	logger *zap.Logger,
) (*Supervisor, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one source is required")
	}
	if opener == nil || writer == nil || cursors == nil {
		return nil, errors.New("opener, writer and cursor store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.FailedAfter <= 0 {
		cfg.FailedAfter = DefaultFailedAfter
	}

	names := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, src := range sources {
		if src.Name == "" {
			return nil, errors.New("source name is required")
		}
		if _, ok := seen[src.Name]; ok {
			return nil, fmt.Errorf("duplicate source %q", src.Name)
		}
		if src.Decoder == nil {
			return nil, fmt.Errorf("source %s: decoder is required", src.Name)
		}
		seen[src.Name] = struct{}{}
		names = append(names, src.Name)
	}

	health := newHealth(names, cfg.FailedAfter)
	loops := make([]*sourceLoop, 0, len(sources))
	for _, src := range sources {
		loops = append(loops, &sourceLoop{
			name:           src.Name,
			address:        src.Address,
			startBlock:     src.StartBlock,
			decoder:        src.Decoder,
			opener:         opener,
			writer:         writer,
			cursors:        cursors,
			sink:           sink,
			metrics:        metrics,
			health:         health.entry(src.Name),
			logger:         logger.With(zap.String("source", src.Name)),
			backoffInitial: cfg.BackoffInitial,
			backoffMax:     cfg.BackoffMax,
			sleep:          sleepWithContext,
		})
	}

	return &Supervisor{loops: loops, health: health, logger: logger}, nil
}

// Health returns the live health view. It is safe for concurrent use.
func (s *Supervisor) Health() *Health {
	return s.health
}

// Run blocks until ctx is cancelled. Sources fail and recover independently.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor start", zap.Int("sources", len(s.loops)))

	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range s.loops {
		loop := loop
		g.Go(func() error {
			loop.run(gctx)
			return nil
		})
	}
	err := g.Wait()

	s.logger.Info("supervisor stopped")
	return err
}

// sleepWithContext waits for d or returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
