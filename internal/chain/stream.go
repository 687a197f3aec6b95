package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"lcoreIndexer/internal/model"
)

// ErrConnectionLost is returned when the log stream can no longer be trusted
// to deliver records. The stream must be reopened.
var ErrConnectionLost = errors.New("connection lost")

// Subscription selects the logs of one contract from FromBlock (inclusive).
type Subscription struct {
	Source    string
	Address   common.Address
	FromBlock uint64
}

// Item is one element of a log stream: either a log, or a caught-up marker
// stating that every log up to and including Block has been delivered.
type Item struct {
	Log      *model.RawLog
	CaughtUp bool
	Block    uint64
}

// Stream is an unbounded, at-least-once sequence of contract logs.
type Stream interface {
	Next(ctx context.Context) (Item, error)
	Close()
}

// LogClient is the subset of Client used by LogSource.
type LogClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
}

// SourceConfig holds catch-up and live-follow settings.
type SourceConfig struct {
	PageSize     uint64
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    int
	BufferSize   int
	IdleFlush    time.Duration
}

// LogSource opens log streams that catch up with eth_getLogs and then follow
// an eth_subscribe logs subscription.
type LogSource struct {
	client  LogClient
	cfg     SourceConfig
	retry   retryPolicy
	limiter ratelimit.Limiter
	logger  *zap.Logger
}

// NewLogSource builds a LogSource. The rate limit is shared by every stream
// opened from it.
func NewLogSource(client LogClient, cfg SourceConfig, logger *zap.Logger) *LogSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 2000
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.IdleFlush <= 0 {
		cfg.IdleFlush = 2 * time.Second
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RateLimit > 0 {
		limiter = ratelimit.New(cfg.RateLimit)
	}

	return &LogSource{
		client:  client,
		cfg:     cfg,
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff),
		limiter: limiter,
		logger:  logger,
	}
}

// Open subscribes to live logs first, then plans the catch-up from
// sub.FromBlock to the current head, so nothing emitted in between is lost.
func (s *LogSource) Open(ctx context.Context, sub Subscription) (Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	addresses := []common.Address{sub.Address}

	live := make(chan types.Log, s.cfg.BufferSize)
	subscription, err := s.client.SubscribeLogs(streamCtx, addresses, live)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: subscribe logs: %v", ErrConnectionLost, err)
	}

	var head uint64
	err = s.retry.do(streamCtx, func(ctx context.Context) error {
		var err error
		head, err = s.client.LatestBlockNumber(ctx)
		if err != nil {
			s.logger.Warn("latest block fetch failed", zap.String("source", sub.Source), zap.Error(err))
		}
		return err
	})
	if err != nil {
		subscription.Unsubscribe()
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: latest block: %v", ErrConnectionLost, err)
	}

	var pages *pager
	if sub.FromBlock <= head {
		pages, err = newPager(sub.FromBlock, head, s.cfg.PageSize)
		if err != nil {
			subscription.Unsubscribe()
			cancel()
			return nil, err
		}
	}

	s.logger.Info("log stream open",
		zap.String("source", sub.Source),
		zap.String("address", sub.Address.Hex()),
		zap.Uint64("from", sub.FromBlock),
		zap.Uint64("head", head),
		zap.Uint64("pages", pages.pages()),
	)

	return &logStream{
		source:       s,
		sub:          sub,
		addresses:    addresses,
		subscription: subscription,
		live:         live,
		cancel:       cancel,
		head:         head,
		pages:        pages,
	}, nil
}

type logStream struct {
	source       *LogSource
	sub          Subscription
	addresses    []common.Address
	subscription ethereum.Subscription
	live         chan types.Log
	cancel       context.CancelFunc
	closeOnce    sync.Once

	head        uint64
	pages       *pager
	queue       []model.RawLog
	pendingHead bool

	lastLive  uint64
	unflushed bool
}

func (st *logStream) Next(ctx context.Context) (Item, error) {
	for {
		if len(st.queue) > 0 {
			record := st.queue[0]
			st.queue = st.queue[1:]
			return Item{Log: &record}, nil
		}

		if window, ok := st.pages.peek(); ok {
			logs, err := st.fetch(ctx, window)
			if err != nil {
				return Item{}, err
			}
			st.pages.advance()
			st.queue = st.filter(logs)
			if st.pages.pages() == 0 {
				st.pendingHead = true
			}
			continue
		}

		if st.pendingHead {
			st.pendingHead = false
			return Item{CaughtUp: true, Block: st.head}, nil
		}

		return st.nextLive(ctx)
	}
}

func (st *logStream) nextLive(ctx context.Context) (Item, error) {
	var idle <-chan time.Time
	if st.unflushed {
		timer := time.NewTimer(st.source.cfg.IdleFlush)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case err, ok := <-st.subscription.Err():
			if !ok || err == nil {
				err = errors.New("subscription closed")
			}
			return Item{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		case log := <-st.live:
			if log.Address != st.sub.Address {
				continue
			}
			record := buildRawLog(log)
			st.lastLive = record.BlockNumber
			st.unflushed = true
			return Item{Log: &record}, nil
		case <-idle:
			st.unflushed = false
			return Item{CaughtUp: true, Block: st.lastLive}, nil
		}
	}
}

func (st *logStream) fetch(ctx context.Context, blockRange BlockRange) ([]types.Log, error) {
	var logs []types.Log
	err := st.source.retry.do(ctx, func(ctx context.Context) error {
		st.source.limiter.Take()
		var err error
		logs, err = st.source.client.FilterLogs(ctx, blockRange.From, blockRange.To, st.addresses, nil)
		if err != nil {
			st.source.logger.Warn("filter logs failed",
				zap.String("source", st.sub.Source),
				zap.Uint64("from", blockRange.From),
				zap.Uint64("to", blockRange.To),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: filter logs %d-%d: %v", ErrConnectionLost, blockRange.From, blockRange.To, err)
	}

	st.source.logger.Debug("fetched logs",
		zap.String("source", st.sub.Source),
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
		zap.Int("logs", len(logs)),
	)
	return logs, nil
}

func (st *logStream) filter(logs []types.Log) []model.RawLog {
	records := make([]model.RawLog, 0, len(logs))
	for _, log := range logs {
		if log.Address != st.sub.Address {
			continue
		}
		records = append(records, buildRawLog(log))
	}
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		return records[i].LogIndex < records[j].LogIndex
	})
	return records
}

func (st *logStream) Close() {
	st.closeOnce.Do(func() {
		st.subscription.Unsubscribe()
		st.cancel()
	})
}
