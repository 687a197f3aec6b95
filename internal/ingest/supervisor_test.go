package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lcoreIndexer/internal/chain"
	"lcoreIndexer/internal/model"
	"lcoreIndexer/internal/storage/memory"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	topicGood    = common.HexToHash("0x01")
	topicBad     = common.HexToHash("0x02")
	topicOther   = common.HexToHash("0x03")
)

type fakeDecoder struct {
	source string
}

func (d fakeDecoder) Decode(log model.RawLog) (model.Event, error) {
	meta := model.NewEventMeta(d.source, log)
	switch log.Topic0() {
	case topicGood:
		return model.VerifierAdded{EventMeta: meta, Verifier: common.HexToAddress("0x99"), Timestamp: int64(log.BlockNumber)}, nil
	case topicBad:
		return nil, model.NewDecodeError(d.source, log, errors.New("payload too short"))
	default:
		return model.UnknownEvent{EventMeta: meta, Topic0: log.Topic0()}, nil
	}
}

type step struct {
	item chain.Item
	err  error
}

func logStep(topic common.Hash, block uint64, index uint) step {
	record := model.RawLog{
		Address:     contractAddr,
		Topics:      []common.Hash{topic},
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		LogIndex:    index,
	}
	return step{item: chain.Item{Log: &record}}
}

func caughtUpStep(block uint64) step {
	return step{item: chain.Item{CaughtUp: true, Block: block}}
}

func failStep(err error) step {
	return step{err: err}
}

type session struct {
	openErr error
	steps   []step
}

type fakeStream struct {
	steps []step
}

func (s *fakeStream) Next(ctx context.Context) (chain.Item, error) {
	if len(s.steps) > 0 {
		next := s.steps[0]
		s.steps = s.steps[1:]
		return next.item, next.err
	}
	<-ctx.Done()
	return chain.Item{}, ctx.Err()
}

func (s *fakeStream) Close() {}

type fakeOpener struct {
	mu         sync.Mutex
	sessions   map[string][]session
	alwaysFail map[string]error
	opens      map[string][]uint64
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		sessions:   make(map[string][]session),
		alwaysFail: make(map[string]error),
		opens:      make(map[string][]uint64),
	}
}

func (o *fakeOpener) script(source string, sessions ...session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[source] = append(o.sessions[source], sessions...)
}

func (o *fakeOpener) Open(_ context.Context, sub chain.Subscription) (chain.Stream, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.opens[sub.Source] = append(o.opens[sub.Source], sub.FromBlock)
	if err, ok := o.alwaysFail[sub.Source]; ok {
		return nil, err
	}
	queue := o.sessions[sub.Source]
	if len(queue) == 0 {
		return &fakeStream{}, nil
	}
	next := queue[0]
	o.sessions[sub.Source] = queue[1:]
	if next.openErr != nil {
		return nil, next.openErr
	}
	return &fakeStream{steps: next.steps}, nil
}

func (o *fakeOpener) openedFrom(source string) []uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]uint64(nil), o.opens[source]...)
}

type fakeSink struct {
	mu      sync.Mutex
	records []*model.DecodeError
}

func (s *fakeSink) PutDecodeErrors(records []*model.DecodeError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeSink) all() []*model.DecodeError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*model.DecodeError(nil), s.records...)
}

// sleepRecorder records requested delays and waits only a millisecond.
type sleepRecorder struct {
	mu        sync.Mutex
	delays    []time.Duration
	stopAfter int
	cancel    context.CancelFunc
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	n := len(r.delays)
	r.mu.Unlock()

	if r.stopAfter > 0 && n >= r.stopAfter {
		r.cancel()
		return context.Canceled
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func (s *Supervisor) setSleep(sleep func(context.Context, time.Duration) error) {
	for _, loop := range s.loops {
		loop.sleep = sleep
	}
}

func newTestSupervisor(t *testing.T, store *memory.Store, opener *fakeOpener, sink DecodeErrorSink, names ...string) *Supervisor {
	t.Helper()
	sources := make([]Source, 0, len(names))
	for _, name := range names {
		sources = append(sources, Source{
			Name:       name,
			Address:    contractAddr,
			StartBlock: 10,
			Decoder:    fakeDecoder{source: name},
		})
	}
	sup, err := NewSupervisor(
		Config{BackoffInitial: time.Second, BackoffMax: 8 * time.Second},
		sources,
		opener,
		NewWriter(store),
		NewCursorStore(store),
		sink,
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)
	return sup
}

// start runs sup in the background and returns a function that stops it
// and returns the result of Run.
func start(t *testing.T, sup *Supervisor, sleeps *sleepRecorder) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sleeps.cancel = cancel
	sup.setSleep(sleeps.sleep)

	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("supervisor did not stop")
			return nil
		}
	}
}

func waitCursor(t *testing.T, store *memory.Store, source string, want uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		cursor, ok, err := store.LoadCursor(context.Background(), source)
		return err == nil && ok && cursor.Block == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisorFlushesPerBlock(t *testing.T) {
	store := memory.NewStore()
	opener := newFakeOpener()
	opener.script("verifiers", session{steps: []step{
		logStep(topicGood, 10, 0),
		logStep(topicGood, 10, 1),
		logStep(topicGood, 11, 0),
		caughtUpStep(12),
	}})

	sup := newTestSupervisor(t, store, opener, nil, "verifiers")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "verifiers", 12)
	require.NoError(t, stop())

	assert.Len(t, store.Events("verifiers"), 3)
	assert.Equal(t, []uint64{10}, opener.openedFrom("verifiers"))

	src, ok := sup.Health().Source("verifiers")
	require.True(t, ok)
	assert.Equal(t, StateStopped, src.State)
	assert.Equal(t, uint64(12), *src.Cursor)
}

func TestSupervisorResumesFromCursor(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.SaveCursor(ctx, "verifiers", 41))
	require.NoError(t, store.SaveCursor(ctx, "devices", 5))

	opener := newFakeOpener()
	opener.script("verifiers", session{steps: []step{caughtUpStep(45)}})
	opener.script("devices", session{steps: []step{caughtUpStep(12)}})

	sup := newTestSupervisor(t, store, opener, nil, "verifiers", "devices")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "verifiers", 45)
	waitCursor(t, store, "devices", 12)
	require.NoError(t, stop())

	assert.Equal(t, []uint64{42}, opener.openedFrom("verifiers"))
	assert.Equal(t, []uint64{10}, opener.openedFrom("devices"))
}

func TestSupervisorRetriesFailedBlockAtomically(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.SaveCursor(context.Background(), "verifiers", 10))

	var failed atomic.Bool
	store.SetFault(func(_ string, block uint64, index int, _ model.Event) error {
		if block == 11 && index == 1 && failed.CompareAndSwap(false, true) {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	block11 := []step{logStep(topicGood, 11, 0), logStep(topicGood, 11, 1), caughtUpStep(11)}
	opener := newFakeOpener()
	opener.script("verifiers", session{steps: block11}, session{steps: block11})

	sleeps := &sleepRecorder{}
	sup := newTestSupervisor(t, store, opener, nil, "verifiers")
	stop := start(t, sup, sleeps)

	waitCursor(t, store, "verifiers", 11)
	require.NoError(t, stop())

	assert.True(t, failed.Load())
	assert.Len(t, store.Events("verifiers"), 2)
	assert.Equal(t, []uint64{11, 11}, opener.openedFrom("verifiers"))
	assert.Equal(t, []time.Duration{time.Second}, sleeps.recorded())

	src, _ := sup.Health().Source("verifiers")
	assert.Zero(t, src.ConsecutiveFailures)
	assert.Contains(t, src.LastError, ErrPersistenceFailure.Error())
}

func TestSupervisorReplaysAfterConnectionLoss(t *testing.T) {
	store := memory.NewStore()
	lost := fmt.Errorf("%w: websocket closed", chain.ErrConnectionLost)

	opener := newFakeOpener()
	opener.script("verifiers",
		session{steps: []step{
			logStep(topicGood, 10, 0),
			logStep(topicGood, 10, 1),
			logStep(topicGood, 11, 0),
			failStep(lost),
		}},
		session{steps: []step{
			logStep(topicGood, 10, 0),
			logStep(topicGood, 11, 0),
			logStep(topicGood, 11, 1),
			caughtUpStep(11),
		}},
	)

	sup := newTestSupervisor(t, store, opener, nil, "verifiers")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "verifiers", 11)
	require.NoError(t, stop())

	events := store.Events("verifiers")
	require.Len(t, events, 4)
	assert.Equal(t, []uint64{10, 11}, opener.openedFrom("verifiers"))
}

func TestSupervisorPersistsLateLogOfFlushedBlock(t *testing.T) {
	store := memory.NewStore()
	opener := newFakeOpener()
	opener.script("verifiers", session{steps: []step{
		logStep(topicGood, 10, 0),
		caughtUpStep(10),
		logStep(topicGood, 10, 1),
		logStep(topicGood, 11, 0),
		caughtUpStep(11),
	}})

	sup := newTestSupervisor(t, store, opener, nil, "verifiers")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "verifiers", 11)
	require.NoError(t, stop())

	events := store.Events("verifiers")
	require.Len(t, events, 3)
	var late bool
	for _, event := range events {
		p := event.Provenance()
		if p.BlockNumber == 10 && p.LogIndex == 1 {
			late = true
		}
	}
	assert.True(t, late, "late log of block 10 was not persisted")
}

func TestSupervisorSkipsUnknownAndInvalidLogs(t *testing.T) {
	store := memory.NewStore()
	sink := &fakeSink{}
	opener := newFakeOpener()
	opener.script("verifiers", session{steps: []step{
		logStep(topicOther, 20, 0),
		logStep(topicBad, 20, 1),
		logStep(topicGood, 20, 2),
		caughtUpStep(20),
	}})

	sup := newTestSupervisor(t, store, opener, sink, "verifiers")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "verifiers", 20)
	require.NoError(t, stop())

	events := store.Events("verifiers")
	require.Len(t, events, 1)
	assert.Equal(t, uint(2), events[0].Provenance().LogIndex)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, uint64(20), records[0].BlockNumber)
	assert.Equal(t, uint(1), records[0].LogIndex)
	assert.Equal(t, "verifiers", records[0].Source)
}

func TestSupervisorInvalidLogHoldsCursorAtItsBlock(t *testing.T) {
	store := memory.NewStore()
	lost := fmt.Errorf("%w: eof", chain.ErrConnectionLost)
	opener := newFakeOpener()
	opener.script("verifiers", session{steps: []step{
		logStep(topicGood, 30, 0),
		logStep(topicBad, 31, 0),
		failStep(lost),
	}})

	sup := newTestSupervisor(t, store, opener, &fakeSink{}, "verifiers")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "verifiers", 30)
	require.Eventually(t, func() bool {
		return len(opener.openedFrom("verifiers")) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	cursor, _, err := store.LoadCursor(context.Background(), "verifiers")
	require.NoError(t, err)
	assert.Equal(t, uint64(30), cursor.Block)
	assert.Equal(t, uint64(31), opener.openedFrom("verifiers")[1])
}

func TestSupervisorIsolatesSources(t *testing.T) {
	store := memory.NewStore()
	opener := newFakeOpener()
	opener.alwaysFail["a"] = fmt.Errorf("%w: dial refused", chain.ErrConnectionLost)
	opener.script("b", session{steps: []step{
		logStep(topicGood, 10, 0),
		caughtUpStep(15),
	}})

	sup := newTestSupervisor(t, store, opener, nil, "a", "b")
	stop := start(t, sup, &sleepRecorder{})

	waitCursor(t, store, "b", 15)
	require.Eventually(t, func() bool {
		src, _ := sup.Health().Source("a")
		return src.Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	snap := sup.Health().Snapshot()
	assert.Equal(t, SystemDegraded, snap.Status)
	assert.Equal(t, StatusConnected, snap.Sources[1].Status)
	assert.Zero(t, snap.Sources[1].ConsecutiveFailures)
	assert.Nil(t, snap.Sources[0].Cursor)

	require.NoError(t, stop())
	assert.Len(t, store.Events("b"), 1)
	assert.Empty(t, store.Events("a"))
}

func TestSupervisorBackoffIsCapped(t *testing.T) {
	store := memory.NewStore()
	opener := newFakeOpener()
	opener.alwaysFail["verifiers"] = fmt.Errorf("%w: dial refused", chain.ErrConnectionLost)

	sleeps := &sleepRecorder{stopAfter: 6}
	sup := newTestSupervisor(t, store, opener, nil, "verifiers")
	stop := start(t, sup, sleeps)

	require.Eventually(t, func() bool {
		src, _ := sup.Health().Source("verifiers")
		return src.State == StateStopped
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second, 8 * time.Second,
	}, sleeps.recorded())
}

func TestSupervisorBackoffResetsAfterFlush(t *testing.T) {
	store := memory.NewStore()
	refused := fmt.Errorf("%w: dial refused", chain.ErrConnectionLost)
	opener := newFakeOpener()
	opener.script("verifiers",
		session{openErr: refused},
		session{openErr: refused},
		session{openErr: refused},
		session{steps: []step{caughtUpStep(10), failStep(refused)}},
		session{openErr: refused},
	)

	sleeps := &sleepRecorder{stopAfter: 5}
	sup := newTestSupervisor(t, store, opener, nil, "verifiers")
	stop := start(t, sup, sleeps)

	require.Eventually(t, func() bool {
		return len(sleeps.recorded()) == 5
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, time.Second, 2 * time.Second,
	}, sleeps.recorded())
}

func TestNewSupervisorValidation(t *testing.T) {
	store := memory.NewStore()
	writer := NewWriter(store)
	cursors := NewCursorStore(store)
	opener := newFakeOpener()

	_, err := NewSupervisor(Config{}, nil, opener, writer, cursors, nil, nil, nil)
	assert.Error(t, err)

	dup := []Source{
		{Name: "a", Decoder: fakeDecoder{}},
		{Name: "a", Decoder: fakeDecoder{}},
	}
	_, err = NewSupervisor(Config{}, dup, opener, writer, cursors, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewSupervisor(Config{}, []Source{{Name: "a"}}, opener, writer, cursors, nil, nil, nil)
	assert.Error(t, err)
}
