package ingest

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// State is the position of a source loop in its reconnect state machine.
type State int32

const (
	StateStarting State = iota
	StateSubscribing
	StateStreaming
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is the externally reported condition of a source.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusStopped      Status = "stopped"
)

// SystemStatus summarises every source.
type SystemStatus string

const (
	SystemHealthy  SystemStatus = "healthy"
	SystemDegraded SystemStatus = "degraded"
	SystemFailed   SystemStatus = "failed"
)

// DefaultFailedAfter is the number of consecutive failures after which a
// source in backoff is reported as failed.
const DefaultFailedAfter = 5

// SourceHealth is a point-in-time view of one source.
type SourceHealth struct {
	Name                string  `json:"name"`
	State               State   `json:"state"`
	Status              Status  `json:"status"`
	LatestBlock         uint64  `json:"latest_block"`
	Cursor              *uint64 `json:"cursor"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastError           string  `json:"last_error,omitempty"`
}

// HealthSnapshot is the response body of the health endpoint. LatestBlock is
// the lowest cursor across sources: every source is complete up to it.
// ObservedBlock is the highest block any source has seen on the chain.
type HealthSnapshot struct {
	Status        SystemStatus   `json:"status"`
	LatestBlock   uint64         `json:"latest_block"`
	ObservedBlock uint64         `json:"observed_block"`
	Sources       []SourceHealth `json:"sources"`
}

type sourceHealth struct {
	name        string
	state       atomic.Int32
	latest      atomic.Uint64
	cursor      atomic.Uint64
	hasCursor   atomic.Bool
	failures    atomic.Int64
	lastError   atomic.Pointer[string]
	failedAfter int
}

func (h *sourceHealth) setState(state State) {
	h.state.Store(int32(state))
}

func (h *sourceHealth) observeBlock(block uint64) {
	for {
		current := h.latest.Load()
		if block <= current || h.latest.CompareAndSwap(current, block) {
			return
		}
	}
}

func (h *sourceHealth) setCursor(block uint64) {
	h.cursor.Store(block)
	h.hasCursor.Store(true)
	h.observeBlock(block)
}

func (h *sourceHealth) recordFailure(err error) int {
	msg := err.Error()
	h.lastError.Store(&msg)
	return int(h.failures.Add(1))
}

func (h *sourceHealth) recordSuccess() {
	h.failures.Store(0)
}

func (h *sourceHealth) snapshot() SourceHealth {
	state := State(h.state.Load())
	failures := int(h.failures.Load())
	out := SourceHealth{
		Name:                h.name,
		State:               state,
		Status:              deriveStatus(state, failures, h.failedAfter),
		LatestBlock:         h.latest.Load(),
		ConsecutiveFailures: failures,
	}
	if h.hasCursor.Load() {
		cursor := h.cursor.Load()
		out.Cursor = &cursor
	}
	if msg := h.lastError.Load(); msg != nil {
		out.LastError = *msg
	}
	return out
}

func deriveStatus(state State, failures, failedAfter int) Status {
	switch state {
	case StateStreaming:
		return StatusConnected
	case StateStopped:
		return StatusStopped
	case StateBackoff:
		if failedAfter > 0 && failures >= failedAfter {
			return StatusFailed
		}
	}
	return StatusReconnecting
}

// Health holds per-source health. The set of sources is fixed at
// construction; each entry is written only by its own source loop.
type Health struct {
	order   []string
	entries map[string]*sourceHealth
}

func newHealth(names []string, failedAfter int) *Health {
	h := &Health{
		order:   append([]string(nil), names...),
		entries: make(map[string]*sourceHealth, len(names)),
	}
	for _, name := range names {
		h.entries[name] = &sourceHealth{name: name, failedAfter: failedAfter}
	}
	return h
}

func (h *Health) entry(name string) *sourceHealth {
	return h.entries[name]
}

// Source returns the health of one source.
func (h *Health) Source(name string) (SourceHealth, bool) {
	entry, ok := h.entries[name]
	if !ok {
		return SourceHealth{}, false
	}
	return entry.snapshot(), true
}

// Snapshot returns the health of every source in configuration order.
func (h *Health) Snapshot() HealthSnapshot {
	snap := HealthSnapshot{Sources: make([]SourceHealth, 0, len(h.order))}

	var (
		connected, failed int
		lowest            uint64
		haveLowest        bool
	)
	for _, name := range h.order {
		source := h.entries[name].snapshot()
		snap.Sources = append(snap.Sources, source)
		snap.ObservedBlock = max(snap.ObservedBlock, source.LatestBlock)

		switch source.Status {
		case StatusConnected:
			connected++
		case StatusFailed:
			failed++
		}
		if source.Cursor != nil && (!haveLowest || *source.Cursor < lowest) {
			lowest = *source.Cursor
			haveLowest = true
		}
	}

	snap.LatestBlock = lowest
	switch {
	case len(h.order) > 0 && failed == len(h.order):
		snap.Status = SystemFailed
	case connected == len(h.order):
		snap.Status = SystemHealthy
	default:
		snap.Status = SystemDegraded
	}
	return snap
}

// ServeHTTP writes the snapshot as JSON. It answers 503 only when every
// source has failed.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := h.Snapshot()
	code := http.StatusOK
	if snap.Status == SystemFailed {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(snap)
}
