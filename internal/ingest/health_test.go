package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthSnapshot(t *testing.T) {
	health := newHealth([]string{"a", "b"}, 2)

	a := health.entry("a")
	a.setState(StateStreaming)
	a.setCursor(120)
	a.observeBlock(130)

	b := health.entry("b")
	b.setState(StateBackoff)
	b.setCursor(90)
	b.recordFailure(errors.New("dial tcp: refused"))

	snap := health.Snapshot()
	assert.Equal(t, SystemDegraded, snap.Status)
	assert.Equal(t, uint64(90), snap.LatestBlock)
	assert.Equal(t, uint64(130), snap.ObservedBlock)
	require.Len(t, snap.Sources, 2)
	assert.Equal(t, StatusConnected, snap.Sources[0].Status)
	assert.Equal(t, uint64(130), snap.Sources[0].LatestBlock)
	assert.Equal(t, StatusReconnecting, snap.Sources[1].Status)
	assert.Equal(t, "dial tcp: refused", snap.Sources[1].LastError)

	b.recordFailure(errors.New("dial tcp: refused"))
	src, ok := health.Source("b")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, src.Status)

	b.recordSuccess()
	src, _ = health.Source("b")
	assert.Equal(t, StatusReconnecting, src.Status)
}

func TestHealthObserveBlockIsMonotonic(t *testing.T) {
	health := newHealth([]string{"a"}, 5)
	entry := health.entry("a")

	entry.observeBlock(50)
	entry.observeBlock(40)

	src, _ := health.Source("a")
	assert.Equal(t, uint64(50), src.LatestBlock)
	assert.Nil(t, src.Cursor)
}

func TestHealthHandler(t *testing.T) {
	health := newHealth([]string{"a"}, 1)
	entry := health.entry("a")
	entry.setState(StateStreaming)
	entry.setCursor(77)
	entry.observeBlock(80)

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status        string `json:"status"`
		LatestBlock   uint64 `json:"latest_block"`
		ObservedBlock uint64 `json:"observed_block"`
		Sources       []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, uint64(77), body.LatestBlock)
	assert.Equal(t, uint64(80), body.ObservedBlock)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "streaming", body.Sources[0].State)

	entry.setState(StateBackoff)
	entry.recordFailure(errors.New("gone"))
	rec = httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
