package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"vibin_video/models"

	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) SignalAppended(sessionID, to string, _ int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, sessionID+"#"+to)
}

type harness struct {
	store   *MemoryStore
	clock   *fixedClock
	pools   *PoolService
	match   *MatchService
	signals *SignalService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := NewMemoryStore(time.Hour)
	clock := newFixedClock()
	pools := NewPoolService(store, clock, nil)
	return &harness{
		store:   store,
		clock:   clock,
		pools:   pools,
		match:   NewMatchService(store, pools, clock, MatchConfig{}, nil),
		signals: NewSignalService(store, clock, RelayConfig{}, nil),
	}
}

// pair matches a and b in the default pool and returns the session id.
func (h *harness) pair(t *testing.T, a, b string) string {
	t.Helper()
	ctx := context.Background()

	first, err := h.match.RequestMatch(ctx, a, "", models.ActionFind)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusWaiting, first.Status)

	second, err := h.match.RequestMatch(ctx, b, "", models.ActionFind)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusMatched, second.Status)
	return *second.SessionID
}

func (h *harness) sessionCount() int {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return len(h.store.sessions)
}
