package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"vibin_video/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicPoolScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.match.RequestMatch(ctx, "user-a", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, a.Status)
	require.NotNil(t, a.PoolID)

	b, err := h.match.RequestMatch(ctx, "user-b", "", models.ActionFind)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusMatched, b.Status)
	assert.Equal(t, "user-a", *b.PeerID)
	assert.False(t, b.Initiator)

	a, err = h.match.GetMatchState(ctx, "user-a")
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusMatched, a.Status)
	assert.Equal(t, *b.SessionID, *a.SessionID)
	assert.Equal(t, "user-b", *a.PeerID)
	assert.True(t, a.Initiator)

	require.NoError(t, h.match.Leave(ctx, "user-a", models.EndedReasonLeft))

	signals, err := h.signals.Receive(ctx, "user-b", *b.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalPeerLeft, signals[0].Kind)
	assert.Equal(t, "user-a", signals[0].From)

	state, err := h.match.GetMatchState(ctx, "user-b")
	require.NoError(t, err)
	assert.Equal(t, models.IdleState(), state)
}

func TestGetMatchStateIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sessionID := h.pair(t, "p1", "p2")
	for i := 0; i < 5; i++ {
		state, err := h.match.GetMatchState(ctx, "p2")
		require.NoError(t, err)
		assert.Equal(t, sessionID, *state.SessionID)
		assert.Equal(t, "p1", *state.PeerID)
	}

	again, err := h.match.RequestMatch(ctx, "p2", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, sessionID, *again.SessionID)

	assert.Equal(t, 1, h.sessionCount())
}

func TestGetMatchStateStates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.match.GetMatchState(ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusIdle, state.Status)
	assert.Nil(t, state.SessionID)

	waiting, err := h.match.RequestMatch(ctx, "solo", "", models.ActionFind)
	require.NoError(t, err)

	state, err = h.match.GetMatchState(ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)
	assert.Equal(t, *waiting.PoolID, *state.PoolID)
}

func TestMatchingStaysWithinPool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	other, err := h.pools.CreatePool(ctx, "owner", "Other", "")
	require.NoError(t, err)

	_, err = h.match.RequestMatch(ctx, "in-public", "", models.ActionFind)
	require.NoError(t, err)
	state, err := h.match.RequestMatch(ctx, "in-other", other.ID, models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)
	assert.Equal(t, other.ID, *state.PoolID)
}

func TestOldestWaitingIsMatchedFirst(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	pool, err := h.pools.EnsureDefaultPool(ctx, "setup")
	require.NoError(t, err)
	now := h.clock.Now()
	_, err = h.store.UpsertWaiting(ctx, "newer", pool.ID, now.Add(time.Second))
	require.NoError(t, err)
	_, err = h.store.UpsertWaiting(ctx, "older", pool.ID, now)
	require.NoError(t, err)

	state, err := h.match.RequestMatch(ctx, "caller", "", models.ActionFind)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusMatched, state.Status)
	assert.Equal(t, "older", *state.PeerID)

	newer, err := h.match.GetMatchState(ctx, "newer")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, newer.Status)
}

func TestCandidateAlreadyInSessionIsDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.pair(t, "a", "b")
	pool, err := h.pools.EnsureDefaultPool(ctx, "setup")
	require.NoError(t, err)
	// a stale entry for a matched participant, as left behind by a lost race
	h.store.mu.Lock()
	h.store.queue["a"] = models.QueueEntry{EntryID: "leftover", ParticipantID: "a", PoolID: pool.ID, EnqueuedAt: h.clock.Now(), HeartbeatAt: h.clock.Now()}
	h.store.mu.Unlock()

	state, err := h.match.RequestMatch(ctx, "c", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)

	entry, err := h.store.GetWaiting(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStaleEntriesAreSweptBeforeMatching(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.match.RequestMatch(ctx, "ghost", "", models.ActionFind)
	require.NoError(t, err)
	h.clock.Advance(models.DefaultStaleAfter + time.Second)

	state, err := h.match.RequestMatch(ctx, "fresh", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)

	ghost, err := h.match.GetMatchState(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusIdle, ghost.Status)

	partner, err := h.match.RequestMatch(ctx, "partner", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, "fresh", *partner.PeerID)
}

func TestHeartbeatKeepsEntryAlive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.match.RequestMatch(ctx, "patient", "", models.ActionFind)
		require.NoError(t, err)
		h.clock.Advance(models.DefaultStaleAfter - time.Second)
	}

	partner, err := h.match.RequestMatch(ctx, "partner", "", models.ActionFind)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusMatched, partner.Status)
	assert.Equal(t, "patient", *partner.PeerID)
}

func TestNextEndsSessionAndRequeues(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sessionID := h.pair(t, "a", "b")

	state, err := h.match.RequestMatch(ctx, "b", "", models.ActionNext)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)

	session, err := h.store.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, session.Status)
	assert.Equal(t, models.EndedReasonNext, session.EndedReason)
	require.NotNil(t, session.EndedAt)

	// a is idle, not waiting, so the next arrival pairs with b
	a, err := h.match.GetMatchState(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusIdle, a.Status)

	c, err := h.match.RequestMatch(ctx, "c", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, "b", *c.PeerID)
}

func TestLeaveIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	sessionID := h.pair(t, "a", "b")

	state, err := h.match.RequestMatch(ctx, "a", "", models.ActionLeave)
	require.NoError(t, err)
	assert.Equal(t, models.IdleState(), state)
	require.NoError(t, h.match.Leave(ctx, "a", models.EndedReasonLeft))
	require.NoError(t, h.match.Leave(ctx, "b", models.EndedReasonLeft))
	require.NoError(t, h.match.Leave(ctx, "nobody", models.EndedReasonLeft))

	signals, err := h.signals.Receive(ctx, "b", sessionID, 0)
	require.NoError(t, err)
	assert.Len(t, signals, 1)

	fromB, err := h.signals.Receive(ctx, "a", sessionID, 0)
	require.NoError(t, err)
	assert.Empty(t, fromB)
}

func TestLeaveRemovesQueueEntry(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.match.RequestMatch(ctx, "waiting", "", models.ActionFind)
	require.NoError(t, err)
	require.NoError(t, h.match.Leave(ctx, "waiting", models.EndedReasonLeft))

	state, err := h.match.GetMatchState(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusIdle, state.Status)
}

func TestLeaveNotifiesPeer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	h.match.Notifier = notifier

	sessionID := h.pair(t, "a", "b")
	require.NoError(t, h.match.Leave(ctx, "a", models.EndedReasonLeft))
	assert.Equal(t, []string{sessionID + "#b"}, notifier.calls)
}

func TestRequestMatchRejectsUnknownAction(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.match.RequestMatch(context.Background(), "a", "", "dance")
	assert.ErrorIs(t, err, models.ErrInvalidAction)
}

func TestRequestMatchUnknownPool(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.match.RequestMatch(context.Background(), "a", "no-such-pool", models.ActionFind)
	assert.ErrorIs(t, err, models.ErrPoolNotFound)
}

// claimRacer loses the first n claims as if another caller had taken the candidate.
type claimRacer struct {
	*MemoryStore
	lose int
}

func (s *claimRacer) ClaimAndCreateSession(ctx context.Context, claim Claim) (models.Session, error) {
	if s.lose > 0 {
		s.lose--
		return models.Session{}, models.ErrClaimConflict
	}
	return s.MemoryStore.ClaimAndCreateSession(ctx, claim)
}

func TestClaimConflictReturnsWaiting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &claimRacer{MemoryStore: NewMemoryStore(time.Hour), lose: 1}
	clock := newFixedClock()
	pools := NewPoolService(store, clock, nil)
	match := NewMatchService(store, pools, clock, MatchConfig{}, nil)

	_, err := match.RequestMatch(ctx, "a", "", models.ActionFind)
	require.NoError(t, err)

	state, err := match.RequestMatch(ctx, "b", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)

	state, err = match.RequestMatch(ctx, "b", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusMatched, state.Status)
}

func TestClaimRetriesRetryWithinOneCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &claimRacer{MemoryStore: NewMemoryStore(time.Hour), lose: 2}
	clock := newFixedClock()
	pools := NewPoolService(store, clock, nil)
	match := NewMatchService(store, pools, clock, MatchConfig{ClaimRetries: 2}, nil)

	_, err := match.RequestMatch(ctx, "a", "", models.ActionFind)
	require.NoError(t, err)

	state, err := match.RequestMatch(ctx, "b", "", models.ActionFind)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusMatched, state.Status)
}

// rejoinRacer lets the rejoiner hang up and queue again right after its active session is read.
type rejoinRacer struct {
	*MemoryStore
	rejoiner string
	poolID   string
	now      time.Time
	once     sync.Once
}

func (s *rejoinRacer) ActiveSessionFor(ctx context.Context, participantID string) (*models.Session, error) {
	session, err := s.MemoryStore.ActiveSessionFor(ctx, participantID)
	if err != nil || session == nil || participantID != s.rejoiner {
		return session, err
	}
	s.once.Do(func() {
		s.mu.Lock()
		delete(s.active, session.ParticipantA)
		delete(s.active, session.ParticipantB)
		delete(s.queue, participantID)
		s.mu.Unlock()
		_, err = s.MemoryStore.UpsertWaiting(ctx, participantID, s.poolID, s.now)
	})
	return session, err
}

func TestStaleCandidateCleanupKeepsRequeuedEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := newFixedClock()
	now := clock.Now()
	store := &rejoinRacer{MemoryStore: NewMemoryStore(time.Hour), rejoiner: "x", now: now}
	pools := NewPoolService(store, clock, nil)
	match := NewMatchService(store, pools, clock, MatchConfig{}, nil)

	pool, err := pools.EnsureDefaultPool(ctx, "setup")
	require.NoError(t, err)
	store.poolID = pool.ID

	// x is in a session but a leftover queue row still sorts first
	store.mu.Lock()
	store.sessions["s1"] = newSession("s1", "x", "y", now)
	store.active["x"] = "s1"
	store.active["y"] = "s1"
	store.queue["x"] = models.QueueEntry{EntryID: "leftover", ParticipantID: "x", PoolID: pool.ID, EnqueuedAt: now.Add(-time.Second), HeartbeatAt: now}
	store.mu.Unlock()

	state, err := match.AttemptMatch(ctx, "caller", pool.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MatchStatusWaiting, state.Status)

	requeued, err := store.GetWaiting(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, requeued, "the fresh entry must survive the cleanup")
	assert.NotEqual(t, "leftover", requeued.EntryID)

	state, err = match.AttemptMatch(ctx, "caller", pool.ID)
	require.NoError(t, err)
	require.Equal(t, models.MatchStatusMatched, state.Status)
	assert.Equal(t, "x", *state.PeerID)
}

func TestConcurrentPairOfTwo(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.pools.EnsureDefaultPool(ctx, "setup")
	require.NoError(t, err)

	states := make([]models.MatchState, 2)
	ids := []string{"zed", "amy"}
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			states[i] = pollUntilMatched(ctx, h.match, id, start)
		}(i, id)
	}
	close(start)
	wg.Wait()

	require.Equal(t, models.MatchStatusMatched, states[0].Status)
	require.Equal(t, models.MatchStatusMatched, states[1].Status)
	assert.Equal(t, *states[0].SessionID, *states[1].SessionID)
	assert.False(t, states[0].Initiator)
	assert.True(t, states[1].Initiator)

	assert.Equal(t, 1, h.sessionCount())
}

func TestConcurrentMatchingIsExclusive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.pools.EnsureDefaultPool(ctx, "setup")
	require.NoError(t, err)

	const n = 24
	states := make([]models.MatchState, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i] = pollUntilMatched(ctx, h.match, fmt.Sprintf("p%02d", i), start)
		}(i)
	}
	close(start)
	wg.Wait()

	peers := make(map[string]string, n)
	sessionsByID := make(map[string][]string)
	for i, state := range states {
		id := fmt.Sprintf("p%02d", i)
		require.Equal(t, models.MatchStatusMatched, state.Status, id)
		peers[id] = *state.PeerID
		sessionsByID[*state.SessionID] = append(sessionsByID[*state.SessionID], id)
	}
	for id, peer := range peers {
		assert.Equal(t, id, peers[peer], "peer of %s must point back", id)
	}
	assert.Len(t, sessionsByID, n/2)
	for sessionID, members := range sessionsByID {
		assert.Len(t, members, 2, sessionID)
	}

	assert.Equal(t, n/2, h.sessionCount(), "no orphan sessions")
}

// pollUntilMatched waits for start, then polls like a client until matched or the deadline passes.
func pollUntilMatched(ctx context.Context, match *MatchService, participantID string, start <-chan struct{}) models.MatchState {
	<-start
	deadline := time.Now().Add(10 * time.Second)
	var state models.MatchState
	for time.Now().Before(deadline) {
		next, err := match.RequestMatch(ctx, participantID, "", models.ActionFind)
		if err != nil {
			return state
		}
		state = next
		if state.Status == models.MatchStatusMatched {
			return state
		}
		time.Sleep(time.Millisecond)
	}
	return state
}
