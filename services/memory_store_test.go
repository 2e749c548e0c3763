package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"vibin_video/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, a, b string, at time.Time) models.Session {
	return models.Session{
		ID:           id,
		PoolID:       "pool",
		ParticipantA: a,
		ParticipantB: b,
		Status:       models.SessionStatusActive,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestMemoryClaimRequiresExactEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := newFixedClock().Now()

	entry, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)

	stale := entry
	stale.EntryID = "old-entry"
	_, err = store.ClaimAndCreateSession(ctx, Claim{Candidate: stale, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.ErrorIs(t, err, models.ErrClaimConflict)

	wrongPool := entry
	wrongPool.PoolID = "other"
	_, err = store.ClaimAndCreateSession(ctx, Claim{Candidate: wrongPool, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.ErrorIs(t, err, models.ErrClaimConflict)

	// nothing applied by the failed claims
	still, err := store.GetWaiting(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, still)
	_, err = store.GetSession(ctx, "s1")
	require.ErrorIs(t, err, models.ErrSessionNotActive)

	_, err = store.ClaimAndCreateSession(ctx, Claim{Candidate: entry, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.NoError(t, err)

	_, err = store.ClaimAndCreateSession(ctx, Claim{Candidate: entry, CallerID: "c", Session: newSession("s2", "a", "c", now)})
	assert.ErrorIs(t, err, models.ErrClaimConflict, "second claimant loses")
}

func TestMemoryUpsertRefreshesHeartbeatOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := newFixedClock().Now()

	first, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)
	refreshed, err := store.UpsertWaiting(ctx, "a", "pool", now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, first.EntryID, refreshed.EntryID)
	assert.Equal(t, first.EnqueuedAt, refreshed.EnqueuedAt)
	assert.Equal(t, now.Add(10*time.Second), refreshed.HeartbeatAt)

	moved, err := store.UpsertWaiting(ctx, "a", "elsewhere", now.Add(20*time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, first.EntryID, moved.EntryID)
	assert.Equal(t, "elsewhere", moved.PoolID)

	counts, err := store.CountWaiting(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"elsewhere": 1}, counts)
}

func TestMemoryUpsertRefusesMatchedParticipant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := newFixedClock().Now()

	entry, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)
	_, err = store.ClaimAndCreateSession(ctx, Claim{Candidate: entry, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.NoError(t, err)

	_, err = store.UpsertWaiting(ctx, "a", "pool", now)
	assert.ErrorIs(t, err, ErrParticipantBusy)
}

func TestMemoryEndSessionOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := newFixedClock().Now()

	entry, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)
	session, err := store.ClaimAndCreateSession(ctx, Claim{Candidate: entry, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.NoError(t, err)

	end := SessionEnd{
		Session:  session,
		Reason:   models.EndedReasonLeft,
		At:       now,
		PeerLeft: models.Signal{SessionID: "s1", From: "a", To: "b", Kind: models.SignalPeerLeft, Payload: json.RawMessage("{}"), CreatedAt: now},
	}

	_, err = store.AppendSignal(ctx, session, models.Signal{SessionID: "s1", From: "b", To: "a", Kind: models.SignalICE, CreatedAt: now})
	require.NoError(t, err)
	_, err = store.EndSession(ctx, end)
	require.ErrorIs(t, err, ErrSequenceConflict, "sequence moved since read")

	session, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	end.Session = session
	ended, err := store.EndSession(ctx, end)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusEnded, ended.Status)
	assert.EqualValues(t, 2, ended.SignalSeq)

	_, err = store.EndSession(ctx, end)
	assert.ErrorIs(t, err, models.ErrAlreadyEnded)

	active, err := store.ActiveSessionFor(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, active)

	signals, err := store.ListSignals(ctx, "s1", "b", 0, now, 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.EqualValues(t, 2, signals[0].ID)
}

func TestMemorySignalsExpire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := newFixedClock().Now()

	entry, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)
	session, err := store.ClaimAndCreateSession(ctx, Claim{Candidate: entry, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.NoError(t, err)

	old, err := store.AppendSignal(ctx, session, models.Signal{SessionID: "s1", From: "a", To: "b", Kind: models.SignalOffer, CreatedAt: now})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), old.ExpiresAt)

	session.SignalSeq = old.ID
	later := now.Add(2 * time.Minute)
	_, err = store.AppendSignal(ctx, session, models.Signal{SessionID: "s1", From: "a", To: "b", Kind: models.SignalICE, CreatedAt: later})
	require.NoError(t, err)

	signals, err := store.ListSignals(ctx, "s1", "b", 0, later, 10)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, models.SignalICE, signals[0].Kind)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.signals[inboxKey("s1", "b")], 1, "pruned on append")
}

func TestMemoryRemoveWaitingEntryKeepsNewerEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	now := newFixedClock().Now()

	old, err := store.UpsertWaiting(ctx, "x", "pool", now)
	require.NoError(t, err)
	require.NoError(t, store.RemoveWaiting(ctx, "x"))
	fresh, err := store.UpsertWaiting(ctx, "x", "pool", now.Add(time.Second))
	require.NoError(t, err)
	require.NotEqual(t, old.EntryID, fresh.EntryID)

	require.NoError(t, store.RemoveWaitingEntry(ctx, old))
	current, err := store.GetWaiting(ctx, "x")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, fresh.EntryID, current.EntryID)

	moved := fresh
	moved.PoolID = "other"
	require.NoError(t, store.RemoveWaitingEntry(ctx, moved))
	current, err = store.GetWaiting(ctx, "x")
	require.NoError(t, err)
	assert.NotNil(t, current, "pool must match too")

	require.NoError(t, store.RemoveWaitingEntry(ctx, fresh))
	current, err = store.GetWaiting(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestMemoryAppendReturnsStoredSignal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := newFixedClock().Now()

	entry, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)
	session, err := store.ClaimAndCreateSession(ctx, Claim{Candidate: entry, CallerID: "b", Session: newSession("s1", "a", "b", now)})
	require.NoError(t, err)

	sent, err := store.AppendSignal(ctx, session, models.Signal{SessionID: "s1", From: "a", To: "b", Kind: models.SignalICE, CreatedAt: now})
	require.NoError(t, err)

	stored, err := store.ListSignals(ctx, "s1", "b", 0, now, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0], sent)
}

func TestMemoryFullPruneReachesIdleInboxes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(time.Minute)
	now := newFixedClock().Now()

	idleEntry, err := store.UpsertWaiting(ctx, "a", "pool", now)
	require.NoError(t, err)
	idle, err := store.ClaimAndCreateSession(ctx, Claim{Candidate: idleEntry, CallerID: "b", Session: newSession("idle", "a", "b", now)})
	require.NoError(t, err)
	_, err = store.AppendSignal(ctx, idle, models.Signal{SessionID: "idle", From: "a", To: "b", Kind: models.SignalOffer, CreatedAt: now})
	require.NoError(t, err)

	busyEntry, err := store.UpsertWaiting(ctx, "c", "pool", now)
	require.NoError(t, err)
	busy, err := store.ClaimAndCreateSession(ctx, Claim{Candidate: busyEntry, CallerID: "d", Session: newSession("busy", "c", "d", now)})
	require.NoError(t, err)

	later := now.Add(2 * time.Minute)
	for i := 0; i < fullPruneEvery; i++ {
		signal, err := store.AppendSignal(ctx, busy, models.Signal{SessionID: "busy", From: "c", To: "d", Kind: models.SignalICE, CreatedAt: later})
		require.NoError(t, err)
		busy.SignalSeq = signal.ID

		store.mu.Lock()
		_, idleKept := store.signals[inboxKey("idle", "b")]
		store.mu.Unlock()
		if i < fullPruneEvery-2 {
			require.True(t, idleKept, "idle inbox is only pruned by the periodic sweep")
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.signals, inboxKey("idle", "b"))
	assert.Len(t, store.signals[inboxKey("busy", "d")], fullPruneEvery)
}
