package services

import (
	"context"
	"errors"
	"time"

	"vibin_video/models"
)

// ErrSequenceConflict is returned by the store when a session's signal sequence moved between
// the read and the conditional write. Callers re-read the session and retry.
var ErrSequenceConflict = errors.New("signal sequence moved")

// ErrParticipantBusy is returned by UpsertWaiting when the participant already holds an active session.
var ErrParticipantBusy = errors.New("participant already in a session")

// PoolStore persists pools and their unique keys.
type PoolStore interface {
	// EnsurePool creates pool if its key is free, otherwise reactivates the pool holding the key.
	EnsurePool(ctx context.Context, pool models.Pool) (models.Pool, error)
	// CreatePool fails with models.ErrKeyTaken when the key is already claimed.
	CreatePool(ctx context.Context, pool models.Pool) error
	GetPool(ctx context.Context, poolID string) (models.Pool, error)
	SavePool(ctx context.Context, pool models.Pool) error
	ListActivePools(ctx context.Context) ([]models.Pool, error)
	CountWaiting(ctx context.Context) (map[string]int, error)
	CountActiveSessions(ctx context.Context) (map[string]int, error)
}

// QueueStore holds the per-pool FIFO of waiting participants.
type QueueStore interface {
	SweepStale(ctx context.Context, cutoff time.Time) (int, error)
	UpsertWaiting(ctx context.Context, participantID, poolID string, now time.Time) (models.QueueEntry, error)
	GetWaiting(ctx context.Context, participantID string) (*models.QueueEntry, error)
	RemoveWaiting(ctx context.Context, participantID string) error
	// RemoveWaitingEntry deletes entry only while it is still the participant's current entry in the
	// same pool. A newer entry is left in place.
	RemoveWaitingEntry(ctx context.Context, entry models.QueueEntry) error
	OldestOther(ctx context.Context, poolID, excludeParticipantID string) (*models.QueueEntry, error)
}

// Claim pairs the caller with a waiting candidate.
type Claim struct {
	Candidate models.QueueEntry
	CallerID  string
	Session   models.Session
}

// SessionEnd is the transition of Session (as last read) to ENDED, with the PEER_LEFT signal to emit.
type SessionEnd struct {
	Session  models.Session
	Reason   string
	At       time.Time
	PeerLeft models.Signal
}

// SessionStore tracks session lifecycle and each participant's single active session.
type SessionStore interface {
	ActiveSessionFor(ctx context.Context, participantID string) (*models.Session, error)
	// GetSession fails with models.ErrSessionNotActive when the session is unknown.
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	// ClaimAndCreateSession atomically deletes the candidate's exact queue entry and the caller's entry,
	// and creates the session. Nothing is applied on models.ErrClaimConflict.
	ClaimAndCreateSession(ctx context.Context, claim Claim) (models.Session, error)
	// EndSession fails with models.ErrAlreadyEnded, or ErrSequenceConflict when the signal sequence moved.
	EndSession(ctx context.Context, end SessionEnd) (models.Session, error)
}

// SignalStore is the ordered, addressed signal log.
type SignalStore interface {
	// AppendSignal writes signal with id session.SignalSeq+1 provided the session is still ACTIVE
	// and its sequence is unchanged.
	AppendSignal(ctx context.Context, session models.Session, signal models.Signal) (models.Signal, error)
	ListSignals(ctx context.Context, sessionID, toParticipantID string, afterID int64, now time.Time, limit int) ([]models.Signal, error)
}

// Store is the transactional collaborator behind the coordinator and relay.
type Store interface {
	PoolStore
	QueueStore
	SessionStore
	SignalStore
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
