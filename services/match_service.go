package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"vibin_video/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const endSessionAttempts = 5

type MatchConfig struct {
	// StaleAfter is how long a queue entry survives without a heartbeat.
	StaleAfter time.Duration
	// ClaimRetries re-runs an attempt after a lost claim. Zero returns Waiting at once.
	ClaimRetries int
}

// MatchService pairs waiting participants into exclusive 1:1 sessions.
type MatchService struct {
	Store    Store
	Pools    *PoolService
	Clock    Clock
	Config   MatchConfig
	Notifier Notifier
	logger   *zap.Logger
}

func NewMatchService(store Store, pools *PoolService, clock Clock, cfg MatchConfig, logger *zap.Logger) *MatchService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = models.DefaultStaleAfter
	}
	if cfg.ClaimRetries < 0 {
		cfg.ClaimRetries = 0
	}
	return &MatchService{Store: store, Pools: pools, Clock: clock, Config: cfg, Notifier: NopNotifier{}, logger: logger}
}

// GetMatchState reports the participant's current state without writing anything.
func (ms *MatchService) GetMatchState(ctx context.Context, participantID string) (models.MatchState, error) {
	session, err := ms.Store.ActiveSessionFor(ctx, participantID)
	if err != nil {
		return models.MatchState{}, unavailable("load active session", err)
	}
	if session != nil {
		return models.MatchedState(*session, participantID), nil
	}

	entry, err := ms.Store.GetWaiting(ctx, participantID)
	if err != nil {
		return models.MatchState{}, unavailable("load queue entry", err)
	}
	if entry == nil {
		return models.IdleState(), nil
	}
	return models.WaitingState(entry.PoolID), nil
}

// RequestMatch runs one matchmaking poll. An empty poolID selects the default pool.
func (ms *MatchService) RequestMatch(ctx context.Context, participantID, poolID, action string) (models.MatchState, error) {
	switch action {
	case models.ActionLeave:
		if err := ms.Leave(ctx, participantID, models.EndedReasonLeft); err != nil {
			return models.MatchState{}, err
		}
		return models.IdleState(), nil
	case "", models.ActionFind, models.ActionNext:
	default:
		return models.MatchState{}, models.ErrInvalidAction
	}

	if poolID == "" {
		pool, err := ms.Pools.EnsureDefaultPool(ctx, participantID)
		if err != nil {
			return models.MatchState{}, err
		}
		poolID = pool.ID
	} else if _, err := ms.Pools.GetPool(ctx, poolID); err != nil {
		return models.MatchState{}, err
	}

	if action == models.ActionNext {
		if err := ms.Leave(ctx, participantID, models.EndedReasonNext); err != nil {
			return models.MatchState{}, err
		}
	}

	return ms.AttemptMatch(ctx, participantID, poolID)
}

// AttemptMatch enqueues the participant and tries to claim the oldest other waiting entry in the pool.
func (ms *MatchService) AttemptMatch(ctx context.Context, participantID, poolID string) (models.MatchState, error) {
	for attempt := 0; ; attempt++ {
		state, err := ms.attemptOnce(ctx, participantID, poolID)
		if !errors.Is(err, models.ErrClaimConflict) {
			return state, err
		}
		if attempt >= ms.Config.ClaimRetries {
			return models.WaitingState(poolID), nil
		}
	}
}

func (ms *MatchService) attemptOnce(ctx context.Context, participantID, poolID string) (models.MatchState, error) {
	now := ms.Clock.Now()

	swept, err := ms.Store.SweepStale(ctx, now.Add(-ms.Config.StaleAfter))
	if err != nil {
		return models.MatchState{}, unavailable("sweep queue", err)
	}
	if swept > 0 {
		ms.logger.Debug("swept stale queue entries", zap.Int("count", swept))
	}

	active, err := ms.Store.ActiveSessionFor(ctx, participantID)
	if err != nil {
		return models.MatchState{}, unavailable("load active session", err)
	}
	if active != nil {
		return models.MatchedState(*active, participantID), nil
	}

	_, err = ms.Store.UpsertWaiting(ctx, participantID, poolID, now)
	if errors.Is(err, ErrParticipantBusy) {
		// paired by another caller since the check above
		active, err := ms.Store.ActiveSessionFor(ctx, participantID)
		if err != nil {
			return models.MatchState{}, unavailable("load active session", err)
		}
		if active != nil {
			return models.MatchedState(*active, participantID), nil
		}
		return models.MatchState{}, models.ErrClaimConflict
	}
	if err != nil {
		return models.MatchState{}, unavailable("enqueue", err)
	}

	candidate, err := ms.Store.OldestOther(ctx, poolID, participantID)
	if err != nil {
		return models.MatchState{}, unavailable("find candidate", err)
	}
	if candidate == nil {
		return models.WaitingState(poolID), nil
	}

	candidateActive, err := ms.Store.ActiveSessionFor(ctx, candidate.ParticipantID)
	if err != nil {
		return models.MatchState{}, unavailable("load candidate session", err)
	}
	if candidateActive != nil {
		if err := ms.Store.RemoveWaitingEntry(ctx, *candidate); err != nil {
			return models.MatchState{}, unavailable("drop candidate entry", err)
		}
		return models.WaitingState(poolID), nil
	}

	session, err := ms.Store.ClaimAndCreateSession(ctx, Claim{
		Candidate: *candidate,
		CallerID:  participantID,
		Session: models.Session{
			ID:           uuid.NewString(),
			PoolID:       poolID,
			ParticipantA: candidate.ParticipantID,
			ParticipantB: participantID,
			Status:       models.SessionStatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	})
	if errors.Is(err, models.ErrClaimConflict) {
		return models.MatchState{}, err
	}
	if err != nil {
		return models.MatchState{}, unavailable("claim candidate", err)
	}

	ms.logger.Info("✅ matched",
		zap.String("session", session.ID),
		zap.String("server", poolID),
		zap.String("participant", participantID),
		zap.String("peer", candidate.ParticipantID),
	)
	return models.MatchedState(session, participantID), nil
}

// Leave drops the participant's queue entry and ends its active session, notifying the peer
// with a PEER_LEFT signal. It is a no-op when there is nothing to leave.
func (ms *MatchService) Leave(ctx context.Context, participantID, reason string) error {
	if err := ms.Store.RemoveWaiting(ctx, participantID); err != nil {
		return unavailable("leave queue", err)
	}

	for attempt := 0; attempt < endSessionAttempts; attempt++ {
		session, err := ms.Store.ActiveSessionFor(ctx, participantID)
		if err != nil {
			return unavailable("load active session", err)
		}
		if session == nil {
			return nil
		}

		now := ms.Clock.Now()
		peerID := session.PeerOf(participantID)
		ended, err := ms.Store.EndSession(ctx, SessionEnd{
			Session: *session,
			Reason:  reason,
			At:      now,
			PeerLeft: models.Signal{
				SessionID: session.ID,
				From:      participantID,
				To:        peerID,
				Kind:      models.SignalPeerLeft,
				Payload:   json.RawMessage("{}"),
				CreatedAt: now,
			},
		})
		switch {
		case err == nil:
			ms.logger.Info("session ended",
				zap.String("session", session.ID),
				zap.String("participant", participantID),
				zap.String("reason", reason),
			)
			ms.Notifier.SignalAppended(session.ID, peerID, ended.SignalSeq)
			return nil
		case errors.Is(err, models.ErrAlreadyEnded):
			return nil
		case errors.Is(err, ErrSequenceConflict):
			continue
		default:
			return unavailable("end session", err)
		}
	}
	return unavailable("end session", ErrSequenceConflict)
}
