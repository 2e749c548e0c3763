package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"vibin_video/models"

	"go.uber.org/zap"
)

// Notifier is told about every appended signal so live clients can poll immediately.
type Notifier interface {
	SignalAppended(sessionID, toParticipantID string, signalID int64)
}

type NopNotifier struct{}

func (NopNotifier) SignalAppended(string, string, int64) {}

type RelayConfig struct {
	PageSize int
	// EndedGrace keeps an ended session readable so the remaining peer can see PEER_LEFT.
	EndedGrace     time.Duration
	AppendRetries  int
	StrictPayloads bool
}

// SignalService relays handshake messages between the two members of a session.
type SignalService struct {
	Store    Store
	Clock    Clock
	Config   RelayConfig
	Notifier Notifier
	logger   *zap.Logger
}

func NewSignalService(store Store, clock Clock, cfg RelayConfig, logger *zap.Logger) *SignalService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = models.SignalPageSize
	}
	if cfg.EndedGrace <= 0 {
		cfg.EndedGrace = models.DefaultEndedGrace
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 5
	}
	return &SignalService{Store: store, Clock: clock, Config: cfg, Notifier: NopNotifier{}, logger: logger}
}

// Send appends a signal from a session member to its peer.
func (ss *SignalService) Send(ctx context.Context, from, sessionID, wireType string, payload json.RawMessage) (models.Signal, error) {
	kind, err := models.ParseSendableKind(wireType)
	if err != nil {
		return models.Signal{}, err
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		payload = json.RawMessage("{}")
	}
	if ss.Config.StrictPayloads {
		if err := ValidatePayload(kind, payload); err != nil {
			return models.Signal{}, err
		}
	}

	for attempt := 0; attempt < ss.Config.AppendRetries; attempt++ {
		session, err := ss.Store.GetSession(ctx, sessionID)
		if err != nil {
			return models.Signal{}, unavailable("load session", err)
		}
		if !session.HasParticipant(from) {
			return models.Signal{}, models.ErrNotParticipant
		}
		if !session.IsActive() {
			return models.Signal{}, models.ErrSessionNotActive
		}

		to := session.PeerOf(from)
		signal, err := ss.Store.AppendSignal(ctx, session, models.Signal{
			SessionID: sessionID,
			From:      from,
			To:        to,
			Kind:      kind,
			Payload:   payload,
			CreatedAt: ss.Clock.Now(),
		})
		if errors.Is(err, ErrSequenceConflict) {
			continue
		}
		if err != nil {
			return models.Signal{}, unavailable("append signal", err)
		}

		ss.logger.Debug("signal relayed",
			zap.String("session", sessionID),
			zap.String("from", from),
			zap.String("type", kind.WireName()),
			zap.Int64("id", signal.ID),
		)
		ss.Notifier.SignalAppended(sessionID, to, signal.ID)
		return signal, nil
	}

	ss.logger.Warn("❌ signal append contention", zap.String("session", sessionID))
	return models.Signal{}, unavailable("append signal", ErrSequenceConflict)
}

// Receive returns up to one page of signals addressed to participantID with ids above afterID.
func (ss *SignalService) Receive(ctx context.Context, participantID, sessionID string, afterID int64) ([]models.Signal, error) {
	session, err := ss.readableSession(ctx, participantID, sessionID)
	if err != nil {
		return nil, err
	}
	if afterID < 0 {
		afterID = 0
	}
	signals, err := ss.Store.ListSignals(ctx, session.ID, participantID, afterID, ss.Clock.Now(), ss.Config.PageSize)
	if err != nil {
		return nil, unavailable("list signals", err)
	}
	return signals, nil
}

// IsMember reports whether participantID may read sessionID right now.
func (ss *SignalService) IsMember(ctx context.Context, participantID, sessionID string) error {
	_, err := ss.readableSession(ctx, participantID, sessionID)
	return err
}

func (ss *SignalService) readableSession(ctx context.Context, participantID, sessionID string) (models.Session, error) {
	session, err := ss.Store.GetSession(ctx, sessionID)
	if err != nil {
		return models.Session{}, unavailable("load session", err)
	}
	if !session.HasParticipant(participantID) {
		return models.Session{}, models.ErrNotParticipant
	}
	if session.IsActive() {
		return session, nil
	}
	if session.EndedAt != nil && ss.Clock.Now().Before(session.EndedAt.Add(ss.Config.EndedGrace)) {
		return session, nil
	}
	return models.Session{}, models.ErrSessionNotActive
}
