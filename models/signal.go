package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// SignalKind is the type of a handshake message
type SignalKind string

const (
	SignalOffer    SignalKind = "OFFER"
	SignalAnswer   SignalKind = "ANSWER"
	SignalICE      SignalKind = "ICE"
	SignalPeerLeft SignalKind = "PEER_LEFT"
)

var signalWireNames = map[SignalKind]string{
	SignalOffer:    "offer",
	SignalAnswer:   "answer",
	SignalICE:      "ice",
	SignalPeerLeft: "peer-left",
}

// ParseSendableKind maps a client supplied type to a kind. PEER_LEFT is never client supplied.
func ParseSendableKind(wire string) (SignalKind, error) {
	switch wire {
	case "offer":
		return SignalOffer, nil
	case "answer":
		return SignalAnswer, nil
	case "ice":
		return SignalICE, nil
	}
	return "", fmt.Errorf("%w: unknown signal type %q", ErrInvalidSignal, wire)
}

func (k SignalKind) WireName() string {
	if name, ok := signalWireNames[k]; ok {
		return name
	}
	return string(k)
}

// Signal is one addressed, ordered handshake message. IDs are strictly increasing per session.
type Signal struct {
	ID        int64
	SessionID string
	From      string
	To        string
	Kind      SignalKind
	Payload   json.RawMessage
	CreatedAt time.Time
	ExpiresAt time.Time
}

type signalJSON struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId"`
	From      string          `json:"fromUserId"`
	To        string          `json:"toUserId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"createdAt"`
}

func (s Signal) MarshalJSON() ([]byte, error) {
	payload := s.Payload
	if !json.Valid(payload) {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(signalJSON{
		ID:        s.ID,
		SessionID: s.SessionID,
		From:      s.From,
		To:        s.To,
		Type:      s.Kind.WireName(),
		Payload:   payload,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}
