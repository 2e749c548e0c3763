package models

import "time"

// Session is an established pairing between exactly two participants
type Session struct {
	ID           string     `dynamodbav:"sessionId"`
	PoolID       string     `dynamodbav:"poolId"`
	ParticipantA string     `dynamodbav:"participantA"`
	ParticipantB string     `dynamodbav:"participantB"`
	Status       string     `dynamodbav:"status"`
	CreatedAt    time.Time  `dynamodbav:"createdAt"`
	UpdatedAt    time.Time  `dynamodbav:"updatedAt"`
	EndedAt      *time.Time `dynamodbav:"endedAt,omitempty"`
	EndedReason  string     `dynamodbav:"endedReason,omitempty"`
	SignalSeq    int64      `dynamodbav:"signalSeq"`
}

func (s Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

func (s Session) HasParticipant(participantID string) bool {
	return participantID != "" && (s.ParticipantA == participantID || s.ParticipantB == participantID)
}

// PeerOf returns the other participant. The caller must be a member.
func (s Session) PeerOf(participantID string) string {
	if s.ParticipantA == participantID {
		return s.ParticipantB
	}
	return s.ParticipantA
}
