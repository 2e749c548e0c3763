package models

const (
	MatchStatusIdle    = "idle"
	MatchStatusWaiting = "waiting"
	MatchStatusMatched = "matched"
)

// MatchState is a participant's view of the matchmaking state machine
type MatchState struct {
	Status    string  `json:"status"`
	SessionID *string `json:"sessionId"`
	PoolID    *string `json:"serverId"`
	PeerID    *string `json:"peerUserId"`
	Initiator bool    `json:"initiator"`
}

func IdleState() MatchState {
	return MatchState{Status: MatchStatusIdle}
}

func WaitingState(poolID string) MatchState {
	return MatchState{Status: MatchStatusWaiting, PoolID: &poolID}
}

// MatchedState builds the state of participantID inside session.
// The peer with the byte-wise smaller id is the initiator, so exactly one side sends the offer.
func MatchedState(session Session, participantID string) MatchState {
	peer := session.PeerOf(participantID)
	sessionID, poolID := session.ID, session.PoolID
	return MatchState{
		Status:    MatchStatusMatched,
		SessionID: &sessionID,
		PoolID:    &poolID,
		PeerID:    &peer,
		Initiator: IsInitiator(participantID, peer),
	}
}

func IsInitiator(participantID, peerID string) bool {
	return participantID < peerID
}
