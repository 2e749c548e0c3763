package models

import "time"

// QueueEntry records a participant waiting to be paired. One per participant across all pools.
type QueueEntry struct {
	EntryID       string
	ParticipantID string
	PoolID        string
	EnqueuedAt    time.Time
	HeartbeatAt   time.Time
}
