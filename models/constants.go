package models

import "time"

// DynamoDB table names. The configured prefix is prepended at startup.
const (
	PoolsTable          = "Pools"
	PoolKeysTable       = "PoolKeys"
	QueueTable          = "Queue"
	SessionsTable       = "Sessions"
	ActiveSessionsTable = "ActiveSessions"
	SignalsTable        = "Signals"
)

// Secondary indexes
const (
	QueueByPoolIndex = "poolId-enqueuedAt-index"
)

// Well-known pool provisioned on demand
const (
	DefaultPoolKey  = "public"
	DefaultPoolName = "Public Random"
)

// Session statuses
const (
	SessionStatusActive = "ACTIVE"
	SessionStatusEnded  = "ENDED"
)

// Reasons recorded on ended sessions
const (
	EndedReasonLeft = "left"
	EndedReasonNext = "next"
)

// Match actions accepted by RequestMatch
const (
	ActionFind  = "find"
	ActionNext  = "next"
	ActionLeave = "leave"
)

const (
	DefaultStaleAfter      = 30 * time.Second
	DefaultEndedGrace      = 2 * time.Minute
	DefaultSignalRetention = time.Hour
	SignalPageSize         = 100
	MaxKeyAttempts         = 50
)
