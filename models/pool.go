package models

import "time"

// Pool is a named matching namespace ("server" on the wire)
type Pool struct {
	ID        string    `dynamodbav:"poolId" json:"id"`
	Key       string    `dynamodbav:"key" json:"key"`
	Name      string    `dynamodbav:"name" json:"name"`
	OwnerID   string    `dynamodbav:"ownerId" json:"createdBy"`
	Active    bool      `dynamodbav:"active" json:"-"`
	CreatedAt time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

// PoolSummary is a pool joined with its live aggregate counts
type PoolSummary struct {
	Pool
	WaitingCount       int `json:"queueCount"`
	ActiveSessionCount int `json:"activeSessionCount"`
}
