package models

import "errors"

var (
	ErrInvalidPoolKey   = errors.New("invalid server key")
	ErrPoolNameRequired = errors.New("name is required")
	ErrPoolNotFound     = errors.New("server not found")
	ErrKeyTaken         = errors.New("server key already taken")
	ErrNotPoolOwner     = errors.New("only the owner can change this server")
	ErrNotParticipant   = errors.New("not a member of this session")
	ErrSessionNotActive = errors.New("session not active")
	ErrAlreadyEnded     = errors.New("session already ended")
	ErrClaimConflict    = errors.New("waiting participant already claimed")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrInvalidAction    = errors.New("unknown match action")

	// ErrCoordinatorUnavailable marks store-level failures. Callers may retry the whole operation.
	ErrCoordinatorUnavailable = errors.New("coordinator unavailable")
)
