package services

import (
	"errors"
	"fmt"

	"vibin_video/models"
)

var domainErrors = []error{
	models.ErrInvalidPoolKey,
	models.ErrPoolNameRequired,
	models.ErrPoolNotFound,
	models.ErrKeyTaken,
	models.ErrNotPoolOwner,
	models.ErrNotParticipant,
	models.ErrSessionNotActive,
	models.ErrAlreadyEnded,
	models.ErrClaimConflict,
	models.ErrInvalidSignal,
	models.ErrInvalidAction,
	models.ErrCoordinatorUnavailable,
}

// unavailable passes domain errors through and marks everything else as a retryable store fault.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, domainErr := range domainErrors {
		if errors.Is(err, domainErr) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", models.ErrCoordinatorUnavailable, op, err)
}
