package helpers

import (
	"encoding/json"
	"errors"
	"net/http"

	"vibin_video/models"
)

// ParticipantHeader carries the caller identity set by the upstream gateway.
const ParticipantHeader = "X-Participant-ID"

var ErrBadRequest = errors.New("invalid request")

// WriteJSONResponse writes payload as JSON with the given status.
func WriteJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrCoordinatorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, models.ErrInvalidPoolKey),
		errors.Is(err, models.ErrPoolNameRequired),
		errors.Is(err, models.ErrInvalidSignal),
		errors.Is(err, models.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotParticipant), errors.Is(err, models.ErrNotPoolOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSessionNotActive), errors.Is(err, models.ErrKeyTaken):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// WriteError writes {"error": message}. Store faults ask the client to retry shortly.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		message = models.ErrCoordinatorUnavailable.Error()
	case http.StatusInternalServerError:
		message = "Internal server error"
	}
	WriteJSONResponse(w, status, map[string]string{"error": message})
}

// DecodeJSON reads a JSON request body into dst. An empty body leaves dst untouched.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return ErrBadRequest
	}
	return nil
}

// ParticipantID returns the caller identity, writing 401 when it is missing.
func ParticipantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(ParticipantHeader)
	if id == "" {
		WriteJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return "", false
	}
	return id, true
}
