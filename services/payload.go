package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"vibin_video/models"

	"github.com/pion/webrtc/v4"
)

var descriptionTypes = map[models.SignalKind]webrtc.SDPType{
	models.SignalOffer:  webrtc.SDPTypeOffer,
	models.SignalAnswer: webrtc.SDPTypeAnswer,
}

// ValidatePayload checks that an offer or answer carries a parsable session description of the
// matching type, and that an ICE payload is a candidate init.
func ValidatePayload(kind models.SignalKind, payload json.RawMessage) error {
	switch kind {
	case models.SignalOffer, models.SignalAnswer:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(payload, &desc); err != nil {
			return fmt.Errorf("%w: failed to parse session description: %w", models.ErrInvalidSignal, err)
		}
		if desc.Type != descriptionTypes[kind] {
			return fmt.Errorf("%w: %s payload has description type %q", models.ErrInvalidSignal, kind.WireName(), desc.Type.String())
		}
		if _, err := desc.Unmarshal(); err != nil {
			return fmt.Errorf("%w: failed to parse SDP: %w", models.ErrInvalidSignal, err)
		}
	case models.SignalICE:
		var ice webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &ice); err != nil {
			return fmt.Errorf("%w: failed to parse ICE candidate: %w", models.ErrInvalidSignal, err)
		}
		// an empty candidate marks end of candidates
		if ice.Candidate != "" && !strings.HasPrefix(strings.TrimPrefix(ice.Candidate, "a="), "candidate:") {
			return fmt.Errorf("%w: malformed ICE candidate", models.ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: %s cannot be sent", models.ErrInvalidSignal, kind.WireName())
	}
	return nil
}
