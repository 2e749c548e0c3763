package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"vibin_video/helpers"
	"vibin_video/services"
)

// SignalController relays WebRTC handshake messages between matched peers
type SignalController struct {
	SignalService *services.SignalService
}

func NewSignalController(signalService *services.SignalService) *SignalController {
	return &SignalController{SignalService: signalService}
}

type sendSignalRequest struct {
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func (sc *SignalController) SendSignal(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	var req sendSignalRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, err)
		return
	}
	if req.SessionID == "" || req.Type == "" {
		helpers.WriteError(w, fmt.Errorf("%w: sessionId and type are required", helpers.ErrBadRequest))
		return
	}

	if _, err := sc.SignalService.Send(r.Context(), participantID, req.SessionID, req.Type, req.Payload); err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetSignals returns signals addressed to the caller after the "after" cursor
func (sc *SignalController) GetSignals(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	sessionID := query.Get("sessionId")
	if sessionID == "" {
		helpers.WriteError(w, fmt.Errorf("%w: sessionId is required", helpers.ErrBadRequest))
		return
	}
	after, err := strconv.ParseInt(query.Get("after"), 10, 64)
	if err != nil {
		after = 0
	}

	signals, err := sc.SignalService.Receive(r.Context(), participantID, sessionID, after)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{"signals": signals})
}
