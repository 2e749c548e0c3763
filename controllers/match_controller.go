package controllers

import (
	"net/http"

	"vibin_video/helpers"
	"vibin_video/models"
	"vibin_video/services"
)

// MatchController handles HTTP requests for matchmaking
type MatchController struct {
	MatchService *services.MatchService
}

// NewMatchController creates a new MatchController instance
func NewMatchController(matchService *services.MatchService) *MatchController {
	return &MatchController{MatchService: matchService}
}

type matchRequest struct {
	Action   string `json:"action"`
	ServerID string `json:"serverId"`
	PoolID   string `json:"poolId"`
}

// GetMatchState returns the caller's idle, waiting or matched state
func (mc *MatchController) GetMatchState(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	state, err := mc.MatchService.GetMatchState(r.Context(), participantID)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSONResponse(w, http.StatusOK, state)
}

// RequestMatch runs one find, next or leave poll
func (mc *MatchController) RequestMatch(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	var req matchRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, err)
		return
	}
	poolID := req.ServerID
	if poolID == "" {
		poolID = req.PoolID
	}

	state, err := mc.MatchService.RequestMatch(r.Context(), participantID, poolID, req.Action)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	if req.Action == models.ActionLeave {
		helpers.WriteJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	helpers.WriteJSONResponse(w, http.StatusOK, state)
}
