package controllers

import (
	"net/http"

	"vibin_video/helpers"
	"vibin_video/services"

	"github.com/gorilla/mux"
)

// PoolController exposes pools as "servers"
type PoolController struct {
	PoolService *services.PoolService
}

func NewPoolController(poolService *services.PoolService) *PoolController {
	return &PoolController{PoolService: poolService}
}

type createPoolRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// ListPools makes sure the public pool exists, then lists every active pool with its counts
func (pc *PoolController) ListPools(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	if _, err := pc.PoolService.EnsureDefaultPool(r.Context(), participantID); err != nil {
		helpers.WriteError(w, err)
		return
	}
	servers, err := pc.PoolService.ListPools(r.Context())
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{"servers": servers})
}

func (pc *PoolController) CreatePool(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	var req createPoolRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.WriteError(w, err)
		return
	}

	server, err := pc.PoolService.CreatePool(r.Context(), participantID, req.Name, req.Key)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSONResponse(w, http.StatusCreated, map[string]interface{}{"server": server})
}

func (pc *PoolController) DeactivatePool(w http.ResponseWriter, r *http.Request) {
	participantID, ok := helpers.ParticipantID(w, r)
	if !ok {
		return
	}

	server, err := pc.PoolService.DeactivatePool(r.Context(), participantID, mux.Vars(r)["serverId"])
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSONResponse(w, http.StatusOK, map[string]interface{}{"server": server})
}
