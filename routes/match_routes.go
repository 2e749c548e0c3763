package routes

import (
	"vibin_video/controllers"
	"vibin_video/services"

	"github.com/gorilla/mux"
)

// RegisterMatchRoutes sets up matchmaking under /api/video/match
func RegisterMatchRoutes(r *mux.Router, matchService *services.MatchService) {
	controller := controllers.NewMatchController(matchService)

	matchRouter := r.PathPrefix("/api/video/match").Subrouter()
	matchRouter.HandleFunc("", controller.GetMatchState).Methods("GET")
	matchRouter.HandleFunc("", controller.RequestMatch).Methods("POST") // find, next or leave
}
