package routes

import (
	"vibin_video/controllers"
	"vibin_video/services"

	"github.com/gorilla/mux"
)

// RegisterPoolRoutes sets up pool ("server") management under /api/video/servers
func RegisterPoolRoutes(r *mux.Router, poolService *services.PoolService) {
	controller := controllers.NewPoolController(poolService)

	poolRouter := r.PathPrefix("/api/video/servers").Subrouter()
	poolRouter.HandleFunc("", controller.ListPools).Methods("GET")
	poolRouter.HandleFunc("", controller.CreatePool).Methods("POST")
	poolRouter.HandleFunc("/{serverId}", controller.DeactivatePool).Methods("DELETE")
}
