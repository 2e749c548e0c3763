package routes

import (
	"vibin_video/controllers"
	"vibin_video/services"

	"github.com/gorilla/mux"
)

func RegisterSignalRoutes(r *mux.Router, signalService *services.SignalService) {
	controller := controllers.NewSignalController(signalService)

	signalRouter := r.PathPrefix("/api/video/signal").Subrouter()
	signalRouter.HandleFunc("", controller.GetSignals).Methods("GET")
	signalRouter.HandleFunc("", controller.SendSignal).Methods("POST")
}
