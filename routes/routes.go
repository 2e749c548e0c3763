package routes

import (
	"net/http"

	"vibin_video/controllers"
	"vibin_video/helpers"
	"vibin_video/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Services are the handlers' collaborators
type Services struct {
	Match   *services.MatchService
	Pools   *services.PoolService
	Signals *services.SignalService
}

// RegisterRoutes sets up the routes for the application
func RegisterRoutes(r *mux.Router, svc Services) {
	r.HandleFunc("/health", controllers.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/", controllers.WelcomeHandler).Methods("GET")

	RegisterMatchRoutes(r, svc.Match)
	RegisterPoolRoutes(r, svc.Pools)
	RegisterSignalRoutes(r, svc.Signals)
}

// NewRouter builds the API router with request logging. socket, when non-nil, is mounted at /socket.io/.
func NewRouter(svc Services, socket http.Handler, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(mux.MiddlewareFunc(helpers.RequestLogger(logger)))
	RegisterRoutes(r, svc)
	if socket != nil {
		r.PathPrefix("/socket.io/").Handler(socket)
	}
	return r
}
