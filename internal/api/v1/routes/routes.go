package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mailfold/relay/internal/api/v1/handlers/events"
	wstokenhandler "github.com/mailfold/relay/internal/api/v1/handlers/wstoken"
	"github.com/mailfold/relay/internal/api/v1/middleware"
	"github.com/mailfold/relay/internal/connections"
	"github.com/mailfold/relay/internal/services"
)

// NewRouter wires the realtime backend surface: channel token issuance and
// the websocket events endpoint.
func NewRouter(svcs *services.Services, manager *connections.Manager) *mux.Router {
	r := mux.NewRouter()

	tokenHandler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		wstokenhandler.HandleToken(svcs.GetWSTokenService(), w, req)
	})
	r.Handle("/v1/ws/token",
		middleware.RateLimit("ws_token")(
			middleware.RequireSession(svcs.GetSessionService())(tokenHandler),
		),
	).Methods(http.MethodPost)

	eventsHandler := events.NewHandler(svcs.GetWSTokenService(), svcs.GetAgentService(), manager)
	r.HandleFunc("/ws/events", eventsHandler.HandleEvents)

	return r
}
