package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lumiere-trade/courier/internal/wsconn"
)

// handleWebSocket implements WS /ws/{channel}?token=<optional>. Channel
// name validation happens inside ServeWS, behind the upgrade, so a bad
// name closes with 1008 instead of a pre-upgrade HTTP error.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	chName := mux.Vars(r)["channel"]

	wsconn.ServeWS(w, r, chName, wsconn.Deps{
		Hub:         s.hub,
		Verifier:    s.hub.Verifier(),
		Limiter:     s.hub.Limiter(),
		ConnGuard:   s.connGuard,
		Metrics:     s.metrics,
		Logger:      s.log,
		RequireAuth: s.requireAuth,
	})
}
