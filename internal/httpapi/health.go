package httpapi

import (
	"net/http"
)

type healthResponse struct {
	Status string   `json:"status"`
	Checks []string `json:"checks,omitempty"`
}

// handleHealthLive implements GET /health/live: 200 iff the process is
// alive. It never consults the registry or any downstream dependency.
func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "alive"})
}

// handleHealthReady implements GET /health/ready: 200 iff the connection
// manager is operational and below any configured capacity threshold,
// else 503 with the list of failing checks.
func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	var failing []string

	if s.hub.IsShuttingDown() {
		failing = append(failing, "shutting_down")
	}

	if s.limits.MaxConnectionsTotal > 0 {
		total := s.hub.Registry().GetTotalConnections()
		if total >= s.limits.MaxConnectionsTotal {
			failing = append(failing, "connection_capacity")
		}
	}

	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not_ready", Checks: failing})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
}

type statsLimits struct {
	MaxTotalConnections   int `json:"max_total_connections"`
	MaxConnectionsPerUser int `json:"max_connections_per_user"`
	MaxClientsPerChannel  int `json:"max_clients_per_channel"`
}

type statsResponse struct {
	TotalConnections int            `json:"total_connections"`
	ActiveChannels   int            `json:"active_channels"`
	Channels         map[string]int `json:"channels"`
	Limits           statsLimits    `json:"limits"`
}

// handleStats implements GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.Stats()
	writeJSON(w, http.StatusOK, statsResponse{
		TotalConnections: snap.TotalConnections,
		ActiveChannels:   snap.ActiveChannels,
		Channels:         snap.Channels,
		Limits: statsLimits{
			MaxTotalConnections:   s.limits.MaxConnectionsTotal,
			MaxConnectionsPerUser: s.limits.MaxConnectionsPerUser,
			MaxClientsPerChannel:  s.limits.MaxClientsPerChannel,
		},
	})
}
