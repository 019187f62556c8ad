// Package httpapi exposes Courier's HTTP surface: the publish endpoints,
// the WebSocket upgrade route, and the operational endpoints.
package httpapi

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lumiere-trade/courier/internal/auth"
	"github.com/lumiere-trade/courier/internal/hub"
	"github.com/lumiere-trade/courier/internal/metrics"
	"github.com/lumiere-trade/courier/internal/ratelimit"
)

// Server wires the hub into an http.Handler.
type Server struct {
	hub         *hub.Hub
	metrics     *metrics.Metrics
	log         zerolog.Logger
	requireAuth bool
	limits      Limits
	connGuard   *ratelimit.ConnGuard
}

// Limits carries the operational limits surfaced on /stats.
type Limits struct {
	MaxConnectionsTotal   int
	MaxConnectionsPerUser int
	MaxClientsPerChannel  int
}

// NewServer builds the router. metricsPath, when non-empty, mounts a
// Prometheus handler at that path. connGuard may be nil, in which case
// connection attempts are not throttled ahead of the upgrade.
func NewServer(h *hub.Hub, m *metrics.Metrics, log zerolog.Logger, requireAuth bool, limits Limits, connGuard *ratelimit.ConnGuard) *Server {
	return &Server{hub: h, metrics: m, log: log, requireAuth: requireAuth, limits: limits, connGuard: connGuard}
}

// Router builds the gorilla/mux router for this server.
func (s *Server) Router(metricsHandler http.Handler, metricsPath string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/publish", s.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/publish/{channel}", s.handlePublishLegacy).Methods(http.MethodPost)
	r.HandleFunc("/ws/{channel}", s.handleWebSocket)
	r.HandleFunc("/health/live", s.handleHealthLive).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleHealthReady).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealthReady).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	if metricsHandler != nil && metricsPath != "" {
		r.Handle(metricsPath, metricsHandler).Methods(http.MethodGet)
	}
	return corsMiddleware(r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerIdentity resolves the rate-limit identity for a publish request:
// the bearer/query token string itself if present, else the remote IP.
func callerIdentity(r *http.Request) string {
	if token, err := auth.ExtractToken(r); err == nil {
		return token
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
