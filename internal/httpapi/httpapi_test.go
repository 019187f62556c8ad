package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiere-trade/courier/internal/auth"
	"github.com/lumiere-trade/courier/internal/hub"
	"github.com/lumiere-trade/courier/internal/message"
	"github.com/lumiere-trade/courier/internal/metrics"
	"github.com/lumiere-trade/courier/internal/ratelimit"
)

// testMetrics is shared by every test: NewMetrics registers its collectors
// on the default Prometheus registry, so it can be called only once per
// process.
var testMetrics = metrics.NewMetrics()

func newTestServer(t *testing.T) *Server {
	t.Helper()
	h := hub.New(hub.Config{
		Limiter:           ratelimit.New(1000, time.Minute),
		Verifier:          auth.NewVerifier("secret"),
		Metrics:           testMetrics,
		Logger:            zerolog.Nop(),
		MessageLimits:     message.DefaultLimits(),
		HeartbeatInterval: time.Hour,
		ShutdownTimeout:   time.Second,
		GracePeriod:       10 * time.Millisecond,
	})
	return NewServer(h, testMetrics, zerolog.Nop(), false, Limits{}, nil)
}

func TestHandlePublish_ChannelValidationFailure(t *testing.T) {
	s := newTestServer(t)
	router := s.Router(nil, "")

	req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(`{"channel":"Bad Name","data":{"x":1}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePublish_ZeroSubscribersReachesNone(t *testing.T) {
	s := newTestServer(t)
	router := s.Router(nil, "")

	req := httptest.NewRequest(http.MethodPost, "/publish", strings.NewReader(`{"channel":"global","data":{"type":"tick","price":42}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clients_reached":0`)
}

func TestHandlePublishLegacy_MatchesPrimary(t *testing.T) {
	s := newTestServer(t)
	router := s.Router(nil, "")

	req := httptest.NewRequest(http.MethodPost, "/publish/global", strings.NewReader(`{"type":"tick","price":42}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"channel":"global"`)
}

func TestHandleHealthLive_AlwaysOK(t *testing.T) {
	s := newTestServer(t)
	router := s.Router(nil, "")

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthReady_ReportsShuttingDown(t *testing.T) {
	s := newTestServer(t)
	router := s.Router(nil, "")
	s.hub.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "shutting_down")
}

func TestHandleStats_ReportsTotals(t *testing.T) {
	s := newTestServer(t)
	router := s.Router(nil, "")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_connections":0`)
}
