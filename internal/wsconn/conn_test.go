package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
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

func newTestDeps(requireAuth bool) (Deps, *hub.Hub) {
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
	return Deps{
		Hub:         h,
		Verifier:    h.Verifier(),
		Limiter:     h.Limiter(),
		Metrics:     testMetrics,
		Logger:      zerolog.Nop(),
		RequireAuth: requireAuth,
	}, h
}

func TestServeWS_AcceptsAndRegisters(t *testing.T) {
	deps, h := newTestDeps(false)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, "global", deps)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return h.Registry().GetTotalConnections() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServeWS_RejectsUnauthorizedChannel(t *testing.T) {
	deps, _ := newTestDeps(true)

	token, err := auth.GenerateToken("secret", "alice", "", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, "user.bob", deps)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	closeErr, ok := err.(*gorilla.CloseError)
	require.True(t, ok)
	assert.Equal(t, gorilla.ClosePolicyViolation, closeErr.Code)
}

func TestServeWS_RejectsInvalidChannelName(t *testing.T) {
	deps, _ := newTestDeps(false)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, "not a valid channel!", deps)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	closeErr, ok := err.(*gorilla.CloseError)
	require.True(t, ok)
	assert.Equal(t, gorilla.ClosePolicyViolation, closeErr.Code)
}

func TestServeWS_PingRepliesWithPong(t *testing.T) {
	deps, _ := newTestDeps(false)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, "global", deps)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(gorilla.TextMessage, []byte("ping")))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(payload))
}
