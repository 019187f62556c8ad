// Package wsconn implements the per-connection WebSocket lifecycle (part
// of C5): upgrade, authenticate, register, the read loop with its
// read-deadline heartbeat, and cleanup on exit.
package wsconn

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lumiere-trade/courier/internal/auth"
	"github.com/lumiere-trade/courier/internal/channel"
	"github.com/lumiere-trade/courier/internal/hub"
	"github.com/lumiere-trade/courier/internal/metrics"
	"github.com/lumiere-trade/courier/internal/ratelimit"
	"github.com/lumiere-trade/courier/internal/registry"
)

const readTimeout = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts a gorilla/websocket connection to hub.Sender. Writes are
// serialized through a mutex since gorilla/websocket forbids concurrent
// writers on one connection; the hub's fan-out and the heartbeat ticker
// both call Send concurrently from different goroutines.
type Conn struct {
	mu   sync.Mutex
	ws   *websocket.Conn
	once sync.Once
}

func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) Close(code int, reason string) error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		closeMsg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		err = c.ws.Close()
		c.mu.Unlock()
	})
	return err
}

// Deps bundles what ServeWS needs from the rest of the system.
type Deps struct {
	Hub         *hub.Hub
	Verifier    *auth.Verifier
	Limiter     *ratelimit.Limiter
	ConnGuard   *ratelimit.ConnGuard
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	RequireAuth bool
}

// ServeWS upgrades the request to a WebSocket and drives the connection's
// lifecycle: throttle, validate the channel name, authenticate, authorize,
// register, loop, cleanup. Every rejection after the shutdown/throttle
// checks completes the upgrade first and closes with 1008, since the
// client has already sent the upgrade request by the time the failure is
// known and a plain HTTP error can no longer be returned.
func ServeWS(w http.ResponseWriter, r *http.Request, chName string, deps Deps) {
	log := deps.Logger.With().Str("channel", chName).Logger()

	if deps.Hub.IsShuttingDown() {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			closeImmediately(ws, websocket.CloseGoingAway, "Server is shutting down")
		}
		return
	}

	if deps.ConnGuard != nil && !deps.ConnGuard.Allow(r.RemoteAddr) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	c, err := channel.Parse(chName)
	if err != nil {
		closeAfterUpgrade(w, r, websocket.ClosePolicyViolation, "invalid channel name: "+err.Error())
		return
	}

	var userID, walletAddress string
	if deps.RequireAuth {
		token, err := auth.ExtractToken(r)
		if err != nil {
			closeAfterUpgrade(w, r, websocket.ClosePolicyViolation, "missing token")
			return
		}
		claims, err := deps.Verifier.Verify(token)
		if err != nil {
			reason := "Invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				reason = "Token expired"
			}
			closeAfterUpgrade(w, r, websocket.ClosePolicyViolation, reason)
			return
		}
		if !deps.Verifier.Authorize(claims.UserID, c) {
			closeAfterUpgrade(w, r, websocket.ClosePolicyViolation, "Unauthorized access to channel: "+c.String())
			return
		}
		userID = claims.UserID
		walletAddress = claims.WalletAddress

		if deps.Limiter != nil {
			if allowed, _ := deps.Limiter.Allow(userID, "ws_connect"); !allowed {
				closeAfterUpgrade(w, r, websocket.ClosePolicyViolation, "rate limit exceeded")
				return
			}
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Conn{ws: ws}
	handle := registry.NewHandle()
	deps.Hub.Register(handle, c, userID, walletAddress, conn)
	log.Debug().Str("handle", handle.String()).Msg("subscriber connected")

	defer func() {
		deps.Hub.Unregister(handle, c)
		_ = conn.Close(websocket.CloseNormalClosure, "")
		log.Debug().Str("handle", handle.String()).Msg("subscriber disconnected")
	}()

	readLoop(ws, conn, deps.Hub, log)
}

// readLoop implements the per-connection loop from the lifecycle
// orchestrator: on every inbound frame decide ping/pong, on timeout send a
// heartbeat, on read error exit.
func readLoop(ws *websocket.Conn, conn *Conn, h *hub.Hub, log zerolog.Logger) {
	for {
		if h.IsShuttingDown() {
			_ = conn.Close(websocket.CloseGoingAway, "Server is shutting down")
			return
		}

		ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				if sendErr := conn.Send([]byte(`{"type":"ping"}`)); sendErr != nil {
					return
				}
				continue
			}
			return
		}

		if string(payload) == "ping" {
			if err := conn.Send([]byte("pong")); err != nil {
				return
			}
		}
		// Any other inbound content is ignored by the hub and is not
		// counted; application-layer meaning belongs to publishers.
	}
}

func isTimeout(err error) bool {
	netErr, ok := err.(interface{ Timeout() bool })
	return ok && netErr.Timeout()
}

func closeImmediately(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
}

// closeAfterUpgrade completes the upgrade and then immediately closes with
// code/reason so the rejection travels over the WebSocket close frame,
// since the client has already sent the upgrade request by the time a
// validation, auth, or authorization failure is known and a plain HTTP
// error can no longer be returned.
func closeAfterUpgrade(w http.ResponseWriter, r *http.Request, code int, reason string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, reason, http.StatusBadRequest)
		return
	}
	closeImmediately(ws, code, reason)
}
