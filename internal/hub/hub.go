// Package hub implements the broadcast and lifecycle orchestrator (C5): it
// ties the channel name value (C1), token verifier (C2), rate limiter
// (C3) and connection manager (C4) together behind Publish, a heartbeat
// ticker, and a graceful shutdown sequence.
package hub

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumiere-trade/courier/internal/auth"
	"github.com/lumiere-trade/courier/internal/channel"
	"github.com/lumiere-trade/courier/internal/message"
	"github.com/lumiere-trade/courier/internal/metrics"
	"github.com/lumiere-trade/courier/internal/ratelimit"
	"github.com/lumiere-trade/courier/internal/registry"
)

// State is the shutdown state machine's current phase.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateShutdown
)

// Sender is implemented by a transport-level connection: it must be able
// to deliver a JSON frame and report whether the socket should be
// considered dead after a failed attempt. internal/wsconn implements this
// over a gorilla/websocket connection.
type Sender interface {
	Send(payload []byte) error
	Close(code int, reason string) error
}

// Hub is the orchestrator. It owns no transport details itself; wsconn
// registers and unregisters connections against it.
type Hub struct {
	registry  *registry.Registry
	limiter   *ratelimit.Limiter
	verifier  *auth.Verifier
	metrics   *metrics.Metrics
	log       zerolog.Logger
	msgLimits message.Limits

	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration
	gracePeriod       time.Duration

	state  atomic.Int32
	conns  sync.Map // registry.Handle -> Sender
	wg     sync.WaitGroup
	stopHB chan struct{}
}

// Config bundles Hub construction parameters.
type Config struct {
	Limiter           *ratelimit.Limiter
	Verifier          *auth.Verifier
	Metrics           *metrics.Metrics
	Logger            zerolog.Logger
	MessageLimits     message.Limits
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
	GracePeriod       time.Duration
}

// New builds a Hub ready to serve. Call RunHeartbeat to start the heartbeat
// ticker.
func New(cfg Config) *Hub {
	return &Hub{
		registry:          registry.New(),
		limiter:           cfg.Limiter,
		verifier:          cfg.Verifier,
		metrics:           cfg.Metrics,
		log:               cfg.Logger,
		msgLimits:         cfg.MessageLimits,
		heartbeatInterval: cfg.HeartbeatInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
		gracePeriod:       cfg.GracePeriod,
		stopHB:            make(chan struct{}),
	}
}

// Registry exposes the connection manager for read-only inspection
// (health checks, /stats).
func (h *Hub) Registry() *registry.Registry { return h.registry }

// Verifier exposes the token verifier for the HTTP/WS handlers.
func (h *Hub) Verifier() *auth.Verifier { return h.verifier }

// Limiter exposes the rate limiter for the HTTP/WS handlers.
func (h *Hub) Limiter() *ratelimit.Limiter { return h.limiter }

// MessageLimits exposes the configured message validation limits.
func (h *Hub) MessageLimits() message.Limits { return h.msgLimits }

// State reports the current shutdown phase.
func (h *Hub) State() State {
	return State(h.state.Load())
}

// IsShuttingDown reports whether new connections/publishes should be
// rejected.
func (h *Hub) IsShuttingDown() bool {
	return h.State() != StateRunning
}

// Register adds a connection to the registry and tracks its transport
// handle for heartbeat/shutdown fan-out.
func (h *Hub) Register(handle registry.Handle, c channel.Name, userID, walletAddress string, sender Sender) registry.Subscriber {
	sub := h.registry.AddClient(handle, c, userID, walletAddress)
	h.conns.Store(handle, sender)
	h.metrics.IncrementConnections()
	return sub
}

// Unregister removes a connection from the registry and transport index.
// If c is ephemeral and now empty, its bookkeeping is already gone (the
// registry deletes empty channel entries as part of RemoveClient).
func (h *Hub) Unregister(handle registry.Handle, c channel.Name) {
	h.registry.RemoveClient(handle, c)
	h.conns.Delete(handle)
	h.limiter.Clear(handle.String())
	h.metrics.DecrementConnections()
}

// PublishResult is returned by Publish.
type PublishResult struct {
	Channel        string
	ClientsReached int
	Timestamp      time.Time
}

// Publish fans a validated message out to every current subscriber of c.
// Sends are best-effort: a failure marks that one subscriber dead without
// aborting the rest. Dead sockets are pruned from the registry after the
// fan-out completes.
func (h *Hub) Publish(c channel.Name, data json.RawMessage) PublishResult {
	handles := h.registry.GetChannelSubscribers(c)
	envelope := []byte(data)

	var mu sync.Mutex
	var dead []registry.Handle
	reached := 0

	var wg sync.WaitGroup
	for _, handle := range handles {
		handle := handle
		senderVal, ok := h.conns.Load(handle)
		if !ok {
			continue
		}
		sender := senderVal.(Sender)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sender.Send(envelope); err != nil {
				h.metrics.RecordFanoutFailure()
				mu.Lock()
				dead = append(dead, handle)
				mu.Unlock()
				return
			}
			h.metrics.RecordFanoutSuccess()
			mu.Lock()
			reached++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(dead) > 0 {
		h.registry.RemoveMany(c, dead)
		for _, handle := range dead {
			h.conns.Delete(handle)
		}
	}

	h.metrics.RecordPublish(len(data))

	return PublishResult{
		Channel:        c.String(),
		ClientsReached: reached,
		Timestamp:      time.Now().UTC(),
	}
}

// shutdownFrame and heartbeatFrame are the two control objects the hub
// ever originates on its own initiative.
var heartbeatFrame = mustJSON(map[string]string{"type": "ping"})

func shutdownFrame() []byte {
	return mustJSON(map[string]interface{}{
		"type":    "shutdown",
		"message": "Server is shutting down",
		"code":    1001,
	})
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// RunHeartbeat starts the global heartbeat ticker. It runs until Shutdown
// is called. Redundant by design with the per-connection read-deadline
// ping in wsconn: this ticker guarantees progress even if a connection's
// read loop is parked on a long timeout.
func (h *Hub) RunHeartbeat(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopHB:
				return
			case <-ticker.C:
				if h.IsShuttingDown() {
					return
				}
				h.sweepHeartbeat()
			}
		}
	}()
}

func (h *Hub) sweepHeartbeat() {
	for name, count := range h.registry.GetAllChannels() {
		if count == 0 {
			continue
		}
		c, err := channel.Parse(name)
		if err != nil {
			continue
		}
		handles := h.registry.GetChannelSubscribers(c)
		var dead []registry.Handle
		for _, handle := range handles {
			senderVal, ok := h.conns.Load(handle)
			if !ok {
				continue
			}
			if err := senderVal.(Sender).Send(heartbeatFrame); err != nil {
				dead = append(dead, handle)
			}
		}
		if len(dead) > 0 {
			h.registry.RemoveMany(c, dead)
			for _, handle := range dead {
				h.conns.Delete(handle)
			}
		}
	}
}

// Shutdown runs the graceful shutdown sequence described by the lifecycle
// orchestrator: transition to SHUTTING_DOWN, notify subscribers, wait a
// grace period, force-close stragglers, stop the heartbeat, transition to
// SHUTDOWN. It is bounded by the configured shutdown timeout.
func (h *Hub) Shutdown(ctx context.Context) {
	if !h.state.CompareAndSwap(int32(StateRunning), int32(StateShuttingDown)) {
		return
	}
	h.log.Info().Msg("shutdown: notifying subscribers")
	h.broadcastAll(shutdownFrame())

	deadline := time.NewTimer(h.shutdownTimeout)
	defer deadline.Stop()
	grace := time.NewTimer(h.gracePeriod)
	defer grace.Stop()

	select {
	case <-grace.C:
	case <-deadline.C:
	case <-ctx.Done():
	}

	h.log.Info().Msg("shutdown: force-closing remaining connections")
	h.closeAll(1001, "Server shutdown")

	close(h.stopHB)
	h.wg.Wait()

	h.state.Store(int32(StateShutdown))
	h.log.Info().Msg("shutdown: complete")
}

func (h *Hub) broadcastAll(payload []byte) {
	h.conns.Range(func(_, senderVal interface{}) bool {
		_ = senderVal.(Sender).Send(payload)
		return true
	})
}

func (h *Hub) closeAll(code int, reason string) {
	h.conns.Range(func(key, senderVal interface{}) bool {
		_ = senderVal.(Sender).Close(code, reason)
		h.conns.Delete(key)
		return true
	})
}

// WaitForSignal blocks until SIGINT/SIGTERM, then runs Shutdown and
// restores the prior signal handlers before returning.
func WaitForSignal(ctx context.Context, h *Hub) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		h.log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}
	h.Shutdown(context.Background())
}

// Stats is the payload served at /stats.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveChannels   int            `json:"active_channels"`
	Channels         map[string]int `json:"channels"`
}

// Stats snapshots current registry totals for the operational endpoint.
func (h *Hub) Stats() Stats {
	channels := h.registry.GetAllChannels()
	return Stats{
		TotalConnections: h.registry.GetTotalConnections(),
		ActiveChannels:   len(channels),
		Channels:         channels,
	}
}
