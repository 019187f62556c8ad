package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lumiere-trade/courier/internal/channel"
	"github.com/lumiere-trade/courier/internal/message"
)

type publishRequest struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type publishResponse struct {
	Status         string `json:"status"`
	Channel        string `json:"channel"`
	ClientsReached int    `json:"clients_reached"`
	Timestamp      string `json:"timestamp"`
}

// handlePublish implements POST /publish: body { channel, data }.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	// The body wraps data in an envelope that also carries the channel
	// name, so the read cap leaves room for it; the size limit itself is
	// applied to the data object by message.Validate, as on the legacy path.
	const envelopeSlack = 4096
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.hub.MessageLimits().MaxMessageSize)+envelopeSlack+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req publishRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.publish(w, r, req.Channel, req.Data)
}

// handlePublishLegacy implements POST /publish/{channel}: the path carries
// the channel, the body is the data object directly. It is a thin adapter
// over the same publish path — any behavioral divergence is a bug.
func (s *Server) handlePublishLegacy(w http.ResponseWriter, r *http.Request) {
	chName := mux.Vars(r)["channel"]
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.hub.MessageLimits().MaxMessageSize)+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	s.publish(w, r, chName, json.RawMessage(body))
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request, chName string, data json.RawMessage) {
	if s.hub.IsShuttingDown() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	identity := callerIdentity(r)
	var msgType string
	var probe map[string]interface{}
	if err := json.Unmarshal(data, &probe); err == nil {
		msgType, _ = probe["type"].(string)
	}

	if allowed, retryAfter := s.hub.Limiter().Allow(identity, msgType); !allowed {
		s.metrics.RecordRateLimitDenied("publish")
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	c, err := channel.Parse(chName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel name: "+err.Error())
		return
	}

	result := message.Validate(data, s.hub.MessageLimits())
	if !result.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "message validation failed",
			"errors": result.Errors,
		})
		return
	}

	outcome := s.hub.Publish(c, data)

	writeJSON(w, http.StatusOK, publishResponse{
		Status:         "published",
		Channel:        outcome.Channel,
		ClientsReached: outcome.ClientsReached,
		Timestamp:      outcome.Timestamp.Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
