package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/hub"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Handler re-expõe o relay como SSE: uma assinatura por requisição
type Handler struct {
	Hub       *hub.Hub
	Log       *zap.Logger
	Backlog   int
	Heartbeat time.Duration
}

// ServeHTTP: GET ?sport=&gameId=&market=&selection=
// frames "event: odds|error" + "data: <json>"; comentário de heartbeat periódico
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	req := events.SubscribeRequest{
		Sport:     q.Get("sport"),
		GameID:    q.Get("gameId"),
		Market:    q.Get("market"),
		Selection: q.Get("selection"),
	}
	if _, _, err := hub.Validate(req); err != nil {
		writeJSON(w, http.StatusBadRequest, events.ErrorMessage(events.CodeInvalidSubscription, err.Error()))
		return
	}

	ch := make(chan events.Message, h.backlog())
	sess := h.Hub.OpenSession(hub.SinkFunc(func(msg events.Message) bool {
		select {
		case ch <- msg:
			return true
		default:
			return false
		}
	}))
	defer h.Hub.CloseSession(sess.ID)

	if err := h.Hub.Subscribe(sess.ID, req); err != nil {
		status, code := subscribeError(err)
		if status >= http.StatusInternalServerError {
			h.logger().Warn("sse subscribe failed", zap.String("session", sess.ID), zap.Error(err))
		}
		writeJSON(w, status, events.ErrorMessage(code, err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := h.logger().With(zap.String("session", sess.ID), zap.String("sport", req.Sport))
	log.Debug("sse client connected")

	heartbeat := time.NewTicker(h.heartbeat())
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug("sse client disconnected")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-ch:
			b, err := json.Marshal(msg)
			if err != nil {
				log.Error("marshal message", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// subscribeError mapeia o erro do hub para status HTTP e código do contrato
func subscribeError(err error) (int, string) {
	switch {
	case errors.Is(err, hub.ErrInvalidSubscription):
		return http.StatusBadRequest, events.CodeInvalidSubscription
	case errors.Is(err, hub.ErrHubClosed):
		return http.StatusServiceUnavailable, events.CodeUpstreamUnavailable
	default:
		return http.StatusInternalServerError, events.CodeBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) backlog() int {
	if h.Backlog > 0 {
		return h.Backlog
	}
	return 256
}

func (h *Handler) heartbeat() time.Duration {
	if h.Heartbeat > 0 {
		return h.Heartbeat
	}
	return 15 * time.Second
}

func (h *Handler) logger() *zap.Logger {
	if h.Log != nil {
		return h.Log
	}
	return zap.NewNop()
}
