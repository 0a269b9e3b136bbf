package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/hub"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

const (
	maxMessageSize = 4 << 10
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Handler expõe o relay via WebSocket
// Cada conexão vira uma sessão do hub; o cliente envia subscribe/unsubscribe/ping
type Handler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
	backlog  int
}

// NewHandler cria o Handler com política customizada de origem (CORS)
// backlog limita as mensagens pendentes por conexão
func NewHandler(h *hub.Hub, allowOrigin func(r *http.Request) bool, backlog int, log *zap.Logger) *Handler {
	if backlog <= 0 {
		backlog = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:      h,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		backlog:  backlog,
	}
}

// AllowOrigins devolve um CheckOrigin que aceita a lista dada; vazia aceita qualquer origem
func AllowOrigins(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// conn é o lado servidor de uma conexão: implementa hub.Sink
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *zap.Logger
}

// Send enfileira sem bloquear; backlog cheio descarta a mensagem
func (c *conn) Send(msg events.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	b, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal message", zap.Error(err))
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		ws:   wsConn,
		send: make(chan []byte, h.backlog),
		done: make(chan struct{}),
		log:  h.log,
	}
	sess := h.hub.OpenSession(c)
	log := h.log.With(zap.String("session", sess.ID), zap.String("remote", r.RemoteAddr))
	log.Info("ws client connected")

	go h.writePump(c)
	h.readPump(c, sess.ID, log)

	h.hub.CloseSession(sess.ID)
	c.close()
	log.Info("ws client disconnected")
}

func (h *Handler) readPump(c *conn, sessionID string, log *zap.Logger) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("ws read error", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg events.ClientMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			c.Send(events.ErrorMessage(events.CodeBadRequest, "invalid json"))
			continue
		}
		h.handle(c, sessionID, msg, log)
	}
}

func (h *Handler) handle(c *conn, sessionID string, msg events.ClientMsg, log *zap.Logger) {
	var err error
	switch msg.Type {
	case "", "subscribe":
		err = h.hub.Subscribe(sessionID, msg.SubscribeRequest)
	case "unsubscribe":
		err = h.hub.Unsubscribe(sessionID, msg.SubscribeRequest)
	case "ping":
		c.Send(events.Message{Type: events.MessagePong})
		return
	default:
		c.Send(events.ErrorMessage(events.CodeBadRequest, "unknown message type: "+msg.Type))
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, hub.ErrInvalidSubscription):
		out := events.ErrorMessage(events.CodeInvalidSubscription, err.Error())
		out.GameID, out.Market, out.Selection = msg.GameID, msg.Market, msg.Selection
		c.Send(out)
	default:
		log.Warn("ws command failed", zap.String("type", msg.Type), zap.Error(err))
		c.Send(events.ErrorMessage(events.CodeBadRequest, err.Error()))
	}
}

func (h *Handler) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
