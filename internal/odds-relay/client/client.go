package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/supervisor"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// ErrRelayUnavailable é devolvido por Run quando as tentativas de conexão se esgotam
var ErrRelayUnavailable = errors.New("relay unavailable")

const writeWait = 5 * time.Second

type subKey struct {
	sport, gameID, market, selection string
}

// Client é o lado assinante do relay via WebSocket.
// Mantém as assinaturas ativas e as reenvia a cada (re)conexão.
type Client struct {
	url    string
	policy supervisor.Policy
	dialer *websocket.Dialer
	log    *zap.Logger

	msgs chan events.Message

	mu    sync.Mutex // protege subs, order e conn (inclusive escritas)
	subs  map[subKey]events.SubscribeRequest
	order []subKey
	conn  *websocket.Conn

	// OnConnect é chamado após cada conexão com o número de assinaturas a reenviar
	OnConnect func(replayed int)
}

func New(url string, policy supervisor.Policy, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:    url,
		policy: policy,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With(zap.String("relay", url)),
		msgs:   make(chan events.Message, 256),
		subs:   make(map[subKey]events.SubscribeRequest),
	}
}

// Messages entrega odds e erros recebidos do relay; fecha quando Run retorna
func (c *Client) Messages() <-chan events.Message { return c.msgs }

// Subscribe registra o interesse; é enviado já se conectado e reenviado a cada reconexão
func (c *Client) Subscribe(req events.SubscribeRequest) error {
	k := keyOf(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[k]; !ok {
		c.order = append(c.order, k)
	}
	c.subs[k] = req
	return c.writeLocked(events.ClientMsg{Type: "subscribe", SubscribeRequest: req})
}

// Unsubscribe remove o interesse do conjunto reenviado
func (c *Client) Unsubscribe(req events.SubscribeRequest) error {
	k := keyOf(req)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[k]; !ok {
		return nil
	}
	delete(c.subs, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return c.writeLocked(events.ClientMsg{Type: "unsubscribe", SubscribeRequest: req})
}

// Active devolve as assinaturas ativas na ordem em que foram feitas
func (c *Client) Active() []events.SubscribeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.SubscribeRequest, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.subs[k])
	}
	return out
}

func keyOf(req events.SubscribeRequest) subKey {
	return subKey{req.Sport, req.GameID, req.Market, req.Selection}
}

// writeLocked envia se houver conexão; sem conexão o reenvio acontece ao conectar
func (c *Client) writeLocked(msg events.ClientMsg) error {
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

// Run conecta, reenvia as assinaturas e lê mensagens até ctx acabar.
// Quedas e falhas de conexão seguem a Policy; esgotadas, retorna ErrRelayUnavailable.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.msgs)

	failures := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			failures = 0
			c.log.Info("connected to relay")
			err = c.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if c.policy.Exhausted(failures) {
			c.log.Error("relay unavailable, giving up", zap.Int("failures", failures), zap.Error(err))
			return fmt.Errorf("%w: %w", ErrRelayUnavailable, err)
		}
		delay := c.policy.Delay(failures)
		c.log.Warn("relay connection lost, retrying", zap.Error(err), zap.Int("attempt", failures), zap.Duration("delay", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// serve instala a conexão, reenvia as assinaturas e lê até erro
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.mu.Lock()
	c.conn = conn
	if c.OnConnect != nil {
		c.OnConnect(len(c.order))
	}
	for _, k := range c.order {
		if err := c.writeLocked(events.ClientMsg{Type: "subscribe", SubscribeRequest: c.subs[k]}); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	for {
		var msg events.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read relay: %w", err)
		}
		select {
		case c.msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
