package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/supervisor"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var (
	lakers  = events.SubscribeRequest{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Lakers"}
	celtics = events.SubscribeRequest{Sport: "basketball", GameID: "123", Market: "moneyline", Selection: "Celtics"}
)

// fakeRelay responde cada subscribe com um preço e registra o que recebeu por conexão
type fakeRelay struct {
	srv       *httptest.Server
	upgrader  websocket.Upgrader
	conns     atomic.Int32
	dropFirst bool

	mu       sync.Mutex
	received map[int32][]events.ClientMsg
}

func newFakeRelay(t *testing.T, dropFirst bool) *fakeRelay {
	f := &fakeRelay{dropFirst: dropFirst, received: map[int32][]events.ClientMsg{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := f.conns.Add(1)
		for {
			var msg events.ClientMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.mu.Lock()
			f.received[n] = append(f.received[n], msg)
			f.mu.Unlock()

			if n == 1 && f.dropFirst {
				return
			}
			if msg.Type == "subscribe" {
				_ = conn.WriteJSON(events.OddsMessage(1.91, msg.GameID, msg.Market, msg.Selection))
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string { return "ws" + strings.TrimPrefix(f.srv.URL, "http") }

func (f *fakeRelay) on(conn int32) []events.ClientMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.ClientMsg(nil), f.received[conn]...)
}

func fastPolicy() supervisor.Policy {
	return supervisor.Policy{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, MaxAttempts: 5}
}

func nextMsg(t *testing.T, c *Client) events.Message {
	t.Helper()
	select {
	case m := <-c.Messages():
		return m
	case <-time.After(3 * time.Second):
		t.Fatal("no message from relay")
		return events.Message{}
	}
}

func TestClient_SubscribeBeforeRunIsSentOnConnect(t *testing.T) {
	relay := newFakeRelay(t, false)
	c := New(relay.url(), fastPolicy(), zap.NewNop())
	if err := c.Subscribe(lakers); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	m := nextMsg(t, c)
	if m.Type != events.MessageOdds || m.Selection != "Lakers" {
		t.Fatalf("message = %+v", m)
	}

	// assinaturas feitas com a conexão aberta seguem direto
	if err := c.Subscribe(celtics); err != nil {
		t.Fatalf("Subscribe() = %v", err)
	}
	if m := nextMsg(t, c); m.Selection != "Celtics" {
		t.Fatalf("message = %+v; want Celtics", m)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v; want context.Canceled", err)
	}
	if _, ok := <-c.Messages(); ok {
		t.Error("Messages() still open after Run returned")
	}
}

func TestClient_ReplaysSubscriptionsAfterReconnect(t *testing.T) {
	relay := newFakeRelay(t, true)
	c := New(relay.url(), fastPolicy(), zap.NewNop())
	_ = c.Subscribe(lakers)
	_ = c.Subscribe(celtics)
	_ = c.Subscribe(lakers) // repetida não duplica o reenvio

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	got := map[string]bool{}
	for len(got) < 2 {
		got[nextMsg(t, c).Selection] = true
	}
	if relay.conns.Load() != 2 {
		t.Fatalf("connections = %d; want 2", relay.conns.Load())
	}

	second := relay.on(2)
	if len(second) != 2 || second[0].Selection != "Lakers" || second[1].Selection != "Celtics" {
		t.Fatalf("replayed on reconnect = %+v; want Lakers then Celtics", second)
	}
}

func TestClient_UnsubscribeLeavesReplaySet(t *testing.T) {
	c := New("ws://127.0.0.1:0", fastPolicy(), zap.NewNop())
	_ = c.Subscribe(lakers)
	_ = c.Subscribe(celtics)
	if err := c.Unsubscribe(lakers); err != nil {
		t.Fatalf("Unsubscribe() = %v", err)
	}
	active := c.Active()
	if len(active) != 1 || active[0] != celtics {
		t.Fatalf("Active() = %+v; want [Celtics]", active)
	}
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), fastPolicy(), zap.NewNop())
	err := c.Run(context.Background())
	if !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("Run() = %v; want ErrRelayUnavailable", err)
	}
	if dials.Load() != 6 {
		t.Errorf("dials = %d; want 6", dials.Load())
	}
}
