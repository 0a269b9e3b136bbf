package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/hub"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Tipos de comando aceitos no canal de controle
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdClose       = "close"
)

// Command é publicado por um gateway no canal de controle em nome de um assinante remoto
type Command struct {
	Session string `json:"session"`
	Type    string `json:"type"`
	events.SubscribeRequest
}

// ControlChannel devolve o canal onde gateways publicam comandos
func ControlChannel(prefix string) string { return prefix + ":control" }

// SessionChannel devolve o canal onde o relay publica as mensagens de uma sessão remota
func SessionChannel(prefix, session string) string {
	return fmt.Sprintf("%s:session:%s", prefix, session)
}

type outbound struct {
	channel string
	payload []byte
}

// Bus expõe o relay via Redis Pub/Sub: cada sessão remota vira uma sessão do hub
type Bus struct {
	rdb    *redis.Client
	hub    *hub.Hub
	prefix string
	log    *zap.Logger

	out chan outbound

	mu       sync.Mutex
	sessions map[string]string // sessão remota -> sessão do hub

	done chan struct{}
}

// New cria o Bus; backlog limita as mensagens pendentes de publicação
func New(rdb *redis.Client, h *hub.Hub, prefix string, backlog int, log *zap.Logger) *Bus {
	if backlog <= 0 {
		backlog = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		rdb:      rdb,
		hub:      h,
		prefix:   prefix,
		log:      log.With(zap.String("transport", "redis")),
		out:      make(chan outbound, backlog),
		sessions: make(map[string]string),
		done:     make(chan struct{}),
	}
}

// Start assina o canal de controle e só retorna depois da confirmação do Redis
// O loop termina quando ctx acaba; todas as sessões remotas são então encerradas
func (b *Bus) Start(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, ControlChannel(b.prefix))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", ControlChannel(b.prefix), err)
	}
	b.log.Info("redis bus listening", zap.String("channel", ControlChannel(b.prefix)))

	pubCtx, stopPublish := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.publishLoop(pubCtx)
	}()

	ch := sub.Channel()
	go func() {
		defer close(b.done)
		defer func() {
			b.closeAll()
			stopPublish()
			wg.Wait()
		}()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close() // encerra a inscrição ao finalizar o contexto
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				var cmd Command
				if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
					b.log.Warn("redis bus unmarshal error", zap.Error(err))
					continue
				}
				b.handle(cmd)
			}
		}
	}()
	return nil
}

// Done fecha quando o loop do bus termina
func (b *Bus) Done() <-chan struct{} { return b.done }

// Sessions devolve quantas sessões remotas estão abertas
func (b *Bus) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Bus) handle(cmd Command) {
	if cmd.Session == "" {
		b.log.Warn("redis bus command without session", zap.String("type", cmd.Type))
		return
	}

	switch cmd.Type {
	case CmdSubscribe, "":
		id := b.sessionFor(cmd.Session)
		if err := b.hub.Subscribe(id, cmd.SubscribeRequest); err != nil {
			code := events.CodeBadRequest
			if errors.Is(err, hub.ErrInvalidSubscription) {
				code = events.CodeInvalidSubscription
			}
			msg := events.ErrorMessage(code, err.Error())
			msg.GameID, msg.Market, msg.Selection = cmd.GameID, cmd.Market, cmd.Selection
			b.enqueue(cmd.Session, msg)
		}
	case CmdUnsubscribe:
		b.mu.Lock()
		id, ok := b.sessions[cmd.Session]
		b.mu.Unlock()
		if !ok {
			return
		}
		if err := b.hub.Unsubscribe(id, cmd.SubscribeRequest); err != nil {
			b.enqueue(cmd.Session, events.ErrorMessage(events.CodeInvalidSubscription, err.Error()))
		}
	case CmdClose:
		b.mu.Lock()
		id, ok := b.sessions[cmd.Session]
		delete(b.sessions, cmd.Session)
		b.mu.Unlock()
		if ok {
			b.hub.CloseSession(id)
		}
	default:
		b.enqueue(cmd.Session, events.ErrorMessage(events.CodeBadRequest, "unknown command type: "+cmd.Type))
	}
}

// sessionFor devolve a sessão do hub da sessão remota, abrindo uma se preciso
func (b *Bus) sessionFor(remote string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.sessions[remote]; ok {
		return id
	}
	sess := b.hub.OpenSession(hub.SinkFunc(func(msg events.Message) bool {
		return b.enqueue(remote, msg)
	}))
	b.sessions[remote] = sess.ID
	b.log.Debug("remote session opened", zap.String("remote", remote), zap.String("session", sess.ID))
	return sess.ID
}

// enqueue nunca bloqueia: fila cheia descarta
func (b *Bus) enqueue(remote string, msg events.Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("marshal message", zap.Error(err))
		return false
	}
	select {
	case b.out <- outbound{channel: SessionChannel(b.prefix, remote), payload: payload}:
		return true
	default:
		return false
	}
}

func (b *Bus) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-b.out:
			if err := b.rdb.Publish(ctx, o.channel, o.payload).Err(); err != nil && ctx.Err() == nil {
				b.log.Warn("redis publish failed", zap.String("channel", o.channel), zap.Error(err))
			}
		}
	}
}

func (b *Bus) closeAll() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.sessions))
	for remote, id := range b.sessions {
		ids = append(ids, id)
		delete(b.sessions, remote)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.hub.CloseSession(id)
	}
}
