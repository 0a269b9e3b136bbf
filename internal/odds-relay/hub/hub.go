package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/dispatch"
	"github.com/radieske/live-odds-relay/internal/odds-relay/registry"
	"github.com/radieske/live-odds-relay/internal/odds-relay/supervisor"
	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var (
	// ErrInvalidSubscription indica sport, gameId, market ou selection vazios
	ErrInvalidSubscription = errors.New("invalid subscription")
	// ErrSessionNotFound indica sessão inexistente ou já encerrada
	ErrSessionNotFound = errors.New("session not found")
	// ErrHubClosed indica pedido depois do Shutdown
	ErrHubClosed = errors.New("hub closed")
)

// Sink entrega mensagens a um assinante conectado.
// Send nunca bloqueia: devolve false quando o backlog está cheio e a mensagem foi descartada.
type Sink interface {
	Send(msg events.Message) bool
}

// SinkFunc adapta uma função a Sink
type SinkFunc func(msg events.Message) bool

func (f SinkFunc) Send(msg events.Message) bool { return f(msg) }

type subKey struct {
	sport string
	key   registry.InterestKey
}

// Session é uma conexão de assinante (WS, SSE ou bus) e suas assinaturas
type Session struct {
	ID   string
	sink Sink
	subs map[subKey]registry.ID // protegido por Hub.mu
}

// Hooks de métricas
type Hooks struct {
	OnDispatched     func(n int)
	OnFiltered       func()
	OnDropped        func()
	OnSessions       func(open int)
	OnUpstreamFailed func(sport string)
	Supervisor       supervisor.Hooks
}

// Options configura o Hub
type Options struct {
	Registry   *registry.Registry
	Opener     upstream.Opener
	Policy     supervisor.Policy
	Sportsbook string
	Taps       []dispatch.Tap
	Log        *zap.Logger
	Hooks      Hooks
}

// Hub liga sessões de assinantes ao registry e mantém no máximo uma conexão
// upstream por esporte enquanto houver assinaturas naquele esporte.
type Hub struct {
	reg        *registry.Registry
	dispatcher *dispatch.Dispatcher
	opener     upstream.Opener
	policy     supervisor.Policy
	log        *zap.Logger
	hooks      Hooks

	ctx    context.Context
	cancel context.CancelFunc

	// lifeMu serializa o ciclo de vida dos supervisores; nenhum dos dois mutexes
	// é mantido enquanto se espera um supervisor fechar (ver waitStopped)
	lifeMu sync.Mutex
	sups   map[string]*supervisor.Supervisor

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(ctx context.Context, opts Options) *Hub {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Hub{
		reg: reg,
		dispatcher: &dispatch.Dispatcher{
			Registry:     reg,
			Sportsbook:   opts.Sportsbook,
			Log:          log,
			Taps:         opts.Taps,
			OnDispatched: opts.Hooks.OnDispatched,
			OnFiltered:   opts.Hooks.OnFiltered,
		},
		opener:   opts.Opener,
		policy:   opts.Policy,
		log:      log,
		hooks:    opts.Hooks,
		ctx:      ctx,
		cancel:   cancel,
		sups:     make(map[string]*supervisor.Supervisor),
		sessions: make(map[string]*Session),
	}
}

// Registry expõe o registry compartilhado (somente leitura para os chamadores)
func (h *Hub) Registry() *registry.Registry { return h.reg }

// OpenSession registra um assinante; mensagens para ele passam por sink
func (h *Hub) OpenSession(sink Sink) *Session {
	s := &Session{ID: uuid.NewString(), sink: sink, subs: make(map[subKey]registry.ID)}

	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	h.log.Debug("session opened", zap.String("session", s.ID))
	if h.hooks.OnSessions != nil {
		h.hooks.OnSessions(n)
	}
	return s
}

// Validate normaliza o pedido e confere os quatro campos obrigatórios
func Validate(req events.SubscribeRequest) (string, registry.InterestKey, error) {
	sport := upstream.NormalizeSport(req.Sport)
	key := registry.InterestKey{FixtureID: req.GameID, Market: req.Market, Selection: req.Selection}
	if sport == "" || key.FixtureID == "" || key.Market == "" || key.Selection == "" {
		return "", key, fmt.Errorf("%w: sport, gameId, market and selection are required", ErrInvalidSubscription)
	}
	return sport, key, nil
}

// Subscribe registra o interesse da sessão e garante a conexão upstream do esporte.
// Repetir a mesma (sport, chave) na mesma sessão não tem efeito.
func (h *Hub) Subscribe(sessionID string, req events.SubscribeRequest) error {
	sport, key, err := Validate(req)
	if err != nil {
		return err
	}

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}

	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return ErrSessionNotFound
	}
	sk := subKey{sport: sport, key: key}
	if _, dup := sess.subs[sk]; dup {
		h.mu.Unlock()
		return nil
	}
	sess.subs[sk] = h.reg.Register(sport, key, h.deliverTo(sess, key))
	h.mu.Unlock()

	h.log.Info("subscribed",
		zap.String("session", sessionID),
		zap.String("sport", sport),
		zap.String("game_id", key.FixtureID),
		zap.String("market", key.Market),
		zap.String("selection", key.Selection),
	)
	h.ensureUpstream(sport)
	return nil
}

func (h *Hub) deliverTo(sess *Session, key registry.InterestKey) func(float64) {
	return func(price float64) {
		if !sess.sink.Send(events.OddsMessage(price, key.FixtureID, key.Market, key.Selection)) {
			if h.hooks.OnDropped != nil {
				h.hooks.OnDropped()
			}
		}
	}
}

// Unsubscribe remove o interesse; a última remoção do esporte fecha o upstream
func (h *Hub) Unsubscribe(sessionID string, req events.SubscribeRequest) error {
	sport, key, err := Validate(req)
	if err != nil {
		return err
	}

	h.lifeMu.Lock()
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		h.lifeMu.Unlock()
		return ErrSessionNotFound
	}
	sk := subKey{sport: sport, key: key}
	id, found := sess.subs[sk]
	delete(sess.subs, sk)
	h.mu.Unlock()

	if !found {
		h.lifeMu.Unlock()
		return nil
	}
	h.reg.Unregister(id)
	h.log.Info("unsubscribed", zap.String("session", sessionID), zap.String("sport", sport))
	released := h.releaseUpstream(sport)
	h.lifeMu.Unlock()

	waitStopped(released)
	return nil
}

// CloseSession remove a sessão e todas as suas assinaturas; idempotente
func (h *Hub) CloseSession(sessionID string) {
	h.lifeMu.Lock()
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	if !ok {
		h.lifeMu.Unlock()
		return
	}

	sports := make(map[string]struct{})
	for sk, id := range sess.subs {
		h.reg.Unregister(id)
		sports[sk.sport] = struct{}{}
	}
	var released []*supervisor.Supervisor
	for sport := range sports {
		released = append(released, h.releaseUpstream(sport)...)
	}
	h.lifeMu.Unlock()

	waitStopped(released)
	h.log.Debug("session closed", zap.String("session", sessionID), zap.Int("subscriptions", len(sess.subs)))
	if h.hooks.OnSessions != nil {
		h.hooks.OnSessions(n)
	}
}

// ensureUpstream inicia o supervisor do esporte se não houver um vivo; chamar com lifeMu
func (h *Hub) ensureUpstream(sport string) {
	if sup, ok := h.sups[sport]; ok {
		select {
		case <-sup.Done():
			// Failed (ou Idle sem assinaturas): um novo pedido começa um ciclo novo
		default:
			return
		}
	}
	sup := supervisor.New(supervisor.Options{
		Sport:          sport,
		Opener:         h.opener,
		Policy:         h.policy,
		Log:            h.log,
		Hooks:          h.hooks.Supervisor,
		Handle:         func(sport string, ev events.OddsEvent) { h.dispatcher.Dispatch(sport, ev) },
		HasSubscribers: func() bool { return h.reg.SportCount(sport) > 0 },
		OnUnavailable:  h.upstreamFailed,
	})
	h.sups[sport] = sup
	sup.Start(h.ctx)
}

// releaseUpstream cancela o supervisor do esporte quando ele fica sem assinaturas
// e o devolve para o chamador esperar fora do lifeMu; chamar com lifeMu
func (h *Hub) releaseUpstream(sport string) []*supervisor.Supervisor {
	if h.reg.SportCount(sport) > 0 {
		return nil
	}
	sup, ok := h.sups[sport]
	if !ok {
		return nil
	}
	delete(h.sups, sport)
	sup.Cancel()
	h.log.Info("upstream released", zap.String("sport", sport))
	return []*supervisor.Supervisor{sup}
}

// waitStopped espera o fechamento dos supervisores liberados; nunca com lifeMu,
// assim um close lento não trava Subscribe de outros esportes
func waitStopped(sups []*supervisor.Supervisor) {
	for _, sup := range sups {
		<-sup.Done()
	}
}

// upstreamFailed notifica uma vez cada assinatura viva do esporte
func (h *Hub) upstreamFailed(sport string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	notified := 0
	for _, sess := range h.sessions {
		for sk := range sess.subs {
			if sk.sport != sport {
				continue
			}
			msg := events.ErrorMessage(events.CodeUpstreamUnavailable, err.Error())
			msg.GameID, msg.Market, msg.Selection = sk.key.FixtureID, sk.key.Market, sk.key.Selection
			if !sess.sink.Send(msg) && h.hooks.OnDropped != nil {
				h.hooks.OnDropped()
			}
			notified++
		}
	}
	h.log.Error("upstream unavailable", zap.String("sport", sport), zap.Int("notified", notified), zap.Error(err))
	if h.hooks.OnUpstreamFailed != nil {
		h.hooks.OnUpstreamFailed(sport)
	}
}

// Stats é uma fotografia do estado do hub
type Stats struct {
	Sessions      int               `json:"sessions"`
	Subscriptions int               `json:"subscriptions"`
	Upstreams     map[string]string `json:"upstreams"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	st := Stats{Sessions: len(h.sessions), Subscriptions: h.reg.Len(), Upstreams: map[string]string{}}
	h.mu.Unlock()

	h.lifeMu.Lock()
	for sport, sup := range h.sups {
		st.Upstreams[sport] = sup.State().String()
	}
	h.lifeMu.Unlock()
	return st
}

// UpstreamState devolve o estado do supervisor do esporte (Idle se não houver)
func (h *Hub) UpstreamState(sport string) supervisor.State {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if sup, ok := h.sups[upstream.NormalizeSport(sport)]; ok {
		return sup.State()
	}
	return supervisor.Idle
}

// Shutdown fecha todas as conexões upstream; sessões são encerradas pelos transportes.
// Subscribe depois dele devolve ErrHubClosed.
func (h *Hub) Shutdown() {
	h.lifeMu.Lock()
	released := make([]*supervisor.Supervisor, 0, len(h.sups))
	for sport, sup := range h.sups {
		sup.Cancel()
		delete(h.sups, sport)
		released = append(released, sup)
	}
	h.cancel()
	h.lifeMu.Unlock()

	waitStopped(released)
	h.log.Info("hub stopped")
}
