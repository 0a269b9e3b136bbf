package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// ErrUpstreamUnavailable é reportado quando as tentativas de reconexão se esgotam
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// State do ciclo de vida de uma conexão upstream por esporte
type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	Closing
	Erroring
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Erroring:
		return "erroring"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Hooks expõe transições para métricas
type Hooks struct {
	OnTransition func(sport string, from, to State)
	OnRetry      func(sport string, attempt int, delay time.Duration)
}

// Options configura um Supervisor
type Options struct {
	Sport  string
	Opener upstream.Opener
	Policy Policy
	Log    *zap.Logger
	Hooks  Hooks

	// Handle recebe cada evento do stream, em ordem, numa única goroutine
	Handle func(sport string, ev events.OddsEvent)
	// HasSubscribers é consultado no momento da nova tentativa
	HasSubscribers func() bool
	// OnUnavailable é chamado uma única vez ao entrar em Failed
	OnUnavailable func(sport string, err error)
}

// Supervisor mantém a conexão upstream de um esporte:
// Idle → Connecting → Streaming → (Closing | Erroring) → Idle, com Erroring → Connecting
// após o backoff enquanto houver assinaturas, e Failed quando as tentativas acabam.
type Supervisor struct {
	opts Options
	log  *zap.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func New(opts Options) *Supervisor {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	opts.Sport = upstream.NormalizeSport(opts.Sport)
	if opts.HasSubscribers == nil {
		opts.HasSubscribers = func() bool { return true }
	}
	return &Supervisor{
		opts: opts,
		log:  log.With(zap.String("sport", opts.Sport)),
		done: make(chan struct{}),
	}
}

// Sport devolve o esporte normalizado supervisionado
func (s *Supervisor) Sport() string { return s.opts.Sport }

// State devolve o estado atual
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done fecha quando o loop termina (Idle ou Failed)
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Start dispara o loop de conexão; chamadas repetidas são ignoradas
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

// Stop fecha a conexão upstream e espera o loop terminar
func (s *Supervisor) Stop() {
	s.Cancel()
	<-s.done
}

// Cancel pede o fechamento sem esperar; nenhum evento é repassado depois dele.
// Done fecha quando o loop terminar.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	if !s.started {
		s.started = true
		close(s.done)
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}
	s.transition(Closing)
	cancel()
}

func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.state
	if from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()

	s.log.Debug("upstream state", zap.Stringer("from", from), zap.Stringer("to", to))
	if s.opts.Hooks.OnTransition != nil {
		s.opts.Hooks.OnTransition(s.opts.Sport, from, to)
	}
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	failures := 0
	for {
		if ctx.Err() != nil {
			s.transition(Idle)
			return
		}

		s.transition(Connecting)
		delivered, err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			s.transition(Idle)
			return
		}
		if delivered {
			failures = 0
		}

		s.transition(Erroring)
		failures++
		if s.opts.Policy.Exhausted(failures) {
			s.transition(Failed)
			s.log.Error("upstream unavailable, giving up", zap.Int("failures", failures), zap.Error(err))
			if s.opts.OnUnavailable != nil {
				s.opts.OnUnavailable(s.opts.Sport, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
			}
			return
		}

		delay := s.opts.Policy.Delay(failures)
		s.log.Warn("upstream stream failed, retrying",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
		)
		if s.opts.Hooks.OnRetry != nil {
			s.opts.Hooks.OnRetry(s.opts.Sport, failures, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			s.transition(Idle)
			return
		case <-t.C:
		}

		if !s.opts.HasSubscribers() {
			s.log.Info("no subscriptions left, not reconnecting")
			s.transition(Idle)
			return
		}
	}
}

// connectAndStream abre o stream e repassa eventos até erro ou cancelamento.
// delivered indica se ao menos um evento chegou nesta conexão.
func (s *Supervisor) connectAndStream(ctx context.Context) (delivered bool, err error) {
	stream, err := s.opts.Opener.Open(ctx, s.opts.Sport)
	if err != nil {
		return false, err
	}
	s.transition(Streaming)

	for {
		select {
		case <-ctx.Done():
			_ = stream.Close()
			return delivered, ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				_ = stream.Close()
				if err := stream.Err(); err != nil {
					return delivered, err
				}
				return delivered, upstream.ErrUpstreamClosed
			}
			if ctx.Err() != nil {
				// cancelado com evento pendente: o select escolhe ao acaso
				_ = stream.Close()
				return delivered, ctx.Err()
			}
			delivered = true
			if s.opts.Handle != nil {
				s.opts.Handle(s.opts.Sport, ev)
			}
		}
	}
}
