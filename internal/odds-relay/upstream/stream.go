package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var dataPrefix = []byte("data:")

// Stream é uma instância finita do stream de um esporte: termina em Close ou erro
type Stream struct {
	sport  string
	body   io.ReadCloser
	cancel context.CancelFunc
	grace  time.Duration
	log    *zap.Logger

	events chan events.OddsEvent
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	err       error // válido depois de done

	onDecodeError func()
	onEvent       func()
}

func newStream(sport string, body io.ReadCloser, cancel context.CancelFunc, buf int, grace time.Duration, log *zap.Logger) *Stream {
	return &Stream{
		sport:  sport,
		body:   body,
		cancel: cancel,
		grace:  grace,
		log:    log,
		events: make(chan events.OddsEvent, buf),
		done:   make(chan struct{}),
	}
}

// Sport devolve o esporte normalizado do stream
func (s *Stream) Sport() string { return s.sport }

// Events entrega os registros decodificados; o canal fecha quando o stream termina
func (s *Stream) Events() <-chan events.OddsEvent { return s.events }

// Done fecha junto com Events
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err devolve o motivo do término: nil para Close, ErrUpstreamClosed caso contrário.
// Só é significativo depois que Events fechar.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancela a leitura em andamento e libera a conexão.
// Retorna quando o leitor terminou ou quando o prazo de graça expira.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		_ = s.body.Close()
	})

	t := time.NewTimer(s.grace)
	defer t.Stop()
	select {
	case <-s.done:
		return nil
	case <-t.C:
		s.log.Warn("upstream reader did not stop within grace period", zap.Duration("grace", s.grace))
		return fmt.Errorf("close upstream %s: grace period elapsed", s.sport)
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	// done fecha antes de events: quem vê Events fechado já lê Err definitivo
	defer func() {
		_ = s.body.Close()
		close(s.done)
		close(s.events)
	}()

	r := bufio.NewReaderSize(s.body, 64<<10)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if !s.handleLine(ctx, line) {
				s.finish(ctx.Err())
				return
			}
		}
		if err != nil {
			s.finish(err)
			return
		}
	}
}

// finish registra o motivo do fim; encerramentos pedidos via Close não são erro
func (s *Stream) finish(cause error) {
	if s.closed.Load() {
		s.log.Info("upstream stream closed")
		return
	}
	if cause == nil || errors.Is(cause, io.EOF) {
		s.err = ErrUpstreamClosed
	} else {
		s.err = fmt.Errorf("%w: %v", ErrUpstreamClosed, cause)
	}
	s.log.Warn("upstream stream ended", zap.Error(s.err))
}

// handleLine decodifica uma linha "data:"; retorna false se o contexto acabou
func (s *Stream) handleLine(ctx context.Context, line []byte) bool {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		// event:, id:, retry:, comentários ":" e linhas vazias
		return true
	}

	recs, err := DecodeData(line[len(dataPrefix):])
	if err != nil {
		s.log.Warn("skipping malformed odds chunk", zap.Error(err))
		if s.onDecodeError != nil {
			s.onDecodeError()
		}
		return true
	}

	for _, ev := range recs {
		select {
		case s.events <- ev:
			if s.onEvent != nil {
				s.onEvent()
			}
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// DecodeData interpreta o corpo de uma linha "data:" e devolve apenas os
// registros de payload.data com a chave completa. Erros embrulham ErrDecode.
func DecodeData(raw []byte) ([]events.OddsEvent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		// heartbeat sem corpo
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// eventos como "connected" trazem data como objeto
	if len(env.Data) == 0 || env.Data[0] != '[' {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(env.Data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	out := make([]events.OddsEvent, 0, len(items))
	for _, item := range items {
		var ev events.OddsEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			// entrada individual fora do formato: ignora só ela
			continue
		}
		if ev.Valid() {
			out = append(out, ev)
		}
	}
	return out, nil
}
