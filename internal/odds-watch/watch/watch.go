package watch

import (
	"context"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/repo"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// PriceWriter grava o último preço visto de uma chave (repo.Postgres em produção)
type PriceWriter interface {
	UpdateCurrentPrice(ctx context.Context, key events.SubscribeRequest, price float64) (int64, error)
}

// Lister lê a lista de acompanhamento
type Lister interface {
	List(ctx context.Context) ([]repo.BetData, error)
}

type key struct {
	gameID, market, selection string
}

// Watcher consome as mensagens do relay e, opcionalmente, persiste cada preço
type Watcher struct {
	Log    *zap.Logger
	Writer PriceWriter // nil só registra no log

	OnPrice func(req events.SubscribeRequest, price float64)
}

// Requests devolve os pedidos das linhas válidas, sem repetição
func Requests(rows []repo.BetData) []events.SubscribeRequest {
	seen := make(map[events.SubscribeRequest]bool, len(rows))
	out := make([]events.SubscribeRequest, 0, len(rows))
	for _, b := range rows {
		b.Normalize()
		if b.Validate() != nil {
			continue
		}
		req := b.Request()
		if seen[req] {
			continue
		}
		seen[req] = true
		out = append(out, req)
	}
	return out
}

// Load lê a lista do Lister e devolve os pedidos de assinatura
func Load(ctx context.Context, l Lister) ([]events.SubscribeRequest, error) {
	rows, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	return Requests(rows), nil
}

// Consume processa msgs até o canal fechar ou ctx acabar e devolve quantos preços viu.
// O preço não traz o esporte: ele é recuperado dos pedidos em watched.
func (w *Watcher) Consume(ctx context.Context, msgs <-chan events.Message, watched []events.SubscribeRequest) int {
	log := w.Log
	if log == nil {
		log = zap.NewNop()
	}
	index := make(map[key][]events.SubscribeRequest, len(watched))
	for _, req := range watched {
		k := key{req.GameID, req.Market, req.Selection}
		index[k] = append(index[k], req)
	}

	prices := 0
	for {
		select {
		case <-ctx.Done():
			return prices
		case msg, ok := <-msgs:
			if !ok {
				return prices
			}
			switch msg.Type {
			case events.MessageOdds:
				if msg.Price == nil {
					continue
				}
				prices++
				w.price(ctx, log, index[key{msg.GameID, msg.Market, msg.Selection}], msg)
			case events.MessageError:
				log.Warn("relay error",
					zap.String("code", msg.Code),
					zap.String("message", msg.Message),
					zap.String("game_id", msg.GameID),
					zap.String("selection", msg.Selection),
				)
			}
		}
	}
}

func (w *Watcher) price(ctx context.Context, log *zap.Logger, reqs []events.SubscribeRequest, msg events.Message) {
	log.Info("price",
		zap.String("game_id", msg.GameID),
		zap.String("market", msg.Market),
		zap.String("selection", msg.Selection),
		zap.Float64("price", *msg.Price),
	)
	for _, req := range reqs {
		if w.OnPrice != nil {
			w.OnPrice(req, *msg.Price)
		}
		if w.Writer == nil {
			continue
		}
		n, err := w.Writer.UpdateCurrentPrice(ctx, req, *msg.Price)
		if err != nil {
			log.Warn("persist price failed", zap.String("game_id", req.GameID), zap.Error(err))
			continue
		}
		log.Debug("price persisted", zap.String("game_id", req.GameID), zap.Int64("rows", n))
	}
}
