package tap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Publisher envia uma atualização aceita para um destino externo
type Publisher interface {
	Publish(ctx context.Context, u events.OddsUpdate) error
}

// Async desacopla um Publisher do loop de despacho: fila limitada e um worker.
// Offer nunca bloqueia; com a fila cheia a atualização é descartada.
type Async struct {
	name    string
	pub     Publisher
	queue   chan events.OddsUpdate
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time

	OnDropped      func(name string)
	OnPublished    func(name string)
	OnPublishError func(name string)
}

func NewAsync(name string, pub Publisher, size int, log *zap.Logger) *Async {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{
		name:    name,
		pub:     pub,
		queue:   make(chan events.OddsUpdate, size),
		log:     log.With(zap.String("tap", name)),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// Offer implementa dispatch.Tap
func (a *Async) Offer(sport string, ev events.OddsEvent) {
	u := events.OddsUpdate{
		Sport:      sport,
		GameID:     ev.GameID,
		Market:     ev.Market,
		Selection:  ev.Selection,
		Sportsbook: ev.Sportsbook,
		Price:      ev.Price,
		ReceivedAt: a.now().UnixMilli(),
	}
	select {
	case a.queue <- u:
	default:
		if a.OnDropped != nil {
			a.OnDropped(a.name)
		}
	}
}

// Run publica a fila até ctx acabar; atualizações pendentes nesse momento são descartadas
func (a *Async) Run(ctx context.Context) {
	a.log.Info("tap started")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("tap stopped", zap.Int("pending", len(a.queue)))
			return
		case u := <-a.queue:
			pctx, cancel := context.WithTimeout(ctx, a.timeout)
			err := a.pub.Publish(pctx, u)
			cancel()
			if err != nil {
				a.log.Warn("tap publish failed", zap.String("game_id", u.GameID), zap.Error(err))
				if a.OnPublishError != nil {
					a.OnPublishError(a.name)
				}
				continue
			}
			if a.OnPublished != nil {
				a.OnPublished(a.name)
			}
		}
	}
}
