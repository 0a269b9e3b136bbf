package dispatch

import (
	"strings"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/registry"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// Tap recebe cada evento aceito pelo dispatcher (Kafka, Redis, ...)
// Offer não pode bloquear o loop de despacho
type Tap interface {
	Offer(sport string, ev events.OddsEvent)
}

// Dispatcher casa cada registro do upstream com o registry e entrega o preço
// Callbacks de métricas podem ser usadas para monitoramento de cada etapa
type Dispatcher struct {
	Registry   *registry.Registry
	Sportsbook string // casa sem diferenciar maiúsculas; vazio aceita qualquer um
	Log        *zap.Logger
	Taps       []Tap

	OnDispatched func(n int) // métricas: entregas feitas para um evento
	OnFiltered   func()      // métricas: evento de outra casa descartado
}

// Dispatch entrega ev a todas as assinaturas da chave no esporte de origem.
// Best-effort e no máximo uma vez por assinatura; sem buffer nem replay.
func (d *Dispatcher) Dispatch(sport string, ev events.OddsEvent) int {
	// o fornecedor nem sempre respeita ?sportsbook=, então confere de novo aqui
	if d.Sportsbook != "" && !strings.EqualFold(ev.Sportsbook, d.Sportsbook) {
		if d.OnFiltered != nil {
			d.OnFiltered()
		}
		return 0
	}

	for _, t := range d.Taps {
		t.Offer(sport, ev)
	}

	n := 0
	for _, sub := range d.Registry.Match(sport, ev) {
		if sub.Deliver(ev.Price) {
			n++
		}
	}

	if n > 0 && d.Log != nil {
		d.Log.Debug("odds dispatched",
			zap.String("sport", sport),
			zap.String("game_id", ev.GameID),
			zap.String("market", ev.Market),
			zap.String("selection", ev.Selection),
			zap.Float64("price", ev.Price),
			zap.Int("subscribers", n),
		)
	}
	if d.OnDispatched != nil {
		d.OnDispatched(n)
	}
	return n
}
