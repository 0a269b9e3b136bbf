package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/radieske/live-odds-relay/internal/odds-relay/hub"
	"github.com/radieske/live-odds-relay/internal/odds-relay/supervisor"
	"github.com/radieske/live-odds-relay/internal/odds-relay/tap"
)

// Métricas Prometheus do relay
var (
	upstreamEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_events_total",
		Help: "Registros de odds recebidos do fornecedor",
	})
	upstreamDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_decode_errors_total",
		Help: "Chunks do stream descartados por JSON inválido",
	})
	upstreamReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_reconnects_total",
		Help: "Tentativas de reconexão agendadas",
	}, []string{"sport"})
	upstreamFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_upstream_failures_total",
		Help: "Esportes que esgotaram as tentativas de reconexão",
	}, []string{"sport"})
	upstreamOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_upstream_connections",
		Help: "Conexões upstream em streaming",
	})

	dispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_dispatched_total",
		Help: "Entregas de preço feitas a assinaturas",
	})
	filtered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_filtered_total",
		Help: "Eventos descartados por serem de outra casa",
	})
	dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_messages_total",
		Help: "Mensagens descartadas por backlog cheio do assinante",
	})
	sessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions",
		Help: "Sessões de assinantes abertas (ws, sse, redis)",
	})

	tapPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tap_published_total",
		Help: "Atualizações publicadas pelos taps",
	}, []string{"tap"})
	tapErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tap_errors_total",
		Help: "Falhas de publicação dos taps",
	}, []string{"tap"})
	tapDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_tap_dropped_total",
		Help: "Atualizações descartadas por fila cheia do tap",
	}, []string{"tap"})
)

func registerMetrics() {
	prometheus.MustRegister(
		upstreamEvents, upstreamDecodeErrors, upstreamReconnects, upstreamFailures, upstreamOpen,
		dispatched, filtered, dropped, sessionsOpen,
		tapPublished, tapErrors, tapDropped,
	)
}

func hubHooks() hub.Hooks {
	return hub.Hooks{
		OnDispatched:     func(n int) { dispatched.Add(float64(n)) },
		OnFiltered:       filtered.Inc,
		OnDropped:        dropped.Inc,
		OnSessions:       func(open int) { sessionsOpen.Set(float64(open)) },
		OnUpstreamFailed: func(sport string) { upstreamFailures.WithLabelValues(sport).Inc() },
		Supervisor: supervisor.Hooks{
			OnTransition: func(_ string, from, to supervisor.State) {
				switch {
				case to == supervisor.Streaming && from != supervisor.Streaming:
					upstreamOpen.Inc()
				case from == supervisor.Streaming && to != supervisor.Streaming:
					upstreamOpen.Dec()
				}
			},
			OnRetry: func(sport string, _ int, _ time.Duration) {
				upstreamReconnects.WithLabelValues(sport).Inc()
			},
		},
	}
}

func instrumentTap(a *tap.Async) *tap.Async {
	a.OnPublished = func(name string) { tapPublished.WithLabelValues(name).Inc() }
	a.OnPublishError = func(name string) { tapErrors.WithLabelValues(name).Inc() }
	a.OnDropped = func(name string) { tapDropped.WithLabelValues(name).Inc() }
	return a
}
