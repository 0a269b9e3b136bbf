package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/provider-simulator/feed"
	"github.com/radieske/live-odds-relay/internal/shared/config"
	"github.com/radieske/live-odds-relay/internal/shared/logger"
	"github.com/radieske/live-odds-relay/internal/shared/metrics"
)

var (
	// Métricas Prometheus para monitoramento de streams e mensagens
	streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "provider_stream_clients",
		Help: "Clientes SSE conectados",
	})
	oddsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "provider_odds_sent_total",
		Help: "Total de registros de odds enviados",
	})
)

func main() {
	cfg := config.LoadService("provider-simulator")
	log, err := logger.New(cfg.ServiceName, cfg.Env, logger.Options{File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	prometheus.MustRegister(streamClients, oddsSent)

	s := &feed.Server{
		Feed:      feed.New(nil, nil, time.Now().UnixNano()),
		APIKey:    cfg.OddsAPIKey,
		Interval:  3 * time.Second,
		PingEvery: 5,
		Log:       log,
		OnClient:  func(delta int) { streamClients.Add(float64(delta)) },
		OnSent:    func(n int) { oddsSent.Add(float64(n)) },
	}

	// ==== MUX DE MÉTRICAS (/healthz, /metrics)
	metrics.StartMetricsServer(cfg.MetricsPort, nil)
	log.Info("provider simulator (metrics) running",
		zap.String("addr", fmt.Sprintf(":%s", cfg.MetricsPort)),
		zap.String("paths", "/healthz,/metrics"),
	)

	// Servidor público (stream SSE + snapshot REST)
	publicAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	log.Info("provider simulator (public) running",
		zap.String("addr", publicAddr),
		zap.String("paths", "/api/v3/stream/{sport}/odds,/api/v3/fixtures/odds"),
		zap.Strings("sports", s.Feed.Sports()),
	)
	if err := http.ListenAndServe(publicAddr, s.Routes()); err != nil {
		log.Fatal("public server error", zap.Error(err))
	}
}
