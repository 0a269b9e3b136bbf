package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/dispatch"
	"github.com/radieske/live-odds-relay/internal/odds-relay/httpapi"
	"github.com/radieske/live-odds-relay/internal/odds-relay/hub"
	"github.com/radieske/live-odds-relay/internal/odds-relay/redisbus"
	"github.com/radieske/live-odds-relay/internal/odds-relay/repo"
	"github.com/radieske/live-odds-relay/internal/odds-relay/snapshot"
	"github.com/radieske/live-odds-relay/internal/odds-relay/sse"
	"github.com/radieske/live-odds-relay/internal/odds-relay/supervisor"
	"github.com/radieske/live-odds-relay/internal/odds-relay/tap"
	"github.com/radieske/live-odds-relay/internal/odds-relay/upstream"
	"github.com/radieske/live-odds-relay/internal/odds-relay/ws"
	"github.com/radieske/live-odds-relay/internal/shared/cache"
	"github.com/radieske/live-odds-relay/internal/shared/config"
	"github.com/radieske/live-odds-relay/internal/shared/db"
	skafka "github.com/radieske/live-odds-relay/internal/shared/kafka"
	"github.com/radieske/live-odds-relay/internal/shared/logger"
	"github.com/radieske/live-odds-relay/internal/shared/metrics"
)

const currentPriceTTL = 10 * time.Minute

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, logger.Options{File: cfg.LogFile})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	registerMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ==== Dependências opcionais
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.ConnectRedis(cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	}

	var bets *repo.Postgres
	if cfg.PostgresDSN != "" {
		conn, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect failed", zap.Error(err))
		}
		defer conn.Close()
		bets = repo.NewPostgres(conn)
		if err := bets.EnsureSchema(ctx); err != nil {
			log.Fatal("ensure bet_data schema", zap.Error(err))
		}
		log.Info("postgres connected")
	}

	// ==== Taps (saídas laterais do dispatcher)
	var taps []dispatch.Tap
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		log.Info("Kafka brokers", zap.Strings("brokers", brokers), zap.String("topic", cfg.TopicOddsUpdates))
		if cfg.Env == "local" {
			if err := skafka.EnsureTopic(ctx, brokers, cfg.TopicOddsUpdates); err != nil {
				log.Warn("ensure kafka topic failed", zap.Error(err))
			}
		}
		pub := tap.NewKafkaPublisher(skafka.NewWriter(brokers, cfg.TopicOddsUpdates), log)
		defer pub.Close()
		kt := instrumentTap(tap.NewAsync("kafka", pub, 0, log))
		go kt.Run(ctx)
		taps = append(taps, kt)
	}
	if rdb != nil {
		rt := instrumentTap(tap.NewAsync("redis", tap.NewRedisPublisher(rdb, cfg.RedisPubSubChannel, currentPriceTTL), 0, log))
		go rt.Run(ctx)
		taps = append(taps, rt)
	}

	// ==== Núcleo: upstream por esporte -> registry -> dispatcher
	opener := &upstream.Client{
		BaseURL:       cfg.StreamBaseURL,
		APIKey:        cfg.OddsAPIKey,
		Sportsbook:    cfg.Sportsbook,
		Market:        cfg.UpstreamMarket,
		FixtureID:     cfg.UpstreamFixture,
		Log:           log,
		CloseGrace:    cfg.UpstreamCloseWait,
		OnEvent:       upstreamEvents.Inc,
		OnDecodeError: upstreamDecodeErrors.Inc,
	}
	h := hub.New(ctx, hub.Options{
		Opener: opener,
		Policy: supervisor.Policy{
			BaseDelay:   cfg.BackoffBase,
			MaxDelay:    cfg.BackoffMax,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		Sportsbook: cfg.Sportsbook,
		Taps:       taps,
		Log:        log,
		Hooks:      hubHooks(),
	})

	// ==== Transportes
	var bus *redisbus.Bus
	if rdb != nil {
		bus = redisbus.New(rdb, h, cfg.RedisBusPrefix, 0, log)
		if err := bus.Start(ctx); err != nil {
			log.Fatal("redis bus start failed", zap.Error(err))
		}
	}

	var store snapshot.Store
	if rdb != nil {
		store = snapshot.NewRedisCache(rdb)
	}
	provider := &snapshot.Provider{
		BaseURL:    cfg.RESTBaseURL,
		APIKey:     cfg.OddsAPIKey,
		Sportsbook: cfg.Sportsbook,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
	}

	api := &httpapi.API{
		Hub:      h,
		WS:       ws.NewHandler(h, ws.AllowOrigins(allowList(cfg.AllowedOrigins)), cfg.MaxBacklog, log).HandleWS,
		SSE:      &sse.Handler{Hub: h, Log: log, Backlog: cfg.MaxBacklog},
		Snapshot: snapshot.NewService(provider, store, 0, log),
		Log:      log,
	}
	if bets != nil {
		api.Bets = bets
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		// streams SSE terminam junto com o contexto do processo
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Info("odds relay listening",
			zap.String("addr", srv.Addr),
			zap.String("paths", "/ws,/v1/stream,/v1/status,/v1/odds,/v1/bets"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	// Metrics e health
	msrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	})
	log.Info("metrics/health listening", zap.String("port", cfg.MetricsPort))

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	_ = msrv.Shutdown(shutdownCtx)

	if bus != nil {
		<-bus.Done()
	}
	h.Shutdown()
}

// allowList trata "*" como qualquer origem
func allowList(origins []string) []string {
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return origins
}
