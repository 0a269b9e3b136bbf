package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/internal/odds-relay/client"
	"github.com/radieske/live-odds-relay/internal/odds-relay/repo"
	"github.com/radieske/live-odds-relay/internal/odds-relay/supervisor"
	"github.com/radieske/live-odds-relay/internal/odds-watch/watch"
	"github.com/radieske/live-odds-relay/internal/shared/config"
	"github.com/radieske/live-odds-relay/internal/shared/db"
	"github.com/radieske/live-odds-relay/internal/shared/logger"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var (
	sport, game, market, selection string
	relayURL                       string
	persist                        bool
)

var rootCmd = &cobra.Command{
	Use:   "odds-watch",
	Short: "Acompanha preços ao vivo das linhas BetData através do relay",
	Long: `odds-watch lê a lista de acompanhamento (tabela bet_data) ou um único pedido
vindo das flags, assina cada chave no relay via WebSocket e registra cada preço.
Com --persist o último preço é gravado de volta em bet_data.current_price.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&sport, "sport", "", "esporte (ex: basketball)")
	rootCmd.Flags().StringVar(&game, "game", "", "id do fixture")
	rootCmd.Flags().StringVar(&market, "market", "", "mercado (ex: moneyline)")
	rootCmd.Flags().StringVar(&selection, "selection", "", "seleção (ex: Lakers)")
	rootCmd.Flags().StringVar(&relayURL, "relay", "", "URL WebSocket do relay (default RELAY_WS_URL)")
	rootCmd.Flags().BoolVar(&persist, "persist", false, "grava cada preço em bet_data (exige POSTGRES_DSN)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.LoadService("odds-watch")
	log, err := logger.New(cfg.ServiceName, cfg.Env, logger.Options{File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store *repo.Postgres
	if cfg.PostgresDSN != "" {
		conn, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		store = repo.NewPostgres(conn)
	}

	watched, err := watchlist(ctx, store)
	if err != nil {
		return err
	}
	if len(watched) == 0 {
		return errors.New("nothing to watch: pass --sport --game --market --selection or fill bet_data")
	}

	w := &watch.Watcher{Log: log}
	if persist {
		if store == nil {
			return errors.New("--persist requires POSTGRES_DSN")
		}
		w.Writer = store
	}

	url := relayURL
	if url == "" {
		url = cfg.RelayWSURL
	}
	c := client.New(url, supervisor.Policy{
		BaseDelay:   cfg.BackoffBase,
		MaxDelay:    cfg.BackoffMax,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}, log)
	c.OnConnect = func(n int) { log.Info("subscriptions replayed", zap.Int("count", n)) }
	for _, req := range watched {
		if err := c.Subscribe(req); err != nil {
			return err
		}
	}
	log.Info("watching", zap.Int("subscriptions", len(watched)), zap.String("relay", url), zap.Bool("persist", persist))

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	n := w.Consume(ctx, c.Messages(), watched)
	err = <-runErr
	log.Info("odds-watch stopped", zap.Int("prices", n))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchlist usa o pedido das flags quando completo; senão lê bet_data
func watchlist(ctx context.Context, store *repo.Postgres) ([]events.SubscribeRequest, error) {
	if sport != "" || game != "" || market != "" || selection != "" {
		b := repo.BetData{Sport: sport, GameID: game, Market: market, Selection: selection}
		b.Normalize()
		if err := b.Validate(); err != nil {
			return nil, err
		}
		return []events.SubscribeRequest{b.Request()}, nil
	}
	if store == nil {
		return nil, nil
	}
	return watch.Load(ctx, store)
}
