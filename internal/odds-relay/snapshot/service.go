package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

var (
	// ErrNotFound indica que o fornecedor não tem odd para a seleção
	ErrNotFound = errors.New("odds not found")
	// ErrInvalidRequest indica sport, fixture, market ou selection vazios
	ErrInvalidRequest = errors.New("sport, fixture, market and selection are required")
)

// Origem de uma cotação
const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceProvider = "provider"
)

// Quote é o preço inicial de uma odd, servido fora do caminho do stream
type Quote struct {
	Sport      string  `json:"sport"`
	FixtureID  string  `json:"gameId"`
	Market     string  `json:"market"`
	Selection  string  `json:"selection"`
	Sportsbook string  `json:"sportsbook"`
	Price      float64 `json:"price"`
	Source     string  `json:"source"`
	AsOf       int64   `json:"as_of_ms"`
}

// Fetcher busca as odds REST de um fixture
type Fetcher interface {
	FetchOdds(ctx context.Context, sport, fixtureID, market string) ([]FixtureOdd, error)
}

// Store é o cache de snapshots (RedisCache em produção)
type Store interface {
	Get(ctx context.Context, key string) (Quote, bool, error)
	Set(ctx context.Context, key string, q Quote, ttl time.Duration) error
	Current(ctx context.Context, fixtureID, market, selection string) (events.OddsUpdate, bool, error)
}

// Service resolve o preço inicial: último preço do relay, cache, fornecedor
type Service struct {
	Fetcher Fetcher
	Store   Store // opcional
	TTL     time.Duration
	Log     *zap.Logger
	now     func() time.Time
}

func NewService(f Fetcher, store Store, ttl time.Duration, log *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Fetcher: f, Store: store, TTL: ttl, Log: log, now: time.Now}
}

// Price nunca alimenta o dispatcher; falhas do cache só degradam para o fornecedor
func (s *Service) Price(ctx context.Context, sport, fixtureID, market, selection string) (Quote, error) {
	sport = strings.ToLower(strings.TrimSpace(sport))
	if sport == "" || fixtureID == "" || market == "" || selection == "" {
		return Quote{}, ErrInvalidRequest
	}
	key := Key(fixtureID, market, selection)

	if s.Store != nil {
		// o último preço relayado é mais novo que qualquer snapshot em cache
		if u, ok, err := s.Store.Current(ctx, fixtureID, market, selection); err != nil {
			s.Log.Warn("current price read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return Quote{
				Sport:      sport,
				FixtureID:  fixtureID,
				Market:     market,
				Selection:  selection,
				Sportsbook: u.Sportsbook,
				Price:      u.Price,
				Source:     SourceLive,
				AsOf:       u.ReceivedAt,
			}, nil
		}

		if q, ok, err := s.Store.Get(ctx, key); err != nil {
			s.Log.Warn("snapshot cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			q.Source = SourceCache
			return q, nil
		}
	}

	odds, err := s.Fetcher.FetchOdds(ctx, sport, fixtureID, market)
	if err != nil {
		return Quote{}, fmt.Errorf("snapshot %s/%s: %w", sport, fixtureID, err)
	}
	odd, ok := Match(odds, selection)
	if !ok {
		return Quote{}, ErrNotFound
	}

	q := Quote{
		Sport:      sport,
		FixtureID:  fixtureID,
		Market:     market,
		Selection:  selection,
		Sportsbook: odd.Sportsbook,
		Price:      odd.Price,
		Source:     SourceProvider,
		AsOf:       s.now().UnixMilli(),
	}
	if s.Store != nil {
		if err := s.Store.Set(ctx, key, q, s.TTL); err != nil {
			s.Log.Warn("snapshot cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return q, nil
}
