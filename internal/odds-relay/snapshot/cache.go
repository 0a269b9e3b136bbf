package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/live-odds-relay/internal/odds-relay/tap"
	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// RedisCache guarda snapshots com TTL e lê o último preço gravado pelo tap Redis
type RedisCache struct {
	R *redis.Client
}

func NewRedisCache(r *redis.Client) *RedisCache { return &RedisCache{R: r} }

// Key gera a chave Redis do snapshot de uma odd
func Key(fixtureID, market, selection string) string {
	return fmt.Sprintf("odds:snapshot:%s:%s:%s", fixtureID, market, selection)
}

func (c *RedisCache) Get(ctx context.Context, key string) (Quote, bool, error) {
	b, err := c.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Quote{}, false, nil
	}
	if err != nil {
		return Quote{}, false, err
	}
	var q Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return Quote{}, false, err
	}
	return q, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, q Quote, ttl time.Duration) error {
	b, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, key, b, ttl).Err()
}

// Current devolve a última atualização vista pelo relay para a chave, se houver
func (c *RedisCache) Current(ctx context.Context, fixtureID, market, selection string) (events.OddsUpdate, bool, error) {
	b, err := c.R.Get(ctx, tap.CurrentKey(fixtureID, market, selection)).Bytes()
	if errors.Is(err, redis.Nil) {
		return events.OddsUpdate{}, false, nil
	}
	if err != nil {
		return events.OddsUpdate{}, false, err
	}
	var u events.OddsUpdate
	if err := json.Unmarshal(b, &u); err != nil {
		return events.OddsUpdate{}, false, err
	}
	return u, true, nil
}
