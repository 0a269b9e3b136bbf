package tap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/live-odds-relay/pkg/contracts/events"
)

// CurrentKey gera a chave Redis do último preço visto de uma odd
func CurrentKey(gameID, market, selection string) string {
	return fmt.Sprintf("odds:current:%s:%s:%s", gameID, market, selection)
}

// RedisPublisher faz broadcast de cada atualização num canal Pub/Sub e
// guarda o último preço por chave com TTL
type RedisPublisher struct {
	r       *redis.Client
	channel string
	ttl     time.Duration
}

// NewRedisPublisher: ttl zero desliga o registro do último preço
func NewRedisPublisher(r *redis.Client, channel string, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{r: r, channel: channel, ttl: ttl}
}

func (p *RedisPublisher) Publish(ctx context.Context, u events.OddsUpdate) error {
	b, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal odds update: %w", err)
	}

	pipe := p.r.Pipeline()
	pipe.Publish(ctx, p.channel, b)
	if p.ttl > 0 {
		pipe.Set(ctx, CurrentKey(u.GameID, u.Market, u.Selection), b, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis broadcast: %w", err)
	}
	return nil
}
