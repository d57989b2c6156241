package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// SubmitGuard — явный per-entity замок «запрос уже в полёте». Не полагаемся
// на задизейбленную кнопку в UI: в бэкенд могут ходить несколько
// поверхностей. TTL страхует от зависшего клиента.
type SubmitGuard struct {
	c *redis.Client
}

func NewSubmitGuard(addr string) *SubmitGuard {
	return &SubmitGuard{
		c: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

// Acquire возвращает false, если по этому ключу уже идёт сабмит.
func (g *SubmitGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.c.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

func (g *SubmitGuard) Release(ctx context.Context, key string) error {
	if err := g.c.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}
