package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш текущего состояния. Промах или ошибка кэша
// никогда не фатальны: источник истины всегда postgres.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
