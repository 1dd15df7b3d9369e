package cache

import (
	"context"
	"time"
)

// BytesCache — снапшот-кэш "последнего известного состояния" сущностей.
// Best-effort: кэш никогда не авторитетен, правду хранит pg.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
