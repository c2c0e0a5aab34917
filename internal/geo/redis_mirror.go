package geo

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/chairmatch/internal/models"
)

// RedisMirror copies accepted position reports into Redis so collaborators
// outside this process can read last-known chair locations. It is best-effort
// and write-only from the engine's point of view: the matcher reads only the
// in-memory cache, and a lost mirror write degrades nothing.
type RedisMirror struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisMirror(addr, password, prefix string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, prefix: prefix, ttl: time.Hour}
}

// Ping verifies connectivity, for startup and readiness checks.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Store writes one chair's sample under <prefix><chairID> with a TTL so
// chairs that stop reporting age out of the mirror (the in-memory cache
// intentionally keeps them forever).
func (m *RedisMirror) Store(ctx context.Context, chairID string, s models.PositionSample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.client.Set(ctx, m.prefix+chairID, b, m.ttl).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
