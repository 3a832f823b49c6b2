package otp

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Markers remembers phones that passed verification.
type Markers interface {
	Mark(ctx context.Context, phone string, ttl time.Duration) error
	Has(ctx context.Context, phone string) (bool, error)
}

const verifiedPrefix = "otp:verified:"

type RedisMarkers struct {
	rdb redis.Cmdable
}

func NewRedisMarkers(rdb redis.Cmdable) *RedisMarkers {
	return &RedisMarkers{rdb: rdb}
}

func (m *RedisMarkers) Mark(ctx context.Context, phone string, ttl time.Duration) error {
	return m.rdb.Set(ctx, verifiedPrefix+phone, time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func (m *RedisMarkers) Has(ctx context.Context, phone string) (bool, error) {
	n, err := m.rdb.Exists(ctx, verifiedPrefix+phone).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryMarkers is the single-instance fallback when Redis is not configured.
type MemoryMarkers struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{expires: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryMarkers) Mark(_ context.Context, phone string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for p, exp := range m.expires {
		if !exp.After(now) {
			delete(m.expires, p)
		}
	}
	m.expires[phone] = now.Add(ttl)
	return nil
}

func (m *MemoryMarkers) Has(_ context.Context, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.expires[phone]
	return ok && exp.After(m.now()), nil
}
