// Package preference persists the feed radius chosen on each device.
package preference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/redis"
)

const (
	RadiusKey     = "feed_radius_km"
	DefaultRadius = 10
	MinRadius     = 1
	MaxRadius     = 50
)

var ErrInvalidRadius = errors.New("radius out of range")

// KV is a string key-value store.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// RedisKV stores values in Redis without expiry.
type RedisKV struct {
	client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key)
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0)
}

// MemoryKV is an in-process KV.
type MemoryKV struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[key], nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
	return nil
}

// Radius loads and saves the radius preference of a device.
type Radius struct {
	kv      KV
	logger  *zap.Logger
	def     int
	min     int
	max     int
	timeout time.Duration
}

func NewRadius(kv KV, logger *zap.Logger, def, min, max int) *Radius {
	if min <= 0 || max < min {
		min, max = MinRadius, MaxRadius
	}
	if def < min || def > max {
		def = DefaultRadius
	}
	return &Radius{kv: kv, logger: logger.Named("preference"), def: def, min: min, max: max, timeout: 3 * time.Second}
}

func (r *Radius) Default() int { return r.def }

func key(deviceID string) string {
	return RadiusKey + ":" + strings.TrimSpace(deviceID)
}

// Load returns the saved radius, or the default when nothing valid is
// stored or the store fails.
func (r *Radius) Load(ctx context.Context, deviceID string) int {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.kv.Get(ctx, key(deviceID))
	if err != nil {
		r.logger.Warn("load radius failed, using default", zap.String("device", deviceID), zap.Error(err))
		return r.def
	}
	if raw == "" {
		return r.def
	}
	km, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || km < r.min || km > r.max {
		r.logger.Warn("ignoring stored radius", zap.String("device", deviceID), zap.String("value", raw))
		return r.def
	}
	return km
}

// Save persists km for the device.
func (r *Radius) Save(ctx context.Context, deviceID string, km int) error {
	if km < r.min || km > r.max {
		return fmt.Errorf("%w: %d km not in [%d, %d]", ErrInvalidRadius, km, r.min, r.max)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.kv.Set(ctx, key(deviceID), strconv.Itoa(km)); err != nil {
		return fmt.Errorf("save radius: %w", err)
	}
	return nil
}
