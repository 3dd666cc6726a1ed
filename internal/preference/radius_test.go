package preference

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/confesso/core/internal/pkg/redis"
)

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, error) { return "", errors.New("unreachable") }
func (failingKV) Set(context.Context, string, string) error   { return errors.New("unreachable") }

func TestRadius_DefaultAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	r := NewRadius(kv, zap.NewNop(), DefaultRadius, MinRadius, MaxRadius)

	assert.Equal(t, 10, r.Load(ctx, "device-a"))

	require.NoError(t, r.Save(ctx, "device-a", 25))
	assert.Equal(t, 25, r.Load(ctx, "device-a"))
	assert.Equal(t, 10, r.Load(ctx, "device-b"))
}

func TestRadius_RejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	r := NewRadius(NewMemoryKV(), zap.NewNop(), DefaultRadius, MinRadius, MaxRadius)

	assert.ErrorIs(t, r.Save(ctx, "d", 0), ErrInvalidRadius)
	assert.ErrorIs(t, r.Save(ctx, "d", 51), ErrInvalidRadius)
	assert.Equal(t, 10, r.Load(ctx, "d"))
}

func TestRadius_IgnoresGarbage(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	r := NewRadius(kv, zap.NewNop(), DefaultRadius, MinRadius, MaxRadius)

	for _, raw := range []string{"abc", "0", "-3", "999", "12.5"} {
		require.NoError(t, kv.Set(ctx, key("d"), raw))
		assert.Equal(t, 10, r.Load(ctx, "d"), raw)
	}
}

func TestRadius_StoreFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := NewRadius(failingKV{}, zap.New(core), 15, MinRadius, MaxRadius)
	assert.Equal(t, 15, r.Load(context.Background(), "d"))
	assert.Error(t, r.Save(context.Background(), "d", 20))

	entries := logs.FilterMessage("load radius failed, using default").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "d", entries[0].ContextMap()["device"])
}

func TestRadius_Redis(t *testing.T) {
	url := os.Getenv("CONFESSO_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CONFESSO_TEST_REDIS_URL not set")
	}
	client, err := redis.Connect(url, "confesso-test:")
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	r := NewRadius(NewRedisKV(client), zap.NewNop(), DefaultRadius, MinRadius, MaxRadius)
	require.NoError(t, r.Save(ctx, "redis-device", 42))
	assert.Equal(t, 42, r.Load(ctx, "redis-device"))
	require.NoError(t, client.Del(ctx, key("redis-device")))
	assert.Equal(t, 10, r.Load(ctx, "redis-device"))
}
