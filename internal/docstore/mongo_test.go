package docstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap/zaptest"
)

// TestMongo_LiveQuery needs a replica set, e.g.
// CONFESSO_TEST_MONGO_URI=mongodb://localhost:27017/?replicaSet=rs0
func TestMongo_LiveQuery(t *testing.T) {
	uri := os.Getenv("CONFESSO_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CONFESSO_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	db := client.Database("confesso_test_" + uuid.New().String()[:8])
	defer db.Drop(context.Background())

	store := NewMongo(db, zaptest.NewLogger(t))
	defer store.Close()

	var mu sync.Mutex
	var sizes []int
	unsub := store.Subscribe(Query{Collection: "posts/p1/comments"}, func(s Snapshot) {
		mu.Lock()
		sizes = append(sizes, s.Size())
		mu.Unlock()
	}, func(err error) { t.Errorf("unexpected error: %v", err) })
	defer unsub()

	time.Sleep(500 * time.Millisecond)
	id, err := store.Add(ctx, "posts/p1/comments", testPost{Text: "hello"})
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, "posts/p1/comments", id, Update{Inc: map[string]interface{}{"likes": 2}}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sizes) > 0 && sizes[len(sizes)-1] == 1
	}, 10*time.Second, 50*time.Millisecond)

	snap, err := store.Get(ctx, Query{Collection: "posts/p1/comments"})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Size())
	var p testPost
	require.NoError(t, snap.Docs[0].Decode(&p))
	assert.Equal(t, 2, p.Likes)

	other, err := store.Get(ctx, Query{Collection: "posts/p2/comments"})
	require.NoError(t, err)
	assert.Zero(t, other.Size())

	assert.ErrorIs(t, store.Delete(ctx, "posts/p1/comments", "missing"), ErrNotFound)
}
