package comment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/moderation"
)

// recordingStore counts every call that reaches the store.
type recordingStore struct {
	*docstore.Memory

	mu    sync.Mutex
	calls int
}

func (s *recordingStore) touch() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *recordingStore) Fetch(ctx context.Context, collection, id string) (docstore.DocSnapshot, error) {
	s.touch()
	return s.Memory.Fetch(ctx, collection, id)
}

func (s *recordingStore) Add(ctx context.Context, collection string, doc interface{}) (string, error) {
	s.touch()
	return s.Memory.Add(ctx, collection, doc)
}

func newTestService(t *testing.T) (*Service, *recordingStore, string) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := docstore.NewMemory(logger)
	t.Cleanup(mem.Close)
	secretID, err := mem.Add(context.Background(), models.CollectionSecrets, models.Secret{Text: "s"})
	require.NoError(t, err)
	store := &recordingStore{Memory: mem}
	return NewService(store, moderation.New([]string{"idiota"}), logger, 0), store, secretID
}

func TestService_AddRejectsBlankWithoutStore(t *testing.T) {
	svc, store, secretID := newTestService(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Add(ctx, secretID, text)
		assert.ErrorIs(t, err, ErrEmptyText)
	}
	assert.Zero(t, store.count())

	c, err := svc.Add(ctx, secretID, "  força!  ")
	require.NoError(t, err)
	assert.Equal(t, "força!", c.Text)
	assert.Equal(t, 0, c.Likes)
	assert.False(t, c.CreatedAt.IsZero())

	comments, err := svc.List(ctx, secretID, feed.CommentsRecent)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, c.ID, comments[0].ID)
	assert.Equal(t, 0, comments[0].Likes)
}

func TestService_AddErrors(t *testing.T) {
	svc, _, secretID := newTestService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, "missing", "oi")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = svc.Add(ctx, secretID, strings.Repeat("a", models.MaxSecretLength+1))
	assert.ErrorIs(t, err, ErrTextTooLong)

	_, err = svc.Add(ctx, secretID, "seu IDIOTA")
	assert.ErrorIs(t, err, moderation.ErrBlocked)
}

func TestService_LikeAndSort(t *testing.T) {
	svc, _, secretID := newTestService(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i, text := range []string{"old", "mid", "new"} {
		now := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return now }
		c, err := svc.Add(ctx, secretID, text)
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Like(ctx, secretID, ids[0]))
		}()
	}
	wg.Wait()
	require.NoError(t, svc.Like(ctx, secretID, ids[1]))
	assert.ErrorIs(t, svc.Like(ctx, secretID, "missing"), ErrNotFound)

	recent, err := svc.List(ctx, secretID, feed.CommentsRecent)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, texts(recent))

	liked, err := svc.List(ctx, secretID, feed.CommentsLikes)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "mid", "new"}, texts(liked))
	assert.Equal(t, 10, liked[0].Likes)
}

func texts(comments []models.Comment) []string {
	out := make([]string, len(comments))
	for i, c := range comments {
		out[i] = c.Text
	}
	return out
}

func TestHandler_Create(t *testing.T) {
	svc, _, secretID := newTestService(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(svc).RegisterRoutes(r.Group("/api/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/secrets/"+secretID+"/comments", strings.NewReader(`{"text":"  "}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/secrets/"+secretID+"/comments", strings.NewReader(`{"text":"oi"}`)))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/secrets/"+secretID+"/comments?sort=nope", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/secrets/missing/comments", strings.NewReader(`{"text":"oi"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListener_FollowsSelection(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := docstore.NewMemory(logger)
	t.Cleanup(store.Close)
	ctx := context.Background()
	svc := NewService(store, nil, logger, 0)

	a, err := store.Add(ctx, models.CollectionSecrets, models.Secret{Text: "a"})
	require.NoError(t, err)
	b, err := store.Add(ctx, models.CollectionSecrets, models.Secret{Text: "b"})
	require.NoError(t, err)
	_, err = svc.Add(ctx, a, "on a")
	require.NoError(t, err)

	var mu sync.Mutex
	var updates []Update
	l := NewListener(store, logger, func(u Update) {
		mu.Lock()
		updates = append(updates, u)
		mu.Unlock()
	})
	last := func() Update {
		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, updates)
		return updates[len(updates)-1]
	}

	l.Select(a, feed.CommentsRecent)
	store.Sync()
	assert.Equal(t, a, last().SecretID)
	assert.Equal(t, []string{"on a"}, texts(last().Comments))
	assert.Equal(t, 1, store.Subscriptions())

	l.Select(b, feed.CommentsRecent)
	store.Sync()
	assert.Equal(t, b, last().SecretID)
	assert.Empty(t, last().Comments)

	mu.Lock()
	before := len(updates)
	mu.Unlock()
	_, err = svc.Add(ctx, a, "late on a")
	require.NoError(t, err)
	store.Sync()
	mu.Lock()
	assert.Equal(t, before, len(updates))
	mu.Unlock()

	l.Deselect()
	assert.Empty(t, l.Selected())
	assert.Zero(t, store.Subscriptions())
}

func TestListener_ErrorIsReported(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := docstore.NewMemory(logger)
	t.Cleanup(store.Close)

	got := make(chan Update, 4)
	l := NewListener(store, logger, func(u Update) { got <- u })
	l.Select("x", feed.CommentsLikes)
	store.Sync()
	<-got

	store.InjectError(models.CommentsPath("x"), errors.New("boom"))
	store.Sync()
	u := <-got
	assert.Equal(t, "boom", u.Error)
	assert.Equal(t, feed.CommentsLikes, u.Sort)
	l.Deselect()
}
