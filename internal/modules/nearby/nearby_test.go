package nearby

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/preference"
	"github.com/confesso/core/internal/region"
)

type stubGeocoder struct {
	place geocode.Place
	err   error
}

func (s stubGeocoder) Reverse(context.Context, geo.Coordinate) (geocode.Place, error) {
	return s.place, s.err
}

var home = geo.Coordinate{Latitude: -23.5505, Longitude: -46.6333}

type fixture struct {
	svc   *Service
	store *docstore.Memory
	kv    *preference.MemoryKV
	ids   map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := docstore.NewMemory(logger)
	t.Cleanup(store.Close)
	dir, err := region.LoadDirectory("")
	require.NoError(t, err)
	kv := preference.NewMemoryKV()
	radius := preference.NewRadius(kv, logger, preference.DefaultRadius, preference.MinRadius, preference.MaxRadius)
	geocoder := stubGeocoder{place: geocode.Place{Region: "SP", City: "São Paulo"}}

	fx := &fixture{
		svc:   NewService(store, radius, geocoder, dir, logger),
		store: store,
		kv:    kv,
		ids:   map[string]string{},
	}

	base := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	add := func(name string, km float64, estado, municipio string, likes int, age time.Duration) {
		loc := geo.Destination(home, 90, km)
		s := models.Secret{Text: name, Likes: likes, Location: &loc, Estado: estado, Municipio: municipio}
		s.CreatedAt = base.Add(-age)
		id, err := store.Add(context.Background(), models.CollectionSecrets, s)
		require.NoError(t, err)
		fx.ids[name] = id
	}
	add("near", 2, "SP", "São Paulo", 1, time.Hour)
	add("edge", 9.5, "SP", "Guarulhos", 7, 2*time.Hour)
	add("far", 30, "SP", "Campinas", 3, 3*time.Hour)
	add("rio", 360, "RJ", "Rio de Janeiro", 0, 4*time.Hour)

	for i := 0; i < 2; i++ {
		_, err := store.Add(context.Background(), models.CommentsPath(fx.ids["far"]), models.Comment{Text: "c"})
		require.NoError(t, err)
	}
	return fx
}

func texts(items []feed.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Text
	}
	return out
}

func TestService_FeedRadius(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	user := home

	items, err := fx.svc.Feed(ctx, Query{User: &user})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "edge"}, texts(items))
	require.NotNil(t, items[0].Distance)
	assert.InDelta(t, 2, *items[0].Distance, 0.01)

	items, err = fx.svc.Feed(ctx, Query{User: &user, RadiusKm: 50, Sort: feed.SortComments})
	require.NoError(t, err)
	assert.Equal(t, []string{"far", "near", "edge"}, texts(items))
	assert.Equal(t, 2, items[0].CommentsCount)

	items, err = fx.svc.Feed(ctx, Query{User: &user, RadiusKm: 50, Sort: feed.SortLikes})
	require.NoError(t, err)
	assert.Equal(t, []string{"edge", "far", "near"}, texts(items))
}

func TestService_FeedUsesSavedRadius(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.kv.Set(ctx, preference.RadiusKey+":dev", "40"))
	user := home

	items, err := fx.svc.Feed(ctx, Query{DeviceID: "dev", User: &user})
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "edge", "far"}, texts(items))
}

func TestService_FeedRegionOverride(t *testing.T) {
	fx := newFixture(t)
	user := home

	items, err := fx.svc.Feed(context.Background(), Query{User: &user, Estado: "RJ", Municipio: "Rio de Janeiro"})
	require.NoError(t, err)
	assert.Equal(t, []string{"rio"}, texts(items))

	items, err = fx.svc.Feed(context.Background(), Query{Estado: "RJ"})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestService_FeedWithoutLocation(t *testing.T) {
	fx := newFixture(t)
	items, err := fx.svc.Feed(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = fx.svc.Feed(context.Background(), Query{User: &geo.Coordinate{Latitude: 100}})
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func newTestRouter(fx *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(fx.svc, preference.MinRadius, preference.MaxRadius).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func TestHandler_Feed(t *testing.T) {
	r := newTestRouter(newFixture(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/feed?lat=-23.5505&lng=-46.6333&radius=50&sort=likes&size=2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Data       []feed.Item `json:"data"`
		Pagination struct {
			Total       int64 `json:"total"`
			HasNextPage bool  `json:"has_next_page"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, []string{"edge", "far"}, texts(out.Data))
	assert.Equal(t, int64(3), out.Pagination.Total)
	assert.True(t, out.Pagination.HasNextPage)

	for _, path := range []string{
		"/api/v1/feed?lat=abc&lng=1",
		"/api/v1/feed?lat=1",
		"/api/v1/feed?radius=0",
		"/api/v1/feed?radius=51",
		"/api/v1/feed?sort=random",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestHandler_Regions(t *testing.T) {
	r := newTestRouter(newFixture(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/regions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var regions struct {
		Data []region.Region `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &regions))
	assert.Len(t, regions.Data, 27)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/regions/sp/cities", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Campinas")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/regions/XX/cities", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/regions/detect?lat=-23.5&lng=-46.6", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"region":"SP","city":"São Paulo"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/regions/detect", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
