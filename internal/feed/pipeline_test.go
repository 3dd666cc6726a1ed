package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/region"
)

var (
	origin = geo.Coordinate{Latitude: 0, Longitude: 0}
	epoch  = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func secretAt(id string, c *geo.Coordinate, minutes int) models.Secret {
	s := models.Secret{Text: "segredo " + id, Location: c}
	s.ID = id
	s.CreatedAt = epoch.Add(time.Duration(minutes) * time.Minute)
	return s
}

func point(bearing, km float64) *geo.Coordinate {
	c := geo.Destination(origin, bearing, km)
	return &c
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func granted(radius int) Criteria {
	user := origin
	return Criteria{Granted: true, User: &user, RadiusKm: radius}
}

func TestCompose_RadiusBoundary(t *testing.T) {
	secrets := []models.Secret{
		secretAt("inside", point(90, 9.9), 1),
		secretAt("outside", point(90, 10.1), 2),
		secretAt("nowhere", nil, 3),
	}

	items := Compose(secrets, nil, granted(10), SortRecent)
	require.Equal(t, []string{"inside"}, ids(items))
	require.NotNil(t, items[0].Distance)
	assert.InDelta(t, 9.9, *items[0].Distance, 1e-6)
}

func TestAnnotate_DistanceUnknown(t *testing.T) {
	items := Annotate([]models.Secret{secretAt("a", point(0, 5), 0), secretAt("b", nil, 0)}, nil)
	assert.Nil(t, items[0].Distance)
	assert.Nil(t, items[1].Distance)

	items = Annotate([]models.Secret{secretAt("a", point(0, 5), 0), secretAt("b", nil, 0)}, &origin)
	assert.NotNil(t, items[0].Distance)
	assert.Nil(t, items[1].Distance)
}

func TestCompose_NoUserLocation(t *testing.T) {
	c := granted(50)
	c.User = nil
	assert.Empty(t, Compose([]models.Secret{secretAt("a", point(0, 1), 0)}, nil, c, SortRecent))
}

func TestCompose_RadiusNotLoaded(t *testing.T) {
	assert.Empty(t, Compose([]models.Secret{secretAt("a", point(0, 1), 0)}, nil, granted(0), SortRecent))
}

func TestCompose_OverrideIgnoresRadius(t *testing.T) {
	near := secretAt("near", point(0, 1), 1)
	near.Estado, near.Municipio = "SP", "Campinas"
	far := secretAt("far", point(0, 400), 2)
	far.Estado, far.Municipio = "RJ", "Niterói"
	unplaced := secretAt("unplaced", nil, 3)
	unplaced.Estado, unplaced.Municipio = "RJ", "Niterói"
	secrets := []models.Secret{near, far, unplaced}

	c := granted(10)
	assert.Equal(t, []string{"near"}, ids(Compose(secrets, nil, c, SortRecent)))

	c.Region = region.Selection{Override: true, Estado: "RJ", Municipio: "Niterói"}
	want := []string{"unplaced", "far"}
	for _, radius := range []int{1, 10, 50} {
		c.RadiusKm = radius
		assert.Equal(t, want, ids(Compose(secrets, nil, c, SortRecent)), "radius %d", radius)
	}

	c.Region.Municipio = ""
	assert.Empty(t, Compose(secrets, nil, c, SortRecent))
}

func TestCompose_PermissionDenied(t *testing.T) {
	secrets := []models.Secret{secretAt("a", point(0, 1), 0)}
	c := granted(50)
	c.Granted = false
	assert.Empty(t, Compose(secrets, nil, c, SortRecent))

	c.Region = region.Selection{Override: true, Estado: "SP", Municipio: "Campinas"}
	secrets[0].Estado, secrets[0].Municipio = "SP", "Campinas"
	assert.Empty(t, Compose(secrets, nil, c, SortRecent))
}

func TestCompose_CountsAndSort(t *testing.T) {
	a := secretAt("a", point(0, 1), 1)
	a.Likes = 5
	b := secretAt("b", point(0, 2), 3)
	b.Likes = 1
	c := secretAt("c", point(0, 3), 2)
	c.Likes = -4
	secrets := []models.Secret{a, b, c}
	counts := Counts{"a": 1, "c": 7, "zzz": 9}

	assert.Equal(t, []string{"b", "c", "a"}, ids(Compose(secrets, counts, granted(10), SortRecent)))
	assert.Equal(t, []string{"a", "b", "c"}, ids(Compose(secrets, counts, granted(10), SortLikes)))

	byComments := Compose(secrets, counts, granted(10), SortComments)
	assert.Equal(t, []string{"c", "a", "b"}, ids(byComments))
	assert.Equal(t, 7, byComments[0].CommentsCount)
	assert.Equal(t, 0, byComments[2].CommentsCount)
	assert.Equal(t, 0, byComments[0].LikeCount())
}

func TestSort_Deterministic(t *testing.T) {
	var items []Item
	for _, id := range []string{"d", "b", "e", "a", "c"} {
		items = append(items, Item{Secret: secretAt(id, nil, 0)})
	}

	for _, key := range []SortKey{SortRecent, SortLikes, SortComments} {
		first := append([]Item(nil), items...)
		Sort(first, key)
		second := append([]Item(nil), first...)
		Sort(second, key)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids(first), key)
		assert.Equal(t, ids(first), ids(second), key)
	}
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey(" Likes ")
	require.NoError(t, err)
	assert.Equal(t, SortLikes, k)

	k, err = ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortRecent, k)

	_, err = ParseSortKey("distance")
	assert.Error(t, err)
}

func TestOrderComments(t *testing.T) {
	mk := func(id string, likes, minutes int) models.Comment {
		c := models.Comment{Likes: likes}
		c.ID = id
		c.CreatedAt = epoch.Add(time.Duration(minutes) * time.Minute)
		return c
	}
	comments := []models.Comment{mk("x", 0, 1), mk("y", 3, 0), mk("z", 3, 2)}

	OrderComments(comments, CommentsRecent)
	assert.Equal(t, "z", comments[0].ID)
	assert.Equal(t, "x", comments[1].ID)

	OrderComments(comments, CommentsLikes)
	assert.Equal(t, "z", comments[0].ID)
	assert.Equal(t, "y", comments[1].ID)
	assert.Equal(t, "x", comments[2].ID)
}
