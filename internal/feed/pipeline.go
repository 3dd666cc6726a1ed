// Package feed builds the nearby-secrets feed: annotate secrets with their
// distance to the user, filter them by radius or by a selected region, and
// sort them for display.
package feed

import (
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/region"
)

// Item is a secret as shown in the feed.
type Item struct {
	models.Secret
	CommentsCount int `json:"commentsCount"`
	// Distance to the user in km, nil when either location is unknown.
	Distance *float64 `json:"distance,omitempty"`
}

// Criteria is everything the feed filter depends on.
type Criteria struct {
	Granted  bool
	User     *geo.Coordinate
	RadiusKm int
	Region   region.Selection
}

// RadiusReady reports whether a radius preference has been loaded.
func (c Criteria) RadiusReady() bool { return c.RadiusKm > 0 }

// Annotate computes the distance of every secret to user. Secrets without
// a location, or every secret when user is nil, get no distance.
func Annotate(secrets []models.Secret, user *geo.Coordinate) []Item {
	items := make([]Item, len(secrets))
	for i, s := range secrets {
		items[i] = Item{Secret: s, Distance: distanceTo(s, user)}
	}
	return items
}

func distanceTo(s models.Secret, user *geo.Coordinate) *float64 {
	if user == nil || !user.Valid() || !s.HasLocation() {
		return nil
	}
	d := geo.Between(*user, *s.Location)
	return &d
}

// Include is the single inclusion predicate of the feed.
func Include(it Item, c Criteria) bool {
	if !c.Granted {
		return false
	}
	if c.Region.Override {
		return c.Region.Matches(it.Estado, it.Municipio)
	}
	if !c.RadiusReady() || it.Distance == nil {
		return false
	}
	return *it.Distance <= float64(c.RadiusKm)
}

// Filter returns the items accepted by Include, in input order.
func Filter(items []Item, c Criteria) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if Include(it, c) {
			out = append(out, it)
		}
	}
	return out
}

// Counts maps secret ids to their comment counts.
type Counts map[string]int

// Compose runs the whole pipeline: annotate, filter, attach comment counts
// and sort. The result is a new slice; inputs are not modified.
func Compose(secrets []models.Secret, counts Counts, c Criteria, key SortKey) []Item {
	out := Filter(Annotate(secrets, c.User), c)
	for i := range out {
		if n := counts[out[i].ID]; n > 0 {
			out[i].CommentsCount = n
		}
	}
	Sort(out, key)
	return out
}
