// Package nearby serves one-shot feed reads and region lookups over HTTP.
// Live feeds are served by the gateway.
package nearby

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/geo"
	"github.com/confesso/core/internal/preference"
	"github.com/confesso/core/internal/region"
)

const countConcurrency = 8

var ErrInvalidLocation = errors.New("invalid location")

// Query describes one feed read. A zero RadiusKm means the device's saved
// radius. A complete Estado/Municipio pair switches to region mode.
type Query struct {
	DeviceID  string
	User      *geo.Coordinate
	RadiusKm  int
	Sort      feed.SortKey
	Estado    string
	Municipio string
}

type Service struct {
	store    docstore.Store
	radius   *preference.Radius
	geocoder geocode.Geocoder
	dir      region.Directory
	logger   *zap.Logger
}

func NewService(store docstore.Store, radius *preference.Radius, geocoder geocode.Geocoder, dir region.Directory, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, radius: radius, geocoder: geocoder, dir: dir, logger: logger.Named("nearby")}
}

// Criteria resolves q into feed criteria.
func (s *Service) Criteria(ctx context.Context, q Query) (feed.Criteria, error) {
	if q.User != nil && !q.User.Valid() {
		return feed.Criteria{}, ErrInvalidLocation
	}
	c := feed.Criteria{Granted: true, User: q.User, RadiusKm: q.RadiusKm}
	if c.RadiusKm == 0 {
		c.RadiusKm = s.radius.Load(ctx, q.DeviceID)
	}
	if q.Estado != "" || q.Municipio != "" {
		c.Region = region.Selection{Override: true, Estado: q.Estado, Municipio: q.Municipio}
	}
	return c, nil
}

// Feed reads the secrets once and runs them through the feed pipeline.
func (s *Service) Feed(ctx context.Context, q Query) ([]feed.Item, error) {
	c, err := s.Criteria(ctx, q)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.Get(ctx, docstore.Query{
		Collection: models.CollectionSecrets,
		OrderBy:    "createdAt",
		Direction:  docstore.Descending,
	})
	if err != nil {
		return nil, err
	}
	secrets := make([]models.Secret, 0, snap.Size())
	for _, doc := range snap.Docs {
		var secret models.Secret
		if err := doc.Decode(&secret); err != nil {
			s.logger.Warn("skip undecodable secret", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		secrets = append(secrets, secret)
	}

	visible := feed.Filter(feed.Annotate(secrets, c.User), c)
	counts, err := s.commentCounts(ctx, visible)
	if err != nil {
		return nil, err
	}
	return feed.Compose(secrets, counts, c, q.Sort), nil
}

func (s *Service) commentCounts(ctx context.Context, items []feed.Item) (feed.Counts, error) {
	sizes := make([]int, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i, it := range items {
		i, id := i, it.ID
		g.Go(func() error {
			snap, err := s.store.Get(gctx, docstore.Query{Collection: models.CommentsPath(id)})
			if err != nil {
				return fmt.Errorf("count comments of %s: %w", id, err)
			}
			sizes[i] = snap.Size()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	counts := make(feed.Counts, len(items))
	for i, it := range items {
		counts[it.ID] = sizes[i]
	}
	return counts, nil
}

// Detect reverse geocodes a coordinate into a region code and city.
func (s *Service) Detect(ctx context.Context, c geo.Coordinate) (geocode.Place, error) {
	if !c.Valid() {
		return geocode.Place{}, ErrInvalidLocation
	}
	return s.geocoder.Reverse(ctx, c)
}

func (s *Service) Regions() []region.Region { return s.dir.Regions() }

func (s *Service) Cities(regionID string) ([]string, error) {
	cities := s.dir.Cities(regionID)
	if cities == nil {
		return nil, region.ErrUnknownRegion
	}
	return cities, nil
}
