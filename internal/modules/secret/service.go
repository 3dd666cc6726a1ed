package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/moderation"
	"github.com/confesso/core/internal/region"
)

const (
	defaultGeocodeTimeout = 10 * time.Second
	deleteConcurrency     = 8
)

// Options tune secret creation.
type Options struct {
	MaxLength      int
	GeocodeTimeout time.Duration
}

type Service struct {
	store      docstore.Store
	geocoder   geocode.Geocoder
	moderation *moderation.Filter
	events     Publisher
	logger     *zap.Logger
	opts       Options
	now        func() time.Time
}

func NewService(store docstore.Store, geocoder geocode.Geocoder, filter *moderation.Filter, events Publisher, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = models.MaxSecretLength
	}
	if opts.GeocodeTimeout <= 0 {
		opts.GeocodeTimeout = defaultGeocodeTimeout
	}
	return &Service{
		store:      store,
		geocoder:   geocoder,
		moderation: filter,
		events:     events,
		logger:     logger.Named("secret"),
		opts:       opts,
		now:        time.Now,
	}
}

// Create validates and stores a new secret. The region is stamped by reverse
// geocoding the location; when that fails nothing is stored.
func (s *Service) Create(ctx context.Context, dto CreateSecretDTO) (*models.Secret, error) {
	text := strings.TrimSpace(dto.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > s.opts.MaxLength {
		return nil, ErrTextTooLong
	}
	if dto.Location == nil || !dto.Location.Valid() {
		return nil, ErrLocationRequired
	}
	if err := s.moderation.Check(text); err != nil {
		return nil, err
	}
	loc := *dto.Location

	gctx, cancel := context.WithTimeout(ctx, s.opts.GeocodeTimeout)
	place, err := s.geocoder.Reverse(gctx, loc)
	cancel()
	if err != nil {
		s.logger.Warn("reverse geocode failed", zap.Stringer("location", loc), zap.Error(err))
		return nil, fmt.Errorf("stamp region: %w", err)
	}

	secret := models.Secret{
		Text:      text,
		Location:  &loc,
		Estado:    place.Region,
		Municipio: place.City,
	}
	secret.Stamp(s.now())
	id, err := s.store.Add(ctx, models.CollectionSecrets, secret)
	if err != nil {
		return nil, fmt.Errorf("add secret: %w", err)
	}
	secret.ID = id

	s.publish(EventSecretCreate, secret)
	return &secret, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Secret, error) {
	doc, err := s.store.Fetch(ctx, models.CollectionSecrets, id)
	if err != nil {
		return nil, err
	}
	if !doc.Exists {
		return nil, ErrNotFound
	}
	var secret models.Secret
	if err := doc.Decode(&secret); err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", id, err)
	}
	return &secret, nil
}

// Like increments the like counter atomically in the store.
func (s *Service) Like(ctx context.Context, id string) error {
	err := s.store.Update(ctx, models.CollectionSecrets, id, docstore.Update{
		Inc: map[string]interface{}{"likes": 1},
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// List returns every secret, newest first. A non-empty query keeps only the
// secrets whose text contains it, ignoring case and accents.
func (s *Service) List(ctx context.Context, query string) ([]models.Secret, error) {
	snap, err := s.store.Get(ctx, docstore.Query{
		Collection: models.CollectionSecrets,
		OrderBy:    "createdAt",
		Direction:  docstore.Descending,
	})
	if err != nil {
		return nil, err
	}
	secrets := s.decode(snap)

	needle := region.Fold(query)
	if needle == "" {
		return secrets, nil
	}
	out := make([]models.Secret, 0, len(secrets))
	for _, secret := range secrets {
		if strings.Contains(region.Fold(secret.Text), needle) {
			out = append(out, secret)
		}
	}
	return out, nil
}

// Delete removes every comment of the secret and then the secret itself.
// If any comment fails to delete the secret is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	path := models.CommentsPath(id)
	comments, err := s.store.Get(ctx, docstore.Query{Collection: path})
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for _, doc := range comments.Docs {
		commentID := doc.ID
		g.Go(func() error {
			err := s.store.Delete(gctx, path, commentID)
			if err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("delete comment %s: %w", commentID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, models.CollectionSecrets, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.logger.Info("secret deleted", zap.String("id", id), zap.Int("comments", comments.Size()))
	s.publish(EventSecretDelete, deletedPayload{ID: id})
	return nil
}

// Stats counts secrets, comments and likes.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	secrets, err := s.List(ctx, "")
	if err != nil {
		return Stats{}, err
	}

	counts := make([]int, len(secrets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for i, secret := range secrets {
		i, id := i, secret.ID
		g.Go(func() error {
			snap, err := s.store.Get(gctx, docstore.Query{Collection: models.CommentsPath(id)})
			if err != nil {
				return err
			}
			counts[i] = snap.Size()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stats := Stats{Secrets: len(secrets), Likes: totalLikes(secrets)}
	for _, n := range counts {
		stats.Comments += n
	}
	return stats, nil
}

func (s *Service) decode(snap docstore.Snapshot) []models.Secret {
	out := make([]models.Secret, 0, snap.Size())
	for _, doc := range snap.Docs {
		var secret models.Secret
		if err := doc.Decode(&secret); err != nil {
			s.logger.Warn("skip undecodable secret", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, secret)
	}
	return out
}

func (s *Service) publish(event string, payload interface{}) {
	if s.events != nil {
		s.events.BroadcastAdmin(event, payload)
	}
}
