package comment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/moderation"
)

type Service struct {
	store      docstore.Store
	moderation *moderation.Filter
	logger     *zap.Logger
	maxLength  int
	now        func() time.Time
}

func NewService(store docstore.Store, filter *moderation.Filter, logger *zap.Logger, maxLength int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLength <= 0 {
		maxLength = models.MaxSecretLength
	}
	return &Service{
		store:      store,
		moderation: filter,
		logger:     logger.Named("comment"),
		maxLength:  maxLength,
		now:        time.Now,
	}
}

// Add appends a comment to a secret. Blank text is rejected before the store
// is touched.
func (s *Service) Add(ctx context.Context, secretID, text string) (*models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return nil, ErrTextTooLong
	}
	if err := s.moderation.Check(text); err != nil {
		return nil, err
	}

	doc, err := s.store.Fetch(ctx, models.CollectionSecrets, secretID)
	if err != nil {
		return nil, err
	}
	if !doc.Exists {
		return nil, ErrSecretNotFound
	}

	c := models.Comment{Text: text}
	c.Stamp(s.now())
	id, err := s.store.Add(ctx, models.CommentsPath(secretID), c)
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	c.ID = id
	return &c, nil
}

// Like increments the comment's like counter atomically in the store.
func (s *Service) Like(ctx context.Context, secretID, commentID string) error {
	err := s.store.Update(ctx, models.CommentsPath(secretID), commentID, docstore.Update{
		Inc: map[string]interface{}{"likes": 1},
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// List returns the comments of a secret in the given order.
func (s *Service) List(ctx context.Context, secretID string, key feed.CommentSortKey) ([]models.Comment, error) {
	snap, err := s.store.Get(ctx, docstore.Query{
		Collection: models.CommentsPath(secretID),
		OrderBy:    "createdAt",
		Direction:  docstore.Descending,
	})
	if err != nil {
		return nil, err
	}
	comments := decodeComments(snap, s.logger)
	feed.OrderComments(comments, key)
	return comments, nil
}

func decodeComments(snap docstore.Snapshot, logger *zap.Logger) []models.Comment {
	out := make([]models.Comment, 0, snap.Size())
	for _, doc := range snap.Docs {
		var c models.Comment
		if err := doc.Decode(&c); err != nil {
			logger.Warn("skip undecodable comment", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out
}
