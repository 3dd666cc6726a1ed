// Package report stores abuse reports against secrets.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/models"
	"github.com/confesso/core/internal/pkg/pagination"
	"github.com/confesso/core/internal/pkg/response"
)

const (
	defaultMaxReasonLength = 300
	deviceHeader           = "X-Device-Id"
)

var (
	ErrEmptyReason    = errors.New("report reason is empty")
	ErrReasonTooLong  = errors.New("report reason is too long")
	ErrSecretNotFound = errors.New("secret not found")
	ErrNotFound       = errors.New("report not found")
)

type CreateReportDTO struct {
	SecretID string `json:"secretId" binding:"required"`
	Reason   string `json:"reason"`
}

type Service struct {
	store     docstore.Store
	logger    *zap.Logger
	maxLength int
	now       func() time.Time
}

func NewService(store docstore.Store, logger *zap.Logger, maxLength int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLength <= 0 {
		maxLength = defaultMaxReasonLength
	}
	return &Service{store: store, logger: logger.Named("report"), maxLength: maxLength, now: time.Now}
}

// Create files a report for an existing secret.
func (s *Service) Create(ctx context.Context, dto CreateReportDTO, deviceID string) (*models.Report, error) {
	reason := strings.TrimSpace(dto.Reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}
	if utf8.RuneCountInString(reason) > s.maxLength {
		return nil, ErrReasonTooLong
	}
	doc, err := s.store.Fetch(ctx, models.CollectionSecrets, dto.SecretID)
	if err != nil {
		return nil, err
	}
	if !doc.Exists {
		return nil, ErrSecretNotFound
	}

	r := models.Report{SecretID: dto.SecretID, Reason: reason, DeviceID: strings.TrimSpace(deviceID)}
	r.Stamp(s.now())
	id, err := s.store.Add(ctx, models.CollectionReports, r)
	if err != nil {
		return nil, fmt.Errorf("add report: %w", err)
	}
	r.ID = id
	s.logger.Info("secret reported", zap.String("secret", r.SecretID), zap.String("id", id))
	return &r, nil
}

// List returns every report, newest first.
func (s *Service) List(ctx context.Context) ([]models.Report, error) {
	snap, err := s.store.Get(ctx, docstore.Query{
		Collection: models.CollectionReports,
		OrderBy:    "createdAt",
		Direction:  docstore.Descending,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Report, 0, snap.Size())
	for _, doc := range snap.Docs {
		var r models.Report
		if err := doc.Decode(&r); err != nil {
			s.logger.Warn("skip undecodable report", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Dismiss deletes a report.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, models.CollectionReports, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// PruneOrphans deletes reports whose secret no longer exists and returns how
// many were deleted.
func (s *Service) PruneOrphans(ctx context.Context) (int, error) {
	reports, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	exists := make(map[string]bool)
	pruned := 0
	for _, r := range reports {
		alive, seen := exists[r.SecretID]
		if !seen {
			doc, err := s.store.Fetch(ctx, models.CollectionSecrets, r.SecretID)
			if err != nil {
				return pruned, fmt.Errorf("fetch secret %s: %w", r.SecretID, err)
			}
			alive = doc.Exists
			exists[r.SecretID] = alive
		}
		if alive {
			continue
		}
		if err := s.store.Delete(ctx, models.CollectionReports, r.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return pruned, fmt.Errorf("delete report %s: %w", r.ID, err)
		}
		pruned++
	}
	if pruned > 0 {
		s.logger.Info("pruned orphan reports", zap.Int("count", pruned))
	}
	return pruned, nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	rg.POST("/reports", h.create)
	rg.GET("/admin/reports", authMW, h.list)
	rg.DELETE("/admin/reports/:id", authMW, h.dismiss)
}

// POST /reports
func (h *Handler) create(c *gin.Context) {
	var dto CreateReportDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Requisição inválida")
		return
	}
	r, err := h.svc.Create(c.Request.Context(), dto, c.GetHeader(deviceHeader))
	switch {
	case err == nil:
		response.Created(c, r)
	case errors.Is(err, ErrEmptyReason):
		response.UnprocessableEntity(c, "Conte o motivo da denúncia")
	case errors.Is(err, ErrReasonTooLong):
		response.UnprocessableEntity(c, "O motivo passou do limite de caracteres")
	case errors.Is(err, ErrSecretNotFound):
		response.NotFound(c)
	default:
		response.InternalError(c, err)
	}
}

// GET /admin/reports
func (h *Handler) list(c *gin.Context) {
	reports, err := h.svc.List(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	page, pag := pagination.Slice(reports, pagination.FromContext(c))
	response.Paged(c, page, pag)
}

// DELETE /admin/reports/:id
func (h *Handler) dismiss(c *gin.Context) {
	err := h.svc.Dismiss(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		response.NoContent(c)
	case errors.Is(err, ErrNotFound):
		response.NotFound(c)
	default:
		response.InternalError(c, err)
	}
}
