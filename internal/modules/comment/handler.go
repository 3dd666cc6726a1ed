package comment

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/feed"
	"github.com/confesso/core/internal/pkg/moderation"
	"github.com/confesso/core/internal/pkg/response"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/secrets/:id/comments")
	g.GET("", h.list)
	g.POST("", h.create)
	g.POST("/:commentId/like", h.like)
}

// GET /secrets/:id/comments?sort=recent|likes
func (h *Handler) list(c *gin.Context) {
	key, err := feed.ParseCommentSortKey(c.Query("sort"))
	if err != nil {
		response.BadRequest(c, "Ordenação inválida")
		return
	}
	comments, err := h.svc.List(c.Request.Context(), c.Param("id"), key)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, comments)
}

// POST /secrets/:id/comments
func (h *Handler) create(c *gin.Context) {
	var dto CreateCommentDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Requisição inválida")
		return
	}
	comment, err := h.svc.Add(c.Request.Context(), c.Param("id"), dto.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, comment)
}

// POST /secrets/:id/comments/:commentId/like
func (h *Handler) like(c *gin.Context) {
	if err := h.svc.Like(c.Request.Context(), c.Param("id"), c.Param("commentId")); err != nil {
		writeError(c, err)
		return
	}
	response.NoContent(c)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyText):
		response.UnprocessableEntity(c, "Escreva um comentário antes de enviar")
	case errors.Is(err, ErrTextTooLong):
		response.UnprocessableEntity(c, "Seu comentário passou do limite de caracteres")
	case errors.Is(err, moderation.ErrBlocked):
		response.UnprocessableEntity(c, "Seu comentário contém palavras não permitidas")
	case errors.Is(err, ErrSecretNotFound), errors.Is(err, ErrNotFound):
		response.NotFound(c)
	default:
		response.InternalError(c, err)
	}
}
