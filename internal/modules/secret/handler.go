package secret

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/pkg/moderation"
	"github.com/confesso/core/internal/pkg/pagination"
	"github.com/confesso/core/internal/pkg/response"
)

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/secrets")
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/like", h.like)

	a := rg.Group("/admin", authMW)
	a.GET("/secrets", h.list)
	a.GET("/stats", h.stats)
	a.DELETE("/secrets/:id", h.delete)
}

// POST /secrets
func (h *Handler) create(c *gin.Context) {
	var dto CreateSecretDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "Requisição inválida")
		return
	}
	secret, err := h.svc.Create(c.Request.Context(), dto)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, secret)
}

// GET /secrets/:id
func (h *Handler) get(c *gin.Context) {
	secret, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, secret)
}

// POST /secrets/:id/like
func (h *Handler) like(c *gin.Context) {
	if err := h.svc.Like(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.NoContent(c)
}

// GET /admin/secrets?q=
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	secrets, err := h.svc.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	page, pag := pagination.Slice(secrets, q)
	response.Paged(c, page, pag)
}

// GET /admin/stats
func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, stats)
}

// DELETE /admin/secrets/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	response.NoContent(c)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrEmptyText):
		response.UnprocessableEntity(c, "Escreva seu segredo antes de enviar")
	case errors.Is(err, ErrTextTooLong):
		response.UnprocessableEntity(c, "Seu segredo passou do limite de caracteres")
	case errors.Is(err, ErrLocationRequired):
		response.UnprocessableEntity(c, "Precisamos da sua localização para publicar")
	case errors.Is(err, moderation.ErrBlocked):
		response.UnprocessableEntity(c, "Seu segredo contém palavras não permitidas")
	case errors.Is(err, geocode.ErrLookup):
		response.ServiceUnavailable(c, "Não foi possível identificar sua região, tente novamente")
	case errors.Is(err, ErrNotFound):
		response.NotFound(c)
	default:
		response.InternalError(c, err)
	}
}
