// Package crontask exposes the background job scheduler to administrators.
package crontask

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	pkgcron "github.com/confesso/core/internal/pkg/cron"
	"github.com/confesso/core/internal/pkg/response"
)

// Handler wraps the scheduler for HTTP access.
type Handler struct {
	sched *pkgcron.Scheduler
}

func NewHandler(sched *pkgcron.Scheduler) *Handler {
	return &Handler{sched: sched}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/admin/tasks", authMW)
	g.GET("", h.list)
	g.GET("/:name", h.get)
	g.POST("/:name/run", h.run)
}

// GET /admin/tasks
func (h *Handler) list(c *gin.Context) {
	response.OK(c, h.sched.List())
}

// GET /admin/tasks/:name
func (h *Handler) get(c *gin.Context) {
	result, err := h.sched.GetTask(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, result)
}

// POST /admin/tasks/:name/run
func (h *Handler) run(c *gin.Context) {
	// The request context ends with the response; the job must outlive it.
	if err := h.sched.Run(context.WithoutCancel(c.Request.Context()), c.Param("name")); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"message": "tarefa iniciada"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, pkgcron.ErrJobNotFound) {
		response.NotFoundMsg(c, "Tarefa não encontrada")
		return
	}
	response.InternalError(c, err)
}
