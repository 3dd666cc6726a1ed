package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/middleware"
	"github.com/confesso/core/internal/modules/auth"
	"github.com/confesso/core/internal/modules/comment"
	"github.com/confesso/core/internal/modules/gateway"
	"github.com/confesso/core/internal/modules/nearby"
	"github.com/confesso/core/internal/modules/report"
	"github.com/confesso/core/internal/modules/secret"
	"github.com/confesso/core/internal/modules/tasks/crontask"
	"github.com/confesso/core/internal/pkg/response"
)

const apiPrefix = "/api/v1"

var appInfo = gin.H{
	"name":    "confesso-core",
	"version": "1.0.0",
}

func (a *App) registerRoutes() {
	r := a.router
	authMW := middleware.AdminAuth(a.authSvc.Validate)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	// Root-level endpoints
	root := r.Group("")
	gateway.RegisterRoutes(root, a.hub, authMW)

	// Versioned API
	api := r.Group(apiPrefix)
	api.Use(middleware.OptionalAdmin(a.authSvc.Validate))
	if a.rc != nil {
		// Rate limiting and idempotence need Redis.
		api.Use(middleware.RateLimit(a.rc, a.cfg.RateLimit.Max, a.cfg.RateLimit.Window, a.logger))
		api.Use(middleware.Idempotence(a.rc, a.logger))
	}

	api.GET("", func(c *gin.Context) { c.PureJSON(http.StatusOK, appInfo) })
	api.GET("/info", func(c *gin.Context) { c.PureJSON(http.StatusOK, appInfo) })
	api.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"data": "pong"}) })
	api.GET("/uptime", func(c *gin.Context) {
		uptime := time.Since(processStart)
		c.JSON(http.StatusOK, gin.H{
			"timestamp": uptime.Milliseconds(),
			"humanize":  humanizeDuration(uptime),
		})
	})
	// Clients render relative times ("há 5 min") against the server clock.
	api.GET("/server-time", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"t": time.Now().UnixMilli()})
	})

	auth.NewHandler(a.authSvc).RegisterRoutes(api, authMW)
	secret.NewHandler(a.secretSvc).RegisterRoutes(api, authMW)
	comment.NewHandler(a.commentSvc).RegisterRoutes(api)
	report.NewHandler(a.reportSvc).RegisterRoutes(api, authMW)
	nearby.NewHandler(a.nearbySvc, a.cfg.Feed.MinRadiusKm, a.cfg.Feed.MaxRadiusKm).RegisterRoutes(api)
	crontask.NewHandler(a.sched).RegisterRoutes(api, authMW)
}
