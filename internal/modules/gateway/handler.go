package gateway

import (
	"github.com/gin-gonic/gin"

	"github.com/confesso/core/internal/pkg/response"
)

// RegisterRoutes mounts socket.io and the admin stats endpoint.
func RegisterRoutes(rg *gin.RouterGroup, hub *Hub, authMW gin.HandlerFunc) {
	handler := gin.WrapH(hub.Handler())
	rg.Any("/socket.io", handler)
	rg.Any("/socket.io/*any", handler)

	// GET /gateway/stats
	rg.GET("/gateway/stats", authMW, func(c *gin.Context) {
		peak, connections, err := hub.DailyStats(c.Request.Context())
		if err != nil {
			response.InternalError(c, err)
			return
		}
		response.OK(c, gin.H{
			"public":           hub.ClientCount(RoomPublic),
			"admin":            hub.ClientCount(RoomAdmin),
			"total":            hub.ClientCount(""),
			"sessions":         hub.SessionCount(),
			"todayPeak":        peak,
			"todayConnections": connections,
		})
	})
}
