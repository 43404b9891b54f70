package collab

import (
	"github.com/gin-gonic/gin"
	"github.com/jessiecms/collab/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires every collaboration surface onto the router.
//
// The WebSocket endpoints authenticate inside the protocol (join/auth
// messages carry the token), so only the HTTP API sits behind the session
// middleware.
func RegisterRoutes(r *gin.Engine, hub *Hub, tokens *TokenHandler, documents *DocumentHandler, sessions auth.SessionStore, cookieName string, redis Pinger) {
	r.GET("/ws/collab", hub.HandleWS)
	r.GET("/ws/raw", hub.HandleRawWS)

	r.GET("/health", HealthHandler(hub, redis))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", SessionMiddleware(sessions, cookieName))
	{
		api.POST("/collab/token", tokens.IssueToken)

		api.GET("/documents/:id/active-users", documents.GetActiveUsers)
		api.GET("/documents/:id/activity", documents.GetActivity)

		api.POST("/documents/:id/lock", documents.AcquireLock)
		api.PUT("/documents/:id/lock/:lockId", documents.ExtendLock)
		api.DELETE("/documents/:id/lock/:lockId", documents.ReleaseLock)
		api.GET("/documents/:id/locks", documents.ListLocks)
	}
}
