// Package httpapi implements the HTTP control plane from spec section 4.6:
// app CRUD, event publishing, the ping probe, and the VAPID public key
// lookup, plus the WebSocket upgrade endpoint the wire protocol connects
// through. Two separate gin.Engines are built here, mirroring the
// AppHost:AppPort / ServerHost:ServerPort split the teacher's config
// already carries: one serves nothing but the WebSocket upgrade (so a
// long-lived connection is never subject to the control plane's request
// timeout or compression middleware), the other serves every REST
// endpoint and admin auth route.
package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/auth"
	"github.com/pushi-dev/pushi/internal/broker"
	"github.com/pushi-dev/pushi/internal/errors"
	"github.com/pushi-dev/pushi/internal/middleware"
	"github.com/pushi-dev/pushi/internal/wsconn"
)

// Handler serves the control-plane HTTP endpoints. It holds the broker for
// live operations (Trigger, AppByID, adapter/alias mutation) and the
// Repository directly for the app CRUD that the broker does not own.
type Handler struct {
	repo   app.Repository
	broker *broker.Broker
	jwt    *auth.JWTManager
	hasher *auth.TokenHasher
}

// NewHandler creates a control-plane Handler.
func NewHandler(repo app.Repository, b *broker.Broker, jwtManager *auth.JWTManager) *Handler {
	return &Handler{repo: repo, broker: b, jwt: jwtManager, hasher: auth.NewTokenHasher()}
}

// NewAppRouter builds the engine that serves nothing but the WebSocket
// upgrade at `/<app_key>` (spec section 4.1).
func NewAppRouter(mgr *wsconn.Manager) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), errors.Recovery())
	r.GET("/:app_key", func(c *gin.Context) {
		mgr.ServeWS(c.Writer, c.Request, c.Param("app_key"))
	})
	return r
}

// NewControlRouter builds the REST control plane: admin login, app CRUD,
// event publishing, and subscription management.
func NewControlRouter(h *Handler, authHandler *auth.Handler, jwtManager *auth.JWTManager) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		errors.Recovery(),
		middleware.StructuredLogger(),
		middleware.Timeout(middleware.DefaultTimeoutConfig()),
		middleware.SecurityHeaders(),
		middleware.DefaultSizeLimiter(),
		middleware.Gzip(middleware.DefaultCompression),
		errors.ErrorHandler(),
	)

	authHandler.RegisterRoutes(&r.RouterGroup)

	admin := r.Group("/apps", auth.AdminMiddleware(jwtManager))
	admin.GET("", h.ListApps)
	admin.GET("/:id", h.GetApp)
	admin.PUT("/:id", h.UpdateApp)
	admin.GET("/:id/subscriptions/:adapter", h.ListAdapterSubs)
	admin.POST("/:id/subscriptions/:adapter", h.AddAdapterSub)
	admin.DELETE("/:id/subscriptions/:adapter", h.RemoveAdapterSub)
	admin.POST("/:id/personal/:user_id", h.AddPersonalAlias)
	admin.DELETE("/:id/personal/:user_id", h.RemovePersonalAlias)

	r.POST("/apps", auth.AdminMiddleware(jwtManager), h.CreateApp)
	r.GET("/apps/vapid_key", h.VapidKey)
	r.GET("/apps/:id/ping", h.Ping)
	r.POST("/apps/:id/events", h.PublishEvent)

	return r
}
