package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/errors"
	"github.com/pushi-dev/pushi/internal/validator"
)

// appDTO is the app representation returned over the wire. Secret is only
// ever populated by CreateApp, per spec section 4.6 ("only chance to see
// the secret").
type appDTO struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	Secret     string `json:"secret,omitempty"`
	Name       string `json:"name"`
	SMTPURL    string `json:"smtp_url,omitempty"`
	VapidEmail string `json:"vapid_email,omitempty"`
}

func toDTO(a *app.App) appDTO {
	return appDTO{ID: a.ID, Key: a.Key, Name: a.Name, SMTPURL: a.SMTPURL, VapidEmail: a.VapidEmail}
}

type createAppRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateApp provisions a new app: a key/secret credential pair and a VAPID
// key pair (Web Push needs one per App), then registers it on the live
// broker so it is immediately reachable without a restart.
func (h *Handler) CreateApp(c *gin.Context) {
	var req createAppRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	key, err := h.hasher.GenerateAppKey()
	if err != nil {
		errors.AbortWithError(c, errors.InternalServer("failed to generate app key"))
		return
	}
	secret, err := h.hasher.GenerateAppSecret()
	if err != nil {
		errors.AbortWithError(c, errors.InternalServer("failed to generate app secret"))
		return
	}
	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		errors.AbortWithError(c, errors.InternalServer("failed to generate VAPID key pair"))
		return
	}

	a := &app.App{
		ID:          uuid.New().String(),
		Key:         key,
		Secret:      secret,
		Name:        req.Name,
		VapidKey:    vapidPrivate,
		VapidPublic: vapidPublic,
	}
	if err := h.repo.CreateApp(c.Request.Context(), a); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to create app", err))
		return
	}
	h.broker.RegisterApp(a)

	dto := toDTO(a)
	dto.Secret = secret
	c.JSON(http.StatusCreated, dto)
}

// ListApps returns every app (admin only, spec section 4.6).
func (h *Handler) ListApps(c *gin.Context) {
	apps, err := h.repo.ListApps(c.Request.Context())
	if err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to list apps", err))
		return
	}
	dtos := make([]appDTO, 0, len(apps))
	for _, a := range apps {
		dtos = append(dtos, toDTO(a))
	}
	c.JSON(http.StatusOK, dtos)
}

// GetApp shows a single app by ID.
func (h *Handler) GetApp(c *gin.Context) {
	a, ok := h.broker.AppByID(c.Param("id"))
	if !ok {
		errors.AbortWithError(c, errors.NotFound("app"))
		return
	}
	c.JSON(http.StatusOK, toDTO(a))
}

type updateAppRequest struct {
	Name       *string `json:"name"`
	SMTPURL    *string `json:"smtp_url"`
	APNKey     *string `json:"apn_key"`
	APNCert    *string `json:"apn_cer"`
	VapidEmail *string `json:"vapid_email"`
}

// UpdateApp applies a partial update to an app's non-identity fields
// (id, key, and secret are immutable after creation).
func (h *Handler) UpdateApp(c *gin.Context) {
	a, ok := h.broker.AppByID(c.Param("id"))
	if !ok {
		errors.AbortWithError(c, errors.NotFound("app"))
		return
	}

	var req updateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errors.AbortWithError(c, errors.BadRequest("invalid request body"))
		return
	}

	updated := *a
	if req.Name != nil {
		updated.Name = *req.Name
	}
	if req.SMTPURL != nil {
		updated.SMTPURL = *req.SMTPURL
	}
	if req.APNKey != nil {
		updated.APNKey = *req.APNKey
	}
	if req.APNCert != nil {
		updated.APNCert = *req.APNCert
	}
	if req.VapidEmail != nil {
		updated.VapidEmail = *req.VapidEmail
	}

	if err := h.repo.UpdateApp(c.Request.Context(), &updated); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to update app", err))
		return
	}
	h.broker.RegisterApp(&updated)
	c.JSON(http.StatusOK, toDTO(&updated))
}

// Ping triggers a `ping` event on channel `ping`, for health-checking that
// an app's live fan-out path works end to end.
func (h *Handler) Ping(c *gin.Context) {
	appID := c.Param("id")
	if !h.authorizePublisher(c, appID, c.Query("app_key"), c.Query("app_secret")) {
		return
	}
	if err := h.broker.Trigger(c.Request.Context(), appID, "ping", `{}`, []string{"ping"}, "", true, true); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "ping failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type eventRequest struct {
	Event     string          `json:"event" binding:"required" validate:"required,eventname"`
	Channel   string          `json:"channel" binding:"required" validate:"required,channelname"`
	Data      json.RawMessage `json:"data" binding:"required"`
	AppKey    string          `json:"app_key"`
	AppSecret string          `json:"app_secret"`
}

// PublishEvent is the HTTP publish path (spec section 4.6): fans the event
// out to live subscribers of Channel and to any out-of-band adapter
// subscribed under it, identically to a client-triggered event except that
// there is no owning socket to echo-suppress.
func (h *Handler) PublishEvent(c *gin.Context) {
	appID := c.Param("id")
	var req eventRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if !h.authorizePublisher(c, appID, req.AppKey, req.AppSecret) {
		return
	}

	if err := h.broker.Trigger(c.Request.Context(), appID, req.Event, string(req.Data), []string{req.Channel}, "", true, true); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "publish failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// VapidKey returns the VAPID public key an app needs to register a
// browser for Web Push (spec section 4.6).
func (h *Handler) VapidKey(c *gin.Context) {
	appID := c.Query("app_id")
	a, ok := h.broker.AppByID(appID)
	if !ok {
		errors.AbortWithError(c, errors.NotFound("app"))
		return
	}
	if a.VapidPublic == "" {
		errors.AbortWithError(c, errors.Operational("app has no VAPID key pair configured"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"vapid_key": a.VapidPublic})
}

// authorizePublisher enforces spec section 4.5's HTTP publish auth policy:
// a valid admin session, or an exact (app_key, app_secret) match against
// the named app's record.
func (h *Handler) authorizePublisher(c *gin.Context, appID, appKey, appSecret string) bool {
	a, ok := h.broker.AppByID(appID)
	if !ok {
		errors.AbortWithError(c, errors.NotFound("app"))
		return false
	}

	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !validAdminBearer(authHeader, h.jwt) {
			errors.AbortWithError(c, errors.Auth("invalid admin token"))
			return false
		}
		return true
	}

	if appKey == "" || appSecret == "" || appKey != a.Key || appSecret != a.Secret {
		errors.AbortWithError(c, errors.Auth("admin session or app credentials required"))
		return false
	}
	return true
}
