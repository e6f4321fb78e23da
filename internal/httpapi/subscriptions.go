package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/errors"
	"github.com/pushi-dev/pushi/internal/validator"
)

// ListAdapterSubs lists the out-of-band subscriptions registered for one
// app against one adapter ("mobile", "webhook", "email", "web_push").
// This is a supplement beyond the wire protocol's own subscribe/unsubscribe
// frames: adapter subscriptions are managed out of band, by whatever
// system owns the target (a mobile app registering a device token, a
// webhook owner registering a callback URL), so they need their own admin
// surface rather than riding the WebSocket connection.
func (h *Handler) ListAdapterSubs(c *gin.Context) {
	ad, ok := h.broker.AdapterByName(c.Param("adapter"))
	if !ok {
		errors.AbortWithError(c, errors.NotFound("adapter"))
		return
	}
	c.JSON(http.StatusOK, ad.List(c.Param("id")))
}

type subscribeRequest struct {
	Target string            `json:"target" binding:"required"`
	Event  string            `json:"event" binding:"required" validate:"required,channelname"`
	Extras map[string]string `json:"extras"`
}

// AddAdapterSub registers a new out-of-band delivery target for an app/
// adapter/channel triple.
func (h *Handler) AddAdapterSub(c *gin.Context) {
	ad, ok := h.broker.AdapterByName(c.Param("adapter"))
	if !ok {
		errors.AbortWithError(c, errors.NotFound("adapter"))
		return
	}

	var req subscribeRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	sub := app.AdapterSub{AppID: c.Param("id"), Target: req.Target, Event: req.Event, Extras: req.Extras}
	if err := ad.Subscribe(c.Request.Context(), sub); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to add subscription", err))
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// RemoveAdapterSub removes a previously registered delivery target.
func (h *Handler) RemoveAdapterSub(c *gin.Context) {
	ad, ok := h.broker.AdapterByName(c.Param("adapter"))
	if !ok {
		errors.AbortWithError(c, errors.NotFound("adapter"))
		return
	}

	target, event := c.Query("target"), c.Query("event")
	if target == "" || event == "" {
		errors.AbortWithError(c, errors.BadRequest("target and event query parameters are required"))
		return
	}

	if err := ad.Unsubscribe(c.Request.Context(), c.Param("id"), target, event); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to remove subscription", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type personalAliasRequest struct {
	Channel string `json:"channel" binding:"required" validate:"required,channelname"`
}

// AddPersonalAlias maps a user's personal channel onto a concrete channel in
// the broker's per-app alias map: a socket that subscribes to the personal
// channel is subscribed to the concrete channel, and persisted events on the
// concrete channel are associated with the user. The adapters' shared alias
// map is not updated, so adapter subscriptions under the personal channel
// do not receive the concrete channel's events.
func (h *Handler) AddPersonalAlias(c *gin.Context) {
	var req personalAliasRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := h.broker.AddPersonalAlias(c.Request.Context(), c.Param("id"), c.Param("user_id"), req.Channel); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to add personal alias", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "ok"})
}

// RemovePersonalAlias is the inverse of AddPersonalAlias.
func (h *Handler) RemovePersonalAlias(c *gin.Context) {
	channel := c.Query("channel")
	if channel == "" {
		errors.AbortWithError(c, errors.BadRequest("channel query parameter is required"))
		return
	}
	if err := h.broker.RemovePersonalAlias(c.Request.Context(), c.Param("id"), c.Param("user_id"), channel); err != nil {
		errors.AbortWithError(c, errors.Wrap(errors.ErrCodeInternalServer, "failed to remove personal alias", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
