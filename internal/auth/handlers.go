// Package auth: HTTP handlers for the admin side of the login flow named
// in spec section 4.5 ("session-based admin login (username/password)").
//
// There is a single admin identity per deployment, configured via
// ADMIN_USERNAME / ADMIN_PASSWORD_HASH (bcrypt) at startup — there is no
// admin user CRUD, admin UI, or SSO in this system (spec section 1,
// Out of scope).
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminCredentials holds the single configured admin identity.
type AdminCredentials struct {
	AdminID      string
	Username     string
	PasswordHash string
}

// Handler serves the admin auth endpoints.
type Handler struct {
	creds      AdminCredentials
	jwtManager *JWTManager
	hasher     *TokenHasher
}

// NewHandler creates an auth Handler.
func NewHandler(creds AdminCredentials, jwtManager *JWTManager) *Handler {
	return &Handler{creds: creds, jwtManager: jwtManager, hasher: NewTokenHasher()}
}

// RegisterRoutes mounts /auth/login, /auth/refresh, /auth/logout.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/auth/login", h.Login)
	rg.POST("/auth/refresh", h.Refresh)
	rg.POST("/auth/logout", AdminMiddleware(h.jwtManager), h.Logout)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login verifies username/password against the configured admin and
// issues a session-tracked JWT.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Username != h.creds.Username || !h.hasher.VerifyPassword(req.Password, h.creds.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	token, err := h.jwtManager.GenerateTokenWithContext(c.Request.Context(), h.creds.AdminID, h.creds.Username, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

type refreshRequest struct {
	Token string `json:"token" binding:"required"`
}

// Refresh renews a token that is within its 7-day refresh window.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	newToken, err := h.jwtManager.RefreshToken(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

// Logout invalidates the caller's current session.
func (h *Handler) Logout(c *gin.Context) {
	sessionID, _ := GetSessionID(c)
	if sessionID != "" {
		_ = h.jwtManager.InvalidateSession(c.Request.Context(), sessionID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
