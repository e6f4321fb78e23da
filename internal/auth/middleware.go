// Package auth: Gin middleware enforcing the two HTTP publish auth modes
// from spec section 4.5 — session-based admin login, and machine-publisher
// credentials (app_id, app_key, app_secret) checked against the App record.
package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminMiddleware requires a valid, session-tracked admin JWT. On success
// it sets "admin_id", "username", and "session_id" in the Gin context.
func AdminMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required: Bearer <token>"})
			c.Abort()
			return
		}

		claims, err := jwtManager.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token", "message": err.Error()})
			c.Abort()
			return
		}

		if claims.ID != "" {
			valid, err := jwtManager.ValidateSession(c.Request.Context(), claims.ID)
			if err != nil || !valid {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired or invalidated"})
				c.Abort()
				return
			}
		}

		c.Set("admin_id", claims.AdminID)
		c.Set("username", claims.Username)
		c.Set("session_id", claims.ID)
		c.Next()
	}
}

// GetAdminID extracts the admin ID from the Gin context.
func GetAdminID(c *gin.Context) (string, bool) {
	v, exists := c.Get("admin_id")
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// GetSessionID extracts the session ID from the Gin context.
func GetSessionID(c *gin.Context) (string, bool) {
	v, exists := c.Get("session_id")
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
