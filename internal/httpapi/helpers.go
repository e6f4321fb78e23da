package httpapi

import (
	"context"
	"strings"

	"github.com/pushi-dev/pushi/internal/auth"
)

// validAdminBearer reports whether authHeader carries a valid, live admin
// session token. Unlike auth.AdminMiddleware it never aborts the request,
// since callers fall back to app-credential auth when it fails.
func validAdminBearer(authHeader string, jwtManager *auth.JWTManager) bool {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}
	claims, err := jwtManager.ValidateToken(parts[1])
	if err != nil {
		return false
	}
	if claims.ID == "" {
		return true
	}
	valid, err := jwtManager.ValidateSession(context.Background(), claims.ID)
	return err == nil && valid
}
