package mw

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// UserIDKey is the echo.Context key holding the authenticated user id.
const UserIDKey = "userID"

// Verifier resolves an access token to a user id.
type Verifier interface {
	Verify(token string) (string, error)
}

// JWTAuth validates the Bearer token and stores the user id in echo.Context.
func JWTAuth(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			userID, err := v.Verify(tokenStr)
			if err != nil {
				log.Warn().Err(err).Str("path", c.Path()).Msg("JWT verification failed")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the id set by JWTAuth.
func UserID(c echo.Context) string {
	id, _ := c.Get(UserIDKey).(string)
	return id
}
