package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const HeaderAPIKey = "X-Api-Key"

// APIKeyMiddleware compares the trimmed X-Api-Key header against expected.
// An empty expected key leaves the routes open.
func APIKeyMiddleware(expected string) echo.MiddlewareFunc {
	expected = strings.TrimSpace(expected)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if expected == "" {
				return next(c)
			}

			got := strings.TrimSpace(c.Request().Header.Get(HeaderAPIKey))
			if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"success": false,
					"error":   "Unauthorized",
				})
			}
			return next(c)
		}
	}
}
