package handler

import (
	"github.com/labstack/echo/v4"
)

// ErrorResponse writes the bridge's JSON error body. The "error" field carries the
// human readable message callers match on.
func ErrorResponse(c echo.Context, statusCode int, message, errorCode, details string) error {
	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if errorCode != "" {
		resp["code"] = errorCode
	}
	if details != "" {
		resp["details"] = details
	}
	return c.JSON(statusCode, resp)
}

func SuccessResponse(c echo.Context, statusCode int, message string, data interface{}) error {
	resp := map[string]interface{}{
		"success": true,
		"message": message,
	}
	if data != nil {
		resp["data"] = data
	}
	return c.JSON(statusCode, resp)
}
