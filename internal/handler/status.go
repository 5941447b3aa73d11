package handler

import (
	"net/http"

	"wa-bridge/internal/model"

	"github.com/labstack/echo/v4"
)

// Version is reported by the health check, set at build time with -ldflags.
var Version = "dev"

type StatusProvider interface {
	IsReady() bool
	State() model.ConnectionState
	JID() string
}

// GET /
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "WhatsApp bridge is running",
		"version": Version,
	})
}

type ClientCounter interface {
	ClientCount() int
}

// GET /status
func GetStatus(sessions StatusProvider, realtime ClientCounter) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := sessions.State()
		return SuccessResponse(c, http.StatusOK, "Status retrieved", map[string]interface{}{
			"state":     state.String(),
			"ready":     sessions.IsReady(),
			"loggedOut": state == model.StateLoggedOut,
			"jid":       sessions.JID(),
			"wsClients": realtime.ClientCount(),
		})
	}
}
