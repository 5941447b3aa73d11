package handler

import (
	"net/http"

	"wa-bridge/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// clients authenticate with the API key; origin is not checked
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GET /ws streams session status and QR events.
func WebSocketHandler(hub *ws.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade error")
			return err
		}

		client := ws.NewClient(hub, conn)
		if !hub.Register(client) {
			_ = conn.Close()
			return nil
		}

		go client.WritePump()
		go client.ReadPump()

		return nil
	}
}
