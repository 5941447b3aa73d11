package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"wa-bridge/internal/helper"
	"wa-bridge/internal/model"
	"wa-bridge/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// SessionProvider is the slice of SessionManager the gateway needs.
type SessionProvider interface {
	IsReady() bool
	Handle() (service.Handle, bool)
}

// POST /send-message
//
// Readiness is checked before anything else, so a caller talking to a disconnected
// bridge always gets 503. The lookup-then-send pair is not atomic.
func SendMessage(sessions SessionProvider, lookupTimeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !sessions.IsReady() {
			return ErrorResponse(c, http.StatusServiceUnavailable, "WhatsApp not connected", "NOT_CONNECTED", "")
		}
		session, ok := sessions.Handle()
		if !ok {
			return ErrorResponse(c, http.StatusServiceUnavailable, "WhatsApp not connected", "NOT_CONNECTED", "")
		}

		var req model.SendMessageRequest
		if err := c.Bind(&req); err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
		if strings.TrimSpace(req.Phone) == "" || req.Message == "" {
			return ErrorResponse(c, http.StatusBadRequest, "Field 'phone' and 'message' are required", "VALIDATION_ERROR", "")
		}

		recipient, err := helper.FormatPhoneNumber(req.Phone)
		if err != nil {
			return ErrorResponse(c, http.StatusBadRequest, "Invalid phone number", "INVALID_PHONE", err.Error())
		}

		ctx := c.Request().Context()
		exists, err := service.LookupWithTimeout(ctx, session, recipient, lookupTimeout)
		if err != nil {
			if errors.Is(err, service.ErrLookupTimeout) {
				log.Warn().Str("to", recipient.User).Dur("timeout", lookupTimeout).Msg("WhatsApp lookup timed out")
			} else {
				log.Error().Err(err).Str("to", recipient.User).Msg("WhatsApp lookup failed")
			}
			return ErrorResponse(c, http.StatusInternalServerError, err.Error(), "LOOKUP_FAILED", "")
		}
		if !exists {
			return ErrorResponse(c, http.StatusNotFound, "Number not registered on WhatsApp", "PHONE_NOT_REGISTERED", "")
		}

		ack, err := session.Send(ctx, recipient, req.Message)
		if err != nil {
			log.Error().Err(err).Str("to", recipient.User).Msg("Failed to send message")
			return ErrorResponse(c, http.StatusInternalServerError, err.Error(), "SEND_FAILED", "")
		}

		log.Info().Str("to", recipient.User).Str("id", ack.MessageID).Msg("Message sent")
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success":   true,
			"status":    "sent",
			"to":        recipient.String(),
			"messageId": ack.MessageID,
		})
	}
}
