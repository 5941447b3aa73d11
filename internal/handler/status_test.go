package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wa-bridge/internal/model"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type stubCounter int

func (c stubCounter) ClientCount() int { return int(c) }

func TestHealth(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	require.NoError(t, Health(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"success":true`)
}

func TestGetStatus(t *testing.T) {
	tests := []struct {
		name      string
		sessions  *stubSessions
		wantState string
		wantReady bool
		wantJID   string
	}{
		{"open", &stubSessions{ready: true, handle: &stubHandle{}, state: model.StateOpen}, "open", true, "15550000000@s.whatsapp.net"},
		{"connecting", &stubSessions{state: model.StateConnecting}, "connecting", false, ""},
		{"logged out", &stubSessions{state: model.StateLoggedOut}, "logged_out", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/status", nil), rec)
			require.NoError(t, GetStatus(tt.sessions, stubCounter(2))(c))
			require.Equal(t, http.StatusOK, rec.Code)

			var out struct {
				Success bool `json:"success"`
				Data    struct {
					State     string `json:"state"`
					Ready     bool   `json:"ready"`
					LoggedOut bool   `json:"loggedOut"`
					JID       string `json:"jid"`
					WsClients int    `json:"wsClients"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
			require.True(t, out.Success)
			require.Equal(t, tt.wantState, out.Data.State)
			require.Equal(t, tt.wantReady, out.Data.Ready)
			require.Equal(t, tt.wantJID, out.Data.JID)
			require.Equal(t, 2, out.Data.WsClients)
			require.Equal(t, tt.sessions.state == model.StateLoggedOut, out.Data.LoggedOut)
		})
	}
}
