package ws

import "time"

const (
	EventStatusChanged = "session.status_changed"
	EventQRGenerated   = "session.qr"
)

// WsEvent is the envelope sent to every websocket client.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type StatusChangedData struct {
	State   string `json:"state"`
	Ready   bool   `json:"ready"`
	JID     string `json:"jid,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Attempt uint64 `json:"attempt"`
}

type QRGeneratedData struct {
	QRData    string    `json:"qr_data"`
	ExpiresAt time.Time `json:"expires_at"`
}
