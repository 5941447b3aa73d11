package model

import (
	"time"

	"go.mau.fi/whatsmeow/store"
)

// ConnectionState of the single bridge session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateLoggedOut
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// IsTerminal is true once the session can no longer recover without the operator.
func (s ConnectionState) IsTerminal() bool {
	return s == StateLoggedOut
}

// CloseReason classifies why a session closed.
type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	ReasonConnectionLost
	ReasonConnectFailure
	ReasonStreamReplaced
	ReasonTimedOut
	ReasonLoggedOut
)

func (r CloseReason) String() string {
	switch r {
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonConnectFailure:
		return "connect_failure"
	case ReasonStreamReplaced:
		return "stream_replaced"
	case ReasonTimedOut:
		return "timed_out"
	case ReasonLoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// IsLoggedOut reports the terminal reason: the device was unlinked and must pair again.
func (r CloseReason) IsLoggedOut() bool {
	return r == ReasonLoggedOut
}

type UpdateKind int

const (
	UpdateQR UpdateKind = iota
	UpdateOpen
	UpdateClosed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateQR:
		return "qr"
	case UpdateOpen:
		return "open"
	case UpdateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionUpdate is a connection state notification from a chat session.
type ConnectionUpdate struct {
	Kind   UpdateKind
	QRCode string
	Reason CloseReason
	Err    error
}

// CredentialsUpdated is emitted when the session's device credentials change
// (pairing, identity refresh) and must be persisted.
type CredentialsUpdated struct {
	Device *store.Device
}

// Ack is returned by a successful send.
type Ack struct {
	MessageID string
	Timestamp time.Time
}
