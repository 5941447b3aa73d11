package model

import "time"

type ChatKind int

const (
	ChatOther ChatKind = iota
	ChatUser
	ChatGroup
)

func (k ChatKind) String() string {
	switch k {
	case ChatUser:
		return "user"
	case ChatGroup:
		return "group"
	default:
		return "other"
	}
}

// InboundMessage is built per received message and dropped after the forward attempt.
type InboundMessage struct {
	ID         string
	RemoteJID  string
	SenderID   string
	Text       string
	IsSelfSent bool
	ChatKind   ChatKind
	Timestamp  time.Time
}

type BatchKind int

const (
	// BatchLive messages arrived in real time.
	BatchLive BatchKind = iota
	// BatchHistory messages are a history-sync replay.
	BatchHistory
)

func (k BatchKind) String() string {
	if k == BatchHistory {
		return "history"
	}
	return "live"
}

type MessageBatch struct {
	Kind     BatchKind
	Messages []InboundMessage
}
