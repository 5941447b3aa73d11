package helper

import (
	"fmt"
	"regexp"
	"strings"

	"wa-bridge/internal/model"

	"go.mau.fi/whatsmeow/types"
)

var (
	validPhoneFormat = regexp.MustCompile(`^[\d\s\+\-\(\)\.]+$`)
	nonDigit         = regexp.MustCompile(`[^\d]`)
)

// FormatPhoneNumber converts an international phone number to a user JID.
// Formatting characters are allowed and stripped; no country code is assumed.
func FormatPhoneNumber(phone string) (types.JID, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return types.JID{}, fmt.Errorf("phone number is empty")
	}
	if !validPhoneFormat.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigit.ReplaceAllString(phone, "")

	// E.164 caps numbers at 15 digits
	if len(cleaned) < 7 || len(cleaned) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number length")
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

func ExtractPhoneFromJID(jid string) string {
	// "6285148107612:43@s.whatsapp.net" -> "6285148107612"
	atSplit := strings.SplitN(jid, "@", 2)
	beforeAt := atSplit[0]
	colonSplit := strings.SplitN(beforeAt, ":", 2)
	return colonSplit[0]
}

// ClassifyChat only treats phone-number user chats as individual conversations.
func ClassifyChat(chat types.JID) model.ChatKind {
	switch chat.Server {
	case types.DefaultUserServer:
		return model.ChatUser
	case types.GroupServer:
		return model.ChatGroup
	default:
		return model.ChatOther
	}
}

// MessageText picks the first non-empty body.
func MessageText(plain, extended string) string {
	if plain != "" {
		return plain
	}
	return extended
}
