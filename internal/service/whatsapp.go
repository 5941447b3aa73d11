package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"wa-bridge/internal/helper"
	"wa-bridge/internal/model"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

var ErrSessionClosed = errors.New("session closed")

// WhatsmeowDialer opens whatsmeow clients. Reconnection is left to SessionManager,
// so the client's own auto-reconnect is switched off.
type WhatsmeowDialer struct {
	Log waLog.Logger
}

func (d *WhatsmeowDialer) Dial(ctx context.Context, device *store.Device, emit func(evt interface{})) (Handle, error) {
	logger := d.Log
	if logger == nil {
		logger = waLog.Noop
	}

	client := whatsmeow.NewClient(device, logger)
	client.EnableAutoReconnect = false

	qrCtx, cancelQR := context.WithCancel(ctx)
	s := &whatsmeowSession{client: client, cancelQR: cancelQR}
	client.AddEventHandler(func(evt interface{}) {
		if out := s.translate(evt); out != nil {
			emit(out)
		}
	})

	// must be requested before Connect; paired devices have no QR channel
	if device.ID == nil {
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancelQR()
			client.RemoveEventHandlers()
			return nil, fmt.Errorf("failed to get qr channel: %w", err)
		}
		go forwardQRCodes(qrCtx, qrChan, emit)
	}

	if err := client.Connect(); err != nil {
		cancelQR()
		client.RemoveEventHandlers()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return s, nil
}

// forwardQRCodes emits every rotating pairing code as it becomes current. A pairing
// window that ends without success is reported as a close so the manager redials.
// whatsmeow only closes items once codes were emitted, so ctx ends the loop too.
func forwardQRCodes(ctx context.Context, items <-chan whatsmeow.QRChannelItem, emit func(evt interface{})) {
	for {
		var item whatsmeow.QRChannelItem
		select {
		case <-ctx.Done():
			return
		case it, ok := <-items:
			if !ok {
				return
			}
			item = it
		}

		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			emit(model.ConnectionUpdate{Kind: model.UpdateQR, QRCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			log.Info().Msg("✓ QR code scanned")
		case whatsmeow.QRChannelTimeout.Event:
			emit(model.ConnectionUpdate{
				Kind:   model.UpdateClosed,
				Reason: model.ReasonTimedOut,
				Err:    errors.New("qr pairing timed out"),
			})
		default:
			err := item.Error
			if err == nil {
				err = fmt.Errorf("pairing failed: %s", item.Event)
			}
			emit(model.ConnectionUpdate{Kind: model.UpdateClosed, Reason: model.ReasonConnectFailure, Err: err})
		}
	}
}

// whatsmeowSession is a Handle over one whatsmeow client.
type whatsmeowSession struct {
	client   *whatsmeow.Client
	cancelQR context.CancelFunc
	closed   atomic.Bool
}

func (s *whatsmeowSession) Lookup(ctx context.Context, jid types.JID) (bool, error) {
	if s.closed.Load() {
		return false, ErrSessionClosed
	}
	resp, err := s.client.IsOnWhatsApp(ctx, []string{jid.User})
	if err != nil {
		return false, err
	}
	return len(resp) > 0 && resp[0].IsIn, nil
}

func (s *whatsmeowSession) Send(ctx context.Context, jid types.JID, text string) (model.Ack, error) {
	if s.closed.Load() {
		return model.Ack{}, ErrSessionClosed
	}
	msg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	resp, err := s.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return model.Ack{}, err
	}
	return model.Ack{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (s *whatsmeowSession) JID() types.JID {
	if s.client.Store == nil || s.client.Store.ID == nil {
		return types.JID{}
	}
	return *s.client.Store.ID
}

func (s *whatsmeowSession) Close() {
	if s.closed.Swap(true) {
		return
	}
	if s.cancelQR != nil {
		s.cancelQR()
	}
	s.client.RemoveEventHandlers()
	s.client.Disconnect()
}

// translate maps whatsmeow events to bridge events; nil means not interesting.
func (s *whatsmeowSession) translate(evt interface{}) interface{} {
	switch v := evt.(type) {
	case *events.QR:
		// rotated one at a time by forwardQRCodes
		return nil

	case *events.Connected:
		// Mark the device online so WhatsApp delivers to it like a phone
		if s.client.Store.PushName != "" {
			if err := s.client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
				log.Warn().Err(err).Msg("Failed to send presence")
			}
		}
		return model.ConnectionUpdate{Kind: model.UpdateOpen}

	case *events.PairSuccess:
		log.Info().Str("jid", v.ID.String()).Str("platform", v.Platform).Msg("✓ Pair success")
		return model.CredentialsUpdated{Device: s.client.Store}

	case *events.PushNameSetting:
		return model.CredentialsUpdated{Device: s.client.Store}

	case *events.Disconnected:
		return model.ConnectionUpdate{Kind: model.UpdateClosed, Reason: model.ReasonConnectionLost}

	case *events.LoggedOut:
		return model.ConnectionUpdate{
			Kind:   model.UpdateClosed,
			Reason: model.ReasonLoggedOut,
			Err:    fmt.Errorf("logged out (on connect: %v): %v", v.OnConnect, v.Reason),
		}

	case *events.ConnectFailure:
		// logout reasons arrive as *events.LoggedOut instead
		return model.ConnectionUpdate{
			Kind:   model.UpdateClosed,
			Reason: model.ReasonConnectFailure,
			Err:    fmt.Errorf("connect failure %v: %s", v.Reason, v.Message),
		}

	case *events.StreamReplaced:
		return model.ConnectionUpdate{Kind: model.UpdateClosed, Reason: model.ReasonStreamReplaced}

	case *events.TemporaryBan:
		return model.ConnectionUpdate{
			Kind:   model.UpdateClosed,
			Reason: model.ReasonConnectFailure,
			Err:    fmt.Errorf("temporary ban: %s", v.String()),
		}

	case *events.ClientOutdated:
		return model.ConnectionUpdate{
			Kind:   model.UpdateClosed,
			Reason: model.ReasonConnectFailure,
			Err:    errors.New("client outdated"),
		}

	case *events.KeepAliveTimeout:
		// with auto-reconnect off whatsmeow keeps a dead socket past KeepAliveMaxFailTime;
		// report it closed so the manager redials.
		if time.Since(v.LastSuccess) > whatsmeow.KeepAliveMaxFailTime {
			return model.ConnectionUpdate{
				Kind:   model.UpdateClosed,
				Reason: model.ReasonTimedOut,
				Err:    fmt.Errorf("keepalive failed %d times", v.ErrorCount),
			}
		}
		log.Warn().Int("errors", v.ErrorCount).Msg("Keepalive timeout")
		return nil

	case *events.StreamError:
		log.Warn().Str("code", v.Code).Msg("Stream error")
		return nil

	case *events.Message:
		return model.MessageBatch{
			Kind:     model.BatchLive,
			Messages: []model.InboundMessage{inboundFromEvent(v)},
		}

	case *events.HistorySync:
		return s.historyBatch(v)
	}
	return nil
}

func (s *whatsmeowSession) historyBatch(evt *events.HistorySync) interface{} {
	batch := model.MessageBatch{Kind: model.BatchHistory}
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		for _, hm := range conv.GetMessages() {
			parsed, err := s.client.ParseWebMessage(chatJID, hm.GetMessage())
			if err != nil {
				continue
			}
			batch.Messages = append(batch.Messages, inboundFromEvent(parsed))
		}
	}
	if len(batch.Messages) == 0 {
		return nil
	}
	return batch
}

func inboundFromEvent(evt *events.Message) model.InboundMessage {
	info := evt.Info
	return model.InboundMessage{
		ID:         info.ID,
		RemoteJID:  info.Chat.String(),
		SenderID:   helper.ExtractPhoneFromJID(info.Chat.String()),
		Text:       helper.MessageText(evt.Message.GetConversation(), evt.Message.GetExtendedTextMessage().GetText()),
		IsSelfSent: info.IsFromMe,
		ChatKind:   helper.ClassifyChat(info.Chat),
		Timestamp:  info.Timestamp,
	}
}
