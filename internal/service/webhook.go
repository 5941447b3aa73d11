package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wa-bridge/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ForwarderOptions struct {
	WebhookURL string
	// Sent as X-Webhook-Token when set
	Token     string
	Timeout   time.Duration
	QueueSize int
	// defaults to an http.Client with Timeout
	Client *http.Client
}

// Forwarder relays live inbound messages to the backend webhook.
// Delivery is at-most-once: failures are logged and the message is dropped.
type Forwarder struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
	queue   chan model.MessageBatch
}

func NewForwarder(opts ForwarderOptions) *Forwarder {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 256
	}
	return &Forwarder{
		url:     opts.WebhookURL,
		token:   opts.Token,
		timeout: timeout,
		client:  client,
		queue:   make(chan model.MessageBatch, size),
	}
}

// Enqueue hands a batch to Run without ever blocking the session loop.
func (f *Forwarder) Enqueue(batch model.MessageBatch) {
	select {
	case f.queue <- batch:
	default:
		log.Warn().Int("messages", len(batch.Messages)).Msg("webhook: forward queue full, dropping batch")
	}
}

// Run forwards queued batches in arrival order until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-f.queue:
			f.HandleBatch(ctx, batch)
		}
	}
}

// Qualifies returns the text to forward, or false when msg must not reach the backend.
func Qualifies(msg model.InboundMessage) (string, bool) {
	if msg.IsSelfSent {
		return "", false
	}
	if msg.ChatKind != model.ChatUser {
		return "", false
	}
	if msg.Text == "" {
		return "", false
	}
	return msg.Text, true
}

// HandleBatch forwards every qualifying message of a live batch, one at a time.
// It returns how many were delivered.
func (f *Forwarder) HandleBatch(ctx context.Context, batch model.MessageBatch) int {
	if batch.Kind != model.BatchLive {
		log.Debug().Str("kind", batch.Kind.String()).Int("messages", len(batch.Messages)).Msg("webhook: skipping non-live batch")
		return 0
	}

	delivered := 0
	for _, msg := range batch.Messages {
		text, ok := Qualifies(msg)
		if !ok {
			continue
		}
		log.Info().Str("sender", msg.SenderID).Str("id", msg.ID).Msg("Received message")

		// The error is only logged: losing one message beats stalling the session.
		if err := f.Forward(ctx, model.WebhookPayload{Sender: msg.SenderID, Message: text}); err != nil {
			log.Error().Err(err).Str("sender", msg.SenderID).Msg("Failed to forward message to bot")
			continue
		}
		delivered++
	}
	return delivered
}

// Forward posts one payload to the webhook.
func (f *Forwarder) Forward(ctx context.Context, payload model.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	if f.token != "" {
		req.Header.Set("X-Webhook-Token", f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: backend responded %d", resp.StatusCode)
	}
	return nil
}
