package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wa-bridge/internal/model"

	"github.com/stretchr/testify/require"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []model.WebhookPayload
	tokens   []string
	delivery []string
}

func (r *webhookRecorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var p model.WebhookPayload
		_ = json.NewDecoder(req.Body).Decode(&p)
		r.mu.Lock()
		r.payloads = append(r.payloads, p)
		r.tokens = append(r.tokens, req.Header.Get("X-Webhook-Token"))
		r.delivery = append(r.delivery, req.Header.Get("X-Delivery-Id"))
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *webhookRecorder) senders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		out = append(out, p.Sender)
	}
	return out
}

func userMsg(sender, text string) model.InboundMessage {
	return model.InboundMessage{
		ID:        "ID-" + sender,
		RemoteJID: sender + "@s.whatsapp.net",
		SenderID:  sender,
		Text:      text,
		ChatKind:  model.ChatUser,
	}
}

func TestQualifies(t *testing.T) {
	self := userMsg("111", "hello")
	self.IsSelfSent = true
	group := userMsg("222", "hello")
	group.ChatKind = model.ChatGroup
	other := userMsg("333", "hello")
	other.ChatKind = model.ChatOther

	tests := []struct {
		name string
		msg  model.InboundMessage
		want bool
	}{
		{"user text", userMsg("444", "hello"), true},
		{"self sent", self, false},
		{"group", group, false},
		{"broadcast or system", other, false},
		{"empty text", userMsg("555", ""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := Qualifies(tt.msg)
			require.Equal(t, tt.want, ok)
			if ok {
				require.Equal(t, tt.msg.Text, text)
			}
		})
	}
}

func TestHandleBatchForwardsInOrder(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL, Token: "s3cret"})

	self := userMsg("999", "loop")
	self.IsSelfSent = true
	group := userMsg("888", "group chatter")
	group.ChatKind = model.ChatGroup

	batch := model.MessageBatch{Kind: model.BatchLive, Messages: []model.InboundMessage{
		userMsg("111", "first"),
		self,
		group,
		userMsg("222", ""),
		userMsg("333", "second"),
	}}

	delivered := f.HandleBatch(context.Background(), batch)
	require.Equal(t, 2, delivered)
	require.Equal(t, []string{"111", "333"}, rec.senders())
	require.Equal(t, "first", rec.payloads[0].Message)
	require.Equal(t, "second", rec.payloads[1].Message)
	require.Equal(t, []string{"s3cret", "s3cret"}, rec.tokens)
	require.NotEmpty(t, rec.delivery[0])
	require.NotEqual(t, rec.delivery[0], rec.delivery[1])
}

func TestHandleBatchOmitsTokenWhenUnset(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer srv.Close()

	f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL})
	require.Equal(t, 1, f.HandleBatch(context.Background(), model.MessageBatch{
		Kind:     model.BatchLive,
		Messages: []model.InboundMessage{userMsg("111", "hi")},
	}))
	require.Equal(t, []string{""}, rec.tokens)
}

func TestHandleBatchSkipsHistory(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL})
	delivered := f.HandleBatch(context.Background(), model.MessageBatch{
		Kind:     model.BatchHistory,
		Messages: []model.InboundMessage{userMsg("111", "old news")},
	})
	require.Zero(t, delivered)
	require.Empty(t, rec.senders())
}

func TestFailedForwardIsDroppedAndNextContinues(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL})
	delivered := f.HandleBatch(context.Background(), model.MessageBatch{
		Kind:     model.BatchLive,
		Messages: []model.InboundMessage{userMsg("111", "a"), userMsg("222", "b")},
	})
	require.Equal(t, 1, delivered)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, calls, "no retry of the failed message")
}

func TestForwardErrors(t *testing.T) {
	t.Run("non 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL})
		require.ErrorContains(t, f.Forward(context.Background(), model.WebhookPayload{Sender: "1", Message: "x"}), "502")
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL, Timeout: 30 * time.Millisecond})
		start := time.Now()
		require.Error(t, f.Forward(context.Background(), model.WebhookPayload{Sender: "1", Message: "x"}))
		require.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("unreachable", func(t *testing.T) {
		f := NewForwarder(ForwarderOptions{WebhookURL: "http://127.0.0.1:1/webhook"})
		require.Error(t, f.Forward(context.Background(), model.WebhookPayload{Sender: "1", Message: "x"}))
	})
}

func TestEnqueueNeverBlocks(t *testing.T) {
	f := NewForwarder(ForwarderOptions{WebhookURL: "http://127.0.0.1:1", QueueSize: 1})
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.Enqueue(model.MessageBatch{Kind: model.BatchLive})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	require.Len(t, f.queue, 1)
}

func TestRunDrainsQueue(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	f := NewForwarder(ForwarderOptions{WebhookURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()

	f.Enqueue(model.MessageBatch{Kind: model.BatchLive, Messages: []model.InboundMessage{userMsg("111", "a")}})
	f.Enqueue(model.MessageBatch{Kind: model.BatchLive, Messages: []model.InboundMessage{userMsg("222", "b")}})

	require.Eventually(t, func() bool { return len(rec.senders()) == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"111", "222"}, rec.senders())
}
