package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"wa-bridge/internal/model"
	"wa-bridge/internal/ws"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

var (
	// ErrLoggedOut is returned by Run once the device was unlinked. It is terminal.
	ErrLoggedOut = errors.New("whatsapp session logged out")
)

// CredentialStore loads and persists the session device.
type CredentialStore interface {
	Load(ctx context.Context) (*store.Device, error)
	Save(ctx context.Context, device *store.Device) error
}

// Handle is one live chat session.
type Handle interface {
	Lookup(ctx context.Context, jid types.JID) (bool, error)
	Send(ctx context.Context, jid types.JID, text string) (model.Ack, error)
	JID() types.JID
	Close()
}

// Dialer opens a session for device. emit receives model.ConnectionUpdate,
// model.CredentialsUpdated and model.MessageBatch values, possibly from other goroutines.
type Dialer interface {
	Dial(ctx context.Context, device *store.Device, emit func(evt interface{})) (Handle, error)
}

// MessageSink takes message batches off the session loop. It must not block.
type MessageSink interface {
	Enqueue(batch model.MessageBatch)
}

type QRPresenter interface {
	Present(code string)
}

// Action is the side effect a state transition asks for.
type Action int

const (
	ActionNone Action = iota
	ActionShowQR
	ActionMarkReady
	ActionReconnect
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionShowQR:
		return "show_qr"
	case ActionMarkReady:
		return "mark_ready"
	case ActionReconnect:
		return "reconnect"
	case ActionTerminate:
		return "terminate"
	default:
		return "none"
	}
}

// NextState is the reconnection policy. LoggedOut absorbs every update.
func NextState(current model.ConnectionState, upd model.ConnectionUpdate) (model.ConnectionState, Action) {
	if current.IsTerminal() {
		return current, ActionNone
	}

	switch upd.Kind {
	case model.UpdateQR:
		return model.StateConnecting, ActionShowQR
	case model.UpdateOpen:
		return model.StateOpen, ActionMarkReady
	case model.UpdateClosed:
		if upd.Reason.IsLoggedOut() {
			return model.StateLoggedOut, ActionTerminate
		}
		return model.StateConnecting, ActionReconnect
	}
	return current, ActionNone
}

type SessionManagerOptions struct {
	Store  CredentialStore
	Dialer Dialer

	// optional
	Messages       MessageSink
	QR             QRPresenter
	Realtime       ws.RealtimePublisher
	ReconnectDelay time.Duration
	// first wait after a failed redial, doubled per failure up to maxRedialBackoff
	RedialBackoff time.Duration
	EventBuffer   int
}

const (
	defaultRedialBackoff = time.Second
	maxRedialBackoff     = 30 * time.Second
)

// dialError marks a connect failure of the dial itself, as opposed to loading credentials.
type dialError struct {
	err error
}

func (e *dialError) Error() string { return "connect: " + e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

type sessionEvent struct {
	generation uint64
	evt        interface{}
}

// SessionManager owns the single chat session and keeps it connected.
type SessionManager struct {
	store          CredentialStore
	dialer         Dialer
	messages       MessageSink
	qr             QRPresenter
	realtime       ws.RealtimePublisher
	reconnectDelay time.Duration
	redialBackoff  time.Duration

	events chan sessionEvent

	mu         sync.RWMutex
	state      model.ConnectionState
	ready      bool
	handle     Handle
	generation uint64
}

func NewSessionManager(opts SessionManagerOptions) *SessionManager {
	buf := opts.EventBuffer
	if buf <= 0 {
		buf = 256
	}
	backoff := opts.RedialBackoff
	if backoff <= 0 {
		backoff = defaultRedialBackoff
	}
	return &SessionManager{
		store:          opts.Store,
		dialer:         opts.Dialer,
		messages:       opts.Messages,
		qr:             opts.QR,
		realtime:       opts.Realtime,
		reconnectDelay: opts.ReconnectDelay,
		redialBackoff:  backoff,
		events:         make(chan sessionEvent, buf),
		state:          model.StateDisconnected,
	}
}

// IsReady reports whether an open session can lookup and send.
func (m *SessionManager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready && m.handle != nil
}

// Handle returns the current session. Callers must not keep it across requests.
func (m *SessionManager) Handle() (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle, m.handle != nil
}

func (m *SessionManager) State() model.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// JID of the paired account, empty before pairing.
func (m *SessionManager) JID() string {
	h, ok := m.Handle()
	if !ok || h.JID().IsEmpty() {
		return ""
	}
	return h.JID().String()
}

// Run connects and then processes session events until ctx ends or the session is
// logged out (ErrLoggedOut). Only the first dial and credential loading are fatal;
// failed redials are retried.
func (m *SessionManager) Run(ctx context.Context) error {
	if err := m.connect(ctx); err != nil {
		return err
	}
	defer m.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case se := <-m.events:
			if err := m.process(ctx, se); err != nil {
				return err
			}
		}
	}
}

// connect replaces the current handle with a freshly dialed one.
func (m *SessionManager) connect(ctx context.Context) error {
	device, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	m.mu.Lock()
	old := m.handle
	m.handle = nil
	m.ready = false
	m.state = model.StateConnecting
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}

	log.Info().Uint64("attempt", gen).Bool("paired", device.ID != nil).Msg("Connecting to WhatsApp")

	handle, err := m.dialer.Dial(ctx, device, m.emitter(ctx, gen))
	if err != nil {
		return &dialError{err: err}
	}

	m.mu.Lock()
	m.handle = handle
	m.mu.Unlock()

	m.publishStatus("")
	return nil
}

func (m *SessionManager) emitter(ctx context.Context, gen uint64) func(evt interface{}) {
	return func(evt interface{}) {
		select {
		case m.events <- sessionEvent{generation: gen, evt: evt}:
		case <-ctx.Done():
		}
	}
}

func (m *SessionManager) process(ctx context.Context, se sessionEvent) error {
	m.mu.RLock()
	current := m.generation
	m.mu.RUnlock()

	if se.generation != current {
		log.Debug().Uint64("generation", se.generation).Msgf("Ignoring %T from superseded session", se.evt)
		return nil
	}

	switch evt := se.evt.(type) {
	case model.ConnectionUpdate:
		return m.applyUpdate(ctx, evt)

	case model.CredentialsUpdated:
		// persisted before the next event is looked at
		if err := m.store.Save(ctx, evt.Device); err != nil {
			log.Error().Err(err).Msg("Failed to persist session credentials")
		} else {
			log.Info().Msg("Session credentials saved")
		}

	case model.MessageBatch:
		if m.messages != nil {
			m.messages.Enqueue(evt)
		}

	default:
		log.Debug().Msgf("Unhandled session event %T", evt)
	}
	return nil
}

func (m *SessionManager) applyUpdate(ctx context.Context, upd model.ConnectionUpdate) error {
	m.mu.Lock()
	prev := m.state
	next, action := NextState(prev, upd)
	m.state = next
	switch action {
	case ActionMarkReady:
		m.ready = true
	case ActionReconnect, ActionTerminate:
		m.ready = false
	}
	m.mu.Unlock()

	switch action {
	case ActionShowQR:
		log.Info().Msg("Scan the QR code to link this device")
		if m.qr != nil {
			m.qr.Present(upd.QRCode)
		}
		if m.realtime != nil {
			m.realtime.Publish(ws.WsEvent{
				Event: ws.EventQRGenerated,
				Data: ws.QRGeneratedData{
					QRData:    upd.QRCode,
					ExpiresAt: time.Now().UTC().Add(60 * time.Second),
				},
			})
		}

	case ActionMarkReady:
		log.Info().Str("jid", m.JID()).Msg("✓ WhatsApp connection opened")
		m.publishStatus("")

	case ActionReconnect:
		return m.reconnect(ctx, upd)

	case ActionTerminate:
		log.Error().Err(upd.Err).Msg("✗ Connection closed, logged out. Re-pairing required")
		m.mu.Lock()
		old := m.handle
		m.handle = nil
		m.mu.Unlock()
		if old != nil {
			old.Close()
		}
		m.publishStatus(upd.Reason.String())
		return ErrLoggedOut

	default:
		log.Debug().Str("state", next.String()).Str("update", upd.Kind.String()).Msg("Ignoring connection update")
	}
	return nil
}

// reconnect redials until a dial succeeds. A failed dial counts as another
// ConnectFailure close and goes back through NextState.
func (m *SessionManager) reconnect(ctx context.Context, upd model.ConnectionUpdate) error {
	for failures := 0; ; failures++ {
		log.Warn().Err(upd.Err).Str("reason", upd.Reason.String()).Int("failed_redials", failures).Msg("⚠ Connection closed, reconnecting")
		m.publishStatus(upd.Reason.String())
		if err := m.waitReconnectDelay(ctx, failures); err != nil {
			return nil
		}

		err := m.connect(ctx)
		var de *dialError
		if !errors.As(err, &de) {
			return err
		}

		upd = model.ConnectionUpdate{Kind: model.UpdateClosed, Reason: model.ReasonConnectFailure, Err: de.err}
		m.mu.Lock()
		next, action := NextState(m.state, upd)
		m.state = next
		m.ready = false
		m.mu.Unlock()
		if action != ActionReconnect {
			return nil
		}
	}
}

// waitReconnectDelay sleeps the configured delay plus up to 20% jitter. After failed
// redials it waits at least the doubling redial backoff.
func (m *SessionManager) waitReconnectDelay(ctx context.Context, failures int) error {
	d := time.Duration(0)
	if m.reconnectDelay > 0 {
		d = m.reconnectDelay + time.Duration(rand.Int64N(int64(m.reconnectDelay)/5+1))
	}
	if failures > 0 {
		backoff := m.redialBackoff
		for i := 1; i < failures && backoff < maxRedialBackoff; i++ {
			backoff *= 2
		}
		backoff = min(backoff, maxRedialBackoff)
		d = max(d, backoff)
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *SessionManager) publishStatus(reason string) {
	if m.realtime == nil {
		return
	}
	m.mu.RLock()
	data := ws.StatusChangedData{
		State:   m.state.String(),
		Ready:   m.ready && m.handle != nil,
		Reason:  reason,
		Attempt: m.generation,
	}
	m.mu.RUnlock()
	data.JID = m.JID()

	m.realtime.Publish(ws.WsEvent{Event: ws.EventStatusChanged, Data: data})
}

func (m *SessionManager) shutdown() {
	m.mu.Lock()
	old := m.handle
	m.handle = nil
	m.ready = false
	if !m.state.IsTerminal() {
		m.state = model.StateDisconnected
	}
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
}
