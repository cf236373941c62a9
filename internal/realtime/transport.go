package realtime

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionState is the published lifecycle state of the channel. Exactly one
// value holds at a time and it is owned exclusively by the Transport; every
// other component observes it read-only.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotConnected is recorded as the last error when Send is called without an
// open socket.
var ErrNotConnected = errors.New("websocket is not connected")

// DefaultRetryDelay is the fixed pause between reconnection attempts.
const DefaultRetryDelay = 3 * time.Second

// TokenSource issues a short-lived single-use credential authorizing one
// channel connection attempt. Tokens are never cached: the transport asks for
// a fresh one before every dial.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StateHandler observes published connection state transitions.
type StateHandler func(ConnectionState)

// TransportOptions configures a Transport.
type TransportOptions struct {
	// URL is the realtime events endpoint, e.g. "ws://localhost:8000/ws/events".
	URL string

	// Tokens supplies the per-attempt connection credential.
	Tokens TokenSource

	// OnEnvelope receives every well-formed inbound envelope. Malformed
	// frames are dropped before this point.
	OnEnvelope func(Envelope)

	// Dialer overrides the websocket dialer. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// RetryDelay overrides the fixed reconnect pause. Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Transport owns the single underlying websocket, its lifecycle state machine,
// and the reconnection policy. All socket errors are non-fatal: they route
// back into reconnection at a fixed interval, indefinitely, unless the
// consumer explicitly disconnected.
type Transport struct {
	endpoint   string
	tokens     TokenSource
	dialer     *websocket.Dialer
	onEnvelope func(Envelope)
	retryDelay time.Duration

	writeMu sync.Mutex

	mu              sync.Mutex
	state           ConnectionState
	conn            *websocket.Conn
	gen             int
	lastErr         error
	shouldReconnect bool
	connecting      bool
	retryTimer      *time.Timer
	connectCtx      context.Context
	nextSubID       int
	stateSubs       map[int]StateHandler
}

func NewTransport(opts TransportOptions) *Transport {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	onEnvelope := opts.OnEnvelope
	if onEnvelope == nil {
		onEnvelope = func(Envelope) {}
	}

	return &Transport{
		endpoint:   opts.URL,
		tokens:     opts.Tokens,
		dialer:     dialer,
		onEnvelope: onEnvelope,
		retryDelay: retryDelay,
		state:      StateIdle,
		stateSubs:  make(map[int]StateHandler),
	}
}

// State returns the currently published connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastError returns the most recent transport failure, or nil. Send failures
// land here instead of being raised to the caller.
func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// OnStateChange registers an observer for state transitions and returns an
// unsubscribe function. Observers run synchronously on the goroutine that
// caused the transition.
func (t *Transport) OnStateChange(handler StateHandler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSubID++
	id := t.nextSubID
	t.stateSubs[id] = handler

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.stateSubs, id)
	}
}

// Connect starts a connection attempt. It is idempotent: a concurrent or
// already-open attempt is a no-op, guarded by a re-entrancy flag distinct from
// the published state. Calling Connect re-arms automatic reconnection after a
// prior Disconnect. The credential fetch and dial run asynchronously; progress
// is observed through state transitions.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	if t.connecting || t.conn != nil {
		t.mu.Unlock()
		return
	}
	t.connecting = true
	t.shouldReconnect = true
	t.connectCtx = ctx
	t.lastErr = nil
	t.stopRetryTimerLocked()
	subs, state := t.transitionLocked(StateConnecting)
	t.mu.Unlock()
	notifyState(subs, state)

	go t.dial(ctx)
}

// Disconnect tears the channel down deterministically: the pending retry
// timer is cancelled, the socket generation is invalidated so no stray socket
// callback can land afterwards, and no automatic reconnection occurs until
// Connect is called again.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.shouldReconnect = false
	t.connecting = false
	t.stopRetryTimerLocked()
	conn := t.conn
	t.conn = nil
	t.gen++
	subs, state := t.transitionLocked(StateDisconnected)
	t.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing websocket during disconnect")
		}
	}
	notifyState(subs, state)
}

// Send serializes and transmits an envelope. Call sites are fire-and-forget:
// when the socket is absent or not open the failure is recorded in LastError
// and the envelope is dropped, never raised.
func (t *Transport) Send(env Envelope) {
	t.mu.Lock()
	conn := t.conn
	open := t.state == StateConnected
	t.mu.Unlock()

	if conn == nil || !open {
		t.recordError(ErrNotConnected)
		log.Warn().Str("event_type", env.Type).Msg("Dropping outbound envelope - websocket not connected")
		return
	}

	t.writeMu.Lock()
	err := conn.WriteJSON(env)
	t.writeMu.Unlock()
	if err != nil {
		t.recordError(err)
		log.Warn().Err(err).Str("event_type", env.Type).Msg("Failed to write envelope")
	}
}

func (t *Transport) dial(ctx context.Context) {
	token, err := t.tokens.Token(ctx)
	if err != nil {
		t.connectFailed(err)
		return
	}

	conn, _, err := t.dialer.DialContext(ctx, eventsURL(t.endpoint, token), nil)
	if err != nil {
		t.connectFailed(err)
		return
	}

	t.mu.Lock()
	if !t.shouldReconnect {
		// Disconnect raced the dial; drop the fresh socket on the floor.
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.gen++
	gen := t.gen
	t.connecting = false
	t.lastErr = nil
	subs, state := t.transitionLocked(StateConnected)
	t.mu.Unlock()
	notifyState(subs, state)

	go t.readLoop(conn, gen)
}

// connectFailed handles both credential fetch and dial failures: the state
// becomes Failed momentarily and a retry is scheduled exactly as for a
// transport error, unless teardown was requested meanwhile.
func (t *Transport) connectFailed(err error) {
	log.Warn().Err(err).Msg("Channel connection attempt failed")

	t.mu.Lock()
	t.connecting = false
	t.lastErr = err
	if !t.shouldReconnect {
		subs, state := t.transitionLocked(StateDisconnected)
		t.mu.Unlock()
		notifyState(subs, state)
		return
	}
	subs, state := t.transitionLocked(StateFailed)
	rsubs, rstate := t.scheduleReconnectLocked()
	t.mu.Unlock()
	notifyState(subs, state)
	notifyState(rsubs, rstate)
}

func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.readClosed(conn, gen, err)
			return
		}

		env, ok := ParseEnvelope(data)
		if !ok {
			log.Debug().Msg("Dropping malformed inbound frame")
			continue
		}

		t.mu.Lock()
		stale := gen != t.gen
		t.mu.Unlock()
		if stale {
			return
		}

		t.onEnvelope(env)
	}
}

func (t *Transport) readClosed(conn *websocket.Conn, gen int, err error) {
	t.mu.Lock()
	if gen != t.gen || t.conn != conn {
		// Teardown already replaced this socket; nothing to do.
		t.mu.Unlock()
		return
	}
	t.conn = nil
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.lastErr = err
	}
	if !t.shouldReconnect {
		subs, state := t.transitionLocked(StateDisconnected)
		t.mu.Unlock()
		notifyState(subs, state)
		return
	}
	subs, state := t.scheduleReconnectLocked()
	t.mu.Unlock()

	log.Warn().Err(err).Msg("Channel closed - scheduling reconnect")
	notifyState(subs, state)
}

func (t *Transport) scheduleReconnectLocked() ([]StateHandler, ConnectionState) {
	t.stopRetryTimerLocked()
	subs, state := t.transitionLocked(StateReconnecting)
	t.retryTimer = time.AfterFunc(t.retryDelay, t.retry)
	return subs, state
}

func (t *Transport) retry() {
	t.mu.Lock()
	if !t.shouldReconnect || t.connecting || t.conn != nil {
		t.mu.Unlock()
		return
	}
	t.connecting = true
	ctx := t.connectCtx
	subs, state := t.transitionLocked(StateConnecting)
	t.mu.Unlock()
	notifyState(subs, state)

	if ctx == nil {
		ctx = context.Background()
	}
	t.dial(ctx)
}

func (t *Transport) stopRetryTimerLocked() {
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
}

func (t *Transport) recordError(err error) {
	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
}

// transitionLocked publishes a new state and returns the observer snapshot to
// notify after the lock is released. Callers must hold t.mu.
func (t *Transport) transitionLocked(state ConnectionState) ([]StateHandler, ConnectionState) {
	if t.state == state {
		return nil, state
	}
	t.state = state

	subs := make([]StateHandler, 0, len(t.stateSubs))
	for _, handler := range t.stateSubs {
		subs = append(subs, handler)
	}
	return subs, state
}

func notifyState(subs []StateHandler, state ConnectionState) {
	for _, handler := range subs {
		handler(state)
	}
}

func eventsURL(endpoint, token string) string {
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "token=" + url.QueryEscape(token)
}
