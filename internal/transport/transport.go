package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sonara-ai/sonara-go/internal/observe"
)

// Transport defaults.
const (
	// DefaultRequestTimeout bounds how long a pending record waits for its
	// terminal response.
	DefaultRequestTimeout = 50 * time.Second

	// DefaultConnectTimeout bounds the wait for the channel to open.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultGreeting is the priming interact text sent after the handshake
	// so the service produces its opening utterance.
	DefaultGreeting = "."

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// readLimit accommodates large base64 audio events.
	readLimit = 16 << 20
)

// Option configures a [Transport] during construction.
type Option func(*Transport)

// WithRequestTimeout overrides the per-request timeout. Useful in tests to
// keep suites fast.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.requestTimeout = d
		}
	}
}

// WithConnectTimeout overrides the channel-open budget.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// HandshakeConfig carries everything Connect sends before the session is
// usable.
type HandshakeConfig struct {
	// AccessToken is the bearer token obtained out-of-band from the auth
	// endpoint.
	AccessToken string

	// Configuration is the session configuration pushed via
	// set_configuration.
	Configuration SessionConfiguration

	// Greeting is the text of the priming interact that triggers the opening
	// utterance. Empty applies [DefaultGreeting]; set SkipGreeting to send
	// none.
	Greeting string

	// SkipGreeting suppresses the priming interact entirely.
	SkipGreeting bool
}

// Transport is the bidirectional session channel. All exported methods are
// safe for concurrent use; messages are delivered to the registered handler
// in the order received.
type Transport struct {
	url            string
	requestTimeout time.Duration
	connectTimeout time.Duration

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]*pendingRequest
	connected   bool
	closed      bool
	onMessage   func(Message)
	onError     func(error)
	onConnected func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an unconnected Transport for the given WebSocket URL.
func New(url string, opts ...Option) *Transport {
	t := &Transport{
		url:            url,
		requestTimeout: DefaultRequestTimeout,
		connectTimeout: DefaultConnectTimeout,
		pending:        make(map[string]*pendingRequest),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// OnMessage registers the handler for response and stream messages. Only one
// handler may be registered; subsequent calls replace it.
func (t *Transport) OnMessage(fn func(Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// OnError registers the handler for channel-level and stream errors.
func (t *Transport) OnError(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// OnConnected registers the handler invoked once the handshake completes.
func (t *Transport) OnConnected(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnected = fn
}

// Connect opens the channel and runs the handshake: wait for channel open
// (bounded by the connect timeout), authenticate, set_configuration, notify
// Connected, then send the priming interact.
func (t *Transport) Connect(ctx context.Context, hs HandshakeConfig) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, t.url, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", t.url, err)
	}
	conn.SetReadLimit(readLimit)

	sessCtx, sessCancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closed || t.conn != nil {
		t.mu.Unlock()
		sessCancel()
		conn.Close(websocket.StatusNormalClosure, "duplicate connect")
		return fmt.Errorf("transport: already connected or closed")
	}
	t.conn = conn
	t.ctx = sessCtx
	t.cancel = sessCancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.receiveLoop()
	go t.keepaliveLoop()

	if _, err := t.Request(ctx, KindAuthenticate, map[string]any{
		"access_token": hs.AccessToken,
	}); err != nil {
		t.Close()
		return fmt.Errorf("transport: authenticate: %w", err)
	}

	if _, err := t.Request(ctx, KindSetConfiguration, map[string]any{
		"config": hs.Configuration,
	}); err != nil {
		t.Close()
		return fmt.Errorf("transport: set configuration: %w", err)
	}

	t.mu.Lock()
	t.connected = true
	onConnected := t.onConnected
	t.mu.Unlock()
	if onConnected != nil {
		onConnected()
	}

	if !hs.SkipGreeting {
		greeting := hs.Greeting
		if greeting == "" {
			greeting = DefaultGreeting
		}
		if _, err := t.Stream(KindInteract, map[string]any{"text": greeting}); err != nil {
			t.Close()
			return fmt.Errorf("transport: priming interact: %w", err)
		}
	}
	return nil
}

// IsConnected reports whether the handshake has completed and the channel is
// still up.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected && !t.closed
}

// Request sends a single-mode request and waits for its terminal response: a
// matching message of any kind resolves it (a kind:error response surfaces
// as a *ServerError), the per-request timer rejects it with [ErrTimeout].
func (t *Transport) Request(ctx context.Context, kind string, fields map[string]any) (Message, error) {
	rec, err := t.send(typeRequest, kind, fields, modeSingle)
	if err != nil {
		return Message{}, err
	}

	select {
	case res := <-rec.done:
		return res.msg, res.err
	case <-ctx.Done():
		t.unregister(rec.uid)
		return Message{}, fmt.Errorf("transport: %s: %w", kind, ctx.Err())
	}
}

// RequestAsync sends a single-mode request without waiting. The write still
// happens before RequestAsync returns, preserving send order; the eventual
// response or error is logged and discarded. Used for the high-frequency
// add_audio path.
func (t *Transport) RequestAsync(kind string, fields map[string]any) error {
	rec, err := t.send(typeRequest, kind, fields, modeSingle)
	if err != nil {
		return err
	}
	go func() {
		if res := <-rec.done; res.err != nil {
			slog.Warn("transport: async request failed", "kind", kind, "uid", rec.uid, "err", res.err)
		}
	}()
	return nil
}

// Stream sends a stream-mode request and returns its uid. Matching messages
// flow to the message handler; the record resolves on a kind:close message,
// on a kind:error message (which also surfaces through the error handler),
// or on timeout. A terminal error is logged and passed to the error handler.
func (t *Transport) Stream(kind string, fields map[string]any) (string, error) {
	rec, err := t.send(typeStream, kind, fields, modeStream)
	if err != nil {
		return "", err
	}
	go func() {
		if res := <-rec.done; res.err != nil {
			slog.Warn("transport: stream ended with error", "kind", kind, "uid", rec.uid, "err", res.err)
			t.emitError(res.err)
		}
	}()
	return rec.uid, nil
}

// send registers a pending record, assigns the uid and client timestamp, and
// writes the envelope.
func (t *Transport) send(envType, kind string, fields map[string]any, mode requestMode) (*pendingRequest, error) {
	t.mu.Lock()
	if t.closed || t.conn == nil {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	conn, sessCtx := t.conn, t.ctx

	uid := uuid.NewString()
	rec := &pendingRequest{
		uid:  uid,
		mode: mode,
		done: make(chan pendingResult, 1),
	}
	rec.timer = time.AfterFunc(t.requestTimeout, func() {
		t.unregister(uid)
		observe.Default().RecordRequest(context.Background(), kind, "timeout")
		rec.resolve(Message{}, fmt.Errorf("%s: %w", kind, ErrTimeout))
	})
	t.pending[uid] = rec
	t.mu.Unlock()

	env := map[string]any{
		"type":              envType,
		"kind":              kind,
		"uid":               uid,
		"client_start_time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		env[k] = v
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.unregister(uid)
		rec.timer.Stop()
		return nil, fmt.Errorf("transport: marshal %s: %w", kind, err)
	}
	if err := conn.Write(sessCtx, websocket.MessageText, data); err != nil {
		t.unregister(uid)
		rec.timer.Stop()
		return nil, fmt.Errorf("transport: write %s: %w", kind, err)
	}
	return rec, nil
}

// unregister removes a pending record, if still present.
func (t *Transport) unregister(uid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, uid)
}

// receiveLoop reads envelopes until the connection drops and routes each to
// its pending record or the message handler.
func (t *Transport) receiveLoop() {
	defer close(t.done)

	for {
		_, data, err := t.conn.Read(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return // closed locally
			}
			t.failAll(fmt.Errorf("transport: read: %w", err))
			t.emitError(fmt.Errorf("transport: connection lost: %w", err))
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("transport: skipping malformed envelope", "err", err)
			continue
		}
		t.route(msg)
	}
}

// route dispatches one incoming message. The kind discriminator (and, within
// interact, the event field) is the only source of truth for routing.
func (t *Transport) route(msg Message) {
	t.mu.Lock()
	rec, ok := t.pending[msg.UID]
	if ok && (rec.mode == modeSingle ||
		msg.Kind == KindClose || msg.Kind == KindError) {
		delete(t.pending, msg.UID)
	}
	onMessage := t.onMessage
	t.mu.Unlock()

	switch {
	case ok && rec.mode == modeSingle:
		if onMessage != nil {
			onMessage(msg)
		}
		if msg.Kind == KindError {
			observe.Default().RecordRequest(context.Background(), msg.Kind, "error")
			rec.resolve(msg, &ServerError{Message: msg.Error})
		} else {
			observe.Default().RecordRequest(context.Background(), msg.Kind, "ok")
			rec.resolve(msg, nil)
		}

	case ok && rec.mode == modeStream:
		switch msg.Kind {
		case KindClose:
			rec.resolve(msg, nil)
		case KindError:
			// The stream is over server-side; surface the error without
			// rejecting the initiating request.
			slog.Warn("transport: stream error", "uid", msg.UID, "err", msg.Error)
			t.emitError(&ServerError{Message: msg.Error})
			rec.resolve(msg, nil)
		default:
			if onMessage != nil {
				onMessage(msg)
			}
		}

	case msg.Kind == KindInteract:
		// Server-initiated events for the active interaction.
		if onMessage != nil {
			onMessage(msg)
		}

	default:
		slog.Debug("transport: unmatched message", "kind", msg.Kind, "uid", msg.UID)
	}
}

// keepaliveLoop pings the server to keep intermediaries from closing an
// otherwise quiet channel.
func (t *Transport) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(t.ctx, keepaliveTimeout)
			_ = t.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// failAll rejects every pending record with err.
func (t *Transport) failAll(err error) {
	t.mu.Lock()
	records := make([]*pendingRequest, 0, len(t.pending))
	for uid, rec := range t.pending {
		records = append(records, rec)
		delete(t.pending, uid)
	}
	t.connected = false
	t.mu.Unlock()

	for _, rec := range records {
		rec.resolve(Message{}, err)
	}
}

// emitError delivers a transport-level error to the registered handler.
func (t *Transport) emitError(err error) {
	t.mu.Lock()
	fn := t.onError
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close tears the channel down and rejects all pending requests with
// [ErrClosed]. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	t.failAll(ErrClosed)
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}
