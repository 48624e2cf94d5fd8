package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// serverScript runs on the accepted server-side connection.
type serverScript func(ctx context.Context, c *websocket.Conn)

// newTestServer starts a WebSocket server whose accepted connections run
// script, and returns the ws:// URL.
func newTestServer(t *testing.T, script serverScript) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.SetReadLimit(readLimit)
		defer c.Close(websocket.StatusNormalClosure, "script done")
		script(r.Context(), c)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// readEnv reads and decodes one client envelope.
func readEnv(ctx context.Context, c *websocket.Conn) (map[string]any, error) {
	_, data, err := c.Read(ctx)
	if err != nil {
		return nil, err
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env, nil
}

// writeEnv sends one server envelope.
func writeEnv(ctx context.Context, c *websocket.Conn, env map[string]any) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

// echoKind replies to env with a bare response of the same kind and uid.
func echoKind(ctx context.Context, c *websocket.Conn, env map[string]any) error {
	return writeEnv(ctx, c, map[string]any{
		"kind": env["kind"],
		"uid":  env["uid"],
	})
}

// handshakeScript services authenticate and set_configuration, then hands
// the connection to next (which may be nil).
func handshakeScript(next serverScript) serverScript {
	return func(ctx context.Context, c *websocket.Conn) {
		for i := 0; i < 2; i++ {
			env, err := readEnv(ctx, c)
			if err != nil {
				return
			}
			if err := echoKind(ctx, c, env); err != nil {
				return
			}
		}
		if next != nil {
			next(ctx, c)
		}
	}
}

// msgLog collects handler deliveries under a lock.
type msgLog struct {
	mu       sync.Mutex
	messages []Message
	errors   []error
}

func (l *msgLog) attach(t *Transport) {
	t.OnMessage(func(m Message) {
		l.mu.Lock()
		l.messages = append(l.messages, m)
		l.mu.Unlock()
	})
	t.OnError(func(err error) {
		l.mu.Lock()
		l.errors = append(l.errors, err)
		l.mu.Unlock()
	})
}

func (l *msgLog) snapshot() ([]Message, []error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...), append([]error(nil), l.errors...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// connect dials and completes the handshake with the greeting suppressed.
func connect(t *testing.T, url string, opts ...Option) *Transport {
	t.Helper()
	tr := New(url, opts...)
	err := tr.Connect(context.Background(), HandshakeConfig{
		AccessToken:  "test-token",
		SkipGreeting: true,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// ─── handshake ────────────────────────────────────────────────────────────────

func TestConnect_HandshakeSequence(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		kinds []string
		token string
		text  string
	)
	url := newTestServer(t, func(ctx context.Context, c *websocket.Conn) {
		for i := 0; i < 3; i++ {
			env, err := readEnv(ctx, c)
			if err != nil {
				return
			}
			mu.Lock()
			kinds = append(kinds, env["kind"].(string))
			if tok, ok := env["access_token"].(string); ok {
				token = tok
			}
			if txt, ok := env["text"].(string); ok {
				text = txt
			}
			mu.Unlock()
			if env["kind"] == KindInteract {
				_ = writeEnv(ctx, c, map[string]any{"kind": KindClose, "uid": env["uid"]})
				continue
			}
			if err := echoKind(ctx, c, env); err != nil {
				return
			}
		}
		<-ctx.Done() // keep the channel open while the test asserts
	})

	tr := New(url)
	var connected bool
	var mu2 sync.Mutex
	tr.OnConnected(func() {
		mu2.Lock()
		connected = true
		mu2.Unlock()
	})

	err := tr.Connect(context.Background(), HandshakeConfig{
		AccessToken:   "bearer-abc",
		Configuration: SessionConfiguration{Prompt: "be brief"},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kinds) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{KindAuthenticate, KindSetConfiguration, KindInteract}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("handshake kinds = %v, want %v", kinds, want)
			break
		}
	}
	if token != "bearer-abc" {
		t.Errorf("access_token = %q, want bearer-abc", token)
	}
	if text != DefaultGreeting {
		t.Errorf("priming interact text = %q, want %q", text, DefaultGreeting)
	}

	mu2.Lock()
	defer mu2.Unlock()
	if !connected {
		t.Error("Connected callback not invoked")
	}
	if !tr.IsConnected() {
		t.Error("IsConnected = false after handshake")
	}
}

func TestConnect_DialTimeout(t *testing.T) {
	t.Parallel()

	tr := New("ws://127.0.0.1:1", WithConnectTimeout(100*time.Millisecond))
	err := tr.Connect(context.Background(), HandshakeConfig{SkipGreeting: true})
	if err == nil {
		t.Fatal("Connect to dead endpoint succeeded")
	}
}

// ─── single-mode requests ─────────────────────────────────────────────────────

func TestRequest_ResolvesOnMatchingResponse(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		env, err := readEnv(ctx, c)
		if err != nil {
			return
		}
		_ = echoKind(ctx, c, env)
	}))

	tr := connect(t, url)
	log := &msgLog{}
	log.attach(tr)

	msg, err := tr.Request(context.Background(), KindPing, nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if msg.Kind != KindPing {
		t.Errorf("response kind = %q, want ping", msg.Kind)
	}

	// The response is also delivered as a message event.
	waitFor(t, time.Second, func() bool {
		msgs, _ := log.snapshot()
		return len(msgs) == 1
	})

	// The pending record is gone.
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.pending) != 0 {
		t.Errorf("pending records = %d, want 0", len(tr.pending))
	}
}

func TestRequest_ErrorKindRejects(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		env, err := readEnv(ctx, c)
		if err != nil {
			return
		}
		_ = writeEnv(ctx, c, map[string]any{
			"kind":  KindError,
			"uid":   env["uid"],
			"error": "no such utility",
		})
	}))

	tr := connect(t, url)
	_, err := tr.Request(context.Background(), KindRun, map[string]any{"utilities": []string{"x"}})
	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("err = %v, want *ServerError", err)
	}
	if serverErr.Message != "no such utility" {
		t.Errorf("server error message = %q", serverErr.Message)
	}
}

func TestRequest_TimesOut(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		// Swallow the request, never reply.
		_, _ = readEnv(ctx, c)
		<-ctx.Done()
	}))

	tr := connect(t, url, WithRequestTimeout(60*time.Millisecond))
	start := time.Now()
	_, err := tr.Request(context.Background(), KindPing, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.pending) != 0 {
		t.Errorf("pending records = %d after timeout, want 0", len(tr.pending))
	}
}

func TestRequest_UIDsAreUnique(t *testing.T) {
	t.Parallel()

	const n = 25
	var (
		mu   sync.Mutex
		uids = make(map[string]int)
	)
	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		for i := 0; i < n; i++ {
			env, err := readEnv(ctx, c)
			if err != nil {
				return
			}
			mu.Lock()
			uids[env["uid"].(string)]++
			mu.Unlock()
			_ = echoKind(ctx, c, env)
		}
	}))

	tr := connect(t, url)
	for i := 0; i < n; i++ {
		if _, err := tr.Request(context.Background(), KindPing, nil); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(uids) != n {
		t.Errorf("distinct uids = %d, want %d", len(uids), n)
	}
	for uid, count := range uids {
		if count != 1 {
			t.Errorf("uid %s used %d times", uid, count)
		}
	}
}

// ─── stream-mode requests ─────────────────────────────────────────────────────

func TestStream_EventsFlowUntilClose(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		env, err := readEnv(ctx, c)
		if err != nil {
			return
		}
		uid := env["uid"]
		_ = writeEnv(ctx, c, map[string]any{"kind": KindInteract, "uid": uid, "event": EventInteractionStarted})
		_ = writeEnv(ctx, c, map[string]any{"kind": KindInteract, "uid": uid, "event": EventText, "text": "hello"})
		_ = writeEnv(ctx, c, map[string]any{"kind": KindInteract, "uid": uid, "event": EventAudio, "audio": "AAAA"})
		_ = writeEnv(ctx, c, map[string]any{"kind": KindClose, "uid": uid})
		<-ctx.Done()
	}))

	tr := connect(t, url)
	log := &msgLog{}
	log.attach(tr)

	uid, err := tr.Interact(InteractParams{Text: "hi"})
	if err != nil {
		t.Fatalf("Interact: %v", err)
	}
	if uid == "" {
		t.Fatal("Interact returned empty uid")
	}

	waitFor(t, time.Second, func() bool {
		msgs, _ := log.snapshot()
		return len(msgs) == 3
	})
	msgs, errs := log.snapshot()
	wantEvents := []string{EventInteractionStarted, EventText, EventAudio}
	for i, want := range wantEvents {
		if msgs[i].Event != want || msgs[i].UID != uid {
			t.Errorf("message %d = {event:%q uid:%q}, want {%q %q}", i, msgs[i].Event, msgs[i].UID, want, uid)
		}
	}
	if len(errs) != 0 {
		t.Errorf("unexpected transport errors: %v", errs)
	}

	// The close consumed the record.
	waitFor(t, time.Second, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.pending) == 0
	})
}

func TestStream_ErrorSurfacesWithoutRejecting(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		env, err := readEnv(ctx, c)
		if err != nil {
			return
		}
		_ = writeEnv(ctx, c, map[string]any{"kind": KindError, "uid": env["uid"], "error": "model overloaded"})
		<-ctx.Done()
	}))

	tr := connect(t, url)
	log := &msgLog{}
	log.attach(tr)

	if _, err := tr.Interact(InteractParams{Text: "hi"}); err != nil {
		t.Fatalf("Interact: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, errs := log.snapshot()
		return len(errs) == 1
	})
	_, errs := log.snapshot()
	var serverErr *ServerError
	if !errors.As(errs[0], &serverErr) {
		t.Fatalf("transport error = %v, want *ServerError", errs[0])
	}
}

// ─── unmatched messages ───────────────────────────────────────────────────────

func TestRoute_UnmatchedInteractIsDelivered(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		// Server-initiated interact event with an unknown uid, then noise
		// with an unknown kind that must be dropped silently.
		_ = writeEnv(ctx, c, map[string]any{"kind": KindInteract, "uid": "srv-1", "event": EventInteractionComplete})
		_ = writeEnv(ctx, c, map[string]any{"kind": "gossip", "uid": "srv-2"})
		<-ctx.Done()
	}))

	tr := connect(t, url)
	log := &msgLog{}
	log.attach(tr)

	waitFor(t, time.Second, func() bool {
		msgs, _ := log.snapshot()
		return len(msgs) >= 1
	})
	msgs, _ := log.snapshot()
	if len(msgs) != 1 || msgs[0].Event != EventInteractionComplete {
		t.Errorf("delivered messages = %v, want the interact event only", msgs)
	}
}

// ─── lifecycle ────────────────────────────────────────────────────────────────

func TestClose_RejectsPendingRequests(t *testing.T) {
	t.Parallel()

	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		_, _ = readEnv(ctx, c)
		<-ctx.Done()
	}))

	tr := connect(t, url)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Request(context.Background(), KindPing, nil)
		errCh <- err
	}()

	// Give the request time to register, then tear down.
	time.Sleep(50 * time.Millisecond)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not rejected by Close")
	}

	if tr.IsConnected() {
		t.Error("IsConnected = true after Close")
	}

	// Close is idempotent and sends now fail fast.
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := tr.AddAudio("AAAA", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("AddAudio after Close = %v, want ErrClosed", err)
	}
}

func TestAddAudio_PreservesSendOrder(t *testing.T) {
	t.Parallel()

	const n = 10
	var (
		mu     sync.Mutex
		audios []string
	)
	url := newTestServer(t, handshakeScript(func(ctx context.Context, c *websocket.Conn) {
		for i := 0; i < n; i++ {
			env, err := readEnv(ctx, c)
			if err != nil {
				return
			}
			mu.Lock()
			audios = append(audios, env["audio"].(string))
			mu.Unlock()
			_ = echoKind(ctx, c, env)
		}
	}))

	tr := connect(t, url)
	want := make([]string, n)
	for i := 0; i < n; i++ {
		want[i] = string(rune('A'+i)) + "AAA"
		if err := tr.AddAudio(want[i], nil); err != nil {
			t.Fatalf("AddAudio: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(audios) == n
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if audios[i] != want[i] {
			t.Fatalf("audio order = %v, want %v", audios, want)
		}
	}
}
