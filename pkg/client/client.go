// Package client is the public entry point of the Sonara conversation
// runtime: a state machine that mediates a full-duplex voice-and-text
// conversation between the host program and the assistant service.
//
// The client owns construction and teardown of its collaborators — session
// transport, streaming audio player, and voice-activity-driven input
// pipeline — and wires them together through narrow capability interfaces.
// No collaborator constructs a sibling. Events from all collaborators are
// funnelled through one dispatch queue, so every state transition is
// serialized and observed in order.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sonara-ai/sonara-go/internal/auth"
	"github.com/sonara-ai/sonara-go/internal/input"
	"github.com/sonara-ai/sonara-go/internal/observe"
	"github.com/sonara-ai/sonara-go/internal/transport"
	"github.com/sonara-ai/sonara-go/pkg/audio"
	"github.com/sonara-ai/sonara-go/pkg/audio/capture"
	"github.com/sonara-ai/sonara-go/pkg/player"
	"github.com/sonara-ai/sonara-go/pkg/tokenstore"
	"github.com/sonara-ai/sonara-go/pkg/vad"
)

// sessionTransport is the transport capability the client depends on.
type sessionTransport interface {
	Connect(ctx context.Context, hs transport.HandshakeConfig) error
	OnMessage(fn func(transport.Message))
	OnError(fn func(error))
	OnConnected(fn func())
	Interact(params transport.InteractParams) (string, error)
	Interrupt(ctx context.Context, targetUID string, atCharacter *int) (transport.Message, error)
	AddAudio(b64 string, cfg *transport.AudioConfig) error
	CheckTurn() error
	IsConnected() bool
	Close() error
}

// audioPlayer is the playback capability the client depends on.
type audioPlayer interface {
	OnEvent(fn func(player.Event))
	OnDecodeError(fn func(error))
	Enqueue(base64Chunk string) error
	Play()
	MarkComplete()
	Pause() error
	Resume() error
	Reset()
	IsPlaying() bool
}

// inputPipeline is the capture capability the client depends on.
type inputPipeline interface {
	OnSpeaking(fn func(speaking bool))
	OnInputComplete(fn func())
	Start() error
	Stop() (bool, error)
	IsRunning() bool
	Reset()
	SendInputComplete()
	EnableBuffering()
	FlushBuffered()
	UpdateCapabilities(caps input.Capabilities) error
	Close() error
}

// tokenProvider supplies the bearer token for the handshake.
type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Compile-time checks that the real collaborators satisfy the capability
// interfaces.
var (
	_ sessionTransport = (*transport.Transport)(nil)
	_ audioPlayer      = (*player.Player)(nil)
	_ inputPipeline    = (*input.Pipeline)(nil)
	_ tokenProvider    = (*auth.Exchanger)(nil)
)

// Option injects a test double or substitute collaborator into New.
type Option func(*Client)

// WithTransport injects a session transport instead of dialing APIURL.
func WithTransport(t sessionTransport) Option {
	return func(c *Client) { c.transport = t }
}

// WithPlayer injects an audio player instead of opening an output device.
func WithPlayer(p audioPlayer) Option {
	return func(c *Client) { c.player = p }
}

// WithInputPipeline injects an input pipeline instead of opening the
// microphone.
func WithInputPipeline(p inputPipeline) Option {
	return func(c *Client) { c.pipeline = p }
}

// WithTokenProvider injects a token provider instead of the HTTP exchanger.
func WithTokenProvider(p tokenProvider) Option {
	return func(c *Client) { c.tokens = p }
}

// WithTokenStore substitutes the persistence behind the default token
// exchanger. Ignored when WithTokenProvider is used.
func WithTokenStore(s tokenstore.Store) Option {
	return func(c *Client) { c.tokenStore = s }
}

// WithCaptureSource substitutes the microphone device behind the default
// input pipeline. Ignored when WithInputPipeline is used.
func WithCaptureSource(s capture.Source) Option {
	return func(c *Client) { c.captureSource = s }
}

// WithVADEngine substitutes the VAD backend behind the default input
// pipeline. Ignored when WithInputPipeline is used.
func WithVADEngine(e vad.Engine) Option {
	return func(c *Client) { c.vadEngine = e }
}

// WithClock substitutes the playback clock behind the default player.
// Ignored when WithPlayer is used.
func WithClock(clk player.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// Client is the conversation orchestrator. Create with [New], start with
// [Client.Initialize], and subscribe through [Options.Hooks]. All exported
// methods are safe for concurrent use.
type Client struct {
	opts  Options
	hooks Hooks
	queue *taskQueue

	// Injected or lazily constructed collaborators.
	transport     sessionTransport
	player        audioPlayer
	pipeline      inputPipeline
	tokens        tokenProvider
	tokenStore    tokenstore.Store
	captureSource capture.Source
	vadEngine     vad.Engine
	clock         player.Clock
	ownsClock     bool

	mu             sync.Mutex
	state          State
	interactionUID string

	// interactionCompletePending defers the interaction_complete cleanup
	// until playback finishes, and guards against double handling.
	interactionCompletePending bool

	subtitleTimers []*time.Timer
	turnStart      time.Time
	sessionActive  bool
	closed         bool
}

// New validates opts and creates an uninitialized Client. Collaborators not
// injected via options are constructed during [Client.Initialize].
func New(opts Options, injections ...Option) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		opts:  opts.withDefaults(),
		hooks: opts.Hooks,
		queue: newTaskQueue(),
		state: StateUninitialized,
	}
	for _, o := range injections {
		o(c)
	}
	go c.queue.run()
	return c, nil
}

// State returns the current conversation state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setStateLocked commits a transition if it is valid. Invalid transitions
// are refused with a warning. It returns whether the state changed, plus
// the pair for the hook. Caller holds c.mu.
func (c *Client) setStateLocked(to State) (State, bool) {
	from := c.state
	if from == to {
		return from, false
	}
	if !validTransition(from, to) {
		slog.Warn("client: refusing invalid state transition", "from", from, "to", to)
		return from, false
	}
	c.state = to
	return from, true
}

// setState commits a transition and fires the state hook.
func (c *Client) setState(to State) bool {
	c.mu.Lock()
	from, changed := c.setStateLocked(to)
	c.mu.Unlock()

	if changed && c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(from, to)
	}
	return changed
}

// fail moves to the error state and fires the error hook.
func (c *Client) fail(kind ErrorKind, err error) {
	slog.Error("client: fatal error", "kind", kind, "err", err)
	c.setState(StateError)
	if c.hooks.OnError != nil {
		c.hooks.OnError(kind, err)
	}
}

// classify maps an error to its hook kind.
func classify(err error) ErrorKind {
	var serverErr *transport.ServerError
	switch {
	case errors.Is(err, transport.ErrTimeout):
		return ErrNetworkTimeout
	case errors.As(err, &serverErr):
		return ErrServer
	default:
		return ErrNetwork
	}
}

// Initialize connects the session: exchange the bearer token, dial the
// transport, run the handshake, and arm all event routing. On success the
// state is waiting — the service's opening utterance is already on its way.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.setState(StateInitializing) {
		return fmt.Errorf("client: initialize from state %q", c.State())
	}
	started := time.Now()

	if err := c.build(); err != nil {
		c.fail(ErrMicDenied, err)
		return err
	}
	c.wire()

	token := ""
	if c.tokens != nil {
		var err error
		token, err = c.tokens.Token(ctx)
		if err != nil {
			err = fmt.Errorf("client: token exchange: %w", err)
			c.fail(ErrServer, err)
			return err
		}
	}

	hs := transport.HandshakeConfig{
		AccessToken: token,
		Configuration: transport.SessionConfiguration{
			Prompt:       c.opts.Prompt,
			Utilities:    c.opts.Utilities,
			VoiceProfile: c.opts.VoiceProfile,
		},
		Greeting: c.opts.Greeting,
	}
	if err := c.transport.Connect(ctx, hs); err != nil {
		c.fail(classify(err), err)
		return err
	}

	observe.Default().HandshakeDuration.Record(ctx, time.Since(started).Seconds())
	c.mu.Lock()
	if !c.sessionActive {
		c.sessionActive = true
		observe.Default().ActiveSessions.Add(ctx, 1)
	}
	c.mu.Unlock()

	c.setState(StateWaiting)
	return nil
}

// build constructs every collaborator that was not injected.
func (c *Client) build() error {
	if c.transport == nil {
		c.transport = transport.New(c.opts.APIURL)
	}
	if c.tokens == nil && c.opts.APIKey != "" {
		store := c.tokenStore
		if store == nil {
			store = tokenstore.NewMemStore()
		}
		c.tokens = auth.New(auth.Config{
			URL:         c.authURL(),
			APIKey:      c.opts.APIKey,
			FederatedID: c.opts.FederatedID,
		}, store)
	}
	if c.player == nil {
		if c.clock == nil {
			clk, err := player.NewDeviceClock(48000, 2)
			if err != nil {
				return fmt.Errorf("client: open output device: %w", err)
			}
			c.clock = clk
			c.ownsClock = true
		}
		c.player = player.New(c.clock,
			player.WithOutputFormat(audio.Format{SampleRate: 48000, Channels: 2}))
	}
	if c.pipeline == nil {
		rc := c.opts.RecordingConfig
		source := c.captureSource
		if source == nil {
			source = capture.NewMalgoSource()
		}
		rec := capture.NewRecorder(source, capture.Config{
			SampleRate:       rc.SampleRate,
			Channels:         rc.Channels,
			EchoCancellation: rc.EchoCancellation,
			NoiseSuppression: rc.NoiseSuppression,
			AutoGainControl:  rc.AutoGainControl,
		})
		engine := c.vadEngine
		if engine == nil {
			engine = vad.NewEnergyEngine()
		}
		det, err := vad.NewDetector(engine, vad.DetectorConfig{SampleRate: rc.SampleRate})
		if err != nil {
			return fmt.Errorf("client: create vad detector: %w", err)
		}
		c.pipeline = input.New(rec, det, c.transportSender(), input.Config{
			Capabilities: &input.Capabilities{
				Audio: c.opts.InputCapabilities.Audio,
				Text:  c.opts.InputCapabilities.Text,
			},
		})
	}
	return nil
}

// transportSender adapts the transport for the input pipeline.
func (c *Client) transportSender() input.AudioSender {
	return senderAdapter{c: c}
}

type senderAdapter struct{ c *Client }

func (a senderAdapter) transport() sessionTransport {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	return a.c.transport
}

func (a senderAdapter) AddAudio(b64 string, cfg *transport.AudioConfig) error {
	t := a.transport()
	if t == nil {
		return transport.ErrClosed
	}
	return t.AddAudio(b64, cfg)
}

func (a senderAdapter) CheckTurn() error {
	t := a.transport()
	if t == nil {
		return transport.ErrClosed
	}
	return t.CheckTurn()
}

// authURL derives the token-exchange endpoint from APIURL when the host did
// not set one: the /auth/token path on the corresponding HTTP origin.
func (c *Client) authURL() string {
	if c.opts.AuthURL != "" {
		return c.opts.AuthURL
	}
	u, err := url.Parse(c.opts.APIURL)
	if err != nil {
		return c.opts.APIURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/auth/token"
	return u.String()
}

// wire routes all collaborator events into the dispatch queue.
func (c *Client) wire() {
	c.transport.OnMessage(func(msg transport.Message) {
		c.queue.push(func() { c.handleMessage(msg) })
	})
	c.transport.OnError(func(err error) {
		c.queue.push(func() { c.handleTransportError(err) })
	})
	c.transport.OnConnected(func() {
		c.queue.push(func() {
			if c.hooks.OnNetworkReady != nil {
				c.hooks.OnNetworkReady()
			}
		})
	})
	c.player.OnEvent(func(ev player.Event) {
		c.queue.push(func() { c.handlePlayerEvent(ev) })
	})
	c.player.OnDecodeError(func(err error) {
		c.queue.push(func() {
			// Transient decode failures are expected; surface without
			// leaving the current state.
			observe.Default().DecodeDrops.Add(context.Background(), 1)
			if c.hooks.OnError != nil {
				c.hooks.OnError(ErrDecode, err)
			}
		})
	})
	c.pipeline.OnSpeaking(func(speaking bool) {
		c.queue.push(func() { c.handleSpeaking(speaking) })
	})
	c.pipeline.OnInputComplete(func() {
		c.queue.push(func() { c.handleInputComplete() })
	})
}

// StartListening opens the user's turn: the input pipeline starts and the
// state moves from idle to listening.
func (c *Client) StartListening() error {
	switch c.State() {
	case StateIdle, StateInterrupted:
	default:
		return fmt.Errorf("client: start listening from state %q", c.State())
	}
	c.pipeline.Reset()
	if err := c.pipeline.Start(); err != nil {
		c.fail(ErrMicDenied, err)
		return err
	}
	c.setState(StateListening)
	return nil
}

// StopListening abandons the user's turn and returns to idle.
func (c *Client) StopListening() error {
	if _, err := c.pipeline.Stop(); err != nil {
		return err
	}
	c.setState(StateIdle)
	return nil
}

// Interact opens a custom interaction (typically text input). The response
// streams back exactly like a voice turn.
func (c *Client) Interact(req InteractRequest) error {
	params := transport.InteractParams{
		Text:               req.Text,
		Speakers:           req.Speakers,
		Context:            c.mergedContext(req.Context),
		OnInput:            req.OnInput,
		OnInputNonBlocking: req.OnInputNonBlocking,
		OnOutput:           req.OnOutput,
		LanguageCode:       req.LanguageCode,
	}
	uid, err := c.transport.Interact(params)
	if err != nil {
		c.fail(classify(err), err)
		return err
	}

	c.mu.Lock()
	c.interactionUID = uid
	c.turnStart = time.Now()
	c.mu.Unlock()
	c.player.Reset()
	c.setState(StateWaiting)
	return nil
}

// SendText submits a text utterance as the user's turn.
func (c *Client) SendText(text string) error {
	return c.Interact(InteractRequest{Text: text})
}

// mergedContext overlays per-request context on the session context.
func (c *Client) mergedContext(reqCtx map[string]any) map[string]any {
	if len(c.opts.Context) == 0 {
		return reqCtx
	}
	merged := make(map[string]any, len(c.opts.Context)+len(reqCtx))
	for k, v := range c.opts.Context {
		merged[k] = v
	}
	for k, v := range reqCtx {
		merged[k] = v
	}
	return merged
}

// Interrupt barges in on the assistant: playback pauses, the active
// interaction stream is cut server-side, and the state moves to interrupted.
func (c *Client) Interrupt() error {
	if err := c.player.Pause(); err != nil {
		slog.Warn("client: pause on interrupt", "err", err)
	}

	c.mu.Lock()
	uid := c.interactionUID
	c.mu.Unlock()

	if uid != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := c.transport.Interrupt(ctx, uid, nil); err != nil {
			slog.Warn("client: interrupt request failed", "uid", uid, "err", err)
		}
	}
	c.player.Reset()
	c.cancelSubtitleTimers()
	observe.Default().Interruptions.Add(context.Background(), 1)
	c.setState(StateInterrupted)
	return nil
}

// Pause suspends assistant playback.
func (c *Client) Pause() error {
	if c.State() != StatePlaying {
		return fmt.Errorf("client: pause from state %q", c.State())
	}
	if err := c.player.Pause(); err != nil {
		return err
	}
	c.setState(StatePaused)
	return nil
}

// Resume continues assistant playback after Pause.
func (c *Client) Resume() error {
	if c.State() != StatePaused {
		return fmt.Errorf("client: resume from state %q", c.State())
	}
	if err := c.player.Resume(); err != nil {
		return err
	}
	c.setState(StatePlaying)
	return nil
}

// ForceInputComplete ends the user's turn immediately, as if the silence
// timer had fired.
func (c *Client) ForceInputComplete() {
	c.pipeline.SendInputComplete()
}

// ToggleTextOnlyInput switches between audio and text-only input modes.
// Enabling text-only stops recording; disabling it re-enables audio and,
// when the conversation is idle, starts listening again.
func (c *Client) ToggleTextOnlyInput(textOnly bool) error {
	caps := input.Capabilities{Audio: !textOnly, Text: true}
	if err := c.pipeline.UpdateCapabilities(caps); err != nil {
		return err
	}
	if !textOnly && c.State() == StateIdle {
		return c.StartListening()
	}
	return nil
}

// Stop tears the conversation down: input pipeline stopped, playback
// stopped, transport disconnected, state idle. A stopped client may be
// re-initialized to start a fresh session.
func (c *Client) Stop() error {
	var errs []error
	if c.pipeline != nil {
		if _, err := c.pipeline.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.player != nil {
		c.player.Reset()
	}
	c.cancelSubtitleTimers()
	if c.transport != nil {
		if err := c.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsClock && c.clock != nil {
		if err := c.clock.Close(); err != nil {
			errs = append(errs, err)
		}
		c.clock = nil
		c.ownsClock = false
	}

	c.mu.Lock()
	c.interactionUID = ""
	c.interactionCompletePending = false
	if c.sessionActive {
		c.sessionActive = false
		observe.Default().ActiveSessions.Add(context.Background(), -1)
	}
	// The next Initialize rebuilds the transport and, if owned, the clock.
	c.transport = nil
	c.player = nil
	c.mu.Unlock()

	c.setState(StateIdle)
	return errors.Join(errs...)
}

// Close releases the dispatch queue and all collaborators. The client is
// unusable afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Stop()
	if c.pipeline != nil {
		err = errors.Join(err, c.pipeline.Close())
	}
	c.queue.close()
	return err
}
