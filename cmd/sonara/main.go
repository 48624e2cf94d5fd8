// Command sonara is a terminal client for the Sonara conversation service:
// it connects the local microphone and speakers to a remote assistant
// session and prints the conversation as it happens.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sonara-ai/sonara-go/internal/config"
	"github.com/sonara-ai/sonara-go/internal/health"
	"github.com/sonara-ai/sonara-go/internal/observe"
	"github.com/sonara-ai/sonara-go/internal/session"
	"github.com/sonara-ai/sonara-go/pkg/client"
	"github.com/sonara-ai/sonara-go/pkg/tokenstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "sonara.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sonara: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sonara: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sonara starting",
		"config", *configPath,
		"api_url", cfg.Session.APIURL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sonara"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Client ────────────────────────────────────────────────────────────────
	c, err := buildClient(cfg)
	if err != nil {
		slog.Error("failed to build client", "err", err)
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Warn("client close error", "err", err)
		}
	}()

	// ── Session recovery ──────────────────────────────────────────────────────
	reconnector := session.NewReconnector(session.ReconnectorConfig{
		MaxRetries: cfg.Reconnect.MaxRetries,
		Connect: func(ctx context.Context) error {
			if err := c.Stop(); err != nil {
				slog.Warn("stop before reconnect", "err", err)
			}
			return c.Initialize(ctx)
		},
		OnReconnect: func() { slog.Info("session recovered") },
		OnGiveUp:    func(err error) { slog.Error("session recovery exhausted", "err", err) },
	})
	reconnector.Monitor(ctx)
	defer reconnector.Stop()
	notifyDrop = reconnector.NotifyDisconnect

	// ── Connect ───────────────────────────────────────────────────────────────
	if err := c.Initialize(ctx); err != nil {
		slog.Error("failed to initialise session", "err", err)
		return 1
	}
	slog.Info("session ready — speak, type, or press Ctrl+C to quit")

	// ── Serving loops ─────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		g.Go(func() error { return serveDiagnostics(gctx, cfg.Server.ListenAddr, c) })
	}
	g.Go(func() error { return readCommands(gctx, c) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping")
	if err := c.Stop(); err != nil {
		slog.Warn("stop error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// notifyDrop is set once the reconnector exists so the error hook can reach
// it; the hook is registered before the reconnector is constructed.
var notifyDrop func()

// buildClient assembles a client.Client from the demo configuration.
func buildClient(cfg *config.Config) (*client.Client, error) {
	var voice *client.VoiceProfile
	if v := cfg.Session.Voice; v != (config.VoiceConfig{}) {
		voice = &client.VoiceProfile{VoiceID: v.VoiceID}
		if v.Speed != 0 {
			voice.Speed = &v.Speed
		}
		if v.Stability != 0 {
			voice.Stability = &v.Stability
		}
		if v.SimilarityBoost != 0 {
			voice.SimilarityBoost = &v.SimilarityBoost
		}
	}

	opts := client.Options{
		APIURL:      cfg.Session.APIURL,
		APIKey:      cfg.Session.APIKey,
		AuthURL:     cfg.Session.AuthURL,
		FederatedID: cfg.Session.FederatedID,
		Prompt:      cfg.Session.Prompt,
		Greeting:    cfg.Session.Greeting,
		Utilities:   cfg.Session.Utilities,
		VoiceProfile: voice,
		Capabilities: &client.Capabilities{
			Audio:     cfg.Output.Audio,
			Subtitles: cfg.Output.Subtitles,
			Avatar:    cfg.Output.Avatar,
		},
		InputCapabilities: &client.InputCapabilities{
			Audio: cfg.Input.Audio,
			Text:  cfg.Input.Text,
		},
		RecordingConfig: &client.RecordingConfig{
			SampleRate:       cfg.Recording.SampleRate,
			Channels:         cfg.Recording.Channels,
			EchoCancellation: cfg.Recording.EchoCancellation,
			NoiseSuppression: cfg.Recording.NoiseSuppression,
			AutoGainControl:  cfg.Recording.AutoGainControl,
		},
		Hooks: client.Hooks{
			OnStateChange: func(oldState, newState client.State) {
				slog.Debug("state change", "from", oldState, "to", newState)
			},
			OnText: func(text string) {
				fmt.Print(text)
			},
			OnTextComplete: func(text string) {
				fmt.Println()
			},
			OnMessage: func(message string) {
				slog.Info("server message", "message", message)
			},
			OnSubtitleChange: func(sub client.Subtitle) {
				slog.Debug("subtitle", "text", sub.Text)
			},
			OnImageChange: func(url string) {
				slog.Info("image", "url", url)
			},
			OnAvatarAnimation: func(name string) {
				slog.Debug("avatar animation", "name", name)
			},
			OnNetworkReady: func() {
				slog.Info("network ready")
			},
			OnError: func(kind client.ErrorKind, err error) {
				slog.Error("conversation error", "kind", kind, "err", err)
				if (kind == client.ErrNetwork || kind == client.ErrNetworkTimeout) && notifyDrop != nil {
					notifyDrop()
				}
			},
		},
	}

	var injections []client.Option
	if cfg.Session.TokenCache != "" {
		injections = append(injections, client.WithTokenStore(tokenstore.NewFileStore(cfg.Session.TokenCache)))
	}
	return client.New(opts, injections...)
}

// serveDiagnostics exposes the health probes on addr until ctx is done.
func serveDiagnostics(ctx context.Context, addr string, c *client.Client) error {
	mux := http.NewServeMux()
	h := health.New(
		func() string { return string(c.State()) },
		health.Checker{Name: "session", Check: func(ctx context.Context) error {
			if c.State() == client.StateError {
				return errors.New("session in error state")
			}
			return nil
		}},
	)
	h.Register(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("diagnostics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// readCommands turns stdin lines into client operations: plain text becomes
// a text turn, slash commands drive the conversation controls.
func readCommands(ctx context.Context, c *client.Client) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := dispatchCommand(c, strings.TrimSpace(line)); err != nil {
				slog.Warn("command failed", "line", line, "err", err)
			}
		}
	}
}

// dispatchCommand executes one console command.
func dispatchCommand(c *client.Client, line string) error {
	switch {
	case line == "":
		return nil
	case line == "/listen":
		return c.StartListening()
	case line == "/stop-listening":
		return c.StopListening()
	case line == "/pause":
		return c.Pause()
	case line == "/resume":
		return c.Resume()
	case line == "/interrupt":
		return c.Interrupt()
	case line == "/done":
		c.ForceInputComplete()
		return nil
	case line == "/text-only":
		return c.ToggleTextOnlyInput(true)
	case line == "/voice":
		return c.ToggleTextOnlyInput(false)
	case line == "/state":
		fmt.Printf("state: %s\n", c.State())
		return nil
	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("unknown command %q", line)
	default:
		return c.SendText(line)
	}
}

// newLogger builds the default slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
