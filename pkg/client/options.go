package client

import (
	"fmt"

	"github.com/sonara-ai/sonara-go/internal/transport"
)

// ErrorKind classifies errors surfaced through the error hook.
type ErrorKind string

const (
	// ErrMicDenied: microphone acquisition failed or was refused.
	ErrMicDenied ErrorKind = "mic_denied"

	// ErrNetworkTimeout: a request timer fired, or the transport was not
	// ready when needed.
	ErrNetworkTimeout ErrorKind = "network_timeout"

	// ErrNetwork: the transport reported a channel-level failure.
	ErrNetwork ErrorKind = "network_error"

	// ErrServer: the server answered with an error, or initialization
	// failed remotely.
	ErrServer ErrorKind = "server_error"

	// ErrDecode: the audio player failed to establish playable buffers.
	ErrDecode ErrorKind = "decode_error"
)

// Subtitle re-exports the wire subtitle payload for hook signatures.
type Subtitle = transport.Subtitle

// SubtitleWord re-exports the wire subtitle word payload.
type SubtitleWord = transport.SubtitleWord

// VoiceProfile re-exports the wire voice profile.
type VoiceProfile = transport.VoiceProfile

// Hooks are the host-supplied event sinks. All fields are optional; nil
// hooks are skipped. Hooks are invoked synchronously from the client's
// dispatch path and must not block.
type Hooks struct {
	// OnStateChange fires after every committed state transition.
	OnStateChange func(oldState, newState State)

	// OnText fires with each incremental text event of the assistant's
	// response.
	OnText func(text string)

	// OnTextComplete fires with the full response text once it is final.
	OnTextComplete func(text string)

	// OnMessage fires with free-form string messages attached to the
	// interaction (data events).
	OnMessage func(message string)

	// OnSubtitleChange fires when a new subtitle line replaces the current
	// one.
	OnSubtitleChange func(subtitle Subtitle)

	// OnSubtitleWordHighlight fires as each subtitle word becomes current,
	// following the word timings the server supplies.
	OnSubtitleWordHighlight func(word SubtitleWord)

	// OnImageChange fires when the interaction attaches a new image.
	OnImageChange func(url string)

	// OnNetworkReady fires once the session handshake completes, and again
	// after a successful reconnect.
	OnNetworkReady func()

	// OnAvatarAnimation fires with the name of an avatar animation to play.
	OnAvatarAnimation func(name string)

	// OnViseme fires with each viseme event for lip-sync rendering.
	OnViseme func(viseme string)

	// OnError fires for every surfaced error with its classification.
	OnError func(kind ErrorKind, err error)
}

// Capabilities toggles the client's output surfaces.
type Capabilities struct {
	Audio     bool
	Subtitles bool
	Avatar    bool
}

// InputCapabilities toggles the client's input modes.
type InputCapabilities struct {
	Audio bool
	Text  bool
}

// RecordingConfig carries the microphone constraints.
type RecordingConfig struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// InteractRequest is the public shape of a custom interaction.
type InteractRequest struct {
	Text               string
	Speakers           []string
	Context            map[string]any
	OnInput            []string
	OnInputNonBlocking []string
	OnOutput           []string
	LanguageCode       string
}

// Options configures a [Client] at construction time.
type Options struct {
	// APIURL is the WebSocket endpoint of the assistant service. Required.
	APIURL string

	// APIKey authenticates the token exchange. Required unless a token
	// provider is injected.
	APIKey string

	// FederatedID identifies the end user to the auth endpoint.
	FederatedID string

	// AuthURL is the HTTP endpoint of the bearer-token exchange. Derived
	// from APIURL when empty.
	AuthURL string

	// Prompt is the system prompt pushed during the handshake.
	Prompt string

	// Context is attached to every interact request.
	Context map[string]any

	// Utilities lists the server-side utilities enabled for the session.
	Utilities []string

	// VoiceProfile shapes the assistant's voice. Validated client-side.
	VoiceProfile *VoiceProfile

	// Greeting overrides the priming interact text (default ".").
	Greeting string

	// Capabilities defaults to audio + subtitles enabled.
	Capabilities *Capabilities

	// InputCapabilities defaults to audio-only input.
	InputCapabilities *InputCapabilities

	// RecordingConfig defaults to 48 kHz mono with all processing flags on.
	RecordingConfig *RecordingConfig

	// Hooks are the host event sinks.
	Hooks Hooks
}

// withDefaults returns a copy of o with defaulted optional blocks.
func (o Options) withDefaults() Options {
	if o.Capabilities == nil {
		o.Capabilities = &Capabilities{Audio: true, Subtitles: true}
	}
	if o.InputCapabilities == nil {
		o.InputCapabilities = &InputCapabilities{Audio: true}
	}
	if o.RecordingConfig == nil {
		o.RecordingConfig = &RecordingConfig{
			SampleRate:       48000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		}
	}
	return o
}

// Validate checks the required fields and the voice profile ranges: speed in
// [0.7, 1.2], stability and similarity boost in [0, 1].
func (o Options) Validate() error {
	if o.APIURL == "" {
		return fmt.Errorf("client: APIURL is required")
	}
	if vp := o.VoiceProfile; vp != nil {
		if vp.Speed != nil && (*vp.Speed < 0.7 || *vp.Speed > 1.2) {
			return fmt.Errorf("client: voice profile speed %v out of range [0.7, 1.2]", *vp.Speed)
		}
		if vp.Stability != nil && (*vp.Stability < 0 || *vp.Stability > 1) {
			return fmt.Errorf("client: voice profile stability %v out of range [0, 1]", *vp.Stability)
		}
		if vp.SimilarityBoost != nil && (*vp.SimilarityBoost < 0 || *vp.SimilarityBoost > 1) {
			return fmt.Errorf("client: voice profile similarity boost %v out of range [0, 1]", *vp.SimilarityBoost)
		}
	}
	return nil
}
