// Package transport implements the bidirectional session channel to the
// assistant service: newline-free JSON envelopes over a WebSocket, with
// client-generated correlation uids, single- and stream-mode pending request
// records, per-request timeouts, and the authenticate/configure handshake.
package transport

import "encoding/json"

// Envelope types on the client→server path.
const (
	typeRequest = "request"
	typeStream  = "stream"
)

// Request kinds.
const (
	KindAuthenticate       = "authenticate"
	KindSetConfiguration   = "set_configuration"
	KindMergeConfiguration = "merge_configuration"
	KindGetConfiguration   = "get_configuration"
	KindRenderPrompt       = "render_prompt"
	KindAddAudio           = "add_audio"
	KindClearAudio         = "clear_audio"
	KindCheckTurn          = "check_turn"
	KindTranscribe         = "transcribe"
	KindAddKeywords        = "add_keywords"
	KindRemoveKeywords     = "remove_keywords"
	KindDetectKeywords     = "detect_keywords"
	KindAddSpeaker         = "add_speaker"
	KindRemoveSpeakers     = "remove_speakers"
	KindDetectSpeakers     = "detect_speakers"
	KindInteract           = "interact"
	KindInterrupt          = "interrupt"
	KindRun                = "run"
	KindPing               = "ping"

	// Server-side kinds.
	KindClose = "close"
	KindError = "error"
)

// Interact stream event names, carried in the "event" field of interact
// responses.
const (
	EventInteractionStarted  = "interaction_started"
	EventText                = "text"
	EventTextComplete        = "text_complete"
	EventAudio               = "audio"
	EventAudioComplete       = "audio_complete"
	EventData                = "data"
	EventImage               = "image"
	EventSubtitles           = "subtitles"
	EventViseme              = "viseme"
	EventInteractionError    = "interaction_error"
	EventInteractionComplete = "interaction_complete"
)

// AudioConfig describes the encoding of an add_audio payload. The service
// expects a continuous MPEG byte stream at 48 kHz unless overridden.
type AudioConfig struct {
	SamplingRate int    `json:"sampling_rate"`
	MimeType     string `json:"mime_type"`
}

// DefaultAudioConfig is the wire format used when the caller does not
// override the audio encoding.
var DefaultAudioConfig = AudioConfig{SamplingRate: 48000, MimeType: "audio/mpeg"}

// VoiceProfile selects and shapes the assistant's synthesised voice.
// Ranges are validated client-side: Speed in [0.7, 1.2], Stability and
// SimilarityBoost in [0, 1].
type VoiceProfile struct {
	VoiceID         string   `json:"voice_id,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
	Stability       *float64 `json:"stability,omitempty"`
	SimilarityBoost *float64 `json:"similarity_boost,omitempty"`
}

// SessionConfiguration is the payload of set_configuration.
type SessionConfiguration struct {
	Prompt       string        `json:"prompt,omitempty"`
	Temperature  *float64      `json:"temperature,omitempty"`
	Utilities    []string      `json:"utilities,omitempty"`
	VoiceProfile *VoiceProfile `json:"voice_profile,omitempty"`
}

// InteractParams carries the optional fields of an interact stream request.
type InteractParams struct {
	Text              string         `json:"text,omitempty"`
	Speakers          []string       `json:"speakers,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	OnInput           []string       `json:"on_input,omitempty"`
	OnInputNonBlocking []string      `json:"on_input_non_blocking,omitempty"`
	OnOutput          []string       `json:"on_output,omitempty"`
	AudioOutput       *bool          `json:"audio_output,omitempty"`
	LanguageCode      string         `json:"language_code,omitempty"`
}

// SubtitleWord is one word of a subtitles event with its highlight timing.
type SubtitleWord struct {
	Word    string `json:"word"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
}

// Subtitle is the payload of a subtitles event.
type Subtitle struct {
	Text  string         `json:"text"`
	Words []SubtitleWord `json:"words,omitempty"`
}

// Message is the server→client envelope. Kind discriminates the union; for
// interact responses, Event discriminates further. Unused fields are zero.
type Message struct {
	Kind string `json:"kind"`
	UID  string `json:"uid"`

	ClientStartTime string `json:"client_start_time,omitempty"`
	ServerStartTime string `json:"server_start_time,omitempty"`
	ServerEndTime   string `json:"server_end_time,omitempty"`

	// Event is set on interact responses.
	Event string `json:"event,omitempty"`

	// Error is set when Kind is "error" or Event is "interaction_error".
	Error string `json:"error,omitempty"`

	// Text carries text and text_complete event payloads, and render_prompt
	// results.
	Text string `json:"text,omitempty"`

	// Audio is a base64-encoded compressed audio chunk of an audio event.
	Audio string `json:"audio,omitempty"`

	// Subtitles is set on subtitles events.
	Subtitles *Subtitle `json:"subtitles,omitempty"`

	// Image is the URL of an image event.
	Image string `json:"image,omitempty"`

	// Viseme names the mouth shape of a viseme event.
	Viseme string `json:"viseme,omitempty"`

	// Animation names an avatar animation attached to the event, if any.
	Animation string `json:"animation,omitempty"`

	// Data carries the raw payload of a data event or of response kinds with
	// structured results (get_configuration, detect_keywords, …).
	Data json.RawMessage `json:"data,omitempty"`

	// IsUserStillSpeaking is set on check_turn responses.
	IsUserStillSpeaking *bool `json:"is_user_still_speaking,omitempty"`

	// Transcription is set on transcribe responses.
	Transcription string `json:"transcription,omitempty"`

	// Keywords and Speakers are set on the respective detect responses.
	Keywords []string `json:"keywords,omitempty"`
	Speakers []string `json:"speakers,omitempty"`
}
