// Package config provides the configuration schema and loader for the
// sonara demo command.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Recording RecordingConfig `yaml:"recording"`
	Output    OutputConfig    `yaml:"output"`
	Input     InputConfig     `yaml:"input"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// ServerConfig holds the local diagnostics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the health endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// SessionConfig identifies and shapes the remote conversation session.
type SessionConfig struct {
	// APIURL is the WebSocket endpoint of the assistant service.
	APIURL string `yaml:"api_url"`

	// APIKey authenticates the bearer-token exchange.
	APIKey string `yaml:"api_key"`

	// AuthURL overrides the token-exchange endpoint derived from APIURL.
	AuthURL string `yaml:"auth_url"`

	// FederatedID identifies the end user to the auth endpoint.
	FederatedID string `yaml:"federated_id"`

	// Prompt is the system prompt pushed during the handshake.
	Prompt string `yaml:"prompt"`

	// Greeting overrides the priming interact text.
	Greeting string `yaml:"greeting"`

	// Utilities lists server-side utilities enabled for the session.
	Utilities []string `yaml:"utilities"`

	// Voice shapes the assistant's synthesised voice.
	Voice VoiceConfig `yaml:"voice"`

	// TokenCache is the path of the on-disk token cache. Empty keeps tokens
	// in memory only.
	TokenCache string `yaml:"token_cache"`
}

// VoiceConfig specifies the assistant voice parameters.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Speed adjusts speaking rate in the range [0.7, 1.2]. 0 means default.
	Speed float64 `yaml:"speed"`

	// Stability in the range [0, 1]. 0 means default.
	Stability float64 `yaml:"stability"`

	// SimilarityBoost in the range [0, 1]. 0 means default.
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// RecordingConfig holds the microphone constraints.
type RecordingConfig struct {
	SampleRate       int  `yaml:"sample_rate"`
	Channels         int  `yaml:"channels"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// OutputConfig toggles the client's output surfaces.
type OutputConfig struct {
	Audio     bool `yaml:"audio"`
	Subtitles bool `yaml:"subtitles"`
	Avatar    bool `yaml:"avatar"`
}

// InputConfig toggles the client's input modes.
type InputConfig struct {
	Audio bool `yaml:"audio"`
	Text  bool `yaml:"text"`
}

// ReconnectConfig bounds the automatic session recovery.
type ReconnectConfig struct {
	// MaxRetries bounds attempts per reconnection cycle. 0 applies the
	// package default.
	MaxRetries int `yaml:"max_retries"`
}
