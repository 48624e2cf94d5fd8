package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
session:
  api_url: wss://api.sonara.test/session
  api_key: sk-test
`

func TestLoadFromReader_MinimalConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Recording.SampleRate != 48000 || cfg.Recording.Channels != 1 {
		t.Errorf("recording defaults = %+v", cfg.Recording)
	}
	if !cfg.Output.Audio || !cfg.Output.Subtitles || cfg.Output.Avatar {
		t.Errorf("output defaults = %+v", cfg.Output)
	}
	if !cfg.Input.Audio || cfg.Input.Text {
		t.Errorf("input defaults = %+v", cfg.Input)
	}
}

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  listen_addr: ":9090"
  log_level: debug
session:
  api_url: wss://api.sonara.test/session
  api_key: sk-test
  federated_id: user-42
  prompt: "You are a helpful concierge."
  greeting: "Hello there"
  utilities: [weather, calendar]
  voice:
    voice_id: nova
    speed: 1.1
    stability: 0.5
    similarity_boost: 0.8
  token_cache: /tmp/sonara-tokens.json
recording:
  sample_rate: 16000
  channels: 1
  echo_cancellation: true
  noise_suppression: false
  auto_gain_control: true
output:
  audio: true
  subtitles: true
  avatar: true
input:
  audio: true
  text: true
reconnect:
  max_retries: 5
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Session.Voice.Speed != 1.1 {
		t.Errorf("voice speed = %v, want 1.1", cfg.Session.Voice.Speed)
	}
	if len(cfg.Session.Utilities) != 2 {
		t.Errorf("utilities = %v", cfg.Session.Utilities)
	}
	if cfg.Recording.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", cfg.Recording.SampleRate)
	}
	if cfg.Reconnect.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Reconnect.MaxRetries)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := minimalYAML + `
sesion:
  api_url: typo
`
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Error("unknown top-level field accepted")
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"missing api_url", `
session:
  api_key: sk
`},
		{"missing api_key", `
session:
  api_url: wss://x
`},
		{"bad log level", `
server:
  log_level: verbose
session:
  api_url: wss://x
  api_key: sk
`},
		{"voice speed too high", `
session:
  api_url: wss://x
  api_key: sk
  voice:
    speed: 1.5
`},
		{"stability out of range", `
session:
  api_url: wss://x
  api_key: sk
  voice:
    stability: 1.2
`},
		{"bad channels", `
session:
  api_url: wss://x
  api_key: sk
recording:
  sample_rate: 48000
  channels: 3
`},
		{"no input modes", `
session:
  api_url: wss://x
  api_key: sk
input:
  audio: false
  text: false
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadFromReader(strings.NewReader(tt.yaml)); err == nil {
				t.Errorf("config accepted, want validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/sonara.yaml"); err == nil {
		t.Error("missing file accepted")
	}
}
