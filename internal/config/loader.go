package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := defaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig returns a Config pre-populated with sane defaults, so a
// minimal YAML file only needs the session block.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{LogLevel: LogInfo},
		Recording: RecordingConfig{
			SampleRate:       48000,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Output: OutputConfig{Audio: true, Subtitles: true},
		Input:  InputConfig{Audio: true},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Session.APIURL == "" {
		errs = append(errs, errors.New("session.api_url is required"))
	}
	if cfg.Session.APIKey == "" {
		errs = append(errs, errors.New("session.api_key is required"))
	}

	v := cfg.Session.Voice
	if v.Speed != 0 && (v.Speed < 0.7 || v.Speed > 1.2) {
		errs = append(errs, fmt.Errorf("session.voice.speed %v out of range [0.7, 1.2]", v.Speed))
	}
	if v.Stability != 0 && (v.Stability < 0 || v.Stability > 1) {
		errs = append(errs, fmt.Errorf("session.voice.stability %v out of range [0, 1]", v.Stability))
	}
	if v.SimilarityBoost != 0 && (v.SimilarityBoost < 0 || v.SimilarityBoost > 1) {
		errs = append(errs, fmt.Errorf("session.voice.similarity_boost %v out of range [0, 1]", v.SimilarityBoost))
	}

	if cfg.Recording.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recording.sample_rate %d must be positive", cfg.Recording.SampleRate))
	}
	if cfg.Recording.Channels != 1 && cfg.Recording.Channels != 2 {
		errs = append(errs, fmt.Errorf("recording.channels %d must be 1 or 2", cfg.Recording.Channels))
	}

	if !cfg.Input.Audio && !cfg.Input.Text {
		errs = append(errs, errors.New("input: at least one of audio or text must be enabled"))
	}

	if cfg.Reconnect.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_retries %d must not be negative", cfg.Reconnect.MaxRetries))
	}

	return errors.Join(errs...)
}
