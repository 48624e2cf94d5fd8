package vad

import (
	"fmt"
	"math"
)

// Compile-time checks that the energy backend satisfies the VAD interfaces.
var (
	_ Engine        = (*EnergyEngine)(nil)
	_ SessionHandle = (*energySession)(nil)
)

// defaultReferenceRMS is the full-scale-relative RMS level mapped to
// probability 1.0. Speech at a normal microphone gain sits well above the
// threshold levels this produces for the standard 0.5/0.35 config.
const defaultReferenceRMS = 0.125

// EnergyEngine is a pure-Go VAD backend based on RMS energy with hysteresis.
// It needs no model file and no cgo, which makes it the default engine for
// the client runtime; callers with a neural detector can plug it in through
// the [Engine] interface instead.
type EnergyEngine struct {
	referenceRMS float64
}

// EnergyOption configures an [EnergyEngine].
type EnergyOption func(*EnergyEngine)

// WithReferenceRMS sets the RMS level (relative to full scale, range (0, 1])
// that maps to speech probability 1.0. Lower values make the detector more
// sensitive. The default is 0.125.
func WithReferenceRMS(ref float64) EnergyOption {
	return func(e *EnergyEngine) {
		if ref > 0 {
			e.referenceRMS = ref
		}
	}
}

// NewEnergyEngine creates an energy-based VAD engine.
func NewEnergyEngine(opts ...EnergyOption) *EnergyEngine {
	e := &EnergyEngine{referenceRMS: defaultReferenceRMS}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession creates a new energy VAD session with the given configuration.
func (e *EnergyEngine) NewSession(cfg Config) (SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("vad: invalid frame size %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 ||
		cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("vad: invalid thresholds speech=%v silence=%v",
			cfg.SpeechThreshold, cfg.SilenceThreshold)
	}
	return &energySession{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		refRMS:     e.referenceRMS,
	}, nil
}

// energySession classifies frames by RMS energy. Hysteresis between the
// speech and silence thresholds prevents flickering on breathy or trailing
// audio: a frame between the two thresholds keeps the current state.
type energySession struct {
	cfg        Config
	frameBytes int
	refRMS     float64

	inSpeech bool
	closed   bool
}

// ProcessFrame classifies one frame of little-endian int16 PCM.
func (s *energySession) ProcessFrame(frame []byte) (Event, error) {
	if s.closed {
		return Event{}, fmt.Errorf("vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return Event{}, fmt.Errorf("vad: frame size %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := s.probability(frame)

	switch {
	case !s.inSpeech && p >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		return Event{Type: SpeechStart, Probability: p}, nil
	case s.inSpeech && p <= s.cfg.SilenceThreshold:
		s.inSpeech = false
		return Event{Type: SpeechEnd, Probability: p}, nil
	case s.inSpeech:
		return Event{Type: SpeechContinue, Probability: p}, nil
	default:
		return Event{Type: Silence, Probability: p}, nil
	}
}

// probability maps the frame's RMS level to [0, 1].
func (s *energySession) probability(frame []byte) float64 {
	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		v := float64(int16(frame[i*2]) | int16(frame[i*2+1])<<8)
		sum += v * v
	}
	rms := math.Sqrt(sum/float64(n)) / 32768
	p := rms / s.refRMS
	if p > 1 {
		p = 1
	}
	return p
}

// Reset clears the hysteresis state.
func (s *energySession) Reset() {
	s.inSpeech = false
}

// Close marks the session closed. Idempotent.
func (s *energySession) Close() error {
	s.closed = true
	return nil
}
