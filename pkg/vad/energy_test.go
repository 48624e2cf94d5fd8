package vad

import (
	"math"
	"testing"
)

// sineFrame builds one model frame of int16 PCM at the given amplitude
// (relative to full scale) for a 16 kHz, 20 ms session.
func sineFrame(amplitude float64) []byte {
	const samples = 16000 * 20 / 1000
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func newEnergySession(t *testing.T, opts ...EnergyOption) SessionHandle {
	t.Helper()
	s, err := NewEnergyEngine(opts...).NewSession(Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestEnergySession_ClassifiesLoudAndQuiet(t *testing.T) {
	t.Parallel()

	s := newEnergySession(t)

	ev, err := s.ProcessFrame(sineFrame(0.5))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != SpeechStart {
		t.Errorf("loud frame = %v, want SPEECH_START", ev.Type)
	}

	ev, _ = s.ProcessFrame(sineFrame(0.5))
	if ev.Type != SpeechContinue {
		t.Errorf("second loud frame = %v, want SPEECH_CONTINUE", ev.Type)
	}

	ev, _ = s.ProcessFrame(sineFrame(0.001))
	if ev.Type != SpeechEnd {
		t.Errorf("quiet frame after speech = %v, want SPEECH_END", ev.Type)
	}

	ev, _ = s.ProcessFrame(sineFrame(0.001))
	if ev.Type != Silence {
		t.Errorf("quiet frame at rest = %v, want SILENCE", ev.Type)
	}
}

func TestEnergySession_HysteresisHoldsBetweenThresholds(t *testing.T) {
	t.Parallel()

	s := newEnergySession(t)

	if ev, _ := s.ProcessFrame(sineFrame(0.5)); ev.Type != SpeechStart {
		t.Fatalf("expected speech start, got %v", ev.Type)
	}

	// An in-between level (above silence, below speech threshold) must not
	// end the segment.
	ev, _ := s.ProcessFrame(sineFrame(0.07))
	if ev.Type != SpeechContinue {
		t.Errorf("mid-level frame = %v (p=%.2f), want SPEECH_CONTINUE", ev.Type, ev.Probability)
	}
}

func TestEnergySession_RejectsWrongFrameSize(t *testing.T) {
	t.Parallel()

	s := newEnergySession(t)
	if _, err := s.ProcessFrame(make([]byte, 10)); err == nil {
		t.Error("expected error for wrong frame size")
	}
}

func TestEnergySession_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newEnergySession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(sineFrame(0.5)); err == nil {
		t.Error("ProcessFrame after Close should fail")
	}
}

func TestNewEnergyEngine_ValidatesConfig(t *testing.T) {
	t.Parallel()

	e := NewEnergyEngine()
	bad := []Config{
		{SampleRate: 0, FrameSizeMs: 20, SpeechThreshold: 0.5, SilenceThreshold: 0.35},
		{SampleRate: 16000, FrameSizeMs: 0, SpeechThreshold: 0.5, SilenceThreshold: 0.35},
		{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.3, SilenceThreshold: 0.5},
		{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5, SilenceThreshold: 0.1},
	}
	for i, cfg := range bad {
		if _, err := e.NewSession(cfg); err == nil {
			t.Errorf("config %d accepted, want error", i)
		}
	}
}
