package vad

import (
	"fmt"
	"sync"
	"time"
)

// Detector default parameters.
const (
	DefaultSilenceTimeout    = 300 * time.Millisecond
	DefaultPositiveThreshold = 0.5
	DefaultNegativeThreshold = 0.35
	DefaultMinSpeechFrames   = 3
	DefaultFrameSizeMs       = 20
)

// DetectorConfig configures a [Detector].
type DetectorConfig struct {
	// SampleRate of the PCM chunks handed to Process. Required.
	SampleRate int

	// FrameSizeMs is the model frame duration. Defaults to 20 ms.
	FrameSizeMs int

	// SilenceTimeout is the debounce window after the most recent speech end
	// before the silence signal fires. Defaults to 300 ms.
	SilenceTimeout time.Duration

	// PositiveThreshold is the probability above which a frame counts as
	// speech. Defaults to 0.5.
	PositiveThreshold float64

	// NegativeThreshold is the probability below which a speech segment ends.
	// Defaults to 0.35.
	NegativeThreshold float64

	// MinSpeechFrames is the number of consecutive speech frames required
	// before a speech start is reported. Defaults to 3.
	MinSpeechFrames int
}

func (c *DetectorConfig) applyDefaults() {
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = DefaultFrameSizeMs
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.PositiveThreshold == 0 {
		c.PositiveThreshold = DefaultPositiveThreshold
	}
	if c.NegativeThreshold == 0 {
		c.NegativeThreshold = DefaultNegativeThreshold
	}
	if c.MinSpeechFrames <= 0 {
		c.MinSpeechFrames = DefaultMinSpeechFrames
	}
}

// Detector turns per-frame VAD classifications into utterance boundary
// events: a speaking/not-speaking transition pair and a debounced silence
// signal that marks the end of the user's turn.
//
// Chunks of any size may be handed to Process; the detector slices them into
// model frames and carries the remainder across calls. The silence timer is
// single-shot: it is started on speech end, cancelled by a subsequent speech
// start, and never restarted while pending.
//
// All exported methods are safe for concurrent use.
type Detector struct {
	cfg        DetectorConfig
	frameBytes int

	mu            sync.Mutex
	session       SessionHandle
	rest          []byte // partial model frame carried between Process calls
	speaking      bool
	speechRun     int
	silenceTimer  *time.Timer
	closed        bool
	onVoiceActive func(speaking bool)
	onSilence     func()
}

// NewDetector creates a Detector backed by a session from engine.
func NewDetector(engine Engine, cfg DetectorConfig) (*Detector, error) {
	cfg.applyDefaults()
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: detector requires a sample rate")
	}

	session, err := engine.NewSession(Config{
		SampleRate:       cfg.SampleRate,
		FrameSizeMs:      cfg.FrameSizeMs,
		SpeechThreshold:  cfg.PositiveThreshold,
		SilenceThreshold: cfg.NegativeThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("vad: create session: %w", err)
	}

	return &Detector{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		session:    session,
	}, nil
}

// OnVoiceActivity registers the callback invoked on each speaking transition.
// Only one callback may be registered; subsequent calls replace it.
func (d *Detector) OnVoiceActivity(fn func(speaking bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onVoiceActive = fn
}

// OnSilence registers the callback invoked when the silence timer fires.
// Only one callback may be registered; subsequent calls replace it.
func (d *Detector) OnSilence(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSilence = fn
}

// Speaking reports whether the detector currently classifies the stream as
// speech.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Process analyses one captured PCM chunk. Transitions detected inside the
// chunk invoke the registered callbacks synchronously, in order.
func (d *Detector) Process(chunk []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("vad: detector closed")
	}

	data := append(d.rest, chunk...)
	var notify []func()

	for len(data) >= d.frameBytes {
		frame := data[:d.frameBytes]
		data = data[d.frameBytes:]

		ev, err := d.session.ProcessFrame(frame)
		if err != nil {
			d.rest = data
			d.mu.Unlock()
			return fmt.Errorf("vad: process frame: %w", err)
		}
		if fn := d.applyLocked(ev); fn != nil {
			notify = append(notify, fn)
		}
	}
	d.rest = data
	d.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

// applyLocked folds one engine event into the debounce state and returns the
// callback to fire, if any. Caller holds d.mu.
func (d *Detector) applyLocked(ev Event) func() {
	switch ev.Type {
	case SpeechStart, SpeechContinue:
		d.speechRun++
		if !d.speaking && d.speechRun >= d.cfg.MinSpeechFrames {
			d.speaking = true
			d.cancelSilenceTimerLocked()
			if fn := d.onVoiceActive; fn != nil {
				return func() { fn(true) }
			}
		}
	case SpeechEnd, Silence:
		d.speechRun = 0
		if d.speaking {
			d.speaking = false
			d.startSilenceTimerLocked()
			if fn := d.onVoiceActive; fn != nil {
				return func() { fn(false) }
			}
		}
	}
	return nil
}

// startSilenceTimerLocked arms the single-shot silence timer. A pending
// timer is left untouched. Caller holds d.mu.
func (d *Detector) startSilenceTimerLocked() {
	if d.silenceTimer != nil {
		return
	}
	d.silenceTimer = time.AfterFunc(d.cfg.SilenceTimeout, d.fireSilence)
}

// cancelSilenceTimerLocked stops any pending silence timer. Caller holds d.mu.
func (d *Detector) cancelSilenceTimerLocked() {
	if d.silenceTimer != nil {
		d.silenceTimer.Stop()
		d.silenceTimer = nil
	}
}

// fireSilence runs on the timer goroutine when the debounce window elapses.
func (d *Detector) fireSilence() {
	d.mu.Lock()
	if d.closed || d.speaking || d.silenceTimer == nil {
		d.mu.Unlock()
		return
	}
	d.silenceTimer = nil
	fn := d.onSilence
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Reset clears all detection state: the speaking flag, the debounce counter,
// the partial-frame remainder, any pending silence timer, and the underlying
// session state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.speechRun = 0
	d.rest = nil
	d.cancelSilenceTimerLocked()
	d.session.Reset()
}

// Close releases the underlying session. Idempotent.
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.cancelSilenceTimerLocked()
	session := d.session
	d.mu.Unlock()
	return session.Close()
}
