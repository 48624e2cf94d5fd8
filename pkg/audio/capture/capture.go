// Package capture acquires microphone audio and turns it into the fixed-size
// chunks the input pipeline sends to the assistant service.
//
// The two moving parts are [Source] — the device abstraction, with a
// real-time miniaudio implementation and a time-sliced reader fallback — and
// [Recorder], which owns chunk emission and the buffering mode used for
// barge-in pre-arming: while buffering is enabled, chunks are diverted into
// an in-memory FIFO queue instead of being emitted, and the orchestration
// layer drains that queue exactly once when the next turn is committed.
package capture

import (
	"fmt"
	"sync"

	"github.com/sonara-ai/sonara-go/pkg/audio"
)

// DefaultFrameSamples is the per-chunk sample count posted by real-time
// sources. At 48 kHz this is roughly 85 ms of audio.
const DefaultFrameSamples = 4096

// Config holds the constraints used to open an input device.
type Config struct {
	// SampleRate in Hz. Defaults to 48000.
	SampleRate int

	// Channels of the captured stream. Defaults to 1.
	Channels int

	// FrameSamples is the fixed chunk size posted by the source, in samples
	// per channel. Defaults to [DefaultFrameSamples].
	FrameSamples int

	// EchoCancellation, NoiseSuppression, and AutoGainControl request the
	// corresponding device-side processing where the backend supports it.
	// Backends without the capability ignore the flag.
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = DefaultFrameSamples
	}
}

// Source is the device abstraction behind a [Recorder]. Open prepares the
// device and registers the delivery callback; Start and Stop gate delivery;
// Close releases the device. Implementations must be safe for concurrent use
// of the lifecycle methods, and deliver frames from a single goroutine.
type Source interface {
	Open(cfg Config, deliver func(audio.Frame)) error
	Start() error
	Stop() error
	Close() error
}

// Recorder owns a [Source] and exposes the chunk stream with a buffering
// mode. All exported methods are safe for concurrent use.
type Recorder struct {
	src Source
	cfg Config

	mu        sync.Mutex
	opened    bool
	recording bool
	buffering bool
	buffered  [][]byte
	onChunk   func([]byte)
	onFrame   func(audio.Frame)
}

// NewRecorder creates a Recorder over src. Call [Recorder.Initialize] before
// Start.
func NewRecorder(src Source, cfg Config) *Recorder {
	cfg.applyDefaults()
	return &Recorder{src: src, cfg: cfg}
}

// Config returns the effective capture configuration after defaulting.
func (r *Recorder) Config() Config {
	return r.cfg
}

// OnChunk registers the callback invoked with each emitted chunk. Only one
// callback may be registered; subsequent calls replace it.
func (r *Recorder) OnChunk(fn func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChunk = fn
}

// OnFrame registers a raw tap invoked with every captured frame while
// recording, before silence dropping, trimming, or buffering. The VAD side
// listens here so it keeps seeing audio while buffering mode diverts chunks.
func (r *Recorder) OnFrame(fn func(audio.Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFrame = fn
}

// Initialize opens the underlying device. Calls while the device is open are
// no-ops; after Close, Initialize opens it again.
func (r *Recorder) Initialize() error {
	r.mu.Lock()
	if r.opened {
		r.mu.Unlock()
		return nil
	}
	r.opened = true
	r.mu.Unlock()

	if err := r.src.Open(r.cfg, r.deliver); err != nil {
		r.mu.Lock()
		r.opened = false
		r.mu.Unlock()
		return fmt.Errorf("capture: open source: %w", err)
	}
	return nil
}

// Start begins chunk delivery. Idempotent while already recording.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if !r.opened {
		r.mu.Unlock()
		return fmt.Errorf("capture: recorder not initialized")
	}
	if r.recording {
		r.mu.Unlock()
		return nil
	}
	r.recording = true
	r.mu.Unlock()

	if err := r.src.Start(); err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		return fmt.Errorf("capture: start source: %w", err)
	}
	return nil
}

// Stop halts chunk delivery. It reports whether the recorder transitioned
// from recording to stopped.
func (r *Recorder) Stop() (bool, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return false, nil
	}
	r.recording = false
	r.mu.Unlock()

	if err := r.src.Stop(); err != nil {
		return true, fmt.Errorf("capture: stop source: %w", err)
	}
	return true, nil
}

// IsRecording reports whether the recorder is currently delivering chunks.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// EnableBuffering diverts subsequent chunks into the in-memory queue instead
// of emitting them.
func (r *Recorder) EnableBuffering() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffering = true
}

// DisableBuffering restores normal chunk emission. Chunks already queued are
// kept until drained or cleared.
func (r *Recorder) DisableBuffering() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffering = false
}

// IsBuffering reports whether buffering mode is enabled.
func (r *Recorder) IsBuffering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buffering
}

// BufferedChunks drains and returns the queued chunks in capture order.
// The queue is empty afterwards.
func (r *Recorder) BufferedChunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.buffered
	r.buffered = nil
	return out
}

// ClearBuffer discards all queued chunks.
func (r *Recorder) ClearBuffer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffered = nil
}

// Close stops and releases the underlying device.
func (r *Recorder) Close() error {
	r.mu.Lock()
	wasOpen := r.opened
	r.opened = false
	r.recording = false
	r.mu.Unlock()

	if !wasOpen {
		return nil
	}
	return r.src.Close()
}

// deliver is the source callback. Fully silent chunks are dropped, leading
// zero bytes are trimmed, and the result is either queued (buffering mode)
// or handed to the registered chunk callback.
func (r *Recorder) deliver(frame audio.Frame) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return
	}
	tap := r.onFrame
	r.mu.Unlock()
	if tap != nil {
		tap(frame)
	}

	r.mu.Lock()
	chunk := frame.Data
	if len(chunk) == 0 || audio.AllZero(chunk) {
		r.mu.Unlock()
		return
	}
	chunk = audio.TrimLeadingZeros(chunk)

	if r.buffering {
		r.buffered = append(r.buffered, chunk)
		r.mu.Unlock()
		return
	}
	fn := r.onChunk
	r.mu.Unlock()

	if fn != nil {
		fn(chunk)
	}
}
