// Package input wires the voice-activity detector and the microphone
// recorder into the pipeline that feeds user audio to the session transport.
//
// The pipeline owns the user-turn one-shot: when the detector reports
// silence, input_complete is raised at most once per turn and a check_turn
// request is issued. It also fronts the recorder's buffering mode for the
// barge-in pre-arm: buffered chunks are flushed to the transport in capture
// order exactly once when the next turn is committed.
package input

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sonara-ai/sonara-go/internal/transport"
	"github.com/sonara-ai/sonara-go/pkg/audio"
	"github.com/sonara-ai/sonara-go/pkg/audio/capture"
	"github.com/sonara-ai/sonara-go/pkg/vad"
)

// AudioSender is the transport capability the pipeline depends on.
type AudioSender interface {
	AddAudio(b64 string, cfg *transport.AudioConfig) error
	CheckTurn() error
}

// Capabilities enables or disables the pipeline's input modes.
type Capabilities struct {
	Audio bool
	Text  bool
}

// Pipeline owns a recorder/detector pair and forwards their output. All
// exported methods are safe for concurrent use.
type Pipeline struct {
	rec    *capture.Recorder
	det    *vad.Detector
	sender AudioSender
	audioCfg *transport.AudioConfig

	mu                sync.Mutex
	running           bool
	inputCompleteSent bool
	caps              Capabilities
	onSpeaking        func(bool)
	onInputComplete   func()
}

// Config carries construction parameters for a [Pipeline].
type Config struct {
	// AudioConfig overrides the wire encoding announced with each add_audio.
	// Nil applies the transport default.
	AudioConfig *transport.AudioConfig

	// Capabilities selects the initially enabled input modes. The zero value
	// enables audio only.
	Capabilities *Capabilities
}

// New wires recorder and detector into a pipeline that sends through sender.
func New(rec *capture.Recorder, det *vad.Detector, sender AudioSender, cfg Config) *Pipeline {
	caps := Capabilities{Audio: true}
	if cfg.Capabilities != nil {
		caps = *cfg.Capabilities
	}
	p := &Pipeline{
		rec:      rec,
		det:      det,
		sender:   sender,
		audioCfg: cfg.AudioConfig,
		caps:     caps,
	}

	rec.OnFrame(p.handleFrame)
	rec.OnChunk(p.handleChunk)
	det.OnVoiceActivity(p.handleVoiceActivity)
	det.OnSilence(p.handleSilence)
	return p
}

// OnSpeaking registers the callback invoked with each user speaking
// transition. Only one callback may be registered; subsequent calls replace
// it.
func (p *Pipeline) OnSpeaking(fn func(speaking bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSpeaking = fn
}

// OnInputComplete registers the callback invoked when the user's turn ends.
func (p *Pipeline) OnInputComplete(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onInputComplete = fn
}

// Start begins VAD analysis and audio capture together. A pipeline whose
// audio capability is disabled starts in text-only mode and captures
// nothing.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	audioOn := p.caps.Audio
	p.mu.Unlock()

	if !audioOn {
		return nil
	}
	if err := p.rec.Initialize(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("input: %w", err)
	}
	if err := p.rec.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("input: %w", err)
	}
	return nil
}

// Stop halts capture and analysis. It reports whether the pipeline
// transitioned from running to stopped.
func (p *Pipeline) Stop() (bool, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false, nil
	}
	p.running = false
	p.mu.Unlock()

	if _, err := p.rec.Stop(); err != nil {
		return true, fmt.Errorf("input: %w", err)
	}
	p.det.Reset()
	return true, nil
}

// IsRunning reports whether the pipeline is currently active.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SendInputComplete forces the one-shot input-complete path, as if the
// detector had reported silence.
func (p *Pipeline) SendInputComplete() {
	p.handleSilence()
}

// Reset re-arms the input-complete one-shot for the next turn.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inputCompleteSent = false
}

// EnableBuffering diverts captured chunks into the recorder's queue instead
// of the wire. Used to pre-arm for barge-in while the assistant is still
// speaking.
func (p *Pipeline) EnableBuffering() {
	p.rec.EnableBuffering()
}

// FlushBuffered sends every buffered chunk in capture order, clears the
// queue, and disables buffering. From that moment live chunks flow normally.
func (p *Pipeline) FlushBuffered() {
	chunks := p.rec.BufferedChunks()
	for _, chunk := range chunks {
		p.sendChunk(chunk)
	}
	p.rec.DisableBuffering()
}

// Capabilities returns the current input capabilities.
func (p *Pipeline) Capabilities() Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps
}

// UpdateCapabilities transitions the recorder on or off to match the
// requested input modes. Disabling audio stops capture and releases the
// device; re-enabling reacquires it and, if the pipeline is running,
// restarts capture.
func (p *Pipeline) UpdateCapabilities(caps Capabilities) error {
	p.mu.Lock()
	prev := p.caps
	p.caps = caps
	running := p.running
	p.mu.Unlock()

	switch {
	case prev.Audio && !caps.Audio:
		if _, err := p.rec.Stop(); err != nil {
			return fmt.Errorf("input: %w", err)
		}
		p.det.Reset()
		if err := p.rec.Close(); err != nil {
			return fmt.Errorf("input: %w", err)
		}
	case !prev.Audio && caps.Audio:
		if err := p.rec.Initialize(); err != nil {
			return fmt.Errorf("input: %w", err)
		}
		if running {
			if err := p.rec.Start(); err != nil {
				return fmt.Errorf("input: %w", err)
			}
		}
	}
	return nil
}

// Close releases the recorder and detector.
func (p *Pipeline) Close() error {
	_, stopErr := p.Stop()
	recErr := p.rec.Close()
	detErr := p.det.Close()
	if stopErr != nil {
		return stopErr
	}
	if recErr != nil {
		return recErr
	}
	return detErr
}

// handleFrame is the recorder's raw tap: every captured frame reaches the
// detector, including frames the recorder diverts into its buffer.
func (p *Pipeline) handleFrame(frame audio.Frame) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	if err := p.det.Process(frame.Data); err != nil {
		slog.Warn("input: vad process failed", "err", err)
	}
}

// handleChunk forwards one emitted chunk to the transport.
func (p *Pipeline) handleChunk(chunk []byte) {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return
	}
	p.sendChunk(chunk)
}

// sendChunk base64-encodes and sends one chunk.
func (p *Pipeline) sendChunk(chunk []byte) {
	b64 := base64.StdEncoding.EncodeToString(chunk)
	if err := p.sender.AddAudio(b64, p.audioCfg); err != nil {
		slog.Warn("input: add_audio failed", "bytes", len(chunk), "err", err)
	}
}

// handleVoiceActivity forwards speaking transitions to the orchestrator.
func (p *Pipeline) handleVoiceActivity(speaking bool) {
	p.mu.Lock()
	fn := p.onSpeaking
	running := p.running
	p.mu.Unlock()
	if running && fn != nil {
		fn(speaking)
	}
}

// handleSilence raises the turn's one-shot input-complete and issues
// check_turn.
func (p *Pipeline) handleSilence() {
	p.mu.Lock()
	if p.inputCompleteSent {
		p.mu.Unlock()
		return
	}
	p.inputCompleteSent = true
	fn := p.onInputComplete
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
	if err := p.sender.CheckTurn(); err != nil {
		slog.Warn("input: check_turn failed", "err", err)
	}
}
