package player

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonara-ai/sonara-go/pkg/audio"
	"github.com/sonara-ai/sonara-go/pkg/mpeg"
)

// Event enumerates the player lifecycle signals. Within one playback cycle
// they are emitted in declaration order, each at most once.
type Event int

const (
	// EventReady fires when the first decoded buffer lands in an empty queue
	// before playback has started.
	EventReady Event = iota

	// EventPlaying fires when playback starts.
	EventPlaying

	// EventAboutToComplete fires roughly one second before the final buffer
	// ends, giving the capture side time to pre-arm for barge-in.
	EventAboutToComplete

	// EventFinished fires when the stream is complete and every scheduled
	// buffer has played out.
	EventFinished
)

// String returns the event's name.
func (e Event) String() string {
	switch e {
	case EventReady:
		return "READY"
	case EventPlaying:
		return "PLAYING"
	case EventAboutToComplete:
		return "ABOUT_TO_COMPLETE"
	case EventFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Player defaults.
const (
	// DefaultMinBatch is the number of staged chunks that triggers a decode
	// pass without waiting for the idle flush timer.
	DefaultMinBatch = 2

	// DefaultIdleFlush is how long a lone staged chunk waits before being
	// decoded anyway.
	DefaultIdleFlush = 450 * time.Millisecond

	// DefaultAboutToCompleteLead is how far before the end of audible
	// playback the about-to-complete signal fires.
	DefaultAboutToCompleteLead = time.Second
)

// Option configures a [Player] during construction.
type Option func(*Player)

// WithDecoder substitutes the platform decoder. The default is [MP3Decoder].
func WithDecoder(d Decoder) Option {
	return func(p *Player) { p.dec = d }
}

// WithMinBatch sets the staged-chunk count that triggers a decode pass.
func WithMinBatch(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.minBatch = n
		}
	}
}

// WithIdleFlush sets the staging idle flush interval.
func WithIdleFlush(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.idleFlush = d
		}
	}
}

// WithAboutToCompleteLead sets the lead time of the about-to-complete signal.
func WithAboutToCompleteLead(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.lead = d
		}
	}
}

// WithOutputFormat converts decoded buffers to the given format before they
// are queued. Set this to the clock's device format when the decoder output
// differs (e.g. stereo 44.1 kHz MP3 into a mono 48 kHz device).
func WithOutputFormat(f audio.Format) Option {
	return func(p *Player) { p.convert = &audio.FormatConverter{Target: f} }
}

// Player accepts base64-encoded compressed audio chunks, reassembles them
// into decodable frames, decodes them in batches, and schedules the PCM
// gaplessly on a [Clock]. See the package comment for the event contract.
//
// All exported methods are safe for concurrent use.
type Player struct {
	clock    Clock
	dec      Decoder
	minBatch int
	idleFlush time.Duration
	lead     time.Duration
	convert  *audio.FormatConverter

	mu           sync.Mutex
	extractor    *mpeg.Extractor
	staging      [][]byte
	flushTimer   *time.Timer
	queue        []PCMBuffer
	scheduledEnd float64
	playing      bool
	paused       bool
	isScheduling bool
	lastGen      uint64
	complete     bool
	allPlayed    bool
	readySent    bool
	playingSent  bool
	aboutSent    bool
	finishedSent bool
	aboutTimer   *time.Timer
	onEvent      func(Event)
	onDecodeErr  func(error)
}

// New creates a Player over clock.
func New(clock Clock, opts ...Option) *Player {
	p := &Player{
		clock:     clock,
		dec:       MP3Decoder{},
		minBatch:  DefaultMinBatch,
		idleFlush: DefaultIdleFlush,
		lead:      DefaultAboutToCompleteLead,
		extractor: mpeg.NewExtractor(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnEvent registers the lifecycle event callback. Only one callback may be
// registered; subsequent calls replace it. The callback runs synchronously
// and may call back into the player.
func (p *Player) OnEvent(fn func(Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEvent = fn
}

// OnDecodeError registers a callback for dropped undecodable batches.
// Malformed frames are expected occasionally and are non-fatal.
func (p *Player) OnDecodeError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDecodeErr = fn
}

// Enqueue stages one base64-encoded compressed chunk. Once the staging list
// reaches the batch size — or the idle flush timer fires — the batch is
// framed, decoded, and queued for scheduling.
func (p *Player) Enqueue(base64Chunk string) error {
	raw, err := base64.StdEncoding.DecodeString(base64Chunk)
	if err != nil {
		return fmt.Errorf("player: decode base64 chunk: %w", err)
	}

	p.mu.Lock()
	p.staging = append(p.staging, raw)
	var events []Event
	if len(p.staging) >= p.minBatch {
		events = p.decodeBatchLocked()
	} else if p.flushTimer == nil {
		p.flushTimer = time.AfterFunc(p.idleFlush, p.flushStaging)
	}
	p.mu.Unlock()

	p.emit(events)
	return nil
}

// flushStaging runs on the idle flush timer goroutine.
func (p *Player) flushStaging() {
	p.mu.Lock()
	p.flushTimer = nil
	events := p.decodeBatchLocked()
	p.mu.Unlock()
	p.emit(events)
}

// decodeBatchLocked drains the staging list through the frame extractor and
// the decoder, queues the resulting buffer, and returns events to emit.
// Caller holds p.mu.
func (p *Player) decodeBatchLocked() []Event {
	if p.flushTimer != nil {
		p.flushTimer.Stop()
		p.flushTimer = nil
	}
	if len(p.staging) == 0 {
		return nil
	}

	var raw []byte
	for _, chunk := range p.staging {
		raw = append(raw, chunk...)
	}
	p.staging = nil

	frames := p.extractor.Feed(raw)
	if len(frames) == 0 {
		return nil
	}
	var blob []byte
	for _, f := range frames {
		blob = append(blob, f...)
	}

	buf, err := p.dec.Decode(blob)
	if err != nil {
		// Frames occasionally arrive malformed; drop the batch and move on.
		slog.Warn("player: dropping undecodable batch", "bytes", len(blob), "err", err)
		if fn := p.onDecodeErr; fn != nil {
			fn(err)
		}
		return nil
	}
	if p.convert != nil {
		converted := p.convert.Convert(audio.Frame{
			Data:       buf.Data,
			SampleRate: buf.SampleRate,
			Channels:   buf.Channels,
		})
		buf = PCMBuffer{Data: converted.Data, SampleRate: converted.SampleRate, Channels: converted.Channels}
	}
	if len(buf.Data) == 0 {
		return nil
	}

	wasEmpty := len(p.queue) == 0
	p.queue = append(p.queue, buf)

	var events []Event
	if wasEmpty && !p.playing && !p.readySent {
		p.readySent = true
		events = append(events, EventReady)
	}
	if p.playing {
		p.schedulePassLocked()
	}
	if p.complete {
		events = append(events, p.recomputeAboutLocked()...)
	}
	return events
}

// Play starts (or restarts after Stop) the playback cycle: every queued
// buffer is scheduled from the current media time.
func (p *Player) Play() {
	p.mu.Lock()
	var events []Event
	if !p.playing {
		p.playing = true
		p.paused = false
		p.scheduledEnd = p.clock.Now()
		if !p.playingSent {
			p.playingSent = true
			events = append(events, EventPlaying)
		}
		p.schedulePassLocked()
	}
	p.mu.Unlock()
	p.emit(events)
}

// schedulePassLocked schedules every queued buffer back-to-back, attaching
// the on-ended hook only to the last one. The isScheduling latch prevents
// re-entrant passes when a callback lands mid-schedule. Caller holds p.mu.
func (p *Player) schedulePassLocked() {
	if p.isScheduling || len(p.queue) == 0 {
		return
	}
	p.isScheduling = true
	p.allPlayed = false
	p.lastGen++
	gen := p.lastGen

	for len(p.queue) > 0 {
		buf := p.queue[0]
		p.queue = p.queue[1:]

		// The clock slipped past the cursor during an underrun; snap forward.
		if now := p.clock.Now(); p.scheduledEnd < now {
			p.scheduledEnd = now
		}
		at := p.scheduledEnd
		p.scheduledEnd += buf.Duration()

		var onEnded func()
		if len(p.queue) == 0 {
			onEnded = func() { p.lastEnded(gen) }
		}
		p.clock.Schedule(buf, at, onEnded)
	}
	p.isScheduling = false
}

// lastEnded runs when the most recently scheduled buffer finishes.
func (p *Player) lastEnded(gen uint64) {
	p.mu.Lock()
	if gen != p.lastGen || p.finishedSent || !p.playing {
		// A newer schedule pass superseded this hook, or the cycle is over.
		p.mu.Unlock()
		return
	}

	var events []Event
	switch {
	case len(p.queue) > 0:
		// More buffers arrived while the last one played; keep going.
		p.schedulePassLocked()
	case p.complete:
		events = p.finishLocked()
	default:
		// Out of audio but the stream is still open: await MarkComplete.
		p.allPlayed = true
	}
	p.mu.Unlock()
	p.emit(events)
}

// MarkComplete records that no further audio will arrive for this cycle.
// Any staged chunks are flushed, the about-to-complete tracker is re-armed,
// and — if everything scheduled has already played out — Finished fires
// immediately.
func (p *Player) MarkComplete() {
	p.mu.Lock()
	if p.complete {
		p.mu.Unlock()
		return
	}
	p.complete = true

	events := p.decodeBatchLocked()
	events = append(events, p.recomputeAboutLocked()...)

	if p.playing && !p.finishedSent && (p.allPlayed || p.remainingLocked() == 0) {
		events = append(events, p.finishLocked()...)
	}
	p.mu.Unlock()
	p.emit(events)
}

// finishLocked latches the end of the cycle. Caller holds p.mu.
func (p *Player) finishLocked() []Event {
	if p.finishedSent || p.paused {
		return nil
	}
	p.finishedSent = true
	p.playing = false
	p.cancelAboutTimerLocked()
	return []Event{EventFinished}
}

// remainingLocked returns the audible seconds left: scheduled-but-unplayed
// time plus undispensed queue time. Caller holds p.mu.
func (p *Player) remainingLocked() float64 {
	remaining := p.scheduledEnd - p.clock.Now()
	if remaining < 0 {
		remaining = 0
	}
	for _, buf := range p.queue {
		remaining += buf.Duration()
	}
	return remaining
}

// recomputeAboutLocked evaluates the about-to-complete tracker at its two
// trigger points: MarkComplete, and a buffer enqueued after MarkComplete.
// Caller holds p.mu.
func (p *Player) recomputeAboutLocked() []Event {
	if p.aboutSent || p.finishedSent {
		return nil
	}
	p.cancelAboutTimerLocked()

	remaining := time.Duration(p.remainingLocked() * float64(time.Second))
	if remaining <= p.lead {
		p.aboutSent = true
		return []Event{EventAboutToComplete}
	}
	p.aboutTimer = time.AfterFunc(remaining-p.lead, p.fireAbout)
	return nil
}

// fireAbout runs on the about timer goroutine.
func (p *Player) fireAbout() {
	p.mu.Lock()
	if p.aboutSent || p.finishedSent || !p.playing {
		// The last buffer ended before the threshold timer; suppress.
		p.mu.Unlock()
		return
	}
	p.aboutSent = true
	p.aboutTimer = nil
	fn := p.onEvent
	p.mu.Unlock()

	if fn != nil {
		fn(EventAboutToComplete)
	}
}

// cancelAboutTimerLocked stops a pending about timer. Caller holds p.mu.
func (p *Player) cancelAboutTimerLocked() {
	if p.aboutTimer != nil {
		p.aboutTimer.Stop()
		p.aboutTimer = nil
	}
}

// Pause suspends the clock; playback and the media time freeze.
func (p *Player) Pause() error {
	p.mu.Lock()
	if !p.playing || p.paused {
		p.mu.Unlock()
		return nil
	}
	p.paused = true
	p.mu.Unlock()
	return p.clock.Suspend()
}

// Resume continues playback after Pause. If the stream completed and played
// out entirely while paused, the deferred Finished fires here.
func (p *Player) Resume() error {
	p.mu.Lock()
	if !p.paused {
		p.mu.Unlock()
		return nil
	}
	p.paused = false
	var events []Event
	if p.playing && p.complete && !p.finishedSent && (p.allPlayed || p.remainingLocked() == 0) {
		events = p.finishLocked()
	}
	p.mu.Unlock()

	err := p.clock.Resume()
	p.emit(events)
	return err
}

// IsPlaying reports whether a playback cycle is active (including paused).
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Stop aborts the current cycle: scheduled audio is cancelled and all state
// is reset for the next cycle.
func (p *Player) Stop() {
	p.Reset()
}

// Reset clears the queue, the staging list, the extractor tail, both timers,
// and every per-cycle flag and latch, and cancels scheduled audio.
func (p *Player) Reset() {
	p.mu.Lock()
	p.clock.CancelScheduled()
	if p.flushTimer != nil {
		p.flushTimer.Stop()
		p.flushTimer = nil
	}
	p.cancelAboutTimerLocked()
	p.extractor.Reset()
	p.staging = nil
	p.queue = nil
	p.scheduledEnd = 0
	p.playing = false
	p.paused = false
	p.complete = false
	p.allPlayed = false
	p.readySent = false
	p.playingSent = false
	p.aboutSent = false
	p.finishedSent = false
	p.lastGen++
	p.mu.Unlock()
}

// emit delivers events in order, outside the lock.
func (p *Player) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	p.mu.Lock()
	fn := p.onEvent
	p.mu.Unlock()
	if fn == nil {
		return
	}
	for _, e := range events {
		fn(e)
	}
}
