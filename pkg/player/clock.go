// Package player decodes the assistant's streamed compressed audio and plays
// it gaplessly against a sample-accurate clock.
//
// The [Clock] interface is the platform boundary: [DeviceClock] drives a real
// output device through miniaudio, while [VirtualClock] is a hand-advanced
// clock for tests and headless hosts. [Player] sits on top, owning chunk
// batching, frame extraction, decoding, scheduling, and the event sequence
// Ready → Playing → AboutToComplete → Finished.
package player

import (
	"sort"
	"sync"
	"time"
)

// PCMBuffer is one decoded, schedulable run of little-endian s16 PCM.
type PCMBuffer struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the buffer's audible length in seconds.
func (b PCMBuffer) Duration() float64 {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	samples := len(b.Data) / 2 / b.Channels
	return float64(samples) / float64(b.SampleRate)
}

// Clock exposes a monotonic media time and back-to-back buffer scheduling.
// Implementations must invoke onEnded callbacks in schedule order, from a
// single goroutine, and must not advance time while suspended.
type Clock interface {
	// Now returns the current media time in seconds. Monotonic: it never
	// moves backwards.
	Now() float64

	// Schedule queues buf to start playing at media time at. onEnded, when
	// non-nil, is invoked once the buffer has fully played. Buffers scheduled
	// back-to-back play gaplessly.
	Schedule(buf PCMBuffer, at float64, onEnded func())

	// Suspend pauses the clock and playback.
	Suspend() error

	// Resume continues the clock and playback after Suspend.
	Resume() error

	// CancelScheduled drops all scheduled buffers that have not finished,
	// without invoking their onEnded callbacks.
	CancelScheduled()

	// Close releases the clock and its device, if any.
	Close() error
}

// ─── VirtualClock ─────────────────────────────────────────────────────────────

// Compile-time check that *VirtualClock satisfies [Clock].
var _ Clock = (*VirtualClock)(nil)

// VirtualClock is a manually advanced [Clock] for tests: time only moves when
// Advance is called, and onEnded callbacks fire synchronously inside Advance
// once the clock passes a buffer's end time.
type VirtualClock struct {
	mu        sync.Mutex
	now       float64
	suspended bool
	sched     []vcEntry
}

type vcEntry struct {
	end     float64
	onEnded func()
}

// NewVirtualClock creates a VirtualClock at media time zero.
func NewVirtualClock() *VirtualClock {
	return &VirtualClock{}
}

// Now returns the current virtual media time.
func (c *VirtualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule records the buffer's end time and callback.
func (c *VirtualClock) Schedule(buf PCMBuffer, at float64, onEnded func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched = append(c.sched, vcEntry{end: at + buf.Duration(), onEnded: onEnded})
}

// Suspend stops the clock.
func (c *VirtualClock) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = true
	return nil
}

// Resume restarts the clock.
func (c *VirtualClock) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	return nil
}

// CancelScheduled drops all pending entries without firing callbacks.
func (c *VirtualClock) CancelScheduled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched = nil
}

// Close is a no-op for the virtual clock.
func (c *VirtualClock) Close() error { return nil }

// Advance moves the clock forward by d (unless suspended) and fires the
// onEnded callbacks of every entry whose end time has been reached, in end
// order. Callbacks run without the clock lock held, so they may schedule
// further buffers.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	if c.suspended {
		c.mu.Unlock()
		return
	}
	c.now += d.Seconds()
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.sched, func(i, j int) bool { return c.sched[i].end < c.sched[j].end })
		var (
			fire  func()
			found bool
		)
		for i, e := range c.sched {
			if e.end <= c.now {
				fire = e.onEnded
				found = true
				c.sched = append(c.sched[:i], c.sched[i+1:]...)
				break
			}
		}
		c.mu.Unlock()

		if !found {
			return
		}
		if fire != nil {
			fire()
		}
	}
}
