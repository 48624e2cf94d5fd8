package player

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Compile-time check that *DeviceClock satisfies [Clock].
var _ Clock = (*DeviceClock)(nil)

// DeviceClock is a [Clock] backed by a miniaudio playback device. Media time
// advances with the samples the device consumes, so it is sample-accurate
// and stops while the device is suspended. Scheduled buffers are mixed into
// the output callback back-to-back; gaps before a buffer's start time are
// rendered as silence.
type DeviceClock struct {
	sampleRate int
	channels   int

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	elapsed uint64 // frames consumed by the device
	entries []deviceEntry
	closed  bool

	// ended hands onEnded callbacks from the real-time callback to a
	// dispatch goroutine; the audio thread must never run user code.
	ended chan func()
	done  chan struct{}
}

type deviceEntry struct {
	startFrame uint64
	data       []byte
	pos        int
	onEnded    func()
}

// NewDeviceClock opens the default output device at the given format and
// starts it. The clock runs (through silence) until Close.
func NewDeviceClock(sampleRate, channels int) (*DeviceClock, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("player: invalid device format %dHz/%dch", sampleRate, channels)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("player: init malgo context: %w", err)
	}

	c := &DeviceClock{
		sampleRate: sampleRate,
		channels:   channels,
		ctx:        mctx,
		ended:      make(chan func(), 16),
		done:       make(chan struct{}),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.fill,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("player: init playback device: %w", err)
	}
	c.device = device

	go c.dispatch()

	if err := device.Start(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("player: start playback device: %w", err)
	}
	return c, nil
}

// fill is the miniaudio data callback. It renders scheduled buffers into the
// output, inserting silence for gaps, and advances media time by the frames
// consumed.
func (c *DeviceClock) fill(out, _ []byte, frameCount uint32) {
	bytesPerFrame := c.channels * 2

	c.mu.Lock()
	cursor := c.elapsed
	offset := 0
	total := int(frameCount) * bytesPerFrame

	for offset < total && len(c.entries) > 0 {
		e := &c.entries[0]
		if cursor < e.startFrame {
			// Silence until the entry's start.
			gapFrames := int(e.startFrame - cursor)
			gapBytes := gapFrames * bytesPerFrame
			if gapBytes > total-offset {
				gapBytes = total - offset
			}
			for i := 0; i < gapBytes; i++ {
				out[offset+i] = 0
			}
			offset += gapBytes
			cursor += uint64(gapBytes / bytesPerFrame)
			continue
		}

		n := copy(out[offset:total], e.data[e.pos:])
		e.pos += n
		offset += n
		cursor += uint64(n / bytesPerFrame)

		if e.pos >= len(e.data) {
			if fn := e.onEnded; fn != nil {
				select {
				case c.ended <- fn:
				default:
					go func() { c.ended <- fn }()
				}
			}
			c.entries = c.entries[1:]
		}
	}

	// Remaining output is silence.
	for i := offset; i < total; i++ {
		out[i] = 0
	}
	c.elapsed += uint64(frameCount)
	c.mu.Unlock()
}

// dispatch runs onEnded callbacks off the audio thread, in schedule order.
func (c *DeviceClock) dispatch() {
	for {
		select {
		case fn := <-c.ended:
			fn()
		case <-c.done:
			return
		}
	}
}

// Now returns the media time in seconds.
func (c *DeviceClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.elapsed) / float64(c.sampleRate)
}

// Schedule queues buf to start at media time at. Buffers must be scheduled
// in start order; the player guarantees this.
func (c *DeviceClock) Schedule(buf PCMBuffer, at float64, onEnded func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, deviceEntry{
		startFrame: uint64(at * float64(c.sampleRate)),
		data:       buf.Data,
		onEnded:    onEnded,
	})
}

// Suspend stops the device; media time freezes.
func (c *DeviceClock) Suspend() error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if device == nil {
		return nil
	}
	if err := device.Stop(); err != nil {
		return fmt.Errorf("player: suspend device: %w", err)
	}
	return nil
}

// Resume restarts the device after Suspend.
func (c *DeviceClock) Resume() error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()
	if device == nil {
		return nil
	}
	if err := device.Start(); err != nil {
		return fmt.Errorf("player: resume device: %w", err)
	}
	return nil
}

// CancelScheduled drops all pending entries without firing their callbacks.
func (c *DeviceClock) CancelScheduled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Close stops and releases the device and context. Idempotent.
func (c *DeviceClock) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	device := c.device
	mctx := c.ctx
	c.device = nil
	c.ctx = nil
	c.entries = nil
	c.mu.Unlock()

	close(c.done)
	if device != nil {
		device.Uninit()
	}
	if mctx != nil {
		err := mctx.Uninit()
		mctx.Free()
		if err != nil {
			return fmt.Errorf("player: uninit malgo context: %w", err)
		}
	}
	return nil
}
