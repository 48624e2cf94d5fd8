package capture

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/sonara-ai/sonara-go/pkg/audio"
)

// Compile-time check that *MalgoSource satisfies [Source].
var _ Source = (*MalgoSource)(nil)

// MalgoSource is the preferred capture backend: a miniaudio capture device
// whose real-time callback accumulates input into fixed-size frames. The
// device delivers float32 samples which are clamped and converted to s16le
// before leaving the callback.
//
// Echo cancellation, noise suppression, and auto gain are not provided by
// miniaudio; those Config flags are ignored by this source.
type MalgoSource struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	started bool
}

// NewMalgoSource creates an unopened miniaudio capture source.
func NewMalgoSource() *MalgoSource {
	return &MalgoSource{}
}

// Open initialises the miniaudio context and capture device. Frames of
// exactly cfg.FrameSamples samples per channel are handed to deliver from
// the device callback goroutine.
func (s *MalgoSource) Open(cfg Config, deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return fmt.Errorf("capture: malgo source already open")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("capture: init malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	frameSamples := cfg.FrameSamples * cfg.Channels
	var (
		pending  []float32
		captured time.Duration
	)

	onRecvFrames := func(_, pSample []byte, frameCount uint32) {
		if frameCount == 0 {
			return
		}
		n := int(frameCount) * cfg.Channels
		for i := 0; i < n; i++ {
			pending = append(pending, float32FromBytes(pSample[i*4:]))
		}
		for len(pending) >= frameSamples {
			data := audio.Float32ToPCM16(pending[:frameSamples])
			pending = append(pending[:0], pending[frameSamples:]...)

			deliver(audio.Frame{
				Data:       data,
				SampleRate: cfg.SampleRate,
				Channels:   cfg.Channels,
				Timestamp:  captured,
			})
			captured += time.Duration(cfg.FrameSamples) * time.Second / time.Duration(cfg.SampleRate)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("capture: init capture device: %w", err)
	}

	s.ctx = mctx
	s.device = device
	return nil
}

// Start begins the device callback stream.
func (s *MalgoSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return fmt.Errorf("capture: malgo source not open")
	}
	if s.started {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	s.started = true
	return nil
}

// Stop halts the device callback stream.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil || !s.started {
		return nil
	}
	s.started = false
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("capture: stop device: %w", err)
	}
	return nil
}

// Close releases the device and the miniaudio context. Idempotent.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		err := s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
		if err != nil {
			return fmt.Errorf("capture: uninit malgo context: %w", err)
		}
	}
	s.started = false
	return nil
}

// float32FromBytes decodes a little-endian float32 starting at b[0].
func float32FromBytes(b []byte) float32 {
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}
