package capture

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sonara-ai/sonara-go/pkg/audio"
)

// Compile-time check that *TickerSource satisfies [Source].
var _ Source = (*TickerSource)(nil)

// DefaultSliceInterval is the emission interval of a [TickerSource].
const DefaultSliceInterval = 100 * time.Millisecond

// TickerSource is the fallback capture backend for hosts without a usable
// real-time device API: it reads from an io.Reader (typically the stdout of
// an external recorder process) and emits whatever bytes accumulated every
// slice interval. Chunk sizes therefore vary with the producer's pacing,
// unlike the fixed frames of [MalgoSource].
type TickerSource struct {
	r        io.Reader
	interval time.Duration

	mu      sync.Mutex
	opened  bool
	started bool
	deliver func(audio.Frame)
	cfg     Config
	stop    chan struct{}
	done    chan struct{}
}

// TickerOption configures a [TickerSource].
type TickerOption func(*TickerSource)

// WithSliceInterval overrides the emission interval. Useful in tests to keep
// suites fast.
func WithSliceInterval(d time.Duration) TickerOption {
	return func(s *TickerSource) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewTickerSource creates a source that slices r on a fixed interval.
func NewTickerSource(r io.Reader, opts ...TickerOption) *TickerSource {
	s := &TickerSource{r: r, interval: DefaultSliceInterval}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open records the configuration and delivery callback.
func (s *TickerSource) Open(cfg Config, deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return fmt.Errorf("capture: ticker source already open")
	}
	s.opened = true
	s.cfg = cfg
	s.deliver = deliver
	return nil
}

// Start launches the read loop. Idempotent while running.
func (s *TickerSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return fmt.Errorf("capture: ticker source not open")
	}
	if s.started {
		return nil
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	return nil
}

// Stop halts the read loop and waits for it to exit.
func (s *TickerSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

// Close stops the loop. The reader itself is owned by the caller.
func (s *TickerSource) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()
	return nil
}

// loop drains the reader into a slice buffer and flushes it on each tick.
// Reads happen on a separate goroutine so a slow reader cannot stall ticks.
func (s *TickerSource) loop(stop, done chan struct{}) {
	defer close(done)

	readCh := make(chan []byte, 16)
	go func() {
		defer close(readCh)
		buf := make([]byte, 4096)
		for {
			n, err := s.r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case readCh <- chunk:
				case <-stop:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var (
		pending  []byte
		captured time.Duration
	)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		frame := audio.Frame{
			Data:       pending,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Timestamp:  captured,
		}
		captured += frame.Duration()
		pending = nil
		s.deliver(frame)
	}

	for {
		select {
		case <-stop:
			flush()
			return
		case chunk, ok := <-readCh:
			if !ok {
				flush()
				return
			}
			pending = append(pending, chunk...)
		case <-ticker.C:
			flush()
		}
	}
}
