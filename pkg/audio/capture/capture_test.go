package capture

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/sonara-ai/sonara-go/pkg/audio"
)

// fakeSource is a scriptable Source: tests push frames through it directly.
type fakeSource struct {
	mu      sync.Mutex
	opened  bool
	started bool
	closed  bool
	deliver func(audio.Frame)
}

func (s *fakeSource) Open(cfg Config, deliver func(audio.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.deliver = deliver
	return nil
}

func (s *fakeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// push injects a mono 48 kHz frame as if the device produced it.
func (s *fakeSource) push(data []byte) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	deliver(audio.Frame{Data: data, SampleRate: 48000, Channels: 1})
}

// collector gathers emitted chunks.
type collector struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *collector) add(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, chunk)
}

func (c *collector) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.chunks...)
}

func newTestRecorder(t *testing.T) (*Recorder, *fakeSource, *collector) {
	t.Helper()
	src := &fakeSource{}
	r := NewRecorder(src, Config{})
	c := &collector{}
	r.OnChunk(c.add)
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, src, c
}

func TestRecorder_EmitsChunksWhileRecording(t *testing.T) {
	t.Parallel()

	r, src, c := newTestRecorder(t)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.push([]byte{1, 2, 3, 4})
	src.push([]byte{5, 6})

	got := c.all()
	if len(got) != 2 {
		t.Fatalf("emitted %d chunks, want 2", len(got))
	}
	if !bytes.Equal(got[0], []byte{1, 2, 3, 4}) || !bytes.Equal(got[1], []byte{5, 6}) {
		t.Errorf("chunks = %v", got)
	}
}

func TestRecorder_DropsChunksWhenStopped(t *testing.T) {
	t.Parallel()

	r, src, c := newTestRecorder(t)

	// Never started: frames are discarded.
	src.push([]byte{1, 2})
	if got := c.all(); len(got) != 0 {
		t.Fatalf("emitted %d chunks while stopped, want 0", len(got))
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	transitioned, err := r.Stop()
	if err != nil || !transitioned {
		t.Fatalf("Stop = (%v, %v), want (true, nil)", transitioned, err)
	}
	src.push([]byte{3, 4})
	if got := c.all(); len(got) != 0 {
		t.Errorf("emitted %d chunks after Stop, want 0", len(got))
	}

	// Stopping again reports no transition.
	if transitioned, _ := r.Stop(); transitioned {
		t.Error("second Stop reported a transition")
	}
}

func TestRecorder_DropsAllZeroChunks(t *testing.T) {
	t.Parallel()

	r, src, c := newTestRecorder(t)
	_ = r.Start()

	src.push(make([]byte, 64))
	if got := c.all(); len(got) != 0 {
		t.Errorf("all-zero chunk emitted")
	}
}

func TestRecorder_TrimsLeadingZeros(t *testing.T) {
	t.Parallel()

	r, src, c := newTestRecorder(t)
	_ = r.Start()

	src.push([]byte{0, 0, 0, 9, 8, 0, 7})
	got := c.all()
	if len(got) != 1 {
		t.Fatalf("emitted %d chunks, want 1", len(got))
	}
	if !bytes.Equal(got[0], []byte{9, 8, 0, 7}) {
		t.Errorf("chunk = %v, want leading zeros trimmed", got[0])
	}
}

func TestRecorder_BufferingDivertsAndDrainsFIFO(t *testing.T) {
	t.Parallel()

	r, src, c := newTestRecorder(t)
	_ = r.Start()

	r.EnableBuffering()
	src.push([]byte{1})
	src.push([]byte{2})
	src.push([]byte{3})

	if got := c.all(); len(got) != 0 {
		t.Fatalf("buffering mode emitted %d chunks, want 0", len(got))
	}

	buffered := r.BufferedChunks()
	if len(buffered) != 3 {
		t.Fatalf("buffered %d chunks, want 3", len(buffered))
	}
	for i, want := range []byte{1, 2, 3} {
		if len(buffered[i]) != 1 || buffered[i][0] != want {
			t.Errorf("buffered[%d] = %v, want [%d]", i, buffered[i], want)
		}
	}

	// Draining empties the queue.
	if got := r.BufferedChunks(); len(got) != 0 {
		t.Errorf("second drain returned %d chunks, want 0", len(got))
	}

	// Buffering stays on until disabled.
	src.push([]byte{4})
	if got := c.all(); len(got) != 0 {
		t.Fatal("chunk emitted while buffering still enabled")
	}
	r.DisableBuffering()
	src.push([]byte{5})
	if got := c.all(); len(got) != 1 || got[0][0] != 5 {
		t.Errorf("chunks after disable = %v, want [[5]]", got)
	}
}

func TestRecorder_ClearBuffer(t *testing.T) {
	t.Parallel()

	r, src, _ := newTestRecorder(t)
	_ = r.Start()
	r.EnableBuffering()
	src.push([]byte{1})
	r.ClearBuffer()
	if got := r.BufferedChunks(); len(got) != 0 {
		t.Errorf("buffer not cleared: %v", got)
	}
}

func TestRecorder_StartRequiresInitialize(t *testing.T) {
	t.Parallel()

	r := NewRecorder(&fakeSource{}, Config{})
	if err := r.Start(); err == nil {
		t.Error("Start before Initialize should fail")
	}
}

func TestTickerSource_SlicesReader(t *testing.T) {
	t.Parallel()

	src := NewTickerSource(bytes.NewReader(bytes.Repeat([]byte{0xAB}, 1000)),
		WithSliceInterval(10*time.Millisecond))

	var (
		mu    sync.Mutex
		total int
	)
	err := src.Open(Config{SampleRate: 48000, Channels: 1}, func(f audio.Frame) {
		mu.Lock()
		total += len(f.Data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := src.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		done := total == 1000
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("delivered %d bytes, want 1000", total)
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
