package vad

import (
	"sync"
	"testing"
	"time"
)

// scriptEngine returns sessions that replay a fixed sequence of events, one
// per processed frame. Extra frames replay the final event.
type scriptEngine struct {
	events []Event
}

func (e *scriptEngine) NewSession(cfg Config) (SessionHandle, error) {
	return &scriptSession{events: e.events}, nil
}

type scriptSession struct {
	events []Event
	pos    int
}

func (s *scriptSession) ProcessFrame(frame []byte) (Event, error) {
	ev := s.events[s.pos]
	if s.pos < len(s.events)-1 {
		s.pos++
	}
	return ev, nil
}

func (s *scriptSession) Reset()       { s.pos = 0 }
func (s *scriptSession) Close() error { return nil }

// recorder collects detector callbacks under a lock.
type recorder struct {
	mu         sync.Mutex
	activity   []bool
	silenceCnt int
}

func (r *recorder) attach(d *Detector) {
	d.OnVoiceActivity(func(speaking bool) {
		r.mu.Lock()
		r.activity = append(r.activity, speaking)
		r.mu.Unlock()
	})
	d.OnSilence(func() {
		r.mu.Lock()
		r.silenceCnt++
		r.mu.Unlock()
	})
}

func (r *recorder) snapshot() ([]bool, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.activity...), r.silenceCnt
}

const testFrameBytes = 16000 * 20 / 1000 * 2

// newScriptedDetector builds a detector over a scripted engine with a short
// silence timeout so tests stay fast.
func newScriptedDetector(t *testing.T, events []Event, timeout time.Duration) (*Detector, *recorder) {
	t.Helper()
	d, err := NewDetector(&scriptEngine{events: events}, DetectorConfig{
		SampleRate:     16000,
		SilenceTimeout: timeout,
	})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	r := &recorder{}
	r.attach(d)
	return d, r
}

// frames feeds n model frames through the detector.
func frames(t *testing.T, d *Detector, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := d.Process(make([]byte, testFrameBytes)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
}

func speech() Event  { return Event{Type: SpeechContinue, Probability: 0.9} }
func quiet() Event   { return Event{Type: Silence, Probability: 0.1} }
func started() Event { return Event{Type: SpeechStart, Probability: 0.9} }
func ended() Event   { return Event{Type: SpeechEnd, Probability: 0.1} }

func TestDetector_DebouncesSpeechStart(t *testing.T) {
	t.Parallel()

	d, r := newScriptedDetector(t, []Event{started(), speech(), quiet()}, time.Hour)

	// Two speech frames are below MinSpeechFrames: no transition yet.
	frames(t, d, 2)
	if activity, _ := r.snapshot(); len(activity) != 0 {
		t.Fatalf("activity after 2 frames = %v, want none", activity)
	}
	if d.Speaking() {
		t.Fatal("Speaking = true before debounce threshold")
	}
}

func TestDetector_EmitsStartAfterMinSpeechFrames(t *testing.T) {
	t.Parallel()

	d, r := newScriptedDetector(t, []Event{started(), speech(), speech()}, time.Hour)

	frames(t, d, 3)
	activity, _ := r.snapshot()
	if len(activity) != 1 || !activity[0] {
		t.Fatalf("activity = %v, want [true]", activity)
	}
	if !d.Speaking() {
		t.Error("Speaking = false after start")
	}

	// Further speech frames do not repeat the transition.
	frames(t, d, 5)
	if activity, _ := r.snapshot(); len(activity) != 1 {
		t.Errorf("activity = %v, want exactly one transition", activity)
	}
}

func TestDetector_SilenceFiresOnceAfterSpeechEnd(t *testing.T) {
	t.Parallel()

	script := []Event{started(), speech(), speech(), ended(), quiet()}
	d, r := newScriptedDetector(t, script, 30*time.Millisecond)

	frames(t, d, 4)
	activity, silences := r.snapshot()
	if len(activity) != 2 || activity[1] {
		t.Fatalf("activity = %v, want [true false]", activity)
	}
	if silences != 0 {
		t.Fatal("silence fired before the debounce window elapsed")
	}

	// Wait out the timer; more quiet frames must not re-arm it.
	time.Sleep(80 * time.Millisecond)
	frames(t, d, 3)
	time.Sleep(80 * time.Millisecond)

	if _, silences := r.snapshot(); silences != 1 {
		t.Errorf("silence fired %d times, want 1", silences)
	}
}

func TestDetector_SpeechStartCancelsSilenceTimer(t *testing.T) {
	t.Parallel()

	script := []Event{
		started(), speech(), speech(), // start
		ended(),                       // end → timer armed
		started(), speech(), speech(), // restart before timer fires
	}
	d, r := newScriptedDetector(t, script, 60*time.Millisecond)

	frames(t, d, 7)
	time.Sleep(150 * time.Millisecond)

	activity, silences := r.snapshot()
	if silences != 0 {
		t.Errorf("silence fired %d times despite intervening speech, want 0", silences)
	}
	want := []bool{true, false, true}
	if len(activity) != len(want) {
		t.Fatalf("activity = %v, want %v", activity, want)
	}
	for i := range want {
		if activity[i] != want[i] {
			t.Fatalf("activity = %v, want %v", activity, want)
		}
	}
}

func TestDetector_CarriesPartialFrames(t *testing.T) {
	t.Parallel()

	d, r := newScriptedDetector(t, []Event{started(), speech(), speech()}, time.Hour)

	// 1.5 frames, then another 1.5: only three whole frames reach the engine.
	half := testFrameBytes / 2
	if err := d.Process(make([]byte, testFrameBytes+half)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if activity, _ := r.snapshot(); len(activity) != 0 {
		t.Fatal("transition before third whole frame")
	}
	if err := d.Process(make([]byte, testFrameBytes+half)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if activity, _ := r.snapshot(); len(activity) != 1 {
		t.Errorf("activity = %v, want one start after 3 whole frames", activity)
	}
}

func TestDetector_ResetClearsState(t *testing.T) {
	t.Parallel()

	d, r := newScriptedDetector(t, []Event{started(), speech(), speech(), ended()}, 50*time.Millisecond)

	frames(t, d, 4) // start then end; timer armed
	d.Reset()
	time.Sleep(120 * time.Millisecond)

	if _, silences := r.snapshot(); silences != 0 {
		t.Error("silence fired after Reset")
	}
	if d.Speaking() {
		t.Error("Speaking = true after Reset")
	}
}

func TestDetector_ProcessAfterCloseFails(t *testing.T) {
	t.Parallel()

	d, _ := newScriptedDetector(t, []Event{quiet()}, time.Hour)
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Process(make([]byte, testFrameBytes)); err == nil {
		t.Error("Process after Close should fail")
	}
}
