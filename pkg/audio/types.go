package audio

import "time"

// Frame represents a single unit of raw audio flowing through the client
// pipeline. Frames are captured from the input device, classified by VAD,
// and encoded for transport; decoded assistant audio re-enters the pipeline
// as frames on the playback side.
type Frame struct {
	// Data is little-endian signed 16-bit PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for the wire format, 16000 for VAD).
	SampleRate int

	// Channels: 1 for the microphone path, 2 for some output devices.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the audible length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
