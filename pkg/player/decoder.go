package player

import (
	"bytes"
	"fmt"
	"io"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// Decoder turns one blob of whole compressed frames into a PCM buffer.
// It is the platform-decoder boundary; tests substitute a fake.
type Decoder interface {
	Decode(blob []byte) (PCMBuffer, error)
}

// Compile-time check that MP3Decoder satisfies [Decoder].
var _ Decoder = MP3Decoder{}

// MP3Decoder decodes MPEG audio blobs. The input must consist of whole
// frames — the player guarantees this by running chunks through the frame
// extractor first. Output is 16-bit stereo at the stream's sample rate.
type MP3Decoder struct{}

// Decode decompresses blob into a single PCM buffer.
func (MP3Decoder) Decode(blob []byte) (PCMBuffer, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(blob))
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("player: open mpeg blob: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return PCMBuffer{}, fmt.Errorf("player: decode mpeg blob: %w", err)
	}
	return PCMBuffer{
		Data:       pcm,
		SampleRate: d.SampleRate(),
		Channels:   2,
	}, nil
}
