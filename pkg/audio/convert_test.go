package audio

import (
	"bytes"
	"testing"
	"time"
)

// pcm16 builds little-endian PCM from int16 samples.
func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestFloat32ToPCM16_Clamps(t *testing.T) {
	t.Parallel()

	got := Float32ToPCM16([]float32{0, 1, -1, 2.5, -2.5, 0.5})
	want := pcm16(0, 32767, -32767, 32767, -32767, 16383)
	if !bytes.Equal(got, want) {
		t.Errorf("Float32ToPCM16 = %v, want %v", got, want)
	}
}

func TestAllZero(t *testing.T) {
	t.Parallel()

	if !AllZero(make([]byte, 64)) {
		t.Error("AllZero(zeros) = false, want true")
	}
	if AllZero([]byte{0, 0, 1, 0}) {
		t.Error("AllZero(nonzero) = true, want false")
	}
	if !AllZero(nil) {
		t.Error("AllZero(nil) = false, want true")
	}
}

func TestTrimLeadingZeros(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"no leading zeros", []byte{1, 2, 3}, []byte{1, 2, 3}},
		{"some leading zeros", []byte{0, 0, 5, 0, 7}, []byte{5, 0, 7}},
		{"all zeros", []byte{0, 0, 0}, []byte{}},
		{"empty", []byte{}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := TrimLeadingZeros(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("TrimLeadingZeros(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFrameDuration(t *testing.T) {
	t.Parallel()

	f := Frame{Data: make([]byte, 4096*2), SampleRate: 48000, Channels: 1}
	want := time.Duration(4096) * time.Second / 48000
	if got := f.Duration(); got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}

	// Degenerate frames report zero instead of dividing by zero.
	if got := (Frame{Data: []byte{1, 2}}).Duration(); got != 0 {
		t.Errorf("Duration of rate-less frame = %v, want 0", got)
	}
}

func TestConvert_FastPathReturnsSameSlice(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 48000, Channels: 1}}
	in := Frame{Data: pcm16(1, 2, 3), SampleRate: 48000, Channels: 1}
	out := conv.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("matching format should not reallocate")
	}
}

func TestConvert_StereoToMonoAndResample(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 24000, Channels: 1}}
	// One second of stereo at 48 kHz.
	in := Frame{Data: make([]byte, 48000*4), SampleRate: 48000, Channels: 2}
	out := conv.Convert(in)
	if out.SampleRate != 24000 || out.Channels != 1 {
		t.Fatalf("converted format = %dHz/%dch, want 24000Hz/1ch", out.SampleRate, out.Channels)
	}
	if len(out.Data) != 24000*2 {
		t.Errorf("converted length = %d bytes, want %d", len(out.Data), 24000*2)
	}
}

func TestConvert_OddByteCountDropsFrame(t *testing.T) {
	t.Parallel()

	conv := FormatConverter{Target: Format{SampleRate: 16000, Channels: 1}}
	out := conv.Convert(Frame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
	if len(out.Data) != 0 {
		t.Errorf("corrupt frame should be dropped, got %d bytes", len(out.Data))
	}
}

func TestStereoToMono_Averages(t *testing.T) {
	t.Parallel()

	in := pcm16(100, 200, -100, 100)
	got := StereoToMono(in)
	want := pcm16(150, 0)
	if !bytes.Equal(got, want) {
		t.Errorf("StereoToMono = %v, want %v", got, want)
	}
}

func TestResampleMono16_HalvesLength(t *testing.T) {
	t.Parallel()

	in := make([]byte, 1000*2)
	out := ResampleMono16(in, 48000, 24000)
	if len(out) != 500*2 {
		t.Errorf("resampled length = %d, want %d", len(out), 500*2)
	}
}
