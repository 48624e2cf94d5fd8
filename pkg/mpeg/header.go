package mpeg

// Header field constants for MPEG audio frame headers. Only Layer III is
// accepted: the assistant service streams audio/mpeg, which in practice is
// always an MP3 elementary stream.

// version indices from header bits 19–20.
const (
	versionMPEG25   = 0
	versionReserved = 1
	versionMPEG2    = 2
	versionMPEG1    = 3
)

// layerIII is the layer index from header bits 17–18 (inverted encoding).
const layerIII = 1

// bitrateKbps maps [versionGroup][bitrateIndex] to kbit/s. Index 0 is the
// "free" bitrate and index 15 is forbidden; both are rejected because the
// frame length cannot be derived from them.
var bitrateKbps = [2][16]int{
	// MPEG1 Layer III
	{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	// MPEG2/2.5 Layer III
	{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
}

// sampleRateHz maps [version][sampleRateIndex] to Hz. Index 3 is reserved.
var sampleRateHz = [4][3]int{
	versionMPEG25: {11025, 12000, 8000},
	versionMPEG2:  {22050, 24000, 16000},
	versionMPEG1:  {44100, 48000, 32000},
}

// header holds the decoded fields of a candidate 4-byte frame header.
type header struct {
	version    int
	bitrate    int // kbit/s
	sampleRate int // Hz
	padding    int // 0 or 1
}

// parseHeader decodes the 4 bytes at b[0:4] as an MPEG audio frame header.
// It returns false if the bytes do not form a valid Layer III header.
func parseHeader(b []byte) (header, bool) {
	if len(b) < 4 {
		return header{}, false
	}
	// 11-bit sync: 0xFF followed by the top 3 bits of the second byte.
	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return header{}, false
	}

	version := int(b[1] >> 3 & 0x03)
	layer := int(b[1] >> 1 & 0x03)
	if version == versionReserved || layer != layerIII {
		return header{}, false
	}

	bitrateIdx := int(b[2] >> 4 & 0x0F)
	sampleIdx := int(b[2] >> 2 & 0x03)
	if bitrateIdx == 0 || bitrateIdx == 15 || sampleIdx == 3 {
		return header{}, false
	}

	group := 0
	if version != versionMPEG1 {
		group = 1
	}

	return header{
		version:    version,
		bitrate:    bitrateKbps[group][bitrateIdx],
		sampleRate: sampleRateHz[version][sampleIdx],
		padding:    int(b[2] >> 1 & 0x01),
	}, true
}

// frameLength returns the total byte length of the frame this header opens,
// including the header itself.
func (h header) frameLength() int {
	// Layer III: 144 samples-per-bit coefficient for MPEG1, 72 for MPEG2/2.5.
	coeff := 144
	if h.version != versionMPEG1 {
		coeff = 72
	}
	return coeff*h.bitrate*1000/h.sampleRate + h.padding
}
