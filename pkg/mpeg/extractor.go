// Package mpeg reassembles whole decodable frames from an MPEG audio byte
// stream that arrives in arbitrary chunks.
//
// The assistant service streams audio/mpeg data whose chunk boundaries do not
// align with frame boundaries. [Extractor.Feed] accepts each chunk as it
// arrives, scans for frame sync, and emits only complete frames; partial data
// is retained until the next feed. Feeding any chunking of a stream yields
// exactly the frames that feeding it in one call would.
package mpeg

// Extractor turns a byte stream of concatenated MPEG audio data into whole
// frames. The zero value is ready to use. Not safe for concurrent use; wrap
// externally if shared.
type Extractor struct {
	tail []byte
}

// NewExtractor creates an empty Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Feed appends p to the pending tail and extracts every complete frame now
// available. Each returned frame is an independent copy. Bytes that do not
// form a valid header are skipped one at a time until sync is re-acquired;
// a trailing partial frame stays buffered for the next call.
func (e *Extractor) Feed(p []byte) [][]byte {
	e.tail = append(e.tail, p...)

	var frames [][]byte
	i := 0
	for {
		// Not enough bytes left for a header: keep as tail.
		if len(e.tail)-i < 4 {
			break
		}

		h, ok := parseHeader(e.tail[i:])
		if !ok {
			// Lost sync; advance one byte and retry.
			i++
			continue
		}

		length := h.frameLength()
		if i+length > len(e.tail) {
			// Frame is only partially present.
			break
		}

		frame := make([]byte, length)
		copy(frame, e.tail[i:i+length])
		frames = append(frames, frame)
		i += length
	}

	if i > 0 {
		// Copy the remainder to a fresh slice so consumed bytes can be
		// garbage collected instead of pinning the old backing array.
		rest := make([]byte, len(e.tail)-i)
		copy(rest, e.tail[i:])
		e.tail = rest
	}

	return frames
}

// Tail returns the pending bytes that do not yet form a complete frame.
// The returned slice is the extractor's internal buffer; callers must not
// modify it.
func (e *Extractor) Tail() []byte {
	return e.tail
}

// Reset discards all pending bytes.
func (e *Extractor) Reset() {
	e.tail = nil
}
