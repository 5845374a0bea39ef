package main

// MP3 frame extraction from a raw encoder byte stream.
//
// The packetizer accumulates whatever chunk sizes the pipe delivers
// and yields only complete MPEG-1 Layer III frames, byte-for-byte
// identical to the input. Output is invariant under re-chunking:
// feeding the same bytes in any partition yields the same frames.

const (
	// packetizerMaxBuffer caps the internal accumulator. When input
	// exceeds the cap the oldest bytes are discarded so a sync word
	// in recent data stays reachable.
	packetizerMaxBuffer = 64 * 1024

	mp3HeaderSize = 4
)

// Bitrate table in kbps for MPEG-1 Layer III. Indices 0 and 15 are
// invalid ("free" and "bad").
var mp3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// Sample rate table in Hz for MPEG-1. Index 3 is reserved.
var mp3SampleRates = [4]int{44100, 48000, 32000, 0}

// MP3Packetizer is stateful across calls but stateless to callers.
type MP3Packetizer struct {
	buf []byte
}

// NewMP3Packetizer returns an empty packetizer.
func NewMP3Packetizer() *MP3Packetizer {
	return &MP3Packetizer{buf: make([]byte, 0, 8192)}
}

// mp3FrameSize parses a 4-byte header and returns the full frame
// length in bytes, or 0 if the header is not a valid MPEG-1 Layer III
// header.
func mp3FrameSize(h []byte) int {
	if len(h) < mp3HeaderSize {
		return 0
	}
	if h[0] != 0xFF || h[1]&0xE0 != 0xE0 {
		return 0
	}

	version := (h[1] >> 3) & 0x03
	layer := (h[1] >> 1) & 0x03
	if version != 3 || layer != 1 { // MPEG-1, Layer III
		return 0
	}

	bitrateIdx := (h[2] >> 4) & 0x0F
	sampleIdx := (h[2] >> 2) & 0x03
	padding := int((h[2] >> 1) & 0x01)
	if bitrateIdx == 0 || bitrateIdx == 15 || sampleIdx == 3 {
		return 0
	}

	bitrate := mp3Bitrates[bitrateIdx] * 1000
	sampleRate := mp3SampleRates[sampleIdx]

	return 144*bitrate/sampleRate + padding
}

// Feed appends data to the accumulator and returns every complete
// frame now extractable. Partial frames are never returned; garbage
// before a sync word is discarded one byte at a time.
func (p *MP3Packetizer) Feed(data []byte) [][]byte {
	p.buf = append(p.buf, data...)
	if len(p.buf) > packetizerMaxBuffer {
		// Keep the most recent bytes; a frame boundary is always
		// ahead of us, never behind.
		p.buf = p.buf[len(p.buf)-packetizerMaxBuffer:]
	}

	var frames [][]byte
	for {
		sync := findMP3Sync(p.buf)
		if sync < 0 {
			// A sync word may be split across chunks: keep the final
			// byte if it could start one.
			if n := len(p.buf); n > 0 && p.buf[n-1] == 0xFF {
				p.buf = p.buf[n-1:]
			} else {
				p.buf = p.buf[:0]
			}
			return frames
		}
		if sync > 0 {
			p.buf = p.buf[sync:]
		}
		if len(p.buf) < mp3HeaderSize {
			return frames
		}

		size := mp3FrameSize(p.buf)
		if size <= 0 {
			// Sync pattern without a valid header: resync one byte on.
			p.buf = p.buf[1:]
			continue
		}
		if len(p.buf) < size {
			return frames
		}

		frame := make([]byte, size)
		copy(frame, p.buf[:size])
		frames = append(frames, frame)
		p.buf = p.buf[size:]
	}
}

// Pending returns the number of buffered bytes not yet emitted.
func (p *MP3Packetizer) Pending() int {
	return len(p.buf)
}

// findMP3Sync returns the offset of the first sync pattern (0xFF with
// the top three bits of the following byte set), or -1.
func findMP3Sync(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == 0xFF && b[i+1]&0xE0 == 0xE0 {
			return i
		}
	}
	return -1
}
