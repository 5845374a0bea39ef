package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os/exec"
	"sync"
)

// FallbackSource produces canonical PCM frames when no program audio
// is available. Priority is file -> 440 Hz tone -> silence, decided
// once at construction, with downgrade-only on later errors. Next is
// O(1) and never blocks.

type fallbackMode int

const (
	fallbackFile fallbackMode = iota
	fallbackTone
	fallbackSilence
)

func (m fallbackMode) String() string {
	switch m {
	case fallbackFile:
		return "file"
	case fallbackTone:
		return "tone"
	default:
		return "silence"
	}
}

const (
	// toneFrequency is the standby carrier tone.
	toneFrequency = 440.0

	// toneAmplitude is about 80% of full scale.
	toneAmplitude = 0.8 * 32767

	// loopCrossfadeSamples is ~40 ms at 48 kHz, applied between the
	// tail and head of a decoded fallback file so looping is
	// seamless.
	loopCrossfadeSamples = 1920
)

// FallbackSource is safe for a single consumer; the phase accumulator
// and round-robin index are not shared across goroutines.
type FallbackSource struct {
	mu      sync.Mutex
	mode    fallbackMode
	frames  [][]byte // pre-chopped file frames
	frameIx int
	phase   float64
	silence []byte
}

// NewFallbackSource builds the source. filePath may be empty; if the
// file cannot be decoded into canonical PCM the source downgrades to
// the tone permanently.
func NewFallbackSource(filePath, decoderPath string) *FallbackSource {
	fs := &FallbackSource{
		mode:    fallbackTone,
		silence: make([]byte, PCMFrameSize),
	}

	if filePath != "" {
		pcm, err := decodeMP3ToCanonicalPCM(decoderPath, filePath)
		if err != nil {
			log.Printf("Fallback: cannot use file %s (%v), downgrading to tone", filePath, err)
		} else if len(pcm) < PCMFrameSize {
			log.Printf("Fallback: file %s too short (%d bytes), downgrading to tone", filePath, len(pcm))
		} else {
			fs.frames = chopLoopedPCM(pcm)
			fs.mode = fallbackFile
			log.Printf("Fallback: loaded %s (%d frames, %.1fs loop)",
				filePath, len(fs.frames), float64(len(fs.frames))*PCMFrameDuration.Seconds())
		}
	}

	return fs
}

// Next returns one canonical PCM frame. It never fails: the silence
// source backstops everything.
func (fs *FallbackSource) Next() []byte {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch fs.mode {
	case fallbackFile:
		if len(fs.frames) == 0 {
			fs.mode = fallbackTone
			return fs.toneFrame()
		}
		f := fs.frames[fs.frameIx]
		fs.frameIx = (fs.frameIx + 1) % len(fs.frames)
		return f
	case fallbackTone:
		return fs.toneFrame()
	default:
		return fs.silence
	}
}

// Mode reports the active source for status output.
func (fs *FallbackSource) Mode() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.mode.String()
}

// toneFrame synthesizes one frame of the 440 Hz stereo sine. The
// phase accumulator carries across calls so frame boundaries are
// continuous.
func (fs *FallbackSource) toneFrame() []byte {
	const phaseStep = 2 * math.Pi * toneFrequency / PCMSampleRate

	frame := make([]byte, PCMFrameSize)
	for i := 0; i < PCMSamplesPerFrame; i++ {
		s := int16(toneAmplitude * math.Sin(fs.phase))
		off := i * PCMChannels * PCMBytesPerSample
		binary.LittleEndian.PutUint16(frame[off:], uint16(s))
		binary.LittleEndian.PutUint16(frame[off+2:], uint16(s))
		fs.phase += phaseStep
		if fs.phase >= 2*math.Pi {
			fs.phase -= 2 * math.Pi
		}
	}
	return frame
}

// chopLoopedPCM applies an equal-power crossfade between the tail and
// head of the buffer, then chops it into whole canonical frames. The
// trailing partial frame is dropped.
func chopLoopedPCM(pcm []byte) [][]byte {
	samples := bytesToSamples(pcm)

	n := loopCrossfadeSamples * PCMChannels
	if len(samples) > 2*n {
		// Blend the last n samples into the first n, then cut the
		// tail so the loop point is inaudible.
		tail := samples[len(samples)-n:]
		for i := 0; i < n; i++ {
			t := float64(i/PCMChannels) / float64(loopCrossfadeSamples)
			gainIn := math.Sin(t * math.Pi / 2)
			gainOut := math.Cos(t * math.Pi / 2)
			v := float64(samples[i])*gainIn + float64(tail[i])*gainOut
			samples[i] = clampSample(v)
		}
		samples = samples[:len(samples)-n]
	}

	pcm = samplesToBytes(samples)
	var frames [][]byte
	for off := 0; off+PCMFrameSize <= len(pcm); off += PCMFrameSize {
		frames = append(frames, pcm[off:off+PCMFrameSize])
	}
	return frames
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func bytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func samplesToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// decodeMP3ToCanonicalPCM runs the external decoder once and returns
// raw PCM. The decoded WAV must already be 48 kHz stereo 16-bit;
// anything else is refused so the caller can downgrade.
func decodeMP3ToCanonicalPCM(decoderPath, filePath string) ([]byte, error) {
	if decoderPath == "" {
		decoderPath = "lame"
	}

	cmd := exec.Command(decoderPath, "--quiet", "--decode", filePath, "-")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("decoder failed: %w", err)
	}

	pcm, rate, channels, bits, err := parseWAV(out.Bytes())
	if err != nil {
		return nil, err
	}
	if rate != PCMSampleRate || channels != PCMChannels || bits != 16 {
		return nil, fmt.Errorf("decoded format %dHz/%dch/%dbit, need %dHz/%dch/16bit",
			rate, channels, bits, PCMSampleRate, PCMChannels)
	}
	return pcm, nil
}

// parseWAV walks RIFF chunks and returns the PCM payload of the data
// chunk plus the fmt parameters.
func parseWAV(b []byte) (pcm []byte, rate, channels, bits int, err error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, 0, 0, fmt.Errorf("not a RIFF/WAVE stream")
	}

	off := 12
	haveFmt := false
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body // tolerate truncated final chunk
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, 0, fmt.Errorf("short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(b[body:])
			if format != 1 {
				return nil, 0, 0, 0, fmt.Errorf("non-PCM WAV format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			rate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bits = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, 0, 0, fmt.Errorf("data chunk before fmt")
			}
			return b[body : body+size], rate, channels, bits, nil
		}

		if size%2 == 1 {
			size++ // RIFF chunks are word-aligned
		}
		off = body + size
	}
	return nil, 0, 0, 0, fmt.Errorf("no data chunk")
}
