package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// EncoderManager is the routing heart of the tower. Each metronome
// tick it feeds exactly one PCM frame to the encoder (program audio
// when the upstream buffer has it, fallback otherwise) and moves one
// encoded MP3 frame toward the broadcast loop. Program-vs-fallback
// selection lives here and nowhere else.
type EncoderManager struct {
	upstream *FrameRing // PCM from the station bridge
	mp3In    *FrameRing // raw encoder output, filled by the drain
	outRing  *FrameRing // frames staged for the broadcast loop

	sup            *EncoderSupervisor
	fallback       *FallbackSource
	metrics        *TowerMetrics
	encoderEnabled bool

	// Pre-synthesized MP3 caches, each drained round-robin. filled
	// once at startup; emission afterwards is an O(1) lookup.
	fileMP3    [][]byte
	toneMP3    [][]byte
	silenceMP3 [][]byte
	cacheIx    int

	startedAt    time.Time
	graceWindow  time.Duration
	missWindow   time.Duration
	lastRealNano atomic.Int64

	lossStreak      atomic.Int64
	stationShutdown atomic.Bool
	fallbackFeed    atomic.Bool // last PCM fed was fallback
	fallbackEmit    atomic.Bool // last MP3 emitted was fallback

	mu sync.Mutex
}

// NewEncoderManager wires the rings, supervisor and fallback source
// together and pre-synthesizes the fallback MP3 caches.
func NewEncoderManager(cfg *Config, fallback *FallbackSource, metrics *TowerMetrics) *EncoderManager {
	em := &EncoderManager{
		upstream:       NewFrameRing(cfg.PCM.BufferFrames, PCMFrameSize, DropOldest),
		mp3In:          NewFrameRing(cfg.MP3.BufferFrames, 0, DropOldest),
		outRing:        NewFrameRing(cfg.MP3.BufferFrames, 0, DropOldest),
		fallback:       fallback,
		metrics:        metrics,
		encoderEnabled: cfg.Encoder.Enabled,
		startedAt:      time.Now(),
		graceWindow:    2 * time.Second,
		missWindow:     250 * time.Millisecond,
	}
	em.lastRealNano.Store(time.Now().UnixNano())

	if cfg.Encoder.Enabled {
		em.sup = NewEncoderSupervisor(cfg.Encoder.Path, cfg.Encoder.BitrateKbps,
			time.Duration(cfg.Encoder.StallThresholdMS)*time.Millisecond, em.mp3In, metrics)
		em.preheat(cfg.Encoder.Path, cfg.Encoder.BitrateKbps)
	}
	if cfg.Fallback.SilenceMP3Path != "" {
		em.loadFileCache(cfg.Fallback.SilenceMP3Path)
	}
	if len(em.silenceMP3) == 0 {
		// Last resort so NextFrame can always emit something valid.
		em.silenceMP3 = [][]byte{makeSilentMP3Frame()}
	}

	return em
}

// Start launches the encoder supervision (no-op when disabled).
func (em *EncoderManager) Start() {
	if em.sup != nil {
		em.sup.Start()
	}
}

// Stop tears the encoder down.
func (em *EncoderManager) Stop() {
	if em.sup != nil {
		em.sup.Stop()
	}
}

// WritePCM enqueues one canonical PCM frame from the ingest side.
// Never blocks; the upstream ring drops oldest on overflow.
func (em *EncoderManager) WritePCM(frame []byte) {
	em.upstream.Push(frame)
}

// UpstreamBuffer exposes the upstream PCM ring for status reporting.
func (em *EncoderManager) UpstreamBuffer() *FrameRing { return em.upstream }

// MP3Buffer exposes the staged output ring for status reporting.
func (em *EncoderManager) MP3Buffer() *FrameRing { return em.outRing }

// EncoderState reports the supervisor state (STOPPED when disabled).
func (em *EncoderManager) EncoderState() EncoderState {
	if em.sup == nil {
		return EncoderStopped
	}
	return em.sup.State()
}

// FallbackActive reports whether the audible output currently derives
// from the fallback source rather than program PCM.
func (em *EncoderManager) FallbackActive() bool {
	return em.fallbackFeed.Load() || em.fallbackEmit.Load()
}

// SetStationShutdown records the station lifecycle signal. While set,
// PCM-loss warnings are suppressed: silence after a clean shutdown is
// expected, not an anomaly.
func (em *EncoderManager) SetStationShutdown(down bool) {
	em.stationShutdown.Store(down)
	if down {
		em.lossStreak.Store(0)
	}
}

// NextFrame runs one metronome tick: feed one PCM frame into the
// encoder and stage at most one MP3 frame for broadcast. The returned
// frame is nil only within the bounded miss window while the encoder
// is between frames; the broadcast loop treats that as a skipped tick
// and clients coast on frames already staged in the out ring, so every
// listener still sees a contiguous subsequence of the broadcast bytes.
// Beyond the window a cached fallback frame is emitted so the stream
// never stops.
func (em *EncoderManager) NextFrame() []byte {
	em.feedEncoder()

	frame := em.produceFrame()
	if frame != nil {
		em.outRing.Push(frame)
	}
	return frame
}

// GetFrame hands one staged MP3 frame to the broadcast loop, waiting
// at most maxWait. ok is false when no frame is due this tick.
func (em *EncoderManager) GetFrame(maxWait time.Duration) ([]byte, bool) {
	frame := em.outRing.Pop(maxWait)
	return frame, frame != nil
}

// feedEncoder forwards exactly one PCM frame per tick to the encoder
// stdin: program audio if buffered, fallback otherwise.
func (em *EncoderManager) feedEncoder() {
	if em.sup == nil {
		return
	}

	frame := em.upstream.Pop(0)
	if frame != nil {
		em.fallbackFeed.Store(false)
	} else {
		frame = em.fallback.Next()
		em.fallbackFeed.Store(true)
	}
	em.sup.WriteFrame(frame)
}

// produceFrame yields the next MP3 frame in priority order: encoder
// output, grace-window silence, cached fallback.
func (em *EncoderManager) produceFrame() []byte {
	if !em.encoderEnabled {
		// Offline test mode: the cached file (or synthetic silence)
		// is the broadcast.
		em.fallbackEmit.Store(true)
		return em.cachedFallbackFrame()
	}

	// Bounded wait keeps the pump on schedule while riding out the
	// encoder's own frame cadence.
	if frame := em.mp3In.Pop(PCMFrameDuration / 2); frame != nil {
		em.lastRealNano.Store(time.Now().UnixNano())
		em.lossStreak.Store(0)
		em.fallbackEmit.Store(false)
		return frame
	}

	if em.EncoderState() != EncoderRunning && time.Since(em.startedAt) < em.graceWindow {
		// Boot grace: silence MP3 until the first real frame.
		em.fallbackEmit.Store(true)
		return em.nextFromCache(em.silenceMP3)
	}

	sinceReal := time.Since(time.Unix(0, em.lastRealNano.Load()))
	if sinceReal < em.missWindow {
		// Healthy pacing jitter between 24 ms encoder frames and the
		// 21.3 ms PCM tick; staged frames in the out ring cover it.
		return nil
	}

	// Real loss: splice cached fallback.
	if em.lossStreak.Add(1) == 1 && !em.stationShutdown.Load() {
		log.Printf("Audio: PCM loss, broadcasting cached fallback (encoder %s)", em.EncoderState())
	}
	if em.metrics != nil {
		em.metrics.fallbackFrames.Inc()
	}
	em.fallbackEmit.Store(true)
	return em.cachedFallbackFrame()
}

// cachedFallbackFrame picks from the caches in priority order:
// configured file, synthesized tone, synthesized silence.
func (em *EncoderManager) cachedFallbackFrame() []byte {
	if len(em.fileMP3) > 0 {
		return em.nextFromCache(em.fileMP3)
	}
	if len(em.toneMP3) > 0 {
		return em.nextFromCache(em.toneMP3)
	}
	return em.nextFromCache(em.silenceMP3)
}

func (em *EncoderManager) nextFromCache(cache [][]byte) []byte {
	em.mu.Lock()
	defer em.mu.Unlock()
	frame := cache[em.cacheIx%len(cache)]
	em.cacheIx++
	return frame
}

// preheat feeds about one second each of tone and silence PCM through
// throwaway encoder runs and caches the resulting frames, so fallback
// emission later never touches a process.
func (em *EncoderManager) preheat(binary string, bitrateKbps int) {
	tone := &FallbackSource{silence: make([]byte, PCMFrameSize), mode: fallbackTone}

	var tonePCM, silencePCM []byte
	for i := 0; i < PCMSampleRate/PCMSamplesPerFrame; i++ {
		tonePCM = append(tonePCM, tone.toneFrame()...)
		silencePCM = append(silencePCM, make([]byte, PCMFrameSize)...)
	}

	var err error
	if em.toneMP3, err = synthesizeMP3(binary, bitrateKbps, tonePCM); err != nil {
		log.Printf("Audio: tone preheat failed: %v", err)
	}
	if em.silenceMP3, err = synthesizeMP3(binary, bitrateKbps, silencePCM); err != nil {
		log.Printf("Audio: silence preheat failed: %v", err)
	}
	log.Printf("Audio: fallback caches ready (tone=%d silence=%d frames)",
		len(em.toneMP3), len(em.silenceMP3))
}

// loadFileCache packetizes an already-encoded MP3 file into cache
// frames for offline mode and encoder-down fallback.
func (em *EncoderManager) loadFileCache(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Audio: cannot read fallback MP3 %s: %v", path, err)
		return
	}
	p := NewMP3Packetizer()
	em.fileMP3 = p.Feed(data)
	log.Printf("Audio: fallback MP3 %s cached (%d frames)", path, len(em.fileMP3))
}

// synthesizeMP3 runs one blocking encoder invocation over a PCM
// buffer and returns the packetized frames.
func synthesizeMP3(binary string, bitrateKbps int, pcm []byte) ([][]byte, error) {
	if binary == "" {
		binary = "lame"
	}
	cmd := exec.Command(binary,
		"--quiet",
		"-r", "-s", "48", "--bitwidth", "16", "--signed", "--little-endian",
		"-m", "j", "-b", fmt.Sprintf("%d", bitrateKbps),
		"-", "-")
	cmd.Stdin = bytes.NewReader(pcm)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("encoder run: %w", err)
	}

	frames := NewMP3Packetizer().Feed(out.Bytes())
	if len(frames) == 0 {
		return nil, fmt.Errorf("encoder produced no frames")
	}
	return frames, nil
}

// makeSilentMP3Frame builds a minimal valid 128 kbps 48 kHz MPEG-1
// Layer III frame with an empty payload. Decoders render it as
// silence; it exists only so the broadcast never runs dry when every
// cache failed to fill.
func makeSilentMP3Frame() []byte {
	frame := make([]byte, 384) // 144 * 128000 / 48000, no padding
	frame[0] = 0xFF
	frame[1] = 0xFB // MPEG-1 Layer III, no CRC
	frame[2] = 0x94 // 128 kbps, 48 kHz, no padding
	frame[3] = 0x44 // joint stereo
	return frame
}
