package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// OperationalMode is the externally reported tower state. It is
// derived from the encoder supervisor plus the encoder-enabled flag
// and is never consulted by the audio path.
type OperationalMode string

const (
	ModeColdStart       OperationalMode = "COLD_START"
	ModeBooting         OperationalMode = "BOOTING"
	ModeLiveInput       OperationalMode = "LIVE_INPUT"
	ModeFallback        OperationalMode = "FALLBACK"
	ModeRestartRecovery OperationalMode = "RESTART_RECOVERY"
	ModeOfflineTest     OperationalMode = "OFFLINE_TEST_MODE"
	ModeDegraded        OperationalMode = "DEGRADED"
)

// StatusReporter serves /status and /tower/buffer.
type StatusReporter struct {
	em             *EncoderManager
	loop           *BroadcastLoop
	encoderEnabled bool
	startedAt      time.Time
}

func NewStatusReporter(em *EncoderManager, loop *BroadcastLoop, encoderEnabled bool) *StatusReporter {
	return &StatusReporter{
		em:             em,
		loop:           loop,
		encoderEnabled: encoderEnabled,
		startedAt:      time.Now(),
	}
}

// Mode derives the operational mode.
func (sr *StatusReporter) Mode() OperationalMode {
	if !sr.encoderEnabled {
		return ModeOfflineTest
	}
	switch sr.em.EncoderState() {
	case EncoderStopped:
		return ModeColdStart
	case EncoderStarting, EncoderBooting:
		return ModeBooting
	case EncoderRestarting:
		return ModeRestartRecovery
	case EncoderFailed:
		return ModeDegraded
	default: // RUNNING
		if sr.em.FallbackActive() {
			return ModeFallback
		}
		return ModeLiveInput
	}
}

// ServeStatus handles GET /status.
func (sr *StatusReporter) ServeStatus(w http.ResponseWriter, r *http.Request) {
	mp3 := sr.em.MP3Buffer()

	status := map[string]interface{}{
		"mode":                      sr.Mode(),
		"fps":                       sr.loop.FPS(),
		"fallback":                  sr.em.FallbackActive(),
		"encoder_state":             sr.em.EncoderState().String(),
		"mp3_buffer_count":          mp3.Len(),
		"mp3_buffer_capacity":       mp3.Capacity(),
		"mp3_buffer_overflow_count": mp3.OverflowCount(),
		"system":                    sr.systemBlock(),
	}

	writeJSON(w, status)
}

// ServeBuffer handles GET /tower/buffer: the upstream PCM ring.
func (sr *StatusReporter) ServeBuffer(w http.ResponseWriter, r *http.Request) {
	pcm := sr.em.UpstreamBuffer()
	writeJSON(w, map[string]interface{}{
		"count":          pcm.Len(),
		"capacity":       pcm.Capacity(),
		"overflow_count": pcm.OverflowCount(),
	})
}

// systemBlock reports process-level health for operators. Collection
// failures degrade to partial output rather than errors.
func (sr *StatusReporter) systemBlock() map[string]interface{} {
	block := map[string]interface{}{
		"uptime_seconds": int(time.Since(sr.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		block["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		block["memory_percent"] = vm.UsedPercent
	}

	return block
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
