package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// EncoderState tracks the external MP3 encoder process lifecycle.
type EncoderState int32

const (
	EncoderStopped EncoderState = iota
	EncoderStarting
	EncoderBooting // process alive, waiting for the first MP3 frame
	EncoderRunning
	EncoderRestarting
	EncoderFailed
)

func (s EncoderState) String() string {
	switch s {
	case EncoderStopped:
		return "STOPPED"
	case EncoderStarting:
		return "STARTING"
	case EncoderBooting:
		return "BOOTING"
	case EncoderRunning:
		return "RUNNING"
	case EncoderRestarting:
		return "RESTARTING"
	case EncoderFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// restartBackoff is the bounded restart schedule. The index advances
// on each consecutive restart and resets when the encoder reaches
// RUNNING again.
var restartBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
}

// stdinWriteTimeout bounds a single PCM write to the encoder stdin.
// A write that takes longer counts as a stall.
const stdinWriteTimeout = 500 * time.Millisecond

// EncoderSupervisor owns the external PCM-to-MP3 encoder process:
// spawn, liveness, stall detection and bounded restart with backoff.
// PCM reaches the encoder through WriteFrame; encoded frames appear
// in the mp3Out ring via the output drain.
type EncoderSupervisor struct {
	binary     string
	args       []string
	stallAfter time.Duration

	mp3Out  *FrameRing
	metrics *TowerMetrics

	state      atomic.Int32
	restartIdx int
	restarts   atomic.Uint64

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stall   chan string // stall / exit notifications for the run loop
	stopped chan struct{}
	done    chan struct{}
	running bool
}

// NewEncoderSupervisor prepares a supervisor around the given encoder
// binary. The default invocation encodes canonical raw PCM to 128 kbps
// joint-stereo MP3 on stdout.
func NewEncoderSupervisor(binary string, bitrateKbps int, stallAfter time.Duration, mp3Out *FrameRing, metrics *TowerMetrics) *EncoderSupervisor {
	if binary == "" {
		binary = "lame"
	}
	if bitrateKbps <= 0 {
		bitrateKbps = 128
	}
	return &EncoderSupervisor{
		binary: binary,
		args: []string{
			"--quiet",
			"-r", "-s", "48", "--bitwidth", "16", "--signed", "--little-endian",
			"-m", "j", "-b", fmt.Sprintf("%d", bitrateKbps),
			"-", "-",
		},
		stallAfter: stallAfter,
		mp3Out:     mp3Out,
		metrics:    metrics,
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *EncoderSupervisor) State() EncoderState {
	return EncoderState(s.state.Load())
}

// RestartCount returns how many restarts have been attempted.
func (s *EncoderSupervisor) RestartCount() uint64 {
	return s.restarts.Load()
}

func (s *EncoderSupervisor) setState(st EncoderState) {
	old := EncoderState(s.state.Swap(int32(st)))
	if old != st {
		log.Printf("Encoder: %s -> %s", old, st)
	}
}

// Start launches the supervision loop.
func (s *EncoderSupervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.run()
}

// Stop terminates the supervision loop and the encoder process.
func (s *EncoderSupervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopped)
	s.killLocked()
	s.mu.Unlock()

	<-s.done
	s.setState(EncoderStopped)
}

// Reset clears the FAILED latch so the run loop tries the schedule
// again from the top. External operators call this; the audio path
// never does.
func (s *EncoderSupervisor) Reset() {
	s.mu.Lock()
	s.restartIdx = 0
	s.mu.Unlock()
	if s.State() == EncoderFailed {
		s.setState(EncoderRestarting)
	}
}

// WriteFrame pushes one canonical PCM frame into the encoder stdin.
// A blocked pipe is converted into a stall notification rather than a
// blocked caller.
func (s *EncoderSupervisor) WriteFrame(frame []byte) {
	s.mu.Lock()
	stdin := s.stdin
	stall := s.stall
	s.mu.Unlock()
	if stdin == nil {
		return
	}

	timer := time.AfterFunc(stdinWriteTimeout, func() {
		s.notify(stall, "stdin write timeout")
	})
	_, err := stdin.Write(frame)
	timer.Stop()
	if err != nil {
		s.notify(stall, fmt.Sprintf("stdin write failed: %v", err))
	}
}

// notify delivers a stall reason without blocking; duplicates during
// one incarnation are collapsed.
func (s *EncoderSupervisor) notify(stall chan string, reason string) {
	if stall == nil {
		return
	}
	select {
	case stall <- reason:
	default:
	}
}

// markRunning is called by the drain when the first MP3 frame of this
// incarnation is observed.
func (s *EncoderSupervisor) markRunning() {
	if s.State() == EncoderBooting {
		s.setState(EncoderRunning)
		s.mu.Lock()
		s.restartIdx = 0
		s.mu.Unlock()
	}
}

// run is the supervision loop: spawn, wait for stall or exit, back
// off, repeat until the schedule is exhausted.
func (s *EncoderSupervisor) run() {
	defer close(s.done)

	for {
		select {
		case <-s.stopped:
			return
		default:
		}

		if s.State() == EncoderFailed {
			// Stay failed until externally reset; fallback carries
			// the broadcast meanwhile.
			select {
			case <-s.stopped:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		stall, err := s.spawn()
		if err != nil {
			log.Printf("Encoder: spawn failed: %v", err)
			s.backoff()
			continue
		}

		reason := s.await(stall)
		if reason == "" {
			return // shutting down
		}

		log.Printf("Encoder: %s, scheduling restart", reason)
		if s.metrics != nil {
			s.metrics.encoderRestarts.Inc()
		}
		s.restarts.Add(1)
		s.mu.Lock()
		s.killLocked()
		s.mu.Unlock()
		s.setState(EncoderRestarting)
		s.backoff()
	}
}

// backoff sleeps the current schedule slot and advances it. Returns
// false once the schedule is exhausted (state moves to FAILED).
func (s *EncoderSupervisor) backoff() bool {
	s.mu.Lock()
	idx := s.restartIdx
	s.restartIdx++
	s.mu.Unlock()

	if idx >= len(restartBackoff) {
		s.setState(EncoderFailed)
		log.Printf("Encoder: restart schedule exhausted, entering FAILED until reset")
		return false
	}

	select {
	case <-s.stopped:
	case <-time.After(restartBackoff[idx]):
	}
	return true
}

// spawn starts one encoder incarnation with stdin/stdout/stderr pipes
// and its reader goroutines.
func (s *EncoderSupervisor) spawn() (chan string, error) {
	s.setState(EncoderStarting)

	cmd := exec.Command(s.binary, s.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.binary, err)
	}

	stall := make(chan string, 1)

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.stall = stall
	s.mu.Unlock()

	s.setState(EncoderBooting)
	log.Printf("Encoder: started %s (pid %d)", s.binary, cmd.Process.Pid)

	// Stderr reader: encoder diagnostics go to the log, never block
	// the pipe.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				log.Printf("Encoder stderr: %s", line)
			}
		}
	}()

	// Output drain: feeds the packetizer and detects output stalls.
	drain := newEncoderDrain(stdout, s.mp3Out, s, stall, s.stallAfter)
	go drain.run()

	// Exit watcher.
	go func() {
		err := cmd.Wait()
		if err != nil {
			s.notify(stall, fmt.Sprintf("process exited: %v", err))
		} else {
			s.notify(stall, "process exited")
		}
	}()

	return stall, nil
}

// await blocks until this incarnation stalls, exits, or the
// supervisor stops. Returns the stall reason, or "" on shutdown.
func (s *EncoderSupervisor) await(stall chan string) string {
	select {
	case <-s.stopped:
		return ""
	case reason := <-stall:
		return reason
	}
}

// killLocked tears down the current process. Caller holds s.mu.
func (s *EncoderSupervisor) killLocked() {
	if s.stdin != nil {
		s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stall = nil
}
