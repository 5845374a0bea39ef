package main

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// StartupState tracks the linear boot sequence. Transitions happen
// only on observed segment events, never on timers.
type StartupState int32

const (
	Bootstrap StartupState = iota
	StartupAnnouncementPlaying
	StartupThinkComplete
	StartupDoEnqueue
	NormalOperation
)

func (s StartupState) String() string {
	switch s {
	case Bootstrap:
		return "BOOTSTRAP"
	case StartupAnnouncementPlaying:
		return "STARTUP_ANNOUNCEMENT_PLAYING"
	case StartupThinkComplete:
		return "STARTUP_THINK_COMPLETE"
	case StartupDoEnqueue:
		return "STARTUP_DO_ENQUEUE"
	default:
		return "NORMAL_OPERATION"
	}
}

// LifecycleState is the run-level machine. Transitions are one-way
// and idempotent.
type LifecycleState int32

const (
	Running LifecycleState = iota
	Draining
	ShuttingDown
)

func (s LifecycleState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	default:
		return "SHUTTING_DOWN"
	}
}

// Lifecycle owns startup and shutdown orchestration. It wires every
// component together in order, observes segment events to advance the
// startup machine, and runs the two-phase drain/hard-stop shutdown.
type Lifecycle struct {
	cfg *Config

	library    *Library
	rotation   *RotationSelector
	dj         *DJEngine
	sink       *PCMSink
	playout    *PlayoutEngine
	events     *EventClient
	nowPlaying *NowPlayingCell

	startupState   atomic.Int32
	lifecycleState atomic.Int32

	shutdownOnce sync.Once
}

func NewLifecycle(cfg *Config) *Lifecycle {
	return &Lifecycle{cfg: cfg, nowPlaying: &NowPlayingCell{}}
}

// StartupState reports the boot machine's position.
func (lc *Lifecycle) StartupState() StartupState {
	return StartupState(lc.startupState.Load())
}

// State reports the run-level machine's position.
func (lc *Lifecycle) State() LifecycleState {
	return LifecycleState(lc.lifecycleState.Load())
}

// Start runs the ordered startup sequence and launches playout. It
// returns once playback is underway.
func (lc *Lifecycle) Start() error {
	var err error

	// 1-2. Library plus companion asset cache in one scan.
	if lc.library, err = LoadLibrary(lc.cfg.Media.Path); err != nil {
		return fmt.Errorf("load library: %w", err)
	}

	// 3. Persisted state: warm start when present, cold otherwise.
	state, err := LoadState(lc.cfg.State.Path)
	if err != nil {
		log.Printf("Lifecycle: state unusable, cold start: %v", err)
		state = NewPersistedState()
	}

	// 4. Rotation selector, warmed from history.
	lc.rotation = NewRotationSelector(lc.library.Regular, lc.library.Holiday,
		rand.New(rand.NewSource(time.Now().UnixNano())))
	var rot RotationState
	if ok, err := state.Get("rotation", &rot); err != nil {
		log.Printf("Lifecycle: rotation state skipped: %v", err)
	} else if ok {
		lc.rotation.Restore(rot)
	}

	// 5-7. Events, sink, playout, DJ.
	lc.events = NewEventClient(lc.cfg.Tower.EventsURL)
	lc.sink = NewPCMSink(lc.cfg.Bridge.SocketPath)
	lc.sink.Connect()
	lc.playout = NewPlayoutEngine(lc.sink, lc.cfg.Decoder.Path, lc.events, lc.nowPlaying)
	lc.dj = NewDJEngine(lc.rotation, lc.library, lc.playout,
		time.Duration(lc.cfg.DJ.LegalIDIntervalMin)*time.Minute)

	var djState DJState
	if ok, err := state.Get("dj", &djState); err != nil {
		log.Printf("Lifecycle: dj state skipped: %v", err)
	} else if ok {
		lc.dj.Restore(djState)
	}

	lc.playout.AddObserver(lc.dj)
	lc.playout.AddObserver(lc)

	// 8. One THINK under the startup flag: a startup announcement
	// becomes the first segment; otherwise bootstrap DO enqueues the
	// first song directly.
	if path := lc.library.StartupAnnouncement(); path != "" {
		lc.playout.Enqueue(AudioEvent{Path: path, Type: SegmentAnnouncement})
		lc.startupState.Store(int32(StartupAnnouncementPlaying))
	} else {
		lc.dj.BootstrapDO()
		lc.startupState.Store(int32(StartupDoEnqueue))
	}

	// 9. Lifecycle event, exactly once.
	lc.events.StationStartup()

	// 10. Playback.
	lc.playout.Start()
	log.Printf("Lifecycle: started (%s)", lc.StartupState())
	return nil
}

// SegmentStarted advances the startup machine; the DJ observer runs
// before this one, so THINK for the current segment is already done.
func (lc *Lifecycle) SegmentStarted(ev AudioEvent) {
	switch lc.StartupState() {
	case StartupAnnouncementPlaying:
		// The DJ's THINK ran synchronously just before us.
		lc.startupState.Store(int32(StartupThinkComplete))
		log.Printf("Lifecycle: startup announcement playing, think complete")
	case StartupDoEnqueue:
		lc.startupState.Store(int32(NormalOperation))
		log.Printf("Lifecycle: normal operation")
	}
}

// SegmentFinished advances the startup machine past the announcement.
func (lc *Lifecycle) SegmentFinished(ev AudioEvent) {
	if lc.StartupState() == StartupThinkComplete {
		lc.startupState.Store(int32(StartupDoEnqueue))
	}
}

// Shutdown runs the two-phase stop. Safe to call more than once and
// from signal context.
func (lc *Lifecycle) Shutdown() {
	lc.shutdownOnce.Do(lc.shutdown)
}

func (lc *Lifecycle) shutdown() {
	// Phase 1: drain. The current segment and at most one terminal
	// segment play to completion; nothing is interrupted, closed, or
	// cleared.
	lc.lifecycleState.Store(int32(Draining))
	log.Printf("Lifecycle: draining")
	lc.dj.SetDraining()
	lc.playout.SetDraining()

	timeout := time.Duration(lc.cfg.DJ.ShutdownTimeoutSec) * time.Second
	select {
	case <-lc.playout.TerminalPlayoutComplete():
	case <-time.After(timeout):
		log.Printf("Lifecycle: drain timed out after %s", timeout)
	}

	lc.events.StationShutdown()

	// Phase 2: hard stop. No THINK or DO past this point; no audio
	// after the sink closes.
	lc.lifecycleState.Store(int32(ShuttingDown))
	log.Printf("Lifecycle: shutting down")
	lc.dj.Disable()
	lc.playout.Stop()
	lc.persistState()
	lc.sink.Close()
	log.Printf("Lifecycle: shutdown complete")
}

// persistState writes rotation history and DJ state atomically,
// preserving any sections a newer build may have written.
func (lc *Lifecycle) persistState() {
	state, err := LoadState(lc.cfg.State.Path)
	if err != nil {
		state = NewPersistedState()
	}
	if err := state.Set("rotation", lc.rotation.State()); err != nil {
		log.Printf("Lifecycle: persist rotation: %v", err)
	}
	if err := state.Set("dj", lc.dj.State()); err != nil {
		log.Printf("Lifecycle: persist dj: %v", err)
	}
	if err := state.Save(lc.cfg.State.Path); err != nil {
		log.Printf("Lifecycle: persist state: %v", err)
		return
	}
	log.Printf("Lifecycle: state persisted to %s", lc.cfg.State.Path)
}
