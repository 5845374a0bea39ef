package main

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SegmentObserver is notified synchronously around each segment. The
// DJ engine and the lifecycle machine both register one; observers
// must not mutate playout state.
type SegmentObserver interface {
	SegmentStarted(ev AudioEvent)
	SegmentFinished(ev AudioEvent)
}

// SegmentProgressObserver is an optional extension: observers that
// implement it also receive a once-per-second progress beat while a
// segment plays, with elapsed time and the nominal duration.
type SegmentProgressObserver interface {
	SegmentProgress(ev AudioEvent, elapsed, nominal time.Duration)
}

var errPlayoutStopped = errors.New("playout stopped")

// PlayoutEngine plays queued Audio Events one at a time. Frames are
// pushed to the sink as fast as the decoder delivers them, but the
// segment ends by wall clock: elapsed time against the file's nominal
// duration, never decoder speed or buffer depth.
type PlayoutEngine struct {
	sink        *PCMSink
	decoderPath string
	events      *EventClient
	nowPlaying  *NowPlayingCell

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []AudioEvent
	observers []SegmentObserver

	draining atomic.Bool
	stopped  atomic.Bool

	terminalOnce sync.Once
	terminalDone chan struct{}
	done         chan struct{}
}

func NewPlayoutEngine(sink *PCMSink, decoderPath string, events *EventClient, nowPlaying *NowPlayingCell) *PlayoutEngine {
	p := &PlayoutEngine{
		sink:         sink,
		decoderPath:  decoderPath,
		events:       events,
		nowPlaying:   nowPlaying,
		terminalDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AddObserver registers a segment observer. Not safe after Start.
func (p *PlayoutEngine) AddObserver(o SegmentObserver) {
	p.observers = append(p.observers, o)
}

// Enqueue appends one event. Events are immutable once queued.
// Draining does not refuse enqueues: the final DO of the segment in
// flight still lands its terminal events. A stopped engine refuses.
func (p *PlayoutEngine) Enqueue(ev AudioEvent) bool {
	if p.stopped.Load() {
		return false
	}

	p.mu.Lock()
	p.queue = append(p.queue, ev)
	n := len(p.queue)
	p.mu.Unlock()
	p.cond.Broadcast()

	log.Printf("Playout: enqueued %s %s (queue %d)", ev.Type, ev.Path, n)
	return true
}

// QueueLen returns the number of queued (not yet started) events.
func (p *PlayoutEngine) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// SetDraining gates dequeueing: the current segment runs to
// completion, queued events still play, but once the queue is empty
// the engine flips the terminal-complete flag instead of waiting for
// more.
func (p *PlayoutEngine) SetDraining() {
	p.draining.Store(true)
	p.cond.Broadcast()
}

// TerminalPlayoutComplete is closed when the last segment of a drain
// has finished.
func (p *PlayoutEngine) TerminalPlayoutComplete() <-chan struct{} {
	return p.terminalDone
}

// Start launches the playback loop.
func (p *PlayoutEngine) Start() {
	go p.run()
}

// Stop halts the engine. The in-flight decode is aborted; no further
// segments start.
func (p *PlayoutEngine) Stop() {
	p.stopped.Store(true)
	p.cond.Broadcast()
	<-p.done
}

func (p *PlayoutEngine) run() {
	defer close(p.done)

	for {
		ev, ok := p.next()
		if !ok {
			if p.stopped.Load() {
				return
			}
			// Drained dry: the terminal segment has finished.
			p.signalTerminal()
			p.waitForStop()
			return
		}
		p.playSegment(ev)
	}
}

// next blocks until an event is available. ok is false when the
// engine is stopped or has drained dry.
func (p *PlayoutEngine) next() (AudioEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.queue) == 0 {
		if p.stopped.Load() || p.draining.Load() {
			return AudioEvent{}, false
		}
		p.cond.Wait()
	}
	if p.stopped.Load() {
		return AudioEvent{}, false
	}

	ev := p.queue[0]
	p.queue = p.queue[1:]
	return ev, true
}

func (p *PlayoutEngine) signalTerminal() {
	p.terminalOnce.Do(func() {
		log.Printf("Playout: terminal playout complete")
		close(p.terminalDone)
	})
}

func (p *PlayoutEngine) waitForStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.stopped.Load() {
		p.cond.Wait()
	}
}

// playSegment runs one segment end to end. Decoder failures end the
// segment cleanly; the engine survives to play the next one.
func (p *PlayoutEngine) playSegment(ev AudioEvent) {
	start := time.Now()

	for _, o := range p.observers {
		o.SegmentStarted(ev)
	}

	p.nowPlaying.Set(NowPlaying{
		SegmentType: ev.Type,
		StartedAt:   start,
		Path:        ev.Path,
		Metadata:    ev.Metadata,
	})
	if p.events != nil {
		if ev.Type == SegmentSong {
			p.events.SongPlaying(ev)
		} else {
			p.events.SegmentPlaying(ev)
		}
	}

	nominal, err := NominalDuration(ev.Path)
	if err != nil {
		log.Printf("Playout: cannot size %s: %v", ev.Path, err)
	}
	log.Printf("Playout: segment started: %s %s (%.1fs nominal)", ev.Type, ev.Path, nominal.Seconds())

	frames := 0
	lastBeat := start
	decodeErr := DecodeFile(p.decoderPath, ev.Path, func(frame []byte) error {
		if p.stopped.Load() {
			return errPlayoutStopped
		}
		p.sink.WriteFrame(frame)
		frames++
		lastBeat = p.heartbeat(ev, start, nominal, lastBeat)
		return nil
	})
	if decodeErr != nil && !errors.Is(decodeErr, errPlayoutStopped) {
		log.Printf("Playout: decode error on %s: %v", ev.Path, decodeErr)
	}

	// The decoder outruns real time; the wall clock, not the frame
	// count, decides when the segment is over.
	for !p.stopped.Load() {
		remaining := nominal - time.Since(start)
		if remaining <= 0 {
			break
		}
		if remaining > 250*time.Millisecond {
			remaining = 250 * time.Millisecond
		}
		time.Sleep(remaining)
		lastBeat = p.heartbeat(ev, start, nominal, lastBeat)
	}

	log.Printf("Playout: segment finished: %s %s (%d frames, %.1fs elapsed)",
		ev.Type, ev.Path, frames, time.Since(start).Seconds())

	// Cleared before any observer can start the next segment.
	p.nowPlaying.Clear()
	for _, o := range p.observers {
		o.SegmentFinished(ev)
	}
}

// heartbeat reports playback progress at one hertz: a debug log line
// plus a beat to every observer that cares.
func (p *PlayoutEngine) heartbeat(ev AudioEvent, start time.Time, nominal time.Duration, last time.Time) time.Time {
	now := time.Now()
	if now.Sub(last) < time.Second {
		return last
	}
	elapsed := now.Sub(start)
	for _, o := range p.observers {
		if po, ok := o.(SegmentProgressObserver); ok {
			po.SegmentProgress(ev, elapsed, nominal)
		}
	}
	debugf("Playout: progress %.1fs / %.1fs", elapsed.Seconds(), nominal.Seconds())
	return now
}
