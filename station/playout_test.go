package main

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu       sync.Mutex
	started  []AudioEvent
	finished []AudioEvent
}

func (r *recordingObserver) SegmentStarted(ev AudioEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, ev)
}

func (r *recordingObserver) SegmentFinished(ev AudioEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, ev)
}

func (r *recordingObserver) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), len(r.finished)
}

func newTestPlayout(t *testing.T) (*PlayoutEngine, *recordingObserver) {
	t.Helper()
	sink := NewPCMSink("/nonexistent.sock")
	p := NewPlayoutEngine(sink, "lame", nil, &NowPlayingCell{})
	obs := &recordingObserver{}
	p.AddObserver(obs)
	return p, obs
}

func TestPlayoutDecoderErrorEndsSegmentCleanly(t *testing.T) {
	p, obs := newTestPlayout(t)

	// Files that do not exist: NominalDuration fails (zero duration)
	// and the decode errors. Both segments must still run their full
	// observer cycle.
	p.Enqueue(AudioEvent{Path: "/no/such/file_1.mp3", Type: SegmentSong})
	p.Enqueue(AudioEvent{Path: "/no/such/file_2.mp3", Type: SegmentSong})
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		s, f := obs.counts()
		return s == 2 && f == 2
	}, 5*time.Second, 20*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, "/no/such/file_1.mp3", obs.started[0].Path)
	assert.Equal(t, "/no/such/file_1.mp3", obs.finished[0].Path)
	assert.Equal(t, "/no/such/file_2.mp3", obs.started[1].Path)
}

func TestPlayoutObserverOrderWithinSegment(t *testing.T) {
	p, _ := newTestPlayout(t)

	var order []string
	var mu sync.Mutex
	p.AddObserver(&funcObserver{
		onStart:  func(ev AudioEvent) { mu.Lock(); order = append(order, "start"); mu.Unlock() },
		onFinish: func(ev AudioEvent) { mu.Lock(); order = append(order, "finish"); mu.Unlock() },
	})

	p.Enqueue(AudioEvent{Path: "/no/such/file.mp3", Type: SegmentSong})
	p.Start()
	defer p.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start", "finish"}, order)
}

type funcObserver struct {
	onStart  func(AudioEvent)
	onFinish func(AudioEvent)
}

func (f *funcObserver) SegmentStarted(ev AudioEvent)  { f.onStart(ev) }
func (f *funcObserver) SegmentFinished(ev AudioEvent) { f.onFinish(ev) }

func TestPlayoutNowPlayingClearedOnFinish(t *testing.T) {
	sink := NewPCMSink("/nonexistent.sock")
	cell := &NowPlayingCell{}
	p := NewPlayoutEngine(sink, "lame", nil, cell)

	finished := make(chan struct{})
	p.AddObserver(&funcObserver{
		onStart: func(ev AudioEvent) {},
		onFinish: func(ev AudioEvent) {
			_, ok := cell.Snapshot()
			assert.False(t, ok, "cleared before finish observers run")
			close(finished)
		},
	})

	p.Enqueue(AudioEvent{Path: "/no/such/file.mp3", Type: SegmentSong})
	p.Start()
	defer p.Stop()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("segment never finished")
	}
}

func TestPlayoutDrainingFlipsTerminalComplete(t *testing.T) {
	p, _ := newTestPlayout(t)
	p.Start()

	select {
	case <-p.TerminalPlayoutComplete():
		t.Fatal("terminal complete before draining")
	case <-time.After(50 * time.Millisecond):
	}

	p.SetDraining()
	select {
	case <-p.TerminalPlayoutComplete():
	case <-time.After(2 * time.Second):
		t.Fatal("terminal complete never flipped")
	}
	p.Stop()
}

func TestPlayoutDrainPlaysQueuedSegmentsFirst(t *testing.T) {
	p, obs := newTestPlayout(t)

	p.Enqueue(AudioEvent{Path: "/no/such/a.mp3", Type: SegmentSong})
	p.Enqueue(AudioEvent{Path: "/no/such/b.mp3", Type: SegmentAnnouncement})
	p.SetDraining()
	p.Start()

	select {
	case <-p.TerminalPlayoutComplete():
	case <-time.After(5 * time.Second):
		t.Fatal("drain never completed")
	}

	_, f := obs.counts()
	assert.Equal(t, 2, f, "queued segments played before terminal complete")
	p.Stop()
}

type progressObserver struct {
	onProgress func(AudioEvent, time.Duration, time.Duration)
}

func (o *progressObserver) SegmentStarted(AudioEvent)  {}
func (o *progressObserver) SegmentFinished(AudioEvent) {}
func (o *progressObserver) SegmentProgress(ev AudioEvent, elapsed, nominal time.Duration) {
	o.onProgress(ev, elapsed, nominal)
}

func TestPlayoutHeartbeatNotifiesProgressObservers(t *testing.T) {
	p, _ := newTestPlayout(t)

	var mu sync.Mutex
	var beats []time.Duration
	p.AddObserver(&progressObserver{
		onProgress: func(ev AudioEvent, elapsed, nominal time.Duration) {
			mu.Lock()
			beats = append(beats, elapsed)
			mu.Unlock()
		},
	})

	ev := AudioEvent{Path: "/media/regular/a.mp3", Type: SegmentSong}
	start := time.Now().Add(-90 * time.Second)
	nominal := 3 * time.Minute

	// A beat a second overdue fires and re-arms.
	next := p.heartbeat(ev, start, nominal, start)
	assert.True(t, next.After(start))

	// Within a second of the last beat nothing fires.
	assert.Equal(t, next, p.heartbeat(ev, start, nominal, next))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, beats, 1)
	assert.InDelta(t, 90.0, beats[0].Seconds(), 1.0)
}

func TestPlayoutEnqueueAfterStopRefused(t *testing.T) {
	p, _ := newTestPlayout(t)
	p.Start()
	p.Stop()

	assert.False(t, p.Enqueue(AudioEvent{Path: "/x.mp3", Type: SegmentSong}))
}
