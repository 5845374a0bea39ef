package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLifecycle(t *testing.T) (*Lifecycle, func() []capturedEvent) {
	t.Helper()
	srv, captured := newCapturingTower(t)

	cfg := defaultConfig()
	cfg.Media.Path = makeTestLibrary(t)
	cfg.State.Path = filepath.Join(t.TempDir(), "state.json")
	cfg.Bridge.SocketPath = filepath.Join(t.TempDir(), "absent.sock")
	cfg.Tower.EventsURL = srv.URL
	cfg.DJ.ShutdownTimeoutSec = 10

	return NewLifecycle(cfg), captured
}

func TestLifecycleStartupAndShutdown(t *testing.T) {
	lc, captured := newTestLifecycle(t)

	require.NoError(t, lc.Start())
	assert.Equal(t, Running, lc.State())
	assert.NotEqual(t, Bootstrap, lc.StartupState(), "boot sequence underway")

	// The fake library's files cannot decode, so segments complete
	// quickly; the machinery still has to run its full course.
	time.Sleep(200 * time.Millisecond)
	lc.Shutdown()
	assert.Equal(t, ShuttingDown, lc.State())

	var startups, shutdowns int
	for _, ev := range captured() {
		switch ev.EventType {
		case "station_startup":
			startups++
		case "station_shutdown":
			shutdowns++
		}
	}
	assert.Equal(t, 1, startups, "station_startup exactly once")
	assert.Equal(t, 1, shutdowns, "station_shutdown exactly once")
}

func TestLifecycleStartupStateWalk(t *testing.T) {
	lc := NewLifecycle(defaultConfig())
	require.Equal(t, Bootstrap, lc.StartupState())

	// Startup announcement enqueued; the machine advances one state
	// per observed segment event, and each state holds long enough to
	// be observed.
	lc.startupState.Store(int32(StartupAnnouncementPlaying))
	ann := AudioEvent{Path: "/media/announcements/startup.mp3", Type: SegmentAnnouncement}

	lc.SegmentStarted(ann)
	assert.Equal(t, StartupThinkComplete, lc.StartupState())

	lc.SegmentFinished(ann)
	assert.Equal(t, StartupDoEnqueue, lc.StartupState())

	lc.SegmentStarted(AudioEvent{Path: "/media/regular/a.mp3", Type: SegmentSong})
	assert.Equal(t, NormalOperation, lc.StartupState())
}

func TestLifecycleShutdownIsIdempotent(t *testing.T) {
	lc, captured := newTestLifecycle(t)
	require.NoError(t, lc.Start())

	lc.Shutdown()
	lc.Shutdown()

	shutdowns := 0
	for _, ev := range captured() {
		if ev.EventType == "station_shutdown" {
			shutdowns++
		}
	}
	assert.Equal(t, 1, shutdowns)
}

func TestLifecyclePersistsStateOnShutdown(t *testing.T) {
	lc, _ := newTestLifecycle(t)
	require.NoError(t, lc.Start())
	time.Sleep(100 * time.Millisecond)
	lc.Shutdown()

	state, err := LoadState(lc.cfg.State.Path)
	require.NoError(t, err)

	var rot RotationState
	ok, err := state.Get("rotation", &rot)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, rot.History, "played tracks recorded")

	var dj DJState
	ok, err = state.Get("dj", &dj)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLifecycleWarmStartRestoresHistory(t *testing.T) {
	lc, _ := newTestLifecycle(t)
	require.NoError(t, lc.Start())
	time.Sleep(100 * time.Millisecond)
	lc.Shutdown()

	lc2 := NewLifecycle(lc.cfg)
	require.NoError(t, lc2.Start())
	defer lc2.Shutdown()

	assert.NotEmpty(t, lc2.rotation.State().History, "history survives restart")
}
