package main

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDJ(t *testing.T) (*DJEngine, *PlayoutEngine, *Library) {
	t.Helper()
	lib, err := LoadLibrary(makeTestLibrary(t))
	require.NoError(t, err)

	rotation := NewRotationSelector(lib.Regular, lib.Holiday, rand.New(rand.NewSource(1)))
	sink := NewPCMSink("/nonexistent.sock")
	playout := NewPlayoutEngine(sink, "lame", nil, &NowPlayingCell{})
	dj := NewDJEngine(rotation, lib, playout, time.Hour)
	return dj, playout, lib
}

func TestDJThinkThenDoEnqueuesSong(t *testing.T) {
	dj, playout, _ := newTestDJ(t)
	dj.lastLegalID = time.Now() // legal ID not yet due

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	assert.NotEmpty(t, dj.pendingIntent.ID)
	assert.Equal(t, dj.pendingIntent.ID, dj.pendingIntent.NextSong.IntentID)

	dj.SegmentFinished(current)
	assert.Nil(t, dj.pendingIntent, "intent consumed by DO")
	assert.GreaterOrEqual(t, playout.QueueLen(), 1)
}

func TestDJLegalIDWhenDue(t *testing.T) {
	dj, playout, _ := newTestDJ(t)
	dj.lastLegalID = time.Now().Add(-2 * time.Hour)

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	assert.True(t, dj.pendingIntent.LegalID)
	require.NotNil(t, dj.pendingIntent.Announcement)
	assert.Equal(t, SegmentAnnouncement, dj.pendingIntent.Announcement.Type)

	before := dj.lastLegalID
	dj.SegmentFinished(current)
	assert.True(t, dj.lastLegalID.After(before), "legal ID timestamp advanced in DO")
	assert.GreaterOrEqual(t, playout.QueueLen(), 2, "announcement plus song")
}

func TestDJLegalIDNotRepeated(t *testing.T) {
	dj, _, _ := newTestDJ(t)
	dj.lastLegalID = time.Now().Add(-2 * time.Hour)

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	dj.SegmentFinished(current)

	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	assert.False(t, dj.pendingIntent.LegalID, "cooldown suppresses the next one")
}

func TestDJTicklerAnnouncement(t *testing.T) {
	dj, _, _ := newTestDJ(t)
	dj.lastLegalID = time.Now()

	dj.ScheduleAnnouncement("/media/announcements/contest.mp3", time.Now().Add(-time.Minute))
	dj.ScheduleAnnouncement("/media/announcements/later.mp3", time.Now().Add(time.Hour))

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	require.NotNil(t, dj.pendingIntent.Announcement)
	assert.Equal(t, "/media/announcements/contest.mp3", dj.pendingIntent.Announcement.Path)
	assert.False(t, dj.pendingIntent.LegalID)

	assert.Len(t, dj.State().Tickler, 1, "due entry consumed, future entry kept")
}

func TestDJTerminalThinkSelectsShutdownAnnouncement(t *testing.T) {
	dj, playout, lib := newTestDJ(t)
	dj.SetDraining()

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	assert.True(t, dj.pendingIntent.Terminal)
	assert.Nil(t, dj.pendingIntent.NextSong)
	assert.Equal(t, lib.ShutdownAnnouncement(), dj.pendingIntent.Announcement.Path)

	dj.SegmentFinished(current)
	assert.Equal(t, 1, playout.QueueLen(), "only the terminal announcement")

	// The terminal intent is produced at most once.
	dj.SegmentStarted(AudioEvent{Path: lib.ShutdownAnnouncement(), Type: SegmentAnnouncement})
	assert.Nil(t, dj.pendingIntent)
	dj.SegmentFinished(AudioEvent{Path: lib.ShutdownAnnouncement(), Type: SegmentAnnouncement})
	assert.Equal(t, 1, playout.QueueLen(), "nothing further enqueued while draining")
}

func TestDJDrainDiscardsStaleIntent(t *testing.T) {
	dj, playout, lib := newTestDJ(t)
	dj.lastLegalID = time.Now()

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	require.False(t, dj.pendingIntent.Terminal)

	// Shutdown lands while the song is still playing: the full song
	// block THINK planned must not air, only the terminal segment.
	dj.SetDraining()
	dj.SegmentFinished(current)

	require.Equal(t, 1, playout.QueueLen(), "terminal segment only")
	assert.Equal(t, lib.ShutdownAnnouncement(), playout.queue[0].Path)
	assert.Equal(t, SegmentAnnouncement, playout.queue[0].Type)
}

func TestDJTicklerDoesNotResetLegalIDClock(t *testing.T) {
	// A library with songs but no legal ID assets.
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "regular"), 0o755))
	for _, name := range []string{"a.mp3", "b.mp3"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "regular", name), []byte("mp3"), 0o644))
	}
	lib, err := LoadLibrary(root)
	require.NoError(t, err)

	rotation := NewRotationSelector(lib.Regular, lib.Holiday, rand.New(rand.NewSource(1)))
	playout := NewPlayoutEngine(NewPCMSink("/nonexistent.sock"), "lame", nil, &NowPlayingCell{})
	dj := NewDJEngine(rotation, lib, playout, time.Hour)

	overdue := time.Now().Add(-2 * time.Hour)
	dj.lastLegalID = overdue
	dj.ScheduleAnnouncement("/media/announcements/contest.mp3", time.Now().Add(-time.Minute))

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	require.NotNil(t, dj.pendingIntent)
	require.NotNil(t, dj.pendingIntent.Announcement, "tickler picked despite the due ID")
	assert.False(t, dj.pendingIntent.LegalID)

	dj.SegmentFinished(current)
	assert.Equal(t, overdue, dj.lastLegalID, "clock advances only when an ID airs")
}

func TestDJDisabledDoesNothing(t *testing.T) {
	dj, playout, _ := newTestDJ(t)
	dj.Disable()

	current := AudioEvent{Path: "/playing.mp3", Type: SegmentSong}
	dj.SegmentStarted(current)
	assert.Nil(t, dj.pendingIntent)
	dj.SegmentFinished(current)
	assert.Zero(t, playout.QueueLen())
}

func TestDJFallbackSongWithoutIntent(t *testing.T) {
	dj, playout, _ := newTestDJ(t)

	// DO with no preceding THINK degrades to a plain rotation pick.
	dj.SegmentFinished(AudioEvent{Path: "/playing.mp3", Type: SegmentSong})
	assert.Equal(t, 1, playout.QueueLen())
}

func TestDJStateRoundTrip(t *testing.T) {
	dj, _, _ := newTestDJ(t)
	stamp := time.Now().UTC().Truncate(time.Second)
	dj.lastLegalID = stamp
	dj.ScheduleAnnouncement("/a.mp3", stamp.Add(time.Hour))

	saved := dj.State()

	dj2, _, _ := newTestDJ(t)
	dj2.Restore(saved)
	assert.Equal(t, saved, dj2.State())
}
