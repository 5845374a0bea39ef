package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowPlayingSetSnapshotClear(t *testing.T) {
	var cell NowPlayingCell

	_, ok := cell.Snapshot()
	assert.False(t, ok)

	started := time.Now()
	cell.Set(NowPlaying{
		SegmentType: SegmentSong,
		StartedAt:   started,
		Path:        "/media/regular/song.mp3",
		Metadata:    map[string]string{"title": "Song"},
	})

	np, ok := cell.Snapshot()
	require.True(t, ok)
	assert.Equal(t, SegmentSong, np.SegmentType)
	assert.Equal(t, started, np.StartedAt)
	assert.Equal(t, "Song", np.Metadata["title"])

	cell.Clear()
	_, ok = cell.Snapshot()
	assert.False(t, ok)
}

func TestNowPlayingSnapshotIsIsolated(t *testing.T) {
	var cell NowPlayingCell
	meta := map[string]string{"title": "Original"}
	cell.Set(NowPlaying{SegmentType: SegmentSong, Path: "/a.mp3", Metadata: meta})

	// Mutating the caller's map after Set must not leak in.
	meta["title"] = "Mutated"
	np, ok := cell.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "Original", np.Metadata["title"])

	// Mutating a snapshot must not leak back.
	np.Metadata["title"] = "Tampered"
	np2, _ := cell.Snapshot()
	assert.Equal(t, "Original", np2.Metadata["title"])
}
