package main

import (
	"sync"
	"time"
)

// NowPlaying is an immutable snapshot of what is audibly playing.
// Only authoritative fields: consumers derive elapsed/remaining from
// StartedAt and their own clock.
type NowPlaying struct {
	SegmentType SegmentType
	StartedAt   time.Time
	Path        string
	Metadata    map[string]string
}

// NowPlayingCell is the write-once/clear-once holder. The playout
// engine sets it on segment start and clears it on segment finish;
// everyone else only reads snapshots.
type NowPlayingCell struct {
	mu  sync.Mutex
	cur *NowPlaying
}

// Set installs the snapshot for a new segment. Replaces by value; the
// installed snapshot is never mutated in place.
func (c *NowPlayingCell) Set(np NowPlaying) {
	meta := make(map[string]string, len(np.Metadata))
	for k, v := range np.Metadata {
		meta[k] = v
	}
	np.Metadata = meta

	c.mu.Lock()
	c.cur = &np
	c.mu.Unlock()
}

// Clear removes the snapshot at segment end.
func (c *NowPlayingCell) Clear() {
	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
}

// Snapshot returns a copy of the current state. ok is false between
// segments.
func (c *NowPlayingCell) Snapshot() (NowPlaying, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return NowPlaying{}, false
	}

	np := *c.cur
	meta := make(map[string]string, len(np.Metadata))
	for k, v := range np.Metadata {
		meta[k] = v
	}
	np.Metadata = meta
	return np, true
}
