package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedEvent struct {
	EventType string                 `json:"event_type"`
	Timestamp float64                `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func newCapturingTower(t *testing.T) (*httptest.Server, func() []capturedEvent) {
	t.Helper()
	var mu sync.Mutex
	var events []capturedEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var ev capturedEvent
		if err := json.Unmarshal(body, &ev); err == nil {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedEvent(nil), events...)
	}
}

func TestEventClientLifecycleAtMostOnce(t *testing.T) {
	srv, captured := newCapturingTower(t)
	ec := NewEventClient(srv.URL)

	ec.StationStartup()
	ec.StationStartup()
	ec.StationShutdown()
	ec.StationShutdown()

	events := captured()
	require.Len(t, events, 2)
	assert.Equal(t, "station_startup", events[0].EventType)
	assert.Equal(t, "station_shutdown", events[1].EventType)
	assert.Greater(t, events[0].Timestamp, 0.0)
}

func TestEventClientSongPlayingMetadata(t *testing.T) {
	srv, captured := newCapturingTower(t)
	ec := NewEventClient(srv.URL)

	ec.SongPlaying(AudioEvent{
		Path:     "/media/regular/neon_rain.mp3",
		Type:     SegmentSong,
		Metadata: map[string]string{"title": "Neon Rain"},
		IntentID: "intent-1",
	})

	events := captured()
	require.Len(t, events, 1)
	assert.Equal(t, "song_playing", events[0].EventType)
	assert.Equal(t, "song", events[0].Metadata["segment_type"])
	assert.Equal(t, "Neon Rain", events[0].Metadata["title"])
	assert.Equal(t, "intent-1", events[0].Metadata["intent_id"])
}

func TestEventClientSegmentPlaying(t *testing.T) {
	srv, captured := newCapturingTower(t)
	ec := NewEventClient(srv.URL)

	ec.SegmentPlaying(AudioEvent{Path: "/a.mp3", Type: SegmentAnnouncement})

	events := captured()
	require.Len(t, events, 1)
	assert.Equal(t, "segment_playing", events[0].EventType)
	assert.Equal(t, "announcement", events[0].Metadata["segment_type"])
}

func TestEventClientAbsentTowerDoesNotBlock(t *testing.T) {
	ec := NewEventClient("http://127.0.0.1:1")

	start := time.Now()
	ec.SongPlaying(AudioEvent{Path: "/a.mp3", Type: SegmentSong})
	assert.Less(t, time.Since(start), time.Second, "failure is local and fast")
}

func TestEventClientSlowTowerHitsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ec := NewEventClient(srv.URL)
	start := time.Now()
	ec.SegmentPlaying(AudioEvent{Path: "/a.mp3", Type: SegmentTalk})
	assert.Less(t, time.Since(start), 400*time.Millisecond, "100 ms client budget cuts the call")
}
