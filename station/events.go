package main

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// EventClient posts station events to the tower's ingest endpoint.
// Fire-and-forget with a hard 100 ms budget: a slow or absent tower
// must never hold up playout, and failures are logged, not returned.
type EventClient struct {
	ingestURL string
	client    *http.Client

	startupSent  atomic.Bool
	shutdownSent atomic.Bool
}

func NewEventClient(towerBaseURL string) *EventClient {
	return &EventClient{
		ingestURL: towerBaseURL + "/tower/events/ingest",
		client:    &http.Client{Timeout: 100 * time.Millisecond},
	}
}

// StationStartup emits the startup lifecycle event, at most once per
// process run.
func (ec *EventClient) StationStartup() {
	if ec.startupSent.Swap(true) {
		return
	}
	ec.send("station_startup", nil)
}

// StationShutdown emits the shutdown lifecycle event, at most once
// per process run.
func (ec *EventClient) StationShutdown() {
	if ec.shutdownSent.Swap(true) {
		return
	}
	ec.send("station_shutdown", nil)
}

// SongPlaying announces a song segment with its display metadata.
func (ec *EventClient) SongPlaying(ev AudioEvent) {
	ec.send("song_playing", segmentMetadata(ev))
}

// SegmentPlaying announces a non-song segment (announcement, intro,
// outro, talk).
func (ec *EventClient) SegmentPlaying(ev AudioEvent) {
	ec.send("segment_playing", segmentMetadata(ev))
}

func segmentMetadata(ev AudioEvent) map[string]interface{} {
	meta := map[string]interface{}{
		"segment_type": string(ev.Type),
		"path":         ev.Path,
	}
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	if ev.IntentID != "" {
		meta["intent_id"] = ev.IntentID
	}
	return meta
}

func (ec *EventClient) send(eventType string, metadata map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"event_type": eventType,
		"timestamp":  float64(time.Now().UnixNano()) / 1e9,
		"metadata":   metadata,
	})
	if err != nil {
		log.Printf("Events: encode %s: %v", eventType, err)
		return
	}

	resp, err := ec.client.Post(ec.ingestURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("Events: %s not delivered: %v", eventType, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("Events: %s refused by tower: %s", eventType, resp.Status)
	}
}
