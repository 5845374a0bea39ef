package main

import (
	"encoding/json"
	"log"
	"net/http"
)

// StationEvent is the wire shape of one station lifecycle or metadata
// event. Metadata is opaque to the tower and forwarded verbatim.
type StationEvent struct {
	EventType string                 `json:"event_type"`
	Timestamp float64                `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// allowedEventTypes is the ingest allow-list. Anything else,
// including the deprecated pre-rework names, is refused at the
// boundary with a 400.
var allowedEventTypes = map[string]bool{
	"station_startup":  true,
	"station_shutdown": true,
	"song_playing":     true,
	"segment_playing":  true,
}

// deprecatedEventTypes are recognized but refused; logging them
// separately makes a misbehaving station obvious in the tower log.
var deprecatedEventTypes = map[string]bool{
	"now_playing":          true,
	"station_starting_up":  true,
	"station_shutting_down": true,
	"dj_talking":           true,
}

// EventIngest handles POST /tower/events/ingest: validate, account,
// fan out to WebSocket subscribers and the optional MQTT republisher,
// and flip the encoder manager's shutdown suppression flag.
type EventIngest struct {
	hub     *EventHub
	em      *EncoderManager
	mqtt    *MQTTPublisher
	metrics *TowerMetrics
}

func NewEventIngest(hub *EventHub, em *EncoderManager, mqtt *MQTTPublisher, metrics *TowerMetrics) *EventIngest {
	return &EventIngest{hub: hub, em: em, mqtt: mqtt, metrics: metrics}
}

func (ei *EventIngest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev StationEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&ev); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if !allowedEventTypes[ev.EventType] {
		if ei.metrics != nil {
			ei.metrics.eventsRejected.Inc()
		}
		if deprecatedEventTypes[ev.EventType] {
			log.Printf("Events: rejected deprecated event_type %q", ev.EventType)
		} else {
			log.Printf("Events: rejected unknown event_type %q", ev.EventType)
		}
		http.Error(w, "unsupported event_type", http.StatusBadRequest)
		return
	}

	switch ev.EventType {
	case "station_shutdown":
		ei.em.SetStationShutdown(true)
	case "station_startup":
		ei.em.SetStationShutdown(false)
	}

	if ei.metrics != nil {
		ei.metrics.eventsAccepted.WithLabelValues(ev.EventType).Inc()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}

	ei.hub.Broadcast(payload)
	if ei.mqtt != nil {
		ei.mqtt.PublishEvent(ev.EventType, payload)
	}

	w.WriteHeader(http.StatusNoContent)
}
