package main

import "time"

// Canonical PCM bridge format. Every frame crossing to the tower is
// exactly this shape; partial frames never leave the station.
const (
	PCMSampleRate      = 48000
	PCMChannels        = 2
	PCMBytesPerSample  = 2
	PCMSamplesPerFrame = 1024
	PCMFrameSize       = PCMSamplesPerFrame * PCMChannels * PCMBytesPerSample
)

// PCMFrameDuration is 1024/48000 s, about 21.333 ms.
const PCMFrameDuration = time.Second * PCMSamplesPerFrame / PCMSampleRate

// SegmentType classifies one playout segment.
type SegmentType string

const (
	SegmentSong         SegmentType = "song"
	SegmentAnnouncement SegmentType = "announcement"
	SegmentIntro        SegmentType = "intro"
	SegmentOutro        SegmentType = "outro"
	SegmentTalk         SegmentType = "talk"
)

// AudioEvent is the plan for one segment. Immutable once queued.
// IntentID correlates the event with the intent that produced it and
// is empty for system-injected segments.
type AudioEvent struct {
	Path     string
	Type     SegmentType
	Gain     float64
	Metadata map[string]string
	IntentID string
}
