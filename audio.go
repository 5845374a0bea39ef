package main

import "time"

// Canonical PCM bridge format. Every frame crossing the Station to
// Tower bridge is exactly PCMFrameSize bytes: 1024 samples, stereo,
// 16-bit signed little-endian at 48 kHz.
const (
	PCMSampleRate      = 48000
	PCMChannels        = 2
	PCMBytesPerSample  = 2
	PCMSamplesPerFrame = 1024

	// PCMFrameSize = 1024 * 2 * 2 = 4096 bytes.
	PCMFrameSize = PCMSamplesPerFrame * PCMChannels * PCMBytesPerSample

	// PCMFrameDuration is the wall-clock length of one canonical
	// frame: 1024/48000 s, about 21.333 ms. This is the metronome
	// period on the PCM side; the MP3 broadcast tick is configured
	// independently.
	PCMFrameDuration = time.Second * PCMSamplesPerFrame / PCMSampleRate
)
