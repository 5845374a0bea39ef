package main

import (
	"log"
	"time"
)

// AudioPump is the system's sole metronome. It ticks at the canonical
// PCM frame duration on an absolute schedule and calls the encoder
// manager once per tick. It never reads buffers, never routes and
// never talks to the supervisor.
type AudioPump struct {
	em   *EncoderManager
	stop chan struct{}
	done chan struct{}
}

func NewAudioPump(em *EncoderManager) *AudioPump {
	return &AudioPump{
		em:   em,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the tick loop.
func (p *AudioPump) Start() {
	go p.run()
}

// Stop halts the loop after the in-flight tick.
func (p *AudioPump) Stop() {
	close(p.stop)
	<-p.done
}

func (p *AudioPump) run() {
	defer close(p.done)

	next := time.Now()
	behind := false

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		p.em.NextFrame()

		next = next.Add(PCMFrameDuration)
		wait := time.Until(next)
		if wait < 0 {
			// Behind schedule: resync to now rather than emitting a
			// burst of catch-up frames.
			if !behind {
				log.Printf("Pump: behind schedule by %s, resyncing", (-wait).Round(time.Millisecond))
				behind = true
			}
			next = time.Now()
			continue
		}
		behind = false

		select {
		case <-p.stop:
			return
		case <-time.After(wait):
		}
	}
}
