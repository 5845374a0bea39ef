package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// drainPollInterval bounds how long a read blocks before the drain
// re-checks the stall clock.
const drainPollInterval = 100 * time.Millisecond

// encoderDrain reads the encoder stdout, feeds the packetizer and
// pushes complete MP3 frames into the output ring. It never
// interprets or reorders frames. One drain exists per encoder
// incarnation and exits when the pipe closes or stalls.
type encoderDrain struct {
	stdout     io.ReadCloser
	mp3Out     *FrameRing
	sup        *EncoderSupervisor
	stall      chan string
	stallAfter time.Duration

	packetizer *MP3Packetizer
	lastData   atomic.Int64 // unix nanos of last stdout bytes
}

func newEncoderDrain(stdout io.ReadCloser, mp3Out *FrameRing, sup *EncoderSupervisor, stall chan string, stallAfter time.Duration) *encoderDrain {
	d := &encoderDrain{
		stdout:     stdout,
		mp3Out:     mp3Out,
		sup:        sup,
		stall:      stall,
		stallAfter: stallAfter,
		packetizer: NewMP3Packetizer(),
	}
	d.lastData.Store(time.Now().UnixNano())
	return d
}

func (d *encoderDrain) run() {
	// The pipe read itself blocks, so the stall clock is checked by a
	// sibling goroutine at the poll interval. readDone stops it.
	readDone := make(chan struct{})
	defer close(readDone)

	go func() {
		ticker := time.NewTicker(drainPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readDone:
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, d.lastData.Load()))
				if idle > d.stallAfter {
					d.sup.notify(d.stall, fmt.Sprintf("no encoder output for %s", idle.Round(time.Millisecond)))
					d.stdout.Close() // unblock the reader
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := d.stdout.Read(buf)
		if n > 0 {
			d.lastData.Store(time.Now().UnixNano())
			frames := d.packetizer.Feed(buf[:n])
			for _, frame := range frames {
				d.sup.markRunning()
				d.mp3Out.Push(frame)
			}
		}
		if err != nil {
			if err != io.EOF {
				d.sup.notify(d.stall, fmt.Sprintf("encoder stdout read: %v", err))
			} else {
				d.sup.notify(d.stall, "encoder stdout closed")
			}
			return
		}
	}
}
