package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// PCMIngest accepts the station's byte stream on a local socket and
// re-frames it into canonical 4096-byte PCM frames. It never
// validates content: on this layer the contract guarantees size and
// nothing else. Bytes that cannot be grouped into a complete frame
// when a connection closes are discarded.
type PCMIngest struct {
	socketPath string
	em         *EncoderManager
	metrics    *TowerMetrics

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	done     chan struct{}
}

func NewPCMIngest(socketPath string, em *EncoderManager, metrics *TowerMetrics) *PCMIngest {
	return &PCMIngest{
		socketPath: socketPath,
		em:         em,
		metrics:    metrics,
		done:       make(chan struct{}),
	}
}

// Start binds the socket and begins accepting. The socket is made
// group-accessible so the station process can connect across users.
func (pi *PCMIngest) Start() error {
	// A stale socket from a previous run would block the bind.
	if err := os.Remove(pi.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", pi.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", pi.socketPath, err)
	}

	if err := unix.Chmod(pi.socketPath, 0o660); err != nil {
		log.Printf("Ingest: warning: chmod %s: %v", pi.socketPath, err)
	}

	pi.mu.Lock()
	pi.listener = ln
	pi.mu.Unlock()

	log.Printf("Ingest: listening on %s", pi.socketPath)
	go pi.acceptLoop(ln)
	return nil
}

// Stop closes the listener; an in-flight connection finishes its
// current read and exits.
func (pi *PCMIngest) Stop() {
	pi.mu.Lock()
	pi.stopped = true
	ln := pi.listener
	pi.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	<-pi.done
	os.Remove(pi.socketPath)
}

func (pi *PCMIngest) acceptLoop(ln net.Listener) {
	defer close(pi.done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			pi.mu.Lock()
			stopped := pi.stopped
			pi.mu.Unlock()
			if stopped {
				return
			}
			log.Printf("Ingest: accept: %v", err)
			continue
		}

		// The station reconnects after restarts; each connection gets
		// a fresh accumulator so no partial frame survives a drop.
		go pi.handleConn(conn)
	}
}

func (pi *PCMIngest) handleConn(conn net.Conn) {
	defer conn.Close()
	log.Printf("Ingest: station connected")

	acc := make([]byte, 0, 8*PCMFrameSize)
	buf := make([]byte, 8*PCMFrameSize)
	frames := 0

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			acc = append(acc, buf[:n]...)
			for len(acc) >= PCMFrameSize {
				frame := make([]byte, PCMFrameSize)
				copy(frame, acc[:PCMFrameSize])
				acc = acc[PCMFrameSize:]
				pi.em.WritePCM(frame)
				frames++
				if pi.metrics != nil {
					pi.metrics.pcmFramesIngested.Inc()
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("Ingest: read: %v", err)
			}
			// Remainder < one frame is dropped by contract.
			log.Printf("Ingest: station disconnected (%d frames, %d bytes discarded)", frames, len(acc))
			return
		}
	}
}
