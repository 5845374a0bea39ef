package main

import (
	"log"
	"net"
	"sync"
	"time"
)

const (
	// sinkWriteBudget bounds one frame write. The tower drains its
	// socket continuously; a write that cannot finish inside the
	// budget means the bridge is wedged and the frame is dropped.
	sinkWriteBudget = 50 * time.Millisecond

	// sinkRedialCooldown spaces reconnect attempts while the tower is
	// away.
	sinkRedialCooldown = time.Second
)

// PCMSink is the station end of the PCM bridge. It dials the tower's
// ingest socket, writes canonical frames, and treats every failure
// the same way: drop the frame, retry the connection later. The sink
// never blocks playout on the tower's health.
type PCMSink struct {
	socketPath string

	mu         sync.Mutex
	conn       net.Conn
	closed     bool
	lastDial   time.Time
	dropLogged bool
}

func NewPCMSink(socketPath string) *PCMSink {
	return &PCMSink{socketPath: socketPath}
}

// Connect performs the initial dial. Failure is not fatal: the tower
// may come up later and WriteFrame redials on its own.
func (s *PCMSink) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialLocked()
}

func (s *PCMSink) dialLocked() {
	if s.closed || time.Since(s.lastDial) < sinkRedialCooldown {
		return
	}
	s.lastDial = time.Now()

	conn, err := net.DialTimeout("unix", s.socketPath, sinkWriteBudget)
	if err != nil {
		if !s.dropLogged {
			log.Printf("Sink: tower not reachable at %s: %v", s.socketPath, err)
			s.dropLogged = true
		}
		return
	}
	s.conn = conn
	s.dropLogged = false
	log.Printf("Sink: connected to %s", s.socketPath)
}

// WriteFrame sends one canonical PCM frame. Frames are dropped, never
// queued, when the bridge is down or stalled; the tower substitutes
// fallback on its side.
func (s *PCMSink) WriteFrame(frame []byte) {
	if len(frame) != PCMFrameSize {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.conn == nil {
		s.dialLocked()
		if s.conn == nil {
			return
		}
	}

	s.conn.SetWriteDeadline(time.Now().Add(sinkWriteBudget))
	if _, err := s.conn.Write(frame); err != nil {
		log.Printf("Sink: write failed, dropping connection: %v", err)
		s.conn.Close()
		s.conn = nil
	}
}

// Connected reports whether the bridge is currently up.
func (s *PCMSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Close shuts the bridge down permanently.
func (s *PCMSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
