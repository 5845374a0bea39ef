package main

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// streamClientQueueDepth bounds the per-client frame queue. A client
// that cannot drain ten frames is already in trouble.
const streamClientQueueDepth = 10

// StreamClient is one connected /stream listener. The handler
// goroutine owns the socket writes; the broadcast loop only touches
// the queue.
type StreamClient struct {
	id        string
	remote    string
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSend  atomic.Int64 // unix nanos of last successful write
	connected time.Time
}

func (c *StreamClient) drop() {
	c.closeOnce.Do(func() { close(c.done) })
}

// StreamServer fans MP3 frames out to every connected HTTP listener.
// No client's state may block broadcast to any other: the client
// table lock is held only across map access, never across a send.
type StreamServer struct {
	mu            sync.Mutex
	clients       map[string]*StreamClient
	clientTimeout time.Duration
	metrics       *TowerMetrics
	shuttingDown  atomic.Bool
}

func NewStreamServer(clientTimeout time.Duration, metrics *TowerMetrics) *StreamServer {
	return &StreamServer{
		clients:       make(map[string]*StreamClient),
		clientTimeout: clientTimeout,
		metrics:       metrics,
	}
}

// ClientCount returns the number of connected listeners.
func (s *StreamServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast queues one frame to every client. Queue-full and
// send-stalled clients are dropped; nobody is waited on.
func (s *StreamServer) Broadcast(frame []byte) {
	s.mu.Lock()
	snapshot := make([]*StreamClient, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	now := time.Now()
	for _, c := range snapshot {
		// Slow-consumer drop is based only on send-stall: queued
		// frames with no successful write inside the timeout.
		if len(c.queue) > 0 && now.Sub(time.Unix(0, c.lastSend.Load())) > s.clientTimeout {
			s.remove(c, "slow_consumer")
			continue
		}

		select {
		case c.queue <- frame:
		default:
			s.remove(c, "queue_full")
		}
	}
}

// Shutdown drops every client with reason "shutdown" and refuses new
// registrations.
func (s *StreamServer) Shutdown() {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	snapshot := make([]*StreamClient, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		s.remove(c, "shutdown")
	}
}

func (s *StreamServer) register(c *StreamClient) bool {
	if s.shuttingDown.Load() {
		return false
	}
	s.mu.Lock()
	s.clients[c.id] = c
	n := len(s.clients)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.streamClients.Set(float64(n))
	}
	log.Printf("Stream: client %s connected from %s (%d total)", c.id, c.remote, n)
	return true
}

func (s *StreamServer) remove(c *StreamClient, reason string) {
	s.mu.Lock()
	_, present := s.clients[c.id]
	delete(s.clients, c.id)
	n := len(s.clients)
	s.mu.Unlock()

	c.drop()
	if !present {
		return
	}
	if s.metrics != nil {
		s.metrics.streamClients.Set(float64(n))
		s.metrics.clientDrops.WithLabelValues(reason).Inc()
	}
	log.Printf("Stream: client %s dropped (%s) after %s (%d remain)",
		c.id, reason, time.Since(c.connected).Round(time.Second), n)
}

// ServeStream handles GET /stream: a continuous MP3 frame stream
// until the client disconnects or the server stops.
func (s *StreamServer) ServeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := &StreamClient{
		id:        uuid.NewString(),
		remote:    r.RemoteAddr,
		queue:     make(chan []byte, streamClientQueueDepth),
		done:      make(chan struct{}),
		connected: time.Now(),
	}
	client.lastSend.Store(time.Now().UnixNano())

	if !s.register(client) {
		return
	}
	defer s.remove(client, "disconnect")

	rc := http.NewResponseController(w)
	for {
		select {
		case frame := <-client.queue:
			rc.SetWriteDeadline(time.Now().Add(s.clientTimeout))
			if _, err := w.Write(frame); err != nil {
				s.remove(client, "write_error")
				return
			}
			flusher.Flush()
			client.lastSend.Store(time.Now().UnixNano())
		case <-client.done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// BroadcastLoop pulls one staged MP3 frame per tick from the encoder
// manager and hands it to the stream server. Absolute-time scheduled
// like the pump; it is the last loop to stop at shutdown.
type BroadcastLoop struct {
	em      *EncoderManager
	server  *StreamServer
	tick    time.Duration
	metrics *TowerMetrics

	stop chan struct{}
	done chan struct{}

	frames   atomic.Uint64
	fpsMilli atomic.Uint64 // frames per second * 1000, sampled once a second
}

func NewBroadcastLoop(em *EncoderManager, server *StreamServer, tick time.Duration, metrics *TowerMetrics) *BroadcastLoop {
	return &BroadcastLoop{
		em:      em,
		server:  server,
		tick:    tick,
		metrics: metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// FPS returns the broadcast frame rate over the last sample window.
func (b *BroadcastLoop) FPS() float64 {
	return float64(b.fpsMilli.Load()) / 1000
}

func (b *BroadcastLoop) Start() {
	go b.run()
}

func (b *BroadcastLoop) Stop() {
	close(b.stop)
	<-b.done
}

func (b *BroadcastLoop) run() {
	defer close(b.done)

	next := time.Now()
	windowStart := time.Now()
	windowFrames := uint64(0)

	for {
		select {
		case <-b.stop:
			return
		default:
		}

		if frame, ok := b.em.GetFrame(b.tick); ok {
			b.server.Broadcast(frame)
			b.frames.Add(1)
			windowFrames++
			if b.metrics != nil {
				b.metrics.framesBroadcast.Inc()
			}
		}

		if since := time.Since(windowStart); since >= time.Second {
			b.fpsMilli.Store(uint64(float64(windowFrames) / since.Seconds() * 1000))
			windowStart = time.Now()
			windowFrames = 0
		}

		next = next.Add(b.tick)
		wait := time.Until(next)
		if wait < 0 {
			next = time.Now()
			continue
		}

		select {
		case <-b.stop:
			return
		case <-time.After(wait):
		}
	}
}
