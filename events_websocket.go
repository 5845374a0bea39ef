package main

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Event stream is read-only broadcast data; any origin may
		// subscribe.
		return true
	},
}

// eventSubscriber is one /tower/events WebSocket connection. The
// writer goroutine owns all writes; the reader goroutine exists to
// service control frames (gorilla answers PING with PONG from within
// the read loop) and discards every data frame.
type eventSubscriber struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	lastSend  atomic.Int64
}

func (s *eventSubscriber) drop() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// EventHub broadcasts accepted station events to every WebSocket
// subscriber. Idle connections are kept forever; a subscriber is
// dropped only on send-stall, and no drop affects the others.
type EventHub struct {
	mu          sync.Mutex
	subscribers map[string]*eventSubscriber
	sendTimeout time.Duration
	metrics     *TowerMetrics
}

func NewEventHub(sendTimeout time.Duration, metrics *TowerMetrics) *EventHub {
	return &EventHub{
		subscribers: make(map[string]*eventSubscriber),
		sendTimeout: sendTimeout,
		metrics:     metrics,
	}
}

// SubscriberCount returns the number of live subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast queues the payload to every subscriber without blocking.
func (h *EventHub) Broadcast(payload []byte) {
	h.mu.Lock()
	snapshot := make([]*eventSubscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	now := time.Now()
	for _, s := range snapshot {
		select {
		case s.send <- payload:
		default:
			// Queue full: only a stalled writer warrants a drop.
			if now.Sub(time.Unix(0, s.lastSend.Load())) > h.sendTimeout {
				h.remove(s, "send_stall")
			}
		}
	}
}

// Shutdown closes every subscriber.
func (h *EventHub) Shutdown() {
	h.mu.Lock()
	snapshot := make([]*eventSubscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		snapshot = append(snapshot, s)
	}
	h.mu.Unlock()

	for _, s := range snapshot {
		h.remove(s, "shutdown")
	}
}

func (h *EventHub) remove(s *eventSubscriber, reason string) {
	h.mu.Lock()
	_, present := h.subscribers[s.id]
	delete(h.subscribers, s.id)
	n := len(h.subscribers)
	h.mu.Unlock()

	s.drop()
	if !present {
		return
	}
	if h.metrics != nil {
		h.metrics.wsSubscribers.Set(float64(n))
	}
	log.Printf("Events: subscriber %s dropped (%s), %d remain", s.id, reason, n)
}

// ServeWS handles the /tower/events upgrade.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Events: upgrade failed: %v", err)
		return
	}

	sub := &eventSubscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
	sub.lastSend.Store(time.Now().UnixNano())

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	n := len(h.subscribers)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.wsSubscribers.Set(float64(n))
	}
	log.Printf("Events: subscriber %s connected from %s (%d total)", sub.id, r.RemoteAddr, n)

	go h.writer(sub)
	h.reader(sub)
}

// reader services control frames and discards inbound data. No read
// deadline: subscribers may idle indefinitely.
func (h *EventHub) reader(s *eventSubscriber) {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			h.remove(s, "disconnect")
			return
		}
		// Inbound text/binary frames are ignored by contract.
	}
}

func (h *EventHub) writer(s *eventSubscriber) {
	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(h.sendTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(s, "write_error")
				return
			}
			s.lastSend.Store(time.Now().UnixNano())
		case <-s.done:
			return
		}
	}
}
