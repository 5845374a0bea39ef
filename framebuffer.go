package main

import (
	"sync"
	"time"
)

// OverflowPolicy selects which frame is discarded when a full ring
// receives a push.
type OverflowPolicy int

const (
	// DropOldest discards the oldest buffered frame to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming frame.
	DropNewest
)

func (p OverflowPolicy) String() string {
	if p == DropNewest {
		return "drop-newest"
	}
	return "drop-oldest"
}

// FrameRing is a bounded thread-safe FIFO of opaque byte frames.
// Producers never block: a push against a full ring applies the
// overflow policy and returns immediately. Consumers poll or wait
// with a finite timeout.
type FrameRing struct {
	mu        sync.Mutex
	cond      *sync.Cond
	frames    [][]byte
	head      int
	count     int
	capacity  int
	frameSize int // 0 accepts any size
	policy    OverflowPolicy
	overflow  uint64
}

// NewFrameRing creates a ring holding up to capacity frames.
// If frameSize is non-zero, pushes of any other size are rejected.
func NewFrameRing(capacity, frameSize int, policy OverflowPolicy) *FrameRing {
	if capacity < 1 {
		capacity = 1
	}
	r := &FrameRing{
		frames:    make([][]byte, capacity),
		capacity:  capacity,
		frameSize: frameSize,
		policy:    policy,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push appends a frame without blocking. Returns false if the frame
// was rejected (size mismatch) or discarded by the drop-newest policy.
func (r *FrameRing) Push(frame []byte) bool {
	if r.frameSize != 0 && len(frame) != r.frameSize {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == r.capacity {
		r.overflow++
		if r.policy == DropNewest {
			return false
		}
		// Drop oldest: advance head, reuse the slot.
		r.head = (r.head + 1) % r.capacity
		r.count--
	}

	r.frames[(r.head+r.count)%r.capacity] = frame
	r.count++
	r.cond.Broadcast()
	return true
}

// Pop removes and returns the oldest frame. With timeout <= 0 it
// returns nil immediately when the ring is empty; otherwise it waits
// up to timeout for a push. Waiting forever is deliberately not
// offered.
func (r *FrameRing) Pop(timeout time.Duration) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		if timeout <= 0 {
			return nil
		}
		deadline := time.Now().Add(timeout)
		for r.count == 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil
			}
			// Wake ourselves when the deadline passes; pushes
			// broadcast to every waiter and spurious wakeups are
			// handled by the loop condition.
			t := time.AfterFunc(remaining, r.cond.Broadcast)
			r.cond.Wait()
			t.Stop()
		}
	}

	frame := r.frames[r.head]
	r.frames[r.head] = nil
	r.head = (r.head + 1) % r.capacity
	r.count--
	return frame
}

// Len returns the number of buffered frames.
func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Capacity returns the maximum number of frames the ring holds.
func (r *FrameRing) Capacity() int {
	return r.capacity
}

// OverflowCount returns how many frames the overflow policy has
// discarded since creation.
func (r *FrameRing) OverflowCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overflow
}

// IsEmpty reports whether the ring holds no frames.
func (r *FrameRing) IsEmpty() bool {
	return r.Len() == 0
}

// IsFull reports whether the ring is at capacity.
func (r *FrameRing) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == r.capacity
}
