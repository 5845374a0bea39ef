package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRingFIFOOrder(t *testing.T) {
	r := NewFrameRing(4, 0, DropOldest)

	for i := 0; i < 3; i++ {
		require.True(t, r.Push([]byte{byte(i)}))
	}

	assert.Equal(t, 3, r.Len())
	for i := 0; i < 3; i++ {
		frame := r.Pop(0)
		require.NotNil(t, frame)
		assert.Equal(t, byte(i), frame[0])
	}
	assert.True(t, r.IsEmpty())
}

func TestFrameRingDropOldest(t *testing.T) {
	r := NewFrameRing(2, 0, DropOldest)

	r.Push([]byte{0})
	r.Push([]byte{1})
	require.True(t, r.Push([]byte{2}), "push against full ring still succeeds")

	assert.Equal(t, uint64(1), r.OverflowCount())
	assert.Equal(t, byte(1), r.Pop(0)[0], "oldest frame was discarded")
	assert.Equal(t, byte(2), r.Pop(0)[0])
}

func TestFrameRingDropNewest(t *testing.T) {
	r := NewFrameRing(2, 0, DropNewest)

	r.Push([]byte{0})
	r.Push([]byte{1})
	assert.False(t, r.Push([]byte{2}), "incoming frame is the one discarded")

	assert.Equal(t, uint64(1), r.OverflowCount())
	assert.Equal(t, byte(0), r.Pop(0)[0])
	assert.Equal(t, byte(1), r.Pop(0)[0])
}

func TestFrameRingSizeEnforcement(t *testing.T) {
	r := NewFrameRing(4, 8, DropOldest)

	assert.False(t, r.Push(make([]byte, 7)))
	assert.False(t, r.Push(make([]byte, 9)))
	assert.True(t, r.Push(make([]byte, 8)))
	assert.Equal(t, 1, r.Len())
}

func TestFrameRingPopTimeout(t *testing.T) {
	r := NewFrameRing(4, 0, DropOldest)

	assert.Nil(t, r.Pop(0), "non-positive timeout polls")

	start := time.Now()
	assert.Nil(t, r.Pop(50*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestFrameRingPopWakesOnPush(t *testing.T) {
	r := NewFrameRing(4, 0, DropOldest)

	go func() {
		time.Sleep(20 * time.Millisecond)
		r.Push([]byte{42})
	}()

	frame := r.Pop(time.Second)
	require.NotNil(t, frame)
	assert.Equal(t, byte(42), frame[0])
}

func TestFrameRingConcurrentProducers(t *testing.T) {
	r := NewFrameRing(1024, 0, DropOldest)

	const producers = 8
	const perProducer = 100

	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < perProducer; i++ {
				r.Push([]byte(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}

	seen := 0
	deadline := time.Now().Add(2 * time.Second)
	for seen < producers*perProducer && time.Now().Before(deadline) {
		if frame := r.Pop(100 * time.Millisecond); frame != nil {
			seen++
		}
	}
	assert.Equal(t, producers*perProducer, seen)
}

func TestFrameRingFullAndWrap(t *testing.T) {
	r := NewFrameRing(3, 0, DropOldest)

	for cycle := 0; cycle < 5; cycle++ {
		for i := 0; i < 3; i++ {
			r.Push([]byte{byte(cycle), byte(i)})
		}
		assert.True(t, r.IsFull())
		for i := 0; i < 3; i++ {
			frame := r.Pop(0)
			require.NotNil(t, frame)
			assert.Equal(t, byte(i), frame[1])
		}
	}
}
