package main

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkDeliversFrames(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pcm.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, PCMFrameSize)
		if _, err := io.ReadFull(conn, buf); err == nil {
			received <- buf
		}
	}()

	s := NewPCMSink(sock)
	s.Connect()
	defer s.Close()
	require.True(t, s.Connected())

	frame := make([]byte, PCMFrameSize)
	frame[0] = 0xAB
	s.WriteFrame(frame)

	select {
	case got := <-received:
		assert.Equal(t, byte(0xAB), got[0])
	case <-time.After(2 * time.Second):
		t.Fatal("frame never arrived")
	}
}

func TestSinkIgnoresWrongSizeFrames(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pcm.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	s := NewPCMSink(sock)
	s.Connect()
	defer s.Close()

	// Partial frames must never cross the bridge.
	s.WriteFrame(make([]byte, 100))
	s.WriteFrame(make([]byte, PCMFrameSize+1))
}

func TestSinkSurvivesAbsentTower(t *testing.T) {
	s := NewPCMSink(filepath.Join(t.TempDir(), "absent.sock"))
	s.Connect()
	assert.False(t, s.Connected())

	// Writes drop silently; playout must not notice.
	for i := 0; i < 5; i++ {
		s.WriteFrame(make([]byte, PCMFrameSize))
	}
	s.Close()
}

func TestSinkRedialsAfterTowerReturns(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pcm.sock")

	s := NewPCMSink(sock)
	s.Connect()
	require.False(t, s.Connected())

	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()

	// Redial happens lazily on write, spaced by the cooldown.
	require.Eventually(t, func() bool {
		s.WriteFrame(make([]byte, PCMFrameSize))
		return s.Connected()
	}, 5*time.Second, 100*time.Millisecond)
	s.Close()
}

func TestSinkCloseIsFinal(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pcm.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	s := NewPCMSink(sock)
	s.Connect()
	s.Close()
	assert.False(t, s.Connected())

	s.WriteFrame(make([]byte, PCMFrameSize))
	assert.False(t, s.Connected(), "no redial after Close")
}
