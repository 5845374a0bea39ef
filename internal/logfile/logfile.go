// Package logfile provides an append-only log destination that
// tolerates external rotation. When the inode under the configured
// path changes, the next write re-opens the path. Failures degrade to
// dropping output; logging must never take the process down.
package logfile

import (
	"os"
	"sync"
	"syscall"
	"time"
)

const checkInterval = 5 * time.Second

// Writer is an io.Writer bound to a file path rather than a file
// descriptor. Safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	inode     uint64
	lastCheck time.Time
}

// New opens the path for appending. A failed open is not an error;
// writes are dropped until a later reopen succeeds.
func New(path string) *Writer {
	w := &Writer{path: path}
	w.reopen()
	return w
}

func (w *Writer) reopen() {
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.inode = 0
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	w.file = f
	if info, err := f.Stat(); err == nil {
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			w.inode = st.Ino
		}
	}
}

// rotated reports whether the path now names a different inode than
// the open file, which is what logrotate's rename-and-recreate looks
// like from here.
func (w *Writer) rotated() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return true
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return st.Ino != w.inode
}

// Write appends p to the file. It always reports success: a broken
// log destination must never propagate errors into callers.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if w.file == nil || now.Sub(w.lastCheck) >= checkInterval {
		w.lastCheck = now
		if w.file == nil || w.rotated() {
			w.reopen()
		}
	}

	if w.file != nil {
		w.file.Write(p)
	}
	return len(p), nil
}

// Close releases the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
