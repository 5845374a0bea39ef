package main

import (
	"io"
	"log"
	"os"

	"github.com/retrowaves/retrowaves/internal/logfile"
)

var debugLogging bool

// setupLogging routes the stdlib logger to the rotation-aware file
// writer, mirrored to stderr when debug is set. An empty path keeps
// stderr only.
func setupLogging(path, level string, debug bool) {
	debugLogging = debug || level == "debug"
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if path == "" {
		return
	}

	fw := logfile.New(path)
	if debugLogging {
		log.SetOutput(io.MultiWriter(os.Stderr, fw))
	} else {
		log.SetOutput(fw)
	}
}

// debugf logs only when debug logging is on. Hot paths use it for
// per-frame detail that would swamp the normal log.
func debugf(format string, args ...interface{}) {
	if debugLogging {
		log.Printf(format, args...)
	}
}
