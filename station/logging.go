package main

import (
	"io"
	"log"
	"os"

	"github.com/retrowaves/retrowaves/internal/logfile"
)

var debugLogging bool

// setupLogging routes the stdlib logger to the rotation-aware file
// writer, mirrored to stderr when debug is set.
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

// debugf logs only when debug logging is on.
func debugf(format string, args ...interface{}) {
	if debugLogging {
		log.Printf(format, args...)
	}
}
