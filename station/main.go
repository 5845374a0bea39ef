package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	configPath := flag.String("config", "station.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Verbose logging, mirrored to stderr")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Station: config: %v", err)
	}

	setupLogging(cfg.Logging.File, cfg.Logging.Level, *debug)
	log.Printf("Station: starting (media=%s)", cfg.Media.Path)

	lc := NewLifecycle(cfg)
	if err := lc.Start(); err != nil {
		log.Fatalf("Station: startup failed: %v", err)
	}

	// Signal handlers only set the wheels in motion; all ordering
	// lives in the lifecycle machine so SIGTERM, SIGINT and a
	// programmatic stop follow the same path.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Station: received %s", sig)

	lc.Shutdown()
}
