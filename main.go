package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Verbose logging, mirrored to stderr")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Tower: config: %v", err)
	}

	setupLogging(cfg.Logging.File, cfg.Logging.Level, *debug)
	log.Printf("Tower: starting (encoder=%v tick=%dms)", cfg.Encoder.Enabled, cfg.Broadcast.TickMS)

	metrics := NewTowerMetrics()

	fallback := NewFallbackSource(cfg.Fallback.SilenceMP3Path, cfg.Encoder.Path)
	em := NewEncoderManager(cfg, fallback, metrics)
	metrics.ObserveBuffers(em.UpstreamBuffer(), em.MP3Buffer())

	var mqttPub *MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPub, err = NewMQTTPublisher(&cfg.MQTT)
		if err != nil {
			// Event mirroring is auxiliary; the broadcast runs without it.
			log.Printf("Tower: MQTT disabled: %v", err)
		}
	}

	clientTimeout := time.Duration(cfg.Broadcast.ClientTimeoutMS) * time.Millisecond
	tick := time.Duration(cfg.Broadcast.TickMS) * time.Millisecond

	server := NewStreamServer(clientTimeout, metrics)
	loop := NewBroadcastLoop(em, server, tick, metrics)
	pump := NewAudioPump(em)
	hub := NewEventHub(clientTimeout, metrics)
	ingest := NewPCMIngest(cfg.PCM.SocketPath, em, metrics)
	events := NewEventIngest(hub, em, mqttPub, metrics)
	status := NewStatusReporter(em, loop, cfg.Encoder.Enabled)

	em.Start()
	pump.Start()
	loop.Start()
	if err := ingest.Start(); err != nil {
		log.Fatalf("Tower: PCM ingest: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", server.ServeStream)
	mux.HandleFunc("/status", status.ServeStatus)
	mux.HandleFunc("/tower/buffer", status.ServeBuffer)
	mux.Handle("/tower/events/ingest", events)
	mux.HandleFunc("/tower/events", hub.ServeWS)
	mux.Handle("/metrics", metrics.Handler())

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
		// No global timeouts: /stream connections are long-lived and
		// per-write deadlines already bound each send.
	}

	go func() {
		log.Printf("Tower: HTTP listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Tower: HTTP server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Tower: received %s, shutting down", sig)

	// Ordered teardown: stop taking input first, the broadcast loop
	// last, so buffered audio keeps flowing to listeners until the end.
	ingest.Stop()
	pump.Stop()
	em.Stop()
	hub.Shutdown()
	server.Shutdown()
	loop.Stop()
	if mqttPub != nil {
		mqttPub.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(ctx)

	log.Printf("Tower: shutdown complete")
}
