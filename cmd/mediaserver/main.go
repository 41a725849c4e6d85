package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/config"
	"github.com/liveform/mediacluster/internal/forward"
	"github.com/liveform/mediacluster/internal/obs"
	"github.com/liveform/mediacluster/internal/recorder"
	"github.com/liveform/mediacluster/internal/signaling"
)

func main() {
	fs := flag.NewFlagSet("mediaserver", flag.ExitOnError)
	envPath := fs.String("config", ".env", "path to the .env configuration file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "log format: text or json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Single-node WHIP/WHEP media server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	level, err := obs.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error parsing log level: %v\n", err)
		os.Exit(1)
	}
	logCfg := obs.NewConfig()
	logCfg.Level = level
	if *logFormat == "json" {
		logCfg.Format = obs.FormatJSON
	}

	log, err := obs.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	obs.SetDefault(log)

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "listen_addr", cfg.Server.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var storage recorder.Storage
	if cfg.Recorder.Enabled {
		fsStorage, err := recorder.NewFileStorage(cfg.Recorder.StorageDir)
		if err != nil {
			log.Error("failed to initialize recording storage", "error", err)
			os.Exit(1)
		}
		storage = fsStorage
		log.Info("recording enabled", "storage_dir", cfg.Recorder.StorageDir, "segment_secs", cfg.Recorder.SegmentSecs)
	}

	fwdCfg := forward.NewConfig()
	fwdCfg.ICEServers = toWebRTCICEServers(cfg.Server.ICEServers)

	notifier := newRecordingNotifier(cfg.Cluster.ManagerURL, cfg.Node.Alias, log.With("component", "recording-notifier"))
	host := newMediaHost(fwdCfg, cfg.Recorder, storage, notifier, log.With("component", "host"))

	iceServers := make([]signaling.IceServer, 0, len(cfg.Server.ICEServers))
	for _, ice := range cfg.Server.ICEServers {
		iceServers = append(iceServers, signaling.IceServer{
			URL:            ice.URL,
			Username:       ice.Username,
			Credential:     ice.Credential,
			CredentialType: ice.CredentialType,
		})
	}

	server := signaling.NewServer(host, iceServers, log.With("component", "signaling"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.Server.ListenAddr)
	}()

	log.Info("media server ready", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("error during signaling server shutdown", "error", err)
		}
		shutdownCancel()
	case err := <-errCh:
		if err != nil {
			log.Error("signaling server exited", "error", err)
			os.Exit(1)
		}
	}

	log.Info("graceful shutdown complete")
}

func toWebRTCICEServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, ice := range servers {
		entry := webrtc.ICEServer{URLs: []string{ice.URL}}
		if ice.Username != "" {
			entry.Username = ice.Username
			entry.Credential = ice.Credential
		}
		out = append(out, entry)
	}
	return out
}
