package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/liveform/mediacluster/internal/cluster"
	"github.com/liveform/mediacluster/internal/config"
	"github.com/liveform/mediacluster/internal/obs"
	"github.com/liveform/mediacluster/internal/signaling"
)

func main() {
	fs := flag.NewFlagSet("clustermanager", flag.ExitOnError)
	envPath := fs.String("config", ".env", "path to the .env configuration file")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "log format: text or json")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Cluster manager: routes WHIP/WHEP to nodes and tracks cascade/reforward state\n\n")
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
	listenAddr := cfg.Cluster.ListenAddr
	if listenAddr == "" {
		listenAddr = cfg.Server.ListenAddr
	}
	log.Info("configuration loaded", "listen_addr", listenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	transport := cluster.NewHTTPTransport(5 * time.Second)
	router := cluster.NewRouter(transport, cluster.DefaultPolicy(), log.With("component", "router"))

	nodes, err := parseStaticNodes(cfg.Cluster.StaticNodeCSV)
	if err != nil {
		log.Error("failed to parse cluster_static_nodes", "error", err)
		os.Exit(1)
	}
	for _, n := range nodes {
		router.RegisterNode(n)
		log.Info("registered static node", "alias", n.Alias, "url", n.URL)
	}

	router.Start(ctx)
	defer router.Stop()

	recordings := cluster.NewRecordingRegistry()
	host := newClusterHost(router, transport, log.With("component", "host"))

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
	mux := buildAdminMux(server.Handler(), recordings)

	httpServer := newHTTPServer(listenAddr, mux)
	errCh := make(chan error, 1)
	go func() {
		log.Info("cluster manager listening", "addr", listenAddr)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("error during cluster manager shutdown", "error", err)
		}
		shutdownCancel()
	case err := <-errCh:
		if err != nil {
			log.Error("cluster manager exited", "error", err)
			os.Exit(1)
		}
	}

	log.Info("graceful shutdown complete")
}

// parseStaticNodes decodes config.ClusterConfig.StaticNodeCSV's
// "alias=url=token,alias2=..." bootstrap list. Fields after the token are
// ignored. Every node starts with zero capacity (no admission until the
// background updater's first /admin/strategy poll fills in the node's real
// advertised capacity).
func parseStaticNodes(csv string) ([]*cluster.Node, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	var nodes []*cluster.Node
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "=")
		if len(fields) < 3 {
			return nil, fmt.Errorf("malformed static node entry %q: want alias=url=token", entry)
		}
		alias, url, token := fields[0], fields[1], fields[2]
		nodes = append(nodes, cluster.NewNode(alias, url, token, cluster.Capacity{}))
	}
	return nodes, nil
}
