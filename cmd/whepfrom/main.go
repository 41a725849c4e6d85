// Command whepfrom subscribes to a WHEP endpoint and re-serves the RTP it
// receives, unchanged, either by pulling it from an embedded RTSP server
// (the default) or by forwarding it to a fixed UDP target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/bridge"
	"github.com/liveform/mediacluster/internal/codec"
	"github.com/liveform/mediacluster/internal/obs"
)

func main() {
	fs := flag.NewFlagSet("whepfrom", flag.ExitOnError)
	mode := fs.String("mode", "rtsp", "egress mode: rtsp (serve an RTSP pull endpoint) or rtp (push to -target over UDP)")
	host := fs.String("host", "0.0.0.0", "listen address for -mode rtsp")
	port := fs.Int("port", 0, "listen port for -mode rtsp (0 picks an ephemeral port)")
	target := fs.String("target", "", "UDP host:port to forward to for -mode rtp")
	url := fs.String("url", "", "WHEP endpoint to POST the SDP offer to")
	authBasic := fs.String("auth-basic", "", "basic auth credential, as user:pass")
	authToken := fs.String("auth-token", "", "bearer auth token")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -url <whep-endpoint> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Subscribes to a WHEP endpoint and re-serves the RTP it receives.\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	if *url == "" {
		fmt.Fprintln(os.Stderr, "error: -url is required")
		fs.Usage()
		os.Exit(1)
	}
	if *mode == "rtp" && *target == "" {
		fmt.Fprintln(os.Stderr, "error: -target is required for -mode rtp")
		os.Exit(1)
	}
	if *mode != "rtsp" && *mode != "rtp" {
		fmt.Fprintf(os.Stderr, "error: -mode must be rtsp or rtp, got %q\n", *mode)
		os.Exit(1)
	}

	logCfg := obs.NewConfig()
	if lvl, err := obs.ParseLevel(*logLevel); err == nil {
		logCfg.Level = lvl
	}
	log, err := obs.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	var rtpSink *bridge.UDPSink
	var rtspSrv atomic.Pointer[bridge.RTSPServer]

	if *mode == "rtp" {
		rtpSink, err = bridge.DialUDP(*target)
		if err != nil {
			log.Error("dial udp target", "error", err)
			os.Exit(1)
		}
		defer rtpSink.Close()
	}

	onRTP := func(name codec.Name, pkt *rtp.Packet) {
		if rtpSink != nil {
			if err := rtpSink.WriteRTP(pkt); err != nil {
				log.Warn("write rtp to udp target", "error", err)
			}
			return
		}
		srv := rtspSrv.Load()
		if srv == nil {
			return
		}
		if isVideoCodec(name) {
			srv.WriteVideoRTP(pkt)
		} else {
			srv.WriteAudioRTP(pkt)
		}
	}

	client, err := bridge.NewWHEPClient(bridge.WHEPClientConfig{
		EndpointURL: *url,
		AuthBasic:   *authBasic,
		AuthBearer:  *authToken,
		ICEServers:  []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}, onRTP)
	if err != nil {
		log.Error("create whep client", "error", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	if err := client.Subscribe(ctx); err != nil {
		log.Error("subscribe", "error", err)
		os.Exit(1)
	}
	log.Info("subscribed to whep endpoint", "url", *url)

	if *mode == "rtsp" {
		srv := bridge.NewRTSPServer(client.AnswerSDP(), log)
		boundPort, err := srv.Serve(ctx, fmt.Sprintf("%s:%d", *host, *port))
		if err != nil {
			log.Error("serve rtsp", "error", err)
			os.Exit(1)
		}
		defer srv.Close()
		rtspSrv.Store(srv)
		log.Info("rtsp pull endpoint listening", "host", *host, "port", boundPort)
	}

	<-ctx.Done()
	log.Info("shutting down")
}

func isVideoCodec(name codec.Name) bool {
	switch name {
	case codec.Opus, codec.G722:
		return false
	default:
		return true
	}
}
