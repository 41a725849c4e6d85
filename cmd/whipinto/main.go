// Command whipinto reads RTP off a UDP socket and publishes it to a WHIP
// endpoint, unchanged. It is the ingest-side counterpart to whepfrom: an
// ffmpeg process or camera that already emits correctly-packetized RTP
// for a single codec is the expected upstream source.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/bridge"
	"github.com/liveform/mediacluster/internal/codec"
	"github.com/liveform/mediacluster/internal/obs"
)

func main() {
	fs := flag.NewFlagSet("whipinto", flag.ExitOnError)
	port := fs.Int("port", 0, "UDP port to listen for RTP on (0 picks an ephemeral port)")
	codecFlag := fs.String("codec", "h264", "video codec of the incoming RTP stream: h264, vp8, vp9, av1")
	audioCodecFlag := fs.String("audio-codec", "", "audio codec of the incoming RTP stream, if any: opus, g722")
	audioPort := fs.Int("audio-port", 0, "UDP port to listen for audio RTP on, if -audio-codec is set")
	url := fs.String("url", "", "WHIP endpoint to POST the SDP offer to")
	authBasic := fs.String("auth-basic", "", "basic auth credential, as user:pass")
	authToken := fs.String("auth-token", "", "bearer auth token")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -url <whip-endpoint> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Listens on a UDP port for RTP and publishes it to a WHIP endpoint.\n\n")
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

	videoCodec := codec.Name(*codecFlag)
	audioCodec := codec.Name(*audioCodecFlag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		cancel()
	}()

	videoSrc, boundPort, err := bridge.ListenUDP(*port)
	if err != nil {
		log.Error("listen video udp", "error", err)
		os.Exit(1)
	}
	defer videoSrc.Close()
	log.Info("listening for video RTP", "port", boundPort, "codec", videoCodec)

	var audioSrc *bridge.UDPSource
	if audioCodec != "" {
		var audioBoundPort int
		audioSrc, audioBoundPort, err = bridge.ListenUDP(*audioPort)
		if err != nil {
			log.Error("listen audio udp", "error", err)
			os.Exit(1)
		}
		defer audioSrc.Close()
		log.Info("listening for audio RTP", "port", audioBoundPort, "codec", audioCodec)
	}

	client, err := bridge.NewWHIPClient(bridge.WHIPClientConfig{
		EndpointURL: *url,
		AuthBasic:   *authBasic,
		AuthBearer:  *authToken,
		ICEServers:  []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}, videoCodec, audioCodec)
	if err != nil {
		log.Error("create whip client", "error", err)
		os.Exit(1)
	}

	if err := client.Publish(ctx); err != nil {
		log.Error("publish", "error", err)
		os.Exit(1)
	}
	log.Info("published to whip endpoint", "url", *url)
	defer client.Close(context.Background())

	go pumpUDPToTrack(ctx, log, videoSrc, client.WriteVideoRTP)
	if audioSrc != nil {
		go pumpUDPToTrack(ctx, log, audioSrc, client.WriteAudioRTP)
	}

	<-ctx.Done()
	log.Info("shutting down")
}

func pumpUDPToTrack(ctx context.Context, log *obs.Logger, src *bridge.UDPSource, write func(*rtp.Packet) error) {
	for {
		pkt, err := src.ReadRTP(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("read rtp", "error", err)
			continue
		}
		if err := write(pkt); err != nil {
			log.Warn("write rtp to track", "error", err)
		}
	}
}
