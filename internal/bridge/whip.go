package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/codec"
)

// WHIPClientConfig configures a publish-role WHIP client.
type WHIPClientConfig struct {
	EndpointURL    string
	AuthBasic      string
	AuthBearer     string
	ICEServers     []webrtc.ICEServer
	GatherDeadline time.Duration
	HTTPTimeout    time.Duration
}

// WHIPClient publishes a single RTP stream to a WHIP endpoint. It never
// depacketizes: the caller owns a codec's complete RTP packets (in
// cmd/whipinto, from a UDP socket) and hands them to WriteVideoRTP /
// WriteAudioRTP exactly as received, matching
// original_source/tools/whipinto's passthrough design.
type WHIPClient struct {
	cfg    WHIPClientConfig
	signal *signalClient
	pc     *webrtc.PeerConnection

	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP
}

// NewWHIPClient builds the PeerConnection and local track(s) but does not
// negotiate; call Publish to send the offer and complete the handshake.
func NewWHIPClient(cfg WHIPClientConfig, videoCodec, audioCodec codec.Name) (*WHIPClient, error) {
	m := &webrtc.MediaEngine{}
	if err := codec.RegisterAll(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := &WHIPClient{
		cfg: cfg,
		signal: newSignalClient(cfg.EndpointURL,
			AuthHeader(cfg.AuthBasic, cfg.AuthBearer), cfg.HTTPTimeout),
		pc: pc,
	}

	if videoCodec != "" {
		desc, ok := codec.ByName(videoCodec)
		if !ok {
			pc.Close()
			return nil, fmt.Errorf("unknown video codec %q", videoCodec)
		}
		track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: desc.MimeType, ClockRate: desc.ClockRate}, "video", "whipinto")
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("new video track: %w", err)
		}
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video track: %w", err)
		}
		c.videoTrack = track
	}

	if audioCodec != "" {
		desc, ok := codec.ByName(audioCodec)
		if !ok {
			pc.Close()
			return nil, fmt.Errorf("unknown audio codec %q", audioCodec)
		}
		track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: desc.MimeType, ClockRate: desc.ClockRate, Channels: desc.Channels}, "audio", "whipinto")
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("new audio track: %w", err)
		}
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio track: %w", err)
		}
		c.audioTrack = track
	}

	return c, nil
}

// Publish creates the local offer, waits for ICE gathering, POSTs it to
// the WHIP endpoint, and applies the returned answer.
func (c *WHIPClient) Publish(ctx context.Context) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	deadline := c.cfg.GatherDeadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	select {
	case <-gatherComplete:
	case <-time.After(deadline):
	case <-ctx.Done():
		return ctx.Err()
	}

	local := c.pc.LocalDescription()
	answerSDP, err := c.signal.post(ctx, local.SDP)
	if err != nil {
		return fmt.Errorf("whip post: %w", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// WriteVideoRTP writes one already-packetized RTP packet to the video
// track unchanged.
func (c *WHIPClient) WriteVideoRTP(pkt *rtp.Packet) error {
	if c.videoTrack == nil {
		return fmt.Errorf("no video track negotiated")
	}
	return c.videoTrack.WriteRTP(pkt)
}

// WriteAudioRTP writes one already-packetized RTP packet to the audio
// track unchanged.
func (c *WHIPClient) WriteAudioRTP(pkt *rtp.Packet) error {
	if c.audioTrack == nil {
		return fmt.Errorf("no audio track negotiated")
	}
	return c.audioTrack.WriteRTP(pkt)
}

// Close tears down the WHIP resource and closes the PeerConnection.
func (c *WHIPClient) Close(ctx context.Context) error {
	teardownErr := c.signal.teardown(ctx)
	closeErr := c.pc.Close()
	if teardownErr != nil {
		return teardownErr
	}
	return closeErr
}
