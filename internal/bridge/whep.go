package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/codec"
)

// WHEPClientConfig configures a subscribe-role WHEP client.
type WHEPClientConfig struct {
	EndpointURL    string
	AuthBasic      string
	AuthBearer     string
	ICEServers     []webrtc.ICEServer
	GatherDeadline time.Duration
	HTTPTimeout    time.Duration
}

// OnRTPFunc receives one RTP packet as it arrives on a subscribed track,
// tagged with the codec it was negotiated with. whepfrom re-serves these
// unmodified over UDP or RTSP — no depacketization happens here, matching
// original_source/tools/whepfrom's passthrough design.
type OnRTPFunc func(codecName codec.Name, pkt *rtp.Packet)

// WHEPClient subscribes to a single WHEP stream and delivers raw RTP
// packets from whichever tracks the server sends.
type WHEPClient struct {
	cfg       WHEPClientConfig
	signal    *signalClient
	pc        *webrtc.PeerConnection
	onRTP     OnRTPFunc
	answerSDP string
}

// NewWHEPClient builds a receive-only PeerConnection. onRTP is invoked
// from a per-track read goroutine for every packet received; it must not
// block.
func NewWHEPClient(cfg WHEPClientConfig, onRTP OnRTPFunc) (*WHEPClient, error) {
	m := &webrtc.MediaEngine{}
	if err := codec.RegisterAll(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	c := &WHEPClient{
		cfg: cfg,
		signal: newSignalClient(cfg.EndpointURL,
			AuthHeader(cfg.AuthBasic, cfg.AuthBearer), cfg.HTTPTimeout),
		pc:    pc,
		onRTP: onRTP,
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.readTrack(remote)
	})

	return c, nil
}

func (c *WHEPClient) readTrack(remote *webrtc.TrackRemote) {
	desc, ok := codec.ByMimeType(remote.Codec().MimeType)
	if !ok {
		return
	}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if c.onRTP != nil {
			c.onRTP(desc.Name, pkt)
		}
	}
}

// Subscribe creates the local offer, waits for ICE gathering, POSTs it to
// the WHEP endpoint, and applies the returned answer. Track read
// goroutines start as soon as OnTrack fires, which may be before
// Subscribe returns.
func (c *WHEPClient) Subscribe(ctx context.Context) error {
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
		return fmt.Errorf("whep post: %w", err)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.answerSDP = answerSDP
	return nil
}

// AnswerSDP returns the SDP answer received from the WHEP server, once
// Subscribe has completed. A caller serving this stream onward over RTSP
// advertises this same description to its own pullers.
func (c *WHEPClient) AnswerSDP() string {
	return c.answerSDP
}

// Close tears down the WHEP resource and closes the PeerConnection.
func (c *WHEPClient) Close(ctx context.Context) error {
	teardownErr := c.signal.teardown(ctx)
	closeErr := c.pc.Close()
	if teardownErr != nil {
		return teardownErr
	}
	return closeErr
}
