// Package forward implements the Forwarder: the single-stream SFU core
// that owns one publisher session, any number of subscriber sessions, and
// the track bus connecting them.
package forward

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/apierr"
	"github.com/liveform/mediacluster/internal/bus"
	"github.com/liveform/mediacluster/internal/codec"
	"github.com/liveform/mediacluster/internal/media"
	"github.com/liveform/mediacluster/internal/obs"
	"github.com/liveform/mediacluster/internal/pli"
)

// Config tunes one Forwarder instance. The zero value is not usable;
// always go through NewConfig.
type Config struct {
	ICEServers     []webrtc.ICEServer
	GatherDeadline time.Duration
	PLIConfig      pli.Config
	// UnhealthyDropThreshold is the total number of backpressure drops at
	// which the Forwarder disconnects a subscriber; the count is checked
	// after each packet the subscriber's pump writes.
	UnhealthyDropThreshold uint64
}

// NewConfig returns sane defaults: a short gather deadline so signaling
// never blocks long, the reference PLI backoff, and a generous drop
// tolerance before a subscriber is considered unhealthy.
func NewConfig() Config {
	return Config{
		GatherDeadline:         2 * time.Second,
		PLIConfig:              pli.DefaultConfig(),
		UnhealthyDropThreshold: 500,
	}
}

// TracksChangedFunc is invoked whenever the publisher's track set changes
// (a track arrives or the publisher disconnects). cmd/mediaserver's
// mediaHost.onTracksChanged is the consumer; it starts the recording
// pipeline when recording is enabled.
type TracksChangedFunc func(streamID string)

// Forwarder hosts one stream end-to-end on this node: one publisher peer,
// any number of subscriber peers, and the track bus fanning RTP from the
// former to the latter. The forwarder-level mutex (mu) guards the
// publisher, the subscriber map and the closed flag, and serializes the
// "a subscriber is promoted" and "a publisher track arrives" events so
// neither misses nor double-creates bus consumers, per the documented
// track-arrival-before-subscriber race.
type Forwarder struct {
	streamID string
	cfg      Config
	api      *webrtc.API
	log      *obs.Logger
	registry *media.Registry

	onTracksChanged TracksChangedFunc

	mu        sync.Mutex
	publisher *publisherSession
	subs      map[string]*subscriberSession
	buses     map[media.TrackKind]*bus.Bus
	budgets   map[media.TrackKind]*pli.Budget
	closed    bool
}

type publisherSession struct {
	session *media.Session
	pc      *webrtc.PeerConnection
	tracks  map[media.TrackKind]*webrtc.TrackRemote
}

type subscriberSession struct {
	session  *media.Session
	pc       *webrtc.PeerConnection
	local    map[media.TrackKind]*webrtc.TrackLocalStaticRTP
	subs     map[media.TrackKind]*bus.Subscriber
	cancel   context.CancelFunc
	recorder bool
}

// New builds an API (MediaEngine + SettingEngine + InterceptorRegistry) and
// an empty Forwarder for one stream. Grounded on the MediaEngine/
// interceptor wiring in the pion WHIP/WHEP reference and the teacher's
// bridge.NewBridge API construction.
func New(streamID string, cfg Config, registry *media.Registry, log *obs.Logger, onTracksChanged TracksChangedFunc) (*Forwarder, error) {
	m := &webrtc.MediaEngine{}
	if err := codec.RegisterAll(m); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se), webrtc.WithInterceptorRegistry(i))

	return &Forwarder{
		streamID:        streamID,
		cfg:             cfg,
		api:             api,
		log:             log,
		registry:        registry,
		onTracksChanged: onTracksChanged,
		subs:            make(map[string]*subscriberSession),
		buses: map[media.TrackKind]*bus.Bus{
			media.TrackVideo: bus.New(log),
			media.TrackAudio: bus.New(log),
		},
		budgets: map[media.TrackKind]*pli.Budget{
			media.TrackVideo: pli.NewBudget(cfg.PLIConfig),
		},
	}, nil
}

func (f *Forwarder) newPeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.cfg.ICEServers})
}

// HasPublisher reports whether a live publisher session currently exists.
func (f *Forwarder) HasPublisher() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.publisher != nil
}

// SetPublisher implements the set_publisher operation: rejects a second
// concurrent publisher with ErrAlreadyPublishing, otherwise negotiates a
// new receive-capable peer connection and returns the local SDP answer.
func (f *Forwarder) SetPublisher(ctx context.Context, sessionID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	if f.publisher != nil {
		f.mu.Unlock()
		return webrtc.SessionDescription{}, apierr.ErrAlreadyPublishing
	}
	f.mu.Unlock()

	pc, err := f.newPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("new publisher peer connection: %w", err)
	}

	sess := media.NewSession(sessionID, media.SessionPublish, f.streamID, "", func() { f.removePublisherPC(pc) })
	pub := &publisherSession{session: sess, pc: pc, tracks: make(map[media.TrackKind]*webrtc.TrackRemote)}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f.onPublisherTrack(pub, remote)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		f.onPublisherICEStateChange(sess, state)
	})

	answer, err := f.negotiate(ctx, pc, offer)
	if err != nil {
		pc.Close()
		return webrtc.SessionDescription{}, err
	}

	f.mu.Lock()
	if f.publisher != nil {
		f.mu.Unlock()
		pc.Close()
		return webrtc.SessionDescription{}, apierr.ErrAlreadyPublishing
	}
	f.publisher = pub
	f.mu.Unlock()

	f.registry.PutSession(sess)
	sess.SetState(media.SessionConnecting)

	return answer, nil
}

// negotiate sets the remote description, creates and sets a local answer,
// and waits for ICE gathering to complete up to GatherDeadline, returning
// whatever local description is available once the deadline or gathering
// completion is reached — the endpoint must never block the HTTP response
// indefinitely.
func (f *Forwarder) negotiate(ctx context.Context, pc *webrtc.PeerConnection, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", apierr.ErrMalformedOffer, err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}

	deadline := f.cfg.GatherDeadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	select {
	case <-gatherComplete:
	case <-time.After(deadline):
	case <-ctx.Done():
	}

	if ld := pc.LocalDescription(); ld != nil {
		return *ld, nil
	}
	return answer, nil
}

func (f *Forwarder) onPublisherICEStateChange(sess *media.Session, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected:
		sess.SetState(media.SessionConnected)
	case webrtc.ICEConnectionStateDisconnected:
		sess.SetState(media.SessionDisconnected)
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		sess.SetState(media.SessionFailed)
		f.removePublisherPC(nil)
	}
}

// onPublisherTrack implements on_publisher_track: idempotent per kind,
// starts the bus reader and (for video) the PLI scheduling loop, then
// invokes the TracksChangedFunc callback.
func (f *Forwarder) onPublisherTrack(pub *publisherSession, remote *webrtc.TrackRemote) {
	kind := media.TrackAudio
	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.TrackVideo
	}

	f.mu.Lock()
	if _, exists := pub.tracks[kind]; exists {
		f.mu.Unlock()
		f.log.With("stream", f.streamID).Warn("duplicate publisher track", "kind", kind, "err", apierr.ErrDuplicateTrack)
		return
	}
	pub.tracks[kind] = remote
	f.mu.Unlock()

	if stream, ok := f.registry.Stream(f.streamID); ok {
		stream.SetPublishing(&media.Track{Kind: kind, Codec: remote.Codec().MimeType, SSRC: uint32(remote.SSRC()), PayloadType: uint8(remote.PayloadType())})
	} else {
		s := media.NewStream(f.streamID)
		s.SetPublishing(&media.Track{Kind: kind, Codec: remote.Codec().MimeType, SSRC: uint32(remote.SSRC()), PayloadType: uint8(remote.PayloadType())})
		f.registry.PutStream(s)
	}

	go f.readPublisherTrack(remote, kind)
	if kind == media.TrackVideo {
		go f.pliLoop(pub.pc, remote)
	}

	if f.onTracksChanged != nil {
		f.onTracksChanged(f.streamID)
	}
}

func (f *Forwarder) readPublisherTrack(remote *webrtc.TrackRemote, kind media.TrackKind) {
	assembler := codec.NewAssembler(codec.Name(mimeToCodecName(remote.Codec().MimeType)))
	b := f.buses[kind]
	budget := f.budgets[kind]

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			b.CloseAll()
			return
		}
		if assembler != nil && budget != nil {
			if frame, _ := assembler.Push(pkt); frame != nil && frame.IsKeyFrame {
				budget.KeyframeObserved()
			}
		}
		b.Publish(pkt)
	}
}

// pliLoop owns the publisher video track's PLI budget and periodically
// checks whether a request is due, writing one to the publisher peer
// connection's RTCP stream when it is.
func (f *Forwarder) pliLoop(pc *webrtc.PeerConnection, remote *webrtc.TrackRemote) {
	budget := f.budgets[media.TrackVideo]
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		if !budget.ShouldRequest(now) {
			continue
		}
		err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())}})
		if err != nil {
			return
		}
		budget.Requested(now)
	}
}

func mimeToCodecName(mime string) string {
	switch mime {
	case webrtc.MimeTypeH264:
		return string(codec.H264)
	case webrtc.MimeTypeVP8:
		return string(codec.VP8)
	case webrtc.MimeTypeVP9:
		return string(codec.VP9)
	case webrtc.MimeTypeAV1:
		return string(codec.AV1)
	case webrtc.MimeTypeOpus:
		return string(codec.Opus)
	case webrtc.MimeTypeG722:
		return string(codec.G722)
	case "video/H265":
		return string(codec.H265)
	default:
		return ""
	}
}

// FirstVideoCodec reports the negotiated codec name of the publisher's
// video track, if one has arrived yet. Used by the recorder pipeline to
// wait for codec discovery before it can pick a depacketizer.
func (f *Forwarder) FirstVideoCodec() (codec.Name, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publisher == nil {
		return "", false
	}
	remote, ok := f.publisher.tracks[media.TrackVideo]
	if !ok {
		return "", false
	}
	name := mimeToCodecName(remote.Codec().MimeType)
	if name == "" {
		return "", false
	}
	return codec.Name(name), true
}

// publisherCodecCapability reports the negotiated RTPCodecCapability of the
// publisher's track of the given kind, if one has arrived yet. AddSubscriber
// uses this to bind each subscriber's local track to the codec the
// publisher actually negotiated (VP8, G722, ...) instead of a fixed
// default, since a TrackLocalStaticRTP's codec is fixed at creation and
// this forwarder never renegotiates a subscriber's peer connection.
func (f *Forwarder) publisherCodecCapability(kind media.TrackKind) (webrtc.RTPCodecCapability, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publisher == nil {
		return webrtc.RTPCodecCapability{}, false
	}
	remote, ok := f.publisher.tracks[kind]
	if !ok {
		return webrtc.RTPCodecCapability{}, false
	}
	return remote.Codec().RTPCodecCapability, true
}

// FirstVideoSSRC reports the publisher's video track SSRC, used to target
// PLI requests from the recorder's own keyframe-demand timer.
func (f *Forwarder) FirstVideoSSRC() (uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publisher == nil {
		return 0, false
	}
	remote, ok := f.publisher.tracks[media.TrackVideo]
	if !ok {
		return 0, false
	}
	return uint32(remote.SSRC()), true
}

// removePublisherPC tears down the publisher session. pc is used only to
// guard against a stale ICE callback firing after a newer publisher
// replaced this one; nil means "force regardless".
func (f *Forwarder) removePublisherPC(pc *webrtc.PeerConnection) {
	f.mu.Lock()
	pub := f.publisher
	if pub == nil || (pc != nil && pub.pc != pc) {
		f.mu.Unlock()
		return
	}
	f.publisher = nil
	f.mu.Unlock()

	pub.pc.Close()
	f.buses[media.TrackVideo].CloseAll()
	f.buses[media.TrackAudio].CloseAll()
	if stream, ok := f.registry.Stream(f.streamID); ok {
		stream.MarkIdle()
	}
	if f.onTracksChanged != nil {
		f.onTracksChanged(f.streamID)
	}
}

// Close tears down every session on this forwarder: the publisher, every
// subscriber, and both track buses.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	pub := f.publisher
	f.publisher = nil
	subs := f.subs
	f.subs = make(map[string]*subscriberSession)
	f.mu.Unlock()

	if pub != nil {
		pub.pc.Close()
	}
	for _, s := range subs {
		s.cancel()
		s.pc.Close()
	}
	f.buses[media.TrackVideo].CloseAll()
	f.buses[media.TrackAudio].CloseAll()
}
