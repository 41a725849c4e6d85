package forward

import (
	"context"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/apierr"
	"github.com/liveform/mediacluster/internal/bus"
	"github.com/liveform/mediacluster/internal/media"
)

// defaultTrackKindCapability is the fallback codec for a subscriber's local
// track when no publisher track of that kind has arrived yet at subscribe
// time. It only ever negotiates correctly if the publisher later turns out
// to use this same codec; AddSubscriber prefers the publisher's actual
// negotiated capability whenever one is already known.
func defaultTrackKindCapability(kind media.TrackKind) webrtc.RTPCodecCapability {
	if kind == media.TrackVideo {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
}

func trackKindLabel(kind media.TrackKind) string {
	if kind == media.TrackVideo {
		return "video"
	}
	return "audio"
}

// AddSubscriber implements add_subscriber: negotiates a peer connection
// that already has a local track bound for each kind the stream might
// carry, so that no renegotiation is needed once the publisher's tracks
// actually arrive or already exist — "lazy" refers to when the bus-to-
// sender pump goroutine starts, not to when AddTrack is called. This is a
// deliberate adaptation from the reference's SFU, which can lazily attach
// senders mid-session because its signaling layer supports renegotiation
// notifications the WHEP contract here does not expose.
func (f *Forwarder) AddSubscriber(ctx context.Context, sessionID string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, err := f.newPeerConnection()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("new subscriber peer connection: %w", err)
	}

	local := make(map[media.TrackKind]*webrtc.TrackLocalStaticRTP)
	for _, kind := range []media.TrackKind{media.TrackVideo, media.TrackAudio} {
		capability, ok := f.publisherCodecCapability(kind)
		if !ok {
			capability = defaultTrackKindCapability(kind)
		}
		track, err := webrtc.NewTrackLocalStaticRTP(capability, trackKindLabel(kind), f.streamID)
		if err != nil {
			pc.Close()
			return webrtc.SessionDescription{}, fmt.Errorf("new local track: %w", err)
		}
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return webrtc.SessionDescription{}, fmt.Errorf("add track: %w", err)
		}
		local[kind] = track
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sess := media.NewSession(sessionID, media.SessionSubscribe, f.streamID, "", func() { cancel() })
	subState := &subscriberSession{session: sess, pc: pc, local: local, subs: make(map[media.TrackKind]*bus.Subscriber), cancel: cancel}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		f.onSubscriberICEStateChange(sessionID, sess, subState, state)
	})
	f.startRTCPReader(subCtx, pc)

	answer, err := f.negotiate(ctx, pc, offer)
	if err != nil {
		pc.Close()
		cancel()
		return webrtc.SessionDescription{}, err
	}

	f.mu.Lock()
	f.subs[sessionID] = subState
	f.mu.Unlock()
	f.registry.PutSession(sess)

	return answer, nil
}

func (f *Forwarder) onSubscriberICEStateChange(sessionID string, sess *media.Session, sub *subscriberSession, state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateConnected:
		wasConnected := sess.State() == media.SessionConnected
		sess.SetState(media.SessionConnected)
		if !wasConnected {
			f.promoteSubscriber(sub)
		}
	case webrtc.ICEConnectionStateDisconnected:
		sess.SetState(media.SessionDisconnected)
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		sess.SetState(media.SessionFailed)
		f.RemoveSession(sessionID)
	}
}

// promoteSubscriber subscribes this subscriber to both track buses (video
// and audio), whether or not the publisher's track of that kind has
// arrived yet, and starts one pump per kind writing to the matching local
// track. It holds f.mu and skips kinds already subscribed, so a subscriber
// is never subscribed twice, and a publisher track that arrives later
// publishes to a bus the subscriber already reads — the
// track-arrival-before-subscriber race the forwarder design calls out.
func (f *Forwarder) promoteSubscriber(sub *subscriberSession) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for kind, b := range f.buses {
		if _, already := sub.subs[kind]; already {
			continue
		}
		busSub := b.Subscribe(sub.session.ID, bus.DropOldest)
		sub.subs[kind] = busSub
		go f.pumpToSender(sub, kind, busSub)
	}
}

func (f *Forwarder) pumpToSender(sub *subscriberSession, kind media.TrackKind, busSub *bus.Subscriber) {
	track := sub.local[kind]
	var lastDrops uint64
	for pkt := range busSub.C() {
		if err := track.WriteRTP(pkt); err != nil {
			return
		}
		if d := busSub.Dropped(); d > lastDrops {
			lastDrops = d
			if f.cfg.UnhealthyDropThreshold > 0 && lastDrops >= f.cfg.UnhealthyDropThreshold {
				f.RemoveSession(sub.session.ID)
				return
			}
		}
	}
}

// startRTCPReader drains every sender's RTCP stream, required by pion for
// the session to proceed correctly even when the server's only use for
// the feedback is discarding it; grounded on the teacher's
// startRTCPReaders/readRTCP pattern in pkg/bridge/bridge.go.
func (f *Forwarder) startRTCPReader(ctx context.Context, pc *webrtc.PeerConnection) {
	for _, sender := range pc.GetSenders() {
		s := sender
		go func() {
			buf := make([]byte, 1500)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if _, _, err := s.Read(buf); err != nil {
					return
				}
			}
		}()
	}
}

// RemoveSession implements remove_session: cooperatively closes the peer,
// detaches bus consumers, and removes the session from the registry.
func (f *Forwarder) RemoveSession(sessionID string) {
	f.mu.Lock()
	sub, ok := f.subs[sessionID]
	if ok {
		delete(f.subs, sessionID)
	}
	pub := f.publisher
	isPublisher := pub != nil && pub.session.ID == sessionID
	f.mu.Unlock()

	if ok {
		for kind := range sub.subs {
			f.buses[kind].Unsubscribe(sessionID)
		}
		sub.cancel()
		sub.pc.Close()
		sub.session.Close()
		f.registry.RemoveSession(sessionID)
		return
	}
	if isPublisher {
		f.removePublisherPC(pub.pc)
		pub.session.Close()
		f.registry.RemoveSession(sessionID)
	}
}

// SubscribeVideoRTP implements subscribe_video_rtp, used by the recorder.
// The returned Subscriber is a DropOldest bus subscriber like a WHEP
// subscriber's. It does not count toward the publisher track's PLI budget:
// pliLoop schedules PLIs from the Budget's own timing, and no subscriber,
// WHEP or recorder, adds demand to it.
func (f *Forwarder) SubscribeVideoRTP(id string) *bus.Subscriber {
	return f.buses[media.TrackVideo].Subscribe(id, bus.DropOldest)
}

// SubscribeAudioRTP implements subscribe_audio_rtp.
func (f *Forwarder) SubscribeAudioRTP(id string) *bus.Subscriber {
	return f.buses[media.TrackAudio].Subscribe(id, bus.DropOldest)
}

// UnsubscribeRTP removes a recorder (or other non-WHEP) subscriber
// previously created with SubscribeVideoRTP/SubscribeAudioRTP.
func (f *Forwarder) UnsubscribeRTP(kind media.TrackKind, id string) {
	f.buses[kind].Unsubscribe(id)
}

// allowedUpstreamRTCP is the admission list for send_rtcp_to_publisher:
// only PLI, FIR, and generic NACK are accepted from downstream.
func allowedUpstreamRTCP(pkt rtcp.Packet) bool {
	switch pkt.(type) {
	case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest, *rtcp.TransportLayerNack:
		return true
	default:
		return false
	}
}

// SendRTCPToPublisher implements send_rtcp_to_publisher: an admission-
// controlled upstream control channel accepting only PLI/FIR/NACK.
func (f *Forwarder) SendRTCPToPublisher(pkt rtcp.Packet, ssrc uint32) error {
	if !allowedUpstreamRTCP(pkt) {
		return fmt.Errorf("rtcp packet type not permitted upstream")
	}
	f.mu.Lock()
	pub := f.publisher
	f.mu.Unlock()
	if pub == nil {
		return apierr.ErrStreamNotFound
	}
	return pub.pc.WriteRTCP([]rtcp.Packet{pkt})
}
