package recorder

import (
	"context"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/liveform/mediacluster/internal/codec"
	"github.com/liveform/mediacluster/internal/forward"
	"github.com/liveform/mediacluster/internal/media"
	"github.com/liveform/mediacluster/internal/obs"
)

// recorderSubscriberID is the fixed bus subscriber identity the recorder
// registers under on a stream's track buses, distinct from any WHEP
// session ID.
const recorderSubscriberID = "__recorder"

// trackPollInterval bounds how often the pipeline checks for the
// publisher's video codec and audio track becoming available, replacing
// the original's track-change broadcast channel with simple polling —
// this pipeline doesn't have a pub/sub "tracks changed" listener API on
// Forwarder beyond the single TracksChangedFunc callback already used by
// cmd/mediaserver to start recording, and adding a second fan-out consumer for one
// low-frequency event isn't worth the concurrency surface.
const trackPollInterval = 200 * time.Millisecond

// keyframeCheckInterval matches liveion's recorder task: a 1-second ticker
// checking whether a keyframe request is due.
const keyframeCheckInterval = 1 * time.Second

// Task owns one stream's recording pipeline: RTP subscription,
// depacketization, fMP4 segmentation, and periodic PLI demand. Grounded on
// original_source/liveion/src/recorder/task.rs's RecordingTask.
type Task struct {
	streamID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// StartRecording spawns the recording pipeline for a stream, blocking
// until the publisher's video codec is discovered or, failing that, a
// publisher is connected (a video track that arrives later is picked up by
// the run loop), then running the depacketize-segment-manifest
// loop in a background goroutine until Stop is called or the forwarder's
// buses close (publisher gone for good). Segments roll every
// DefaultSegmentDuration; use StartRecordingWithSegmentDuration to
// override it.
func StartRecording(ctx context.Context, fwd *forward.Forwarder, storage Storage, pathPrefix string, log *obs.Logger) (*Task, error) {
	return StartRecordingWithSegmentDuration(ctx, fwd, storage, pathPrefix, DefaultSegmentDuration, log)
}

// StartRecordingWithSegmentDuration is StartRecording with an explicit
// target segment duration.
func StartRecordingWithSegmentDuration(ctx context.Context, fwd *forward.Forwarder, storage Storage, pathPrefix string, segDuration time.Duration, log *obs.Logger) (*Task, error) {
	log = log.With("stream", pathPrefix)

	videoName, haveVideo, err := waitForMedia(ctx, fwd)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{streamID: pathPrefix, cancel: cancel, done: make(chan struct{})}

	seg := NewSegmenterWithDuration(storage, pathPrefix, segDuration, log)

	go t.run(runCtx, fwd, seg, videoName, haveVideo, log)
	return t, nil
}

// Stop requests the pipeline shut down, flushing any partial segment, and
// waits for the background goroutine to exit.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

func waitForMedia(ctx context.Context, fwd *forward.Forwarder) (codec.Name, bool, error) {
	ticker := time.NewTicker(trackPollInterval)
	defer ticker.Stop()
	for {
		if name, ok := fwd.FirstVideoCodec(); ok {
			return name, true, nil
		}
		// Audio-only streams (no negotiated video track) still record;
		// the publisher's presence is enough to start.
		if fwd.HasPublisher() {
			return "", false, nil
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *Task) run(ctx context.Context, fwd *forward.Forwarder, seg *Segmenter, videoName codec.Name, haveVideo bool, log *obs.Logger) {
	defer close(t.done)

	var videoSub *videoSubscription
	if haveVideo {
		videoSub = newVideoSubscription(fwd, videoName)
	}
	audioSub := newAudioSubscription(fwd)

	keyframeTicker := time.NewTicker(keyframeCheckInterval)
	defer keyframeTicker.Stop()

	defer func() {
		if videoSub != nil {
			fwd.UnsubscribeRTP(media.TrackVideo, recorderSubscriberID)
		}
		if audioSub != nil {
			fwd.UnsubscribeRTP(media.TrackAudio, recorderSubscriberID)
		}
		if err := seg.Flush(context.Background()); err != nil {
			log.Warn("flush on shutdown failed", "error", err)
		}
	}()

	for {
		if videoSub == nil && !haveVideo {
			if name, ok := fwd.FirstVideoCodec(); ok {
				videoName = name
				haveVideo = true
				videoSub = newVideoSubscription(fwd, videoName)
			}
		}

		var videoCh <-chan *rtp.Packet
		if videoSub != nil {
			videoCh = videoSub.bus.C()
		}
		var audioCh <-chan *rtp.Packet
		if audioSub != nil {
			audioCh = audioSub.bus.C()
		}

		select {
		case <-ctx.Done():
			return

		case <-keyframeTicker.C:
			if videoSub == nil || !seg.ShouldRequestKeyframe() {
				continue
			}
			ssrc, ok := fwd.FirstVideoSSRC()
			if !ok {
				continue
			}
			if err := fwd.SendRTCPToPublisher(&rtcp.PictureLossIndication{MediaSSRC: ssrc}, ssrc); err != nil {
				log.Debug("recorder PLI request failed", "error", err)
			}

		case pkt, ok := <-videoCh:
			if !ok {
				videoSub = nil
				haveVideo = false
				continue
			}
			t.pushVideo(ctx, seg, videoSub, pkt, log)

		case pkt, ok := <-audioCh:
			if !ok {
				audioSub = nil
				continue
			}
			t.pushAudio(ctx, seg, audioSub, pkt, log)
		}
	}
}

func (t *Task) pushVideo(ctx context.Context, seg *Segmenter, sub *videoSubscription, pkt *rtp.Packet, log *obs.Logger) {
	frame, err := sub.assembler.Push(pkt)
	if err != nil {
		log.Debug("video depacketization error, dropping packet", "error", err)
		return
	}
	if frame == nil {
		return
	}
	duration := frameDuration(&sub.prevTimestamp, &sub.hasPrev, pkt.Timestamp, 3000)
	if err := seg.PushVideo(ctx, sub.name, sub.assembler.ParameterSets(), *frame, duration); err != nil {
		log.Warn("segmenter video push failed", "error", err)
	}
}

func (t *Task) pushAudio(ctx context.Context, seg *Segmenter, sub *audioSubscription, pkt *rtp.Packet, log *obs.Logger) {
	frame, err := sub.assembler.Push(pkt)
	if err != nil || frame == nil {
		return
	}
	duration := frameDuration(&sub.prevTimestamp, &sub.hasPrev, pkt.Timestamp, 960)
	if err := seg.PushAudio(ctx, *frame, duration); err != nil {
		log.Warn("segmenter audio push failed", "error", err)
	}
}

// frameDuration derives a sample's duration from the wrapping-aware delta
// between consecutive RTP timestamps, falling back to a nominal default
// for the first sample on a track (seen marker: hasPrev false).
func frameDuration(prev *uint32, hasPrev *bool, ts uint32, fallback uint32) uint32 {
	if !*hasPrev {
		*hasPrev = true
		*prev = ts
		return fallback
	}
	d := ts - *prev // uint32 wraparound subtraction matches RTP timestamp wrap semantics
	*prev = ts
	if d == 0 {
		return fallback
	}
	return d
}

type videoSubscription struct {
	name          codec.Name
	bus           rtpSubscriber
	assembler     codec.Assembler
	prevTimestamp uint32
	hasPrev       bool
}

type audioSubscription struct {
	bus           rtpSubscriber
	assembler     codec.Assembler
	prevTimestamp uint32
	hasPrev       bool
}

// rtpSubscriber is the bus.Subscriber surface the pipeline needs, narrowed
// so this file doesn't import internal/bus directly for just one method.
type rtpSubscriber interface {
	C() <-chan *rtp.Packet
}

func newVideoSubscription(fwd *forward.Forwarder, name codec.Name) *videoSubscription {
	return &videoSubscription{
		name:      name,
		bus:       fwd.SubscribeVideoRTP(recorderSubscriberID),
		assembler: codec.NewAssembler(name),
	}
}

func newAudioSubscription(fwd *forward.Forwarder) *audioSubscription {
	return &audioSubscription{
		bus:       fwd.SubscribeAudioRTP(recorderSubscriberID),
		assembler: codec.NewAssembler(codec.Opus),
	}
}
