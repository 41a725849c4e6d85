package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/liveform/mediacluster/internal/config"
	"github.com/liveform/mediacluster/internal/forward"
	"github.com/liveform/mediacluster/internal/media"
	"github.com/liveform/mediacluster/internal/obs"
	"github.com/liveform/mediacluster/internal/recorder"
	"github.com/liveform/mediacluster/internal/signaling"
)

// mediaHost implements signaling.Host directly on top of a local map of
// Forwarders, one per stream, with no cluster routing involved — the
// single-node deployment mode. Grounded on the teacher's
// pkg/nest/multi_manager.go for the "one manager owning many per-device
// sessions behind a map+mutex" shape, generalized here from Nest devices
// to WHIP/WHEP streams.
type mediaHost struct {
	cfg      forward.Config
	registry *media.Registry
	storage  recorder.Storage
	recCfg   config.RecorderConfig
	notify   *recordingNotifier
	log      *obs.Logger

	mu         sync.Mutex
	forwarders map[string]*forward.Forwarder
	sessions   map[string]string // sessionID -> streamID
	recordings map[string]*recorder.Task
}

func newMediaHost(cfg forward.Config, recCfg config.RecorderConfig, storage recorder.Storage, notify *recordingNotifier, log *obs.Logger) *mediaHost {
	return &mediaHost{
		cfg:        cfg,
		registry:   media.NewRegistry(),
		storage:    storage,
		recCfg:     recCfg,
		notify:     notify,
		log:        log,
		forwarders: make(map[string]*forward.Forwarder),
		sessions:   make(map[string]string),
		recordings: make(map[string]*recorder.Task),
	}
}

// getOrCreateForwarder returns the stream's Forwarder, building one (and
// registering its Stream in the registry) the first time it's needed.
func (h *mediaHost) getOrCreateForwarder(streamID string) (*forward.Forwarder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if fwd, ok := h.forwarders[streamID]; ok {
		return fwd, nil
	}

	fwd, err := forward.New(streamID, h.cfg, h.registry, h.log.With("stream", streamID), h.onTracksChanged)
	if err != nil {
		return nil, fmt.Errorf("new forwarder for %s: %w", streamID, err)
	}
	h.forwarders[streamID] = fwd
	h.registry.PutStream(media.NewStream(streamID))
	return fwd, nil
}

// onTracksChanged starts the recording pipeline the first time a stream
// gains a publisher, if recording is enabled. It is called from inside the
// forwarder's own track-arrival path, so the actual StartRecording call is
// dispatched to its own goroutine to avoid blocking that path on disk I/O.
func (h *mediaHost) onTracksChanged(streamID string) {
	if !h.recCfg.Enabled {
		return
	}
	h.mu.Lock()
	fwd, ok := h.forwarders[streamID]
	_, alreadyRecording := h.recordings[streamID]
	h.mu.Unlock()
	if !ok || alreadyRecording || !fwd.HasPublisher() {
		return
	}

	go func() {
		segDuration := time.Duration(h.recCfg.SegmentSecs) * time.Second
		task, err := recorder.StartRecordingWithSegmentDuration(context.Background(), fwd, h.storage, streamID, segDuration, h.log)
		if err != nil {
			h.log.Warn("failed to start recording", "stream", streamID, "error", err)
			return
		}
		h.mu.Lock()
		h.recordings[streamID] = task
		h.mu.Unlock()
		h.notify.started(streamID)
	}()
}

func (h *mediaHost) stopRecording(streamID string) {
	h.mu.Lock()
	task, ok := h.recordings[streamID]
	if ok {
		delete(h.recordings, streamID)
	}
	h.mu.Unlock()
	if ok {
		task.Stop()
		h.notify.stopped(streamID)
	}
}

// Publish implements signaling.Host.
func (h *mediaHost) Publish(streamID, offerSDP string) (string, string, error) {
	fwd, err := h.getOrCreateForwarder(streamID)
	if err != nil {
		return "", "", err
	}

	sessionID := signaling.NewSessionID()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	answer, err := fwd.SetPublisher(context.Background(), sessionID, offer)
	if err != nil {
		return "", "", err
	}

	h.mu.Lock()
	h.sessions[sessionID] = streamID
	h.mu.Unlock()

	return answer.SDP, "/resource/" + sessionID, nil
}

// Subscribe implements signaling.Host.
func (h *mediaHost) Subscribe(streamID, offerSDP string) (string, string, error) {
	fwd, err := h.getOrCreateForwarder(streamID)
	if err != nil {
		return "", "", err
	}

	sessionID := signaling.NewSessionID()
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	answer, err := fwd.AddSubscriber(context.Background(), sessionID, offer)
	if err != nil {
		return "", "", err
	}

	h.mu.Lock()
	h.sessions[sessionID] = streamID
	h.mu.Unlock()

	return answer.SDP, "/resource/" + sessionID, nil
}

// Patch implements signaling.Host. Trickle ICE is not offered: every
// session here negotiates in a single offer/gather-complete/answer round,
// so there is nothing to apply a late candidate to. Always succeeds,
// matching the WHIP/WHEP spec's treatment of trickle ICE as optional.
func (h *mediaHost) Patch(resourcePath, candidateLine string) error {
	return nil
}

// Teardown implements signaling.Host: idempotent regardless of whether
// resourcePath names a live session.
func (h *mediaHost) Teardown(resourcePath string) {
	sessionID := sessionIDFromResourcePath(resourcePath)

	h.mu.Lock()
	streamID, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	fwd, fwdOK := h.forwarders[streamID]
	h.mu.Unlock()

	if !ok || !fwdOK {
		return
	}
	fwd.RemoveSession(sessionID)

	if !fwd.HasPublisher() {
		h.stopRecording(streamID)
	}
}

func sessionIDFromResourcePath(resourcePath string) string {
	const prefix = "/resource/"
	if len(resourcePath) > len(prefix) && resourcePath[:len(prefix)] == prefix {
		return resourcePath[len(prefix):]
	}
	return resourcePath
}

// StreamInfo implements signaling.Host.
func (h *mediaHost) StreamInfo(streamID string) (signaling.StreamInfo, bool) {
	stream, ok := h.registry.Stream(streamID)
	if !ok {
		return signaling.StreamInfo{}, false
	}
	return h.buildStreamInfo(stream), true
}

// ListStreams implements signaling.Host.
func (h *mediaHost) ListStreams() []signaling.StreamInfo {
	streams := h.registry.Streams()
	out := make([]signaling.StreamInfo, 0, len(streams))
	for _, s := range streams {
		out = append(out, h.buildStreamInfo(s))
	}
	return out
}

func (h *mediaHost) buildStreamInfo(stream *media.Stream) signaling.StreamInfo {
	var publish, subscribe []string
	for _, sess := range h.registry.SessionsForStream(stream.ID) {
		if sess.Kind == media.SessionPublish {
			publish = append(publish, sess.ID)
		} else {
			subscribe = append(subscribe, sess.ID)
		}
	}

	var codecs []string
	for _, track := range stream.Tracks() {
		codecs = append(codecs, track.Codec)
	}

	return signaling.StreamInfo{
		ID:        stream.ID,
		CreatedAt: stream.CreatedAt(),
		Publish:   signaling.Sessions{Sessions: publish},
		Subscribe: signaling.Sessions{Sessions: subscribe},
		Codecs:    codecs,
	}
}

var _ signaling.Host = (*mediaHost)(nil)
