package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liveform/mediacluster/internal/codec"
	"github.com/liveform/mediacluster/internal/obs"
)

// DefaultSegmentDuration matches liveion's recorder: ten-second fMP4
// fragments, a middle ground between startup latency and segment count.
const DefaultSegmentDuration = 10 * time.Second

const videoTimescale = 90_000

// Storage is the persistence backend the Segmenter writes init/media
// segments and the manifest to. Grounded on opendal::Operator's write(path,
// bytes) surface used by liveion's segmenter, narrowed to the one method
// this pipeline needs.
type Storage interface {
	WriteFile(ctx context.Context, path string, data []byte) error
}

// Segmenter accumulates depacketized samples for one stream's video and
// audio tracks, converts Annex-B video frames to length-prefixed AVCC, and
// rolls a new fMP4 fragment on the first keyframe past the target segment
// duration. Grounded on original_source/liveion/src/recorder/segmenter.rs.
type Segmenter struct {
	mu sync.Mutex

	storage    Storage
	pathPrefix string
	log        *obs.Logger

	segDurationTicks uint64
	segIndex         uint32
	segStartDTS      uint64
	currentPTS       uint64

	videoTrackID uint32
	videoReady   bool
	videoCodec   codec.Name
	videoTag     string // "avc1", "hvc1", ...
	width        uint16
	height       uint16
	videoConfig  []byte // avcC/hvcC decoder configuration record
	sps, pps     []byte
	vps          []byte

	samples []Sample

	audioTrackID    uint32
	audioReady      bool
	audioCurrentPTS uint64
	audioSamples    []Sample

	totalBytes, totalTicks           uint64
	audioTotalBytes, audioTotalTicks uint64
	frameRate                        uint32

	lastKeyframe         time.Time
	keyframeReqTimeout   time.Duration

	lastSegmentCRC16 uint16
	lastSegmentCRC8  uint8
}

// NewSegmenter constructs a Segmenter that writes under pathPrefix (the
// stream's recording directory, e.g. "<stream>/<unix-timestamp>").
func NewSegmenter(storage Storage, pathPrefix string, log *obs.Logger) *Segmenter {
	return NewSegmenterWithDuration(storage, pathPrefix, DefaultSegmentDuration, log)
}

// NewSegmenterWithDuration is NewSegmenter with an explicit target segment
// duration, for deployments that configure it (cmd/mediaserver's
// recorder_segment_secs). segDuration <= 0 falls back to
// DefaultSegmentDuration.
func NewSegmenterWithDuration(storage Storage, pathPrefix string, segDuration time.Duration, log *obs.Logger) *Segmenter {
	if segDuration <= 0 {
		segDuration = DefaultSegmentDuration
	}
	return &Segmenter{
		storage:            storage,
		pathPrefix:         pathPrefix,
		log:                log,
		segDurationTicks:   uint64(videoTimescale) * uint64(segDuration/time.Second),
		videoTrackID:       1,
		audioTrackID:       2,
		keyframeReqTimeout: 10 * time.Second,
	}
}

// PushVideo feeds one depacketized video frame (Annex-B for H.264/H.265,
// raw payload otherwise) in the codec's native RTP clock rate (always
// 90kHz for the video codecs this pipeline supports).
func (s *Segmenter) PushVideo(ctx context.Context, name codec.Name, paramSets [][]byte, frame codec.Frame, durationTicks uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if durationTicks == 0 {
		durationTicks = 3000
	}

	avcc, isKey := annexBToLengthPrefixed(name, frame.Data, frame.IsKeyFrame)
	if isKey {
		s.lastKeyframe = time.Now()
	}

	s.captureParamSets(name, paramSets)

	if isKey && s.currentPTS-s.segStartDTS >= s.segDurationTicks {
		if err := s.rollSegment(ctx); err != nil {
			return err
		}
	}

	sample := Sample{Data: avcc, StartTime: s.currentPTS, DurationPT: durationTicks, Keyframe: isKey}
	s.samples = append(s.samples, sample)
	s.currentPTS += uint64(durationTicks)

	s.totalBytes += uint64(len(frame.Data))
	s.totalTicks += uint64(durationTicks)
	if fps := videoTimescale / durationTicks; s.frameRate == 0 || fps > s.frameRate {
		s.frameRate = fps
	}

	if !s.videoReady && s.haveMinimalParamSets(name) {
		if err := s.initVideoWriter(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// PushAudio feeds one Opus/G722 frame (one RTP packet equals one frame for
// these codecs, per internal/codec's passthrough assembler) at the given
// RTP clock rate duration.
func (s *Segmenter) PushAudio(ctx context.Context, frame codec.Frame, durationTicks uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.audioReady {
		if err := s.initAudioWriter(ctx); err != nil {
			return err
		}
	}

	sample := Sample{Data: frame.Data, StartTime: s.audioCurrentPTS, DurationPT: durationTicks, Keyframe: true}
	s.audioSamples = append(s.audioSamples, sample)
	s.audioCurrentPTS += uint64(durationTicks)

	s.audioTotalBytes += uint64(len(frame.Data))
	s.audioTotalTicks += uint64(durationTicks)
	return nil
}

// LastSegmentChecksum returns the CRC16/CRC8 of the most recently written
// video segment, for diagnostics endpoints to surface alongside stream
// info.
func (s *Segmenter) LastSegmentChecksum() (crc16 uint16, crc8 uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSegmentCRC16, s.lastSegmentCRC8
}

// ShouldRequestKeyframe reports whether no keyframe has arrived recently
// enough, mirroring the Forwarder's pli.Budget but scoped to the recorder's
// own fixed ten-second request timeout (matching liveion's recorder, which
// does not use exponential backoff here since it is a slow, low-priority
// demand signal rather than the stream-critical one the Forwarder drives).
func (s *Segmenter) ShouldRequestKeyframe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastKeyframe.IsZero() {
		return true
	}
	return time.Since(s.lastKeyframe) >= s.keyframeReqTimeout
}

func (s *Segmenter) captureParamSets(name codec.Name, sets [][]byte) {
	switch name {
	case codec.H264:
		if len(sets) >= 1 {
			s.sps = sets[0]
		}
		if len(sets) >= 2 {
			s.pps = sets[1]
		}
	case codec.H265:
		if len(sets) >= 1 {
			s.vps = sets[0]
		}
		if len(sets) >= 2 {
			s.sps = sets[1]
		}
		if len(sets) >= 3 {
			s.pps = sets[2]
		}
	}
}

func (s *Segmenter) haveMinimalParamSets(name codec.Name) bool {
	switch name {
	case codec.H264:
		return len(s.sps) > 0 && len(s.pps) > 0
	case codec.H265:
		return len(s.vps) > 0 && len(s.sps) > 0 && len(s.pps) > 0
	default:
		return true // VP8/VP9/AV1 carry configuration in-band only
	}
}

func (s *Segmenter) initVideoWriter(ctx context.Context, name codec.Name) error {
	s.videoCodec = name
	switch name {
	case codec.H264:
		s.videoTag = "avc1"
		if info, ok := codec.ParseH264SPS(s.sps); ok {
			s.width, s.height = info.Width, info.Height
		}
		s.videoConfig = buildAVCC(s.sps, s.pps)
	case codec.H265:
		s.videoTag = "hvc1"
		s.videoConfig = buildHVCC(s.vps, s.sps, s.pps)
	case codec.VP8:
		s.videoTag = "vp08"
	case codec.VP9:
		s.videoTag = "vp09"
	case codec.AV1:
		s.videoTag = "av01"
	default:
		s.videoTag = "avc1"
	}

	writer := &Fmp4Writer{Video: &TrackConfig{
		TrackID:     s.videoTrackID,
		Timescale:   videoTimescale,
		Video:       true,
		Width:       s.width,
		Height:      s.height,
		CodecConfig: s.videoConfig,
		CodecTag:    s.videoTag,
	}}
	init := writer.BuildInitSegment()
	s.videoReady = true

	// Frames pushed before SPS/PPS arrived have no business opening the
	// first segment: discard them so every completed segment starts on
	// the keyframe that triggered this init, not an earlier non-IDR run.
	s.samples = nil
	s.segStartDTS = s.currentPTS

	if err := s.storeFile("init.m4s", init); err != nil {
		return err
	}
	s.log.Info("init.m4s written", "path", s.pathPrefix)
	return s.writeManifest(ctx)
}

func (s *Segmenter) initAudioWriter(ctx context.Context) error {
	writer := &Fmp4Writer{Audio: &TrackConfig{
		TrackID:    s.audioTrackID,
		Timescale:  48000,
		SampleRate: 48000,
		Channels:   2,
		CodecTag:   "Opus",
	}}
	init := writer.BuildInitSegment()
	s.audioReady = true

	if err := s.storeFile("audio_init.m4s", init); err != nil {
		return err
	}
	s.log.Info("audio_init.m4s written", "path", s.pathPrefix)
	return nil
}

// rollSegment writes the accumulated video (and, if present, audio)
// fragment and starts a fresh one. Called both on IDR-past-target-duration
// boundaries and on Flush at shutdown.
func (s *Segmenter) rollSegment(ctx context.Context) error {
	if len(s.samples) == 0 || !s.videoReady {
		return nil
	}

	baseTime := s.segStartDTS
	fragment := BuildMediaSegment(s.videoTrackID, s.segIndex+1, baseTime, s.samples)
	name := fmt.Sprintf("seg_%04d.m4s", s.segIndex+1)
	if err := s.storeFile(name, fragment); err != nil {
		return err
	}
	s.log.DebugCat(obs.CatRecorder, "segment written", "path", s.pathPrefix, "name", name)
	s.lastSegmentCRC16, s.lastSegmentCRC8 = segmentChecksum(fragment)
	logSegmentWritten(s.pathPrefix, name, fragment, len(s.samples))

	if s.audioReady && len(s.audioSamples) > 0 {
		// Use the first buffered sample's own start time for tfdt, not the
		// segmenter's running audioCurrentPTS (which points past the last
		// sample) — using the latter shifts audio out of sync with video.
		audioBaseTime := s.audioSamples[0].StartTime
		audioFragment := BuildMediaSegment(s.audioTrackID, s.segIndex+1, audioBaseTime, s.audioSamples)
		audioName := fmt.Sprintf("audio_seg_%04d.m4s", s.segIndex+1)
		if err := s.storeFile(audioName, audioFragment); err != nil {
			return err
		}
		logSegmentWritten(s.pathPrefix, audioName, audioFragment, len(s.audioSamples))
		s.audioSamples = s.audioSamples[:0]
	}

	s.openNewSegment()
	return s.writeManifest(ctx)
}

func (s *Segmenter) openNewSegment() {
	s.samples = s.samples[:0]
	s.segStartDTS = s.currentPTS
	s.segIndex++
}

// Flush rolls any partially-filled segment and writes the final manifest,
// invoked when the recorder pipeline shuts down or the publisher
// disconnects for good.
func (s *Segmenter) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollSegment(ctx)
}

// storeFile writes a segment or manifest in a detached goroutine: storage
// latency must never block the RTP processing loop. A failed write is
// logged and the stream continues; at worst one fragment is lost, which
// the pipeline's durability posture accepts.
func (s *Segmenter) storeFile(name string, data []byte) error {
	path := s.pathPrefix + "/" + name
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.storage.WriteFile(writeCtx, path, data); err != nil {
			s.log.Warn("failed to store file", "path", path, "error", err, "category", string(obs.CatRecorder))
		}
	}()
	return nil
}
