package recorder

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liveform/mediacluster/internal/codec"
	"github.com/liveform/mediacluster/internal/obs"
)

// fakeStorage records every write under its path for assertions; it never
// errors, matching the common case the segmenter's fire-and-forget
// storeFile was built around.
type fakeStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string][]byte)}
}

func (s *fakeStorage) WriteFile(ctx context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = data
	return nil
}

func (s *fakeStorage) get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.files[path]
	return d, ok
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func testLogger(t *testing.T) *obs.Logger {
	t.Helper()
	l, err := obs.New(obs.NewConfig())
	require.NoError(t, err)
	return l
}

func TestNewSegmenterWithDurationFallsBackToDefault(t *testing.T) {
	storage := newFakeStorage()
	defaultSeg := NewSegmenter(storage, "s", testLogger(t))
	zeroSeg := NewSegmenterWithDuration(storage, "s", 0, testLogger(t))
	require.Equal(t, defaultSeg.segDurationTicks, zeroSeg.segDurationTicks)
}

func TestNewSegmenterWithDurationHonorsOverride(t *testing.T) {
	storage := newFakeStorage()
	seg := NewSegmenterWithDuration(storage, "s", 4*time.Second, testLogger(t))
	require.Equal(t, uint64(videoTimescale)*4, seg.segDurationTicks)
}

func TestSegmenterWritesInitSegmentOnParamSets(t *testing.T) {
	storage := newFakeStorage()
	seg := NewSegmenter(storage, "stream1/123", testLogger(t))

	frame := codec.Frame{Data: append(append([]byte{0, 0, 0, 1}, sampleSPS...), append([]byte{0, 0, 0, 1}, samplePPS...)...), IsKeyFrame: true}
	err := seg.PushVideo(context.Background(), codec.H264, [][]byte{sampleSPS, samplePPS}, frame, 3000)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := storage.get("stream1/123/init.m4s")
		return ok
	}, time.Second, 5*time.Millisecond)

	init, _ := storage.get("stream1/123/init.m4s")
	require.True(t, bytes.HasPrefix(init[4:8], []byte("ftyp")))
}

func TestSegmenterDropsSamplesBufferedBeforeParamSets(t *testing.T) {
	storage := newFakeStorage()
	seg := NewSegmenter(storage, "stream1/123", testLogger(t))

	// Frames arriving before SPS/PPS are known buffer up but can't start a
	// segment; haveMinimalParamSets stays false so no init segment is
	// written yet.
	preInit := codec.Frame{Data: []byte{0xAA}, IsKeyFrame: false}
	require.NoError(t, seg.PushVideo(context.Background(), codec.H264, nil, preInit, 3000))
	require.NoError(t, seg.PushVideo(context.Background(), codec.H264, nil, preInit, 3000))
	require.False(t, seg.videoReady)
	require.Len(t, seg.samples, 2)

	// The frame that finally carries SPS/PPS triggers initVideoWriter,
	// which must discard every sample buffered so far, including this one.
	keyWithParamSets := codec.Frame{Data: append(append([]byte{0, 0, 0, 1}, sampleSPS...), append([]byte{0, 0, 0, 1}, samplePPS...)...), IsKeyFrame: true}
	require.NoError(t, seg.PushVideo(context.Background(), codec.H264, [][]byte{sampleSPS, samplePPS}, keyWithParamSets, 3000))
	require.True(t, seg.videoReady)
	require.Empty(t, seg.samples, "samples buffered before SPS/PPS must not leak into the first segment")
	require.Equal(t, seg.currentPTS, seg.segStartDTS)
}

func TestSegmenterRollsOnKeyframePastTargetDuration(t *testing.T) {
	storage := newFakeStorage()
	seg := NewSegmenter(storage, "stream1/123", testLogger(t))
	seg.segDurationTicks = 9000 // shrink to 0.1s of 90kHz ticks so the test doesn't need thousands of frames

	frame := func(key bool) codec.Frame {
		return codec.Frame{Data: []byte{0xAA}, IsKeyFrame: key}
	}

	// First keyframe establishes parameter sets and opens segment 1.
	require.NoError(t, seg.PushVideo(context.Background(), codec.H264, [][]byte{sampleSPS, samplePPS}, frame(true), 3000))
	require.Equal(t, uint32(0), seg.segIndex)

	// Feed frames until accumulated duration crosses segDurationTicks, then
	// the next keyframe must roll the segment.
	for i := 0; i < 2; i++ {
		require.NoError(t, seg.PushVideo(context.Background(), codec.H264, nil, frame(false), 3000))
	}
	require.NoError(t, seg.PushVideo(context.Background(), codec.H264, nil, frame(true), 3000))

	require.Eventually(t, func() bool {
		_, ok := storage.get("stream1/123/seg_0001.m4s")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, uint32(1), seg.segIndex)
}

func TestSegmenterAudioFragmentUsesFirstSampleStartTime(t *testing.T) {
	storage := newFakeStorage()
	seg := NewSegmenter(storage, "stream1/123", testLogger(t))

	// A video keyframe with parameter sets is required before rollSegment
	// will write anything at all.
	videoFrame := codec.Frame{Data: []byte{0xAA}, IsKeyFrame: true}
	require.NoError(t, seg.PushVideo(context.Background(), codec.H264, [][]byte{sampleSPS, samplePPS}, videoFrame, 3000))

	require.NoError(t, seg.PushAudio(context.Background(), codec.Frame{Data: []byte{1, 2, 3}}, 960))
	require.NoError(t, seg.PushAudio(context.Background(), codec.Frame{Data: []byte{4, 5, 6}}, 960))

	// Advance the running audio PTS past the first sample's own start time,
	// so a bug reintroducing audioCurrentPTS as the fragment base time would
	// be caught by the assertion below.
	require.NotEqual(t, seg.audioSamples[0].StartTime, seg.audioCurrentPTS)

	require.NoError(t, seg.Flush(context.Background()))

	require.Eventually(t, func() bool {
		_, ok := storage.get("stream1/123/audio_seg_0001.m4s")
		return ok
	}, time.Second, 5*time.Millisecond)

	fragment, _ := storage.get("stream1/123/audio_seg_0001.m4s")
	wantBase := uint64(0) // the first audio sample's StartTime
	require.Equal(t, wantBase, tfdtBaseTime(t, fragment))
}

// tfdtBaseTime extracts the 64-bit base_media_decode_time out of a
// styp+moof+mdat fragment's tfdt box, by locating it structurally rather
// than re-parsing the whole moof tree.
func tfdtBaseTime(t *testing.T, fragment []byte) uint64 {
	t.Helper()
	idx := bytes.Index(fragment, []byte("tfdt"))
	require.Greater(t, idx, 0, "fragment must contain a tfdt box")
	// tfdt payload: 4 bytes version+flags, then an 8-byte base time (version 1).
	start := idx + 4 + 4
	return uint64FromBigEndian(fragment[start : start+8])
}

func uint64FromBigEndian(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func TestShouldRequestKeyframe(t *testing.T) {
	seg := NewSegmenter(newFakeStorage(), "s", testLogger(t))
	require.True(t, seg.ShouldRequestKeyframe(), "fresh segmenter should want a keyframe")

	seg.lastKeyframe = time.Now()
	require.False(t, seg.ShouldRequestKeyframe())

	seg.lastKeyframe = time.Now().Add(-seg.keyframeReqTimeout - time.Second)
	require.True(t, seg.ShouldRequestKeyframe())
}
