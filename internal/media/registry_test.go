package media

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryStreamLifecycle(t *testing.T) {
	r := NewRegistry()
	s := NewStream("cam-1")
	r.PutStream(s)

	got, ok := r.Stream("cam-1")
	require.True(t, ok)
	require.Equal(t, s, got)

	r.RemoveStream("cam-1")
	_, ok = r.Stream("cam-1")
	require.False(t, ok)
}

func TestRegistrySessionsForStream(t *testing.T) {
	r := NewRegistry()
	pub := NewSession("sess-pub", SessionPublish, "cam-1", "/whip/cam-1/sess-pub", nil)
	sub := NewSession("sess-sub", SessionSubscribe, "cam-1", "/whep/cam-1/sess-sub", nil)
	other := NewSession("sess-other", SessionSubscribe, "cam-2", "/whep/cam-2/sess-other", nil)
	r.PutSession(pub)
	r.PutSession(sub)
	r.PutSession(other)

	got := r.SessionsForStream("cam-1")
	require.Len(t, got, 2)
}

func TestSessionCloseInvokesCallbackOnce(t *testing.T) {
	calls := 0
	s := NewSession("sess-1", SessionPublish, "cam-1", "/whip/cam-1/sess-1", func() { calls++ })
	s.Close()
	s.Close()
	require.Equal(t, 1, calls)
	require.True(t, s.Terminal())
}

func TestStreamTrackLifecycle(t *testing.T) {
	s := NewStream("cam-1")
	require.Equal(t, StreamCreated, s.State())

	s.SetPublishing(&Track{Kind: TrackVideo, Codec: "h264"})
	require.Equal(t, StreamPublishing, s.State())
	tr, ok := s.Track(TrackVideo)
	require.True(t, ok)
	require.Equal(t, "h264", tr.Codec)

	s.MarkIdle()
	require.Equal(t, StreamIdle, s.State())
	_, ok = s.Track(TrackVideo)
	require.False(t, ok)
}
