package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveform/mediacluster/internal/config"
	"github.com/liveform/mediacluster/internal/forward"
	"github.com/liveform/mediacluster/internal/media"
	"github.com/liveform/mediacluster/internal/obs"
)

func testLogger(t *testing.T) *obs.Logger {
	t.Helper()
	log, err := obs.New(obs.NewConfig())
	require.NoError(t, err)
	return log
}

func TestSessionIDFromResourcePath(t *testing.T) {
	require.Equal(t, "abc123", sessionIDFromResourcePath("/resource/abc123"))
	require.Equal(t, "/resource/", sessionIDFromResourcePath("/resource/"))
	require.Equal(t, "not-a-resource-path", sessionIDFromResourcePath("not-a-resource-path"))
}

func TestToWebRTCICEServersCopiesCredentials(t *testing.T) {
	servers := toWebRTCICEServers([]config.ICEServer{
		{URL: "stun:stun.example.com:3478"},
		{URL: "turn:turn.example.com:3478", Username: "alice", Credential: "secret"},
	})
	require.Len(t, servers, 2)
	require.Equal(t, []string{"stun:stun.example.com:3478"}, servers[0].URLs)
	require.Empty(t, servers[0].Username)
	require.Equal(t, []string{"turn:turn.example.com:3478"}, servers[1].URLs)
	require.Equal(t, "alice", servers[1].Username)
	require.Equal(t, "secret", servers[1].Credential)
}

func TestTeardownOnUnknownSessionIsNoop(t *testing.T) {
	host := newMediaHost(forward.NewConfig(), config.RecorderConfig{}, nil, nil, testLogger(t))
	require.NotPanics(t, func() {
		host.Teardown("/resource/does-not-exist")
	})
}

func TestPatchAlwaysSucceeds(t *testing.T) {
	host := newMediaHost(forward.NewConfig(), config.RecorderConfig{}, nil, nil, testLogger(t))
	require.NoError(t, host.Patch("/resource/anything", "candidate:1 1 UDP ..."))
}

func TestStreamInfoNotFoundUntilForwarderCreated(t *testing.T) {
	host := newMediaHost(forward.NewConfig(), config.RecorderConfig{}, nil, nil, testLogger(t))

	_, ok := host.StreamInfo("stream-1")
	require.False(t, ok)

	_, err := host.getOrCreateForwarder("stream-1")
	require.NoError(t, err)

	info, ok := host.StreamInfo("stream-1")
	require.True(t, ok)
	require.Equal(t, "stream-1", info.ID)
	require.Empty(t, info.Codecs)
}

func TestBuildStreamInfoSeparatesPublishAndSubscribeSessions(t *testing.T) {
	host := newMediaHost(forward.NewConfig(), config.RecorderConfig{}, nil, nil, testLogger(t))
	stream := media.NewStream("stream-1")
	host.registry.PutStream(stream)

	pub := media.NewSession("pub-1", media.SessionPublish, "stream-1", "", nil)
	sub := media.NewSession("sub-1", media.SessionSubscribe, "stream-1", "", nil)
	host.registry.PutSession(pub)
	host.registry.PutSession(sub)

	info := host.buildStreamInfo(stream)
	require.Equal(t, []string{"pub-1"}, info.Publish.Sessions)
	require.Equal(t, []string{"sub-1"}, info.Subscribe.Sessions)
}

func TestOnTracksChangedSkipsWhenRecordingDisabled(t *testing.T) {
	host := newMediaHost(forward.NewConfig(), config.RecorderConfig{Enabled: false}, nil, nil, testLogger(t))
	_, err := host.getOrCreateForwarder("stream-1")
	require.NoError(t, err)

	host.onTracksChanged("stream-1")

	host.mu.Lock()
	_, recording := host.recordings["stream-1"]
	host.mu.Unlock()
	require.False(t, recording)
}
