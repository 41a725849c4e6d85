package main

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/liveform/mediacluster/internal/cluster"
	"github.com/liveform/mediacluster/internal/obs"
)

// fakeTransport is a minimal cluster.NodeTransport double, mirroring
// internal/cluster/router_test.go's test double but kept local since this
// package only needs ProxyWHIP/ProxyWHEP/DeleteResource exercised.
type fakeTransport struct {
	mu      sync.Mutex
	deleted []string
	proxied []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) GetInfos(ctx context.Context, node *cluster.Node, streamID string) (cluster.InfosResponse, error) {
	return cluster.InfosResponse{}, nil
}

func (f *fakeTransport) GetStrategy(ctx context.Context, node *cluster.Node) (cluster.StrategyResponse, error) {
	return cluster.StrategyResponse{}, nil
}

func (f *fakeTransport) PostReforward(ctx context.Context, node *cluster.Node, streamID, targetURL, targetAuth string) error {
	return nil
}

func (f *fakeTransport) DeleteResource(ctx context.Context, node *cluster.Node, streamID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeTransport) ProxyWHIP(ctx context.Context, node *cluster.Node, streamID, offerSDP string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxied = append(f.proxied, node.Alias+"/"+streamID)
	return "v=0\r\nanswer", "/resource/upstream-" + streamID, nil
}

func (f *fakeTransport) ProxyWHEP(ctx context.Context, node *cluster.Node, streamID, offerSDP string) (string, string, error) {
	return f.ProxyWHIP(ctx, node, streamID, offerSDP)
}

func (f *fakeTransport) HTTPClient() *http.Client {
	return http.DefaultClient
}

func testClusterLogger(t *testing.T) *obs.Logger {
	t.Helper()
	log, err := obs.New(obs.NewConfig())
	require.NoError(t, err)
	return log
}

func newTestClusterHost(t *testing.T, transport cluster.NodeTransport) (*clusterHost, *cluster.Router) {
	t.Helper()
	router := cluster.NewRouter(transport, cluster.DefaultPolicy(), testClusterLogger(t))
	return newClusterHost(router, transport, testClusterLogger(t)), router
}

func TestPublishRoutesToCapacityAndRecordsHost(t *testing.T) {
	transport := newFakeTransport()
	host, router := newTestClusterHost(t, transport)
	router.RegisterNode(cluster.NewNode("node-a", "http://node-a", "tok", cluster.Capacity{PubMax: 10, SubMax: 10}))

	answer, resourcePath, err := host.Publish("cam-1", "v=0\r\noffer")
	require.NoError(t, err)
	require.Equal(t, "v=0\r\nanswer", answer)
	require.True(t, len(resourcePath) > len("/resource/"))

	require.Equal(t, []string{"node-a"}, router.HostAliases("cam-1"))
}

func TestPublishNoCapacityFails(t *testing.T) {
	transport := newFakeTransport()
	host, _ := newTestClusterHost(t, transport)

	_, _, err := host.Publish("cam-1", "v=0\r\noffer")
	require.Error(t, err)
}

func TestTeardownDeletesUpstreamResourceAndForgetsSession(t *testing.T) {
	transport := newFakeTransport()
	host, router := newTestClusterHost(t, transport)
	router.RegisterNode(cluster.NewNode("node-a", "http://node-a", "tok", cluster.Capacity{PubMax: 10, SubMax: 10}))

	_, resourcePath, err := host.Publish("cam-1", "v=0\r\noffer")
	require.NoError(t, err)

	sessionID := sessionIDFromResourcePath(resourcePath)
	host.Teardown(resourcePath)

	transport.mu.Lock()
	deleted := append([]string(nil), transport.deleted...)
	transport.mu.Unlock()
	require.Equal(t, []string{sessionID}, deleted)

	_, err = router.RouteSession(sessionID)
	require.Error(t, err)
}

func TestTeardownOnUnknownResourceIsNoop(t *testing.T) {
	host, _ := newTestClusterHost(t, newFakeTransport())
	require.NotPanics(t, func() {
		host.Teardown("/resource/does-not-exist")
	})
}

func TestPatchAlwaysSucceeds(t *testing.T) {
	host, _ := newTestClusterHost(t, newFakeTransport())
	require.NoError(t, host.Patch("/resource/anything", "candidate:1 1 UDP ..."))
}

func TestStreamInfoAndListStreamsReflectRouterState(t *testing.T) {
	host, router := newTestClusterHost(t, newFakeTransport())

	_, ok := host.StreamInfo("cam-1")
	require.False(t, ok)
	require.Empty(t, host.ListStreams())

	router.RecordStreamHost("cam-1", "node-a")

	info, ok := host.StreamInfo("cam-1")
	require.True(t, ok)
	require.Equal(t, "cam-1", info.ID)

	streams := host.ListStreams()
	require.Len(t, streams, 1)
	require.Equal(t, "cam-1", streams[0].ID)
}

func TestParseStaticNodesValid(t *testing.T) {
	nodes, err := parseStaticNodes("a=http://a:8080=tok-a,b=http://b:8080=tok-b")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	require.Equal(t, "a", nodes[0].Alias)
	require.Equal(t, "http://a:8080", nodes[0].URL)
	require.Equal(t, "tok-b", nodes[1].AdminToken)
}

func TestParseStaticNodesEmpty(t *testing.T) {
	nodes, err := parseStaticNodes("")
	require.NoError(t, err)
	require.Empty(t, nodes)
}

func TestParseStaticNodesMalformedEntry(t *testing.T) {
	_, err := parseStaticNodes("only-alias-and-url=http://a:8080")
	require.Error(t, err)
}
