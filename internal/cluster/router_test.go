package cluster

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liveform/mediacluster/internal/apierr"
	"github.com/liveform/mediacluster/internal/obs"
)

type fakeTransport struct {
	mu        sync.Mutex
	strategy  map[string]StrategyResponse
	infos     map[string]InfosResponse
	reforward []string
	deleted   []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{strategy: map[string]StrategyResponse{}, infos: map[string]InfosResponse{}}
}

func (f *fakeTransport) GetInfos(ctx context.Context, node *Node, streamID string) (InfosResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infos[node.Alias], nil
}

func (f *fakeTransport) GetStrategy(ctx context.Context, node *Node) (StrategyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strategy[node.Alias], nil
}

func (f *fakeTransport) PostReforward(ctx context.Context, node *Node, streamID, targetURL, targetAuth string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reforward = append(f.reforward, node.Alias+"->"+targetURL)
	// Simulate the destination node picking up the stream asynchronously.
	return nil
}

func (f *fakeTransport) DeleteResource(ctx context.Context, node *Node, streamID, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeTransport) ProxyWHIP(ctx context.Context, node *Node, streamID, offerSDP string) (string, string, error) {
	return "", "", nil
}

func (f *fakeTransport) ProxyWHEP(ctx context.Context, node *Node, streamID, offerSDP string) (string, string, error) {
	return "", "", nil
}

func (f *fakeTransport) HTTPClient() *http.Client {
	return http.DefaultClient
}

func newTestRouter(t *testing.T, transport NodeTransport) *Router {
	log, err := obs.New(obs.NewConfig())
	require.NoError(t, err)
	return NewRouter(transport, DefaultPolicy(), log)
}

func TestRouteWHIPColocatesWithExistingHost(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	a := NewNode("node-a", "http://a", "tok", Capacity{PubMax: 10, SubMax: 10})
	b := NewNode("node-b", "http://b", "tok", Capacity{PubMax: 10, SubMax: 10})
	r.RegisterNode(a)
	r.RegisterNode(b)
	r.RecordStreamHost("cam-1", "node-a")

	picked, err := r.RouteWHIP("cam-1")
	require.NoError(t, err)
	require.Equal(t, "node-a", picked.Alias)
}

func TestRouteWHIPPicksHighestIdleCapacity(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	a := NewNode("node-a", "http://a", "tok", Capacity{PubMax: 10, SubMax: 10})
	b := NewNode("node-b", "http://b", "tok", Capacity{PubMax: 10, SubMax: 10})
	a.UpdateSnapshot(Usage{Stream: 8}, time.Millisecond)
	b.UpdateSnapshot(Usage{Stream: 2}, time.Millisecond)
	r.RegisterNode(a)
	r.RegisterNode(b)

	picked, err := r.RouteWHIP("cam-new")
	require.NoError(t, err)
	require.Equal(t, "node-b", picked.Alias)
}

func TestRouteWHIPNoCapacity(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	a := NewNode("node-a", "http://a", "tok", Capacity{PubMax: 1, SubMax: 1})
	a.UpdateSnapshot(Usage{Stream: 1}, 0)
	r.RegisterNode(a)

	_, err := r.RouteWHIP("cam-new")
	require.ErrorIs(t, err, apierr.ErrNoCapacity)
}

func TestRouteSessionUnknownIs404Equivalent(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	_, err := r.RouteSession("nope")
	require.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestRouteWHEPCascadeWhenNoCapacity(t *testing.T) {
	transport := newFakeTransport()
	r := newTestRouter(t, transport)

	src := NewNode("src", "http://src", "tok", Capacity{PubMax: 10, SubMax: 1})
	dst := NewNode("dst", "http://dst", "tok", Capacity{PubMax: 10, SubMax: 10})
	src.UpdateSnapshot(Usage{Subscribe: 1}, 0) // already at sub_max
	r.RegisterNode(src)
	r.RegisterNode(dst)
	r.RecordStreamHost("cam-1", "src")

	transport.mu.Lock()
	transport.infos["dst"] = InfosResponse{Streams: []string{"cam-1"}}
	transport.mu.Unlock()

	r.policy.CascadePollInterval = time.Millisecond
	r.policy.CascadePollAttempts = 3

	picked, err := r.RouteWHEP(context.Background(), "cam-1")
	require.NoError(t, err)
	require.Equal(t, "dst", picked.Alias)
	require.Len(t, transport.reforward, 1)
}

func TestCascadeEvictionOnlyTargetsSameStreamSubscribersOnSrc(t *testing.T) {
	transport := newFakeTransport()
	r := newTestRouter(t, transport)
	r.policy.CloseOtherSub = true
	r.policy.CascadePollInterval = time.Millisecond
	r.policy.CascadePollAttempts = 3

	src := NewNode("src", "http://src", "tok", Capacity{PubMax: 10, SubMax: 1})
	dst := NewNode("dst", "http://dst", "tok", Capacity{PubMax: 10, SubMax: 10})
	src.UpdateSnapshot(Usage{Subscribe: 1}, 0)
	r.RegisterNode(src)
	r.RegisterNode(dst)
	r.RecordStreamHost("cam-1", "src")

	r.RecordSessionHost("pub-cam-1", "src", "cam-1", SessionPublish)
	r.RecordSessionHost("sub-cam-1", "src", "cam-1", SessionSubscribe)
	r.RecordSessionHost("sub-cam-2", "src", "cam-2", SessionSubscribe)

	transport.mu.Lock()
	transport.infos["dst"] = InfosResponse{Streams: []string{"cam-1"}}
	transport.mu.Unlock()

	_, err := r.RouteWHEP(context.Background(), "cam-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return len(transport.deleted) == 1
	}, time.Second, time.Millisecond)

	transport.mu.Lock()
	deleted := append([]string(nil), transport.deleted...)
	transport.mu.Unlock()
	require.Equal(t, []string{"sub-cam-1"}, deleted)
}

func TestRouteWHEPUnknownStream(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	_, err := r.RouteWHEP(context.Background(), "missing")
	require.ErrorIs(t, err, apierr.ErrStreamNotFound)
}

func TestStreamsListsOnlyStreamsWithHosts(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	r.RecordStreamHost("cam-1", "node-a")
	r.RecordStreamHost("cam-2", "node-b")
	r.RecordStreamHost("cam-3", "node-c")
	r.DeregisterNode("node-c")

	require.ElementsMatch(t, []string{"cam-1", "cam-2"}, r.Streams())
}

func TestHostAliasesReturnsRecordedOrderAndIsolatesCaller(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	r.RecordStreamHost("cam-1", "node-a")
	r.RecordStreamHost("cam-1", "node-b")

	aliases := r.HostAliases("cam-1")
	require.Equal(t, []string{"node-a", "node-b"}, aliases)

	aliases[0] = "mutated"
	require.Equal(t, []string{"node-a", "node-b"}, r.HostAliases("cam-1"), "mutating the returned slice must not affect router state")
}

func TestHostAliasesUnknownStreamIsEmpty(t *testing.T) {
	r := newTestRouter(t, newFakeTransport())
	require.Empty(t, r.HostAliases("missing"))
}
