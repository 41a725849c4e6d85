// Package cluster implements the cluster router: node registry, WHIP/WHEP
// routing across nodes, and cascade/reforward when no single node can
// serve a subscriber directly.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liveform/mediacluster/internal/apierr"
	"github.com/liveform/mediacluster/internal/obs"
)

// Policy tunes cascade behavior.
type Policy struct {
	// CloseOtherSub evicts a cascade source's existing subscribers after a
	// successful reforward, biasing them toward the new downstream node.
	CloseOtherSub bool
	// CascadePollInterval/CascadePollAttempts bound how long the router
	// waits for a stream to appear on the cascade destination.
	CascadePollInterval time.Duration
	CascadePollAttempts int
	// RefreshInterval is the background updater's polling cadence.
	RefreshInterval time.Duration
	// StaleGenerations is how many consecutive failed polls a node
	// tolerates before eviction.
	StaleGenerations int
}

// DefaultPolicy matches the cadences implied by spec.md §4.3 ("every few
// seconds", "bounded retry count x interval", "bounded generations").
func DefaultPolicy() Policy {
	return Policy{
		CascadePollInterval: 500 * time.Millisecond,
		CascadePollAttempts: 10,
		RefreshInterval:     3 * time.Second,
		StaleGenerations:    3,
	}
}

// SessionKind distinguishes a publish (WHIP) session from a subscribe
// (WHEP) session in the router's session→node bookkeeping, so cascade
// eviction can target subscribers only.
type SessionKind int

const (
	SessionPublish SessionKind = iota
	SessionSubscribe
)

// sessionRecord is what the router remembers about a routed session: which
// node it landed on, which stream it belongs to, and whether it publishes
// or subscribes — the dimensions evictOtherSubscribers needs to scope a
// cascade eviction to "src's subscribers of this stream" rather than every
// session the router has ever routed to src.
type sessionRecord struct {
	nodeAlias string
	streamID  string
	kind      SessionKind
}

// Router owns the cluster-wide node registry and the stream/session
// routing tables, grounded on original_source/liveman/src/mem.rs
// (MemStorage) and liveman/src/route/proxy.rs (routing algorithms).
type Router struct {
	mu          sync.RWMutex
	nodes       map[string]*Node
	streamNodes map[string][]string      // stream -> ordered node aliases hosting it
	sessions    map[string]sessionRecord // session -> {node, stream, kind}

	transport NodeTransport
	policy    Policy
	limiter   *rate.Limiter
	log       *obs.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouter builds a Router. limiter caps the rate at which admin polls
// start (20 per second, burst 20), grounded on the teacher's golang.org/x/time/rate usage
// in pkg/nest/queue.go.
func NewRouter(transport NodeTransport, policy Policy, log *obs.Logger) *Router {
	return &Router{
		nodes:       make(map[string]*Node),
		streamNodes: make(map[string][]string),
		sessions:    make(map[string]sessionRecord),
		transport:   transport,
		policy:      policy,
		limiter:     rate.NewLimiter(rate.Limit(20), 20),
		log:         log,
	}
}

// RegisterNode adds or replaces a node in the cluster registry.
func (r *Router) RegisterNode(n *Node) {
	r.mu.Lock()
	r.nodes[n.Alias] = n
	r.mu.Unlock()
}

// DeregisterNode removes a node and every stream-hosting record pointing
// to it.
func (r *Router) DeregisterNode(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, alias)
	for stream, hosts := range r.streamNodes {
		r.streamNodes[stream] = removeString(hosts, alias)
	}
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// Start launches the background strategy/infos updater.
func (r *Router) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.updateLoop(ctx)
}

// Stop halts the background updater and waits for it to exit.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Router) updateLoop(ctx context.Context) {
	defer r.wg.Done()
	interval := r.policy.RefreshInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

// refreshAll polls every registered node's /admin/infos and /admin/strategy
// concurrently, rate-limited, and evicts nodes stale beyond
// Policy.StaleGenerations.
func (r *Router) refreshAll(ctx context.Context) {
	r.mu.RLock()
	nodes := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, n := range nodes {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			r.refreshOne(ctx, n)
		}()
	}
	wg.Wait()
}

func (r *Router) refreshOne(ctx context.Context, n *Node) {
	start := time.Now()
	strategy, err := r.transport.GetStrategy(ctx, n)
	rtt := time.Since(start)
	if err != nil {
		if r.policy.StaleGenerations > 0 && n.MarkStale(r.policy.StaleGenerations) {
			r.log.Warn("evicting stale node", "node", n.Alias, "err", err)
			r.DeregisterNode(n.Alias)
		}
		return
	}
	n.UpdateSnapshot(Usage{
		Stream:           strategy.Stream,
		Publish:          strategy.Publish,
		Subscribe:        strategy.Subscribe,
		Reforward:        strategy.Reforward,
		ReforwardCascade: strategy.ReforwardCascade,
	}, rtt)
	n.mu.Lock()
	n.Capacity = Capacity{PubMax: strategy.PubMax, SubMax: strategy.SubMax}
	n.mu.Unlock()

	infos, err := r.transport.GetInfos(ctx, n, "")
	if err != nil {
		return
	}
	r.mu.Lock()
	for _, stream := range infos.Streams {
		if !containsString(r.streamNodes[stream], n.Alias) {
			r.streamNodes[stream] = append(r.streamNodes[stream], n.Alias)
		}
	}
	r.mu.Unlock()
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Streams returns every stream ID the router currently knows a host for,
// used to answer GET /streams/ at the cluster-manager level.
func (r *Router) Streams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.streamNodes))
	for streamID, hosts := range r.streamNodes {
		if len(hosts) > 0 {
			out = append(out, streamID)
		}
	}
	return out
}

// HostAliases returns the node aliases currently recorded as hosting
// streamID, in recorded order.
func (r *Router) HostAliases(streamID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aliases := r.streamNodes[streamID]
	out := make([]string, len(aliases))
	copy(out, aliases)
	return out
}

// hostsFor returns the nodes currently known to host stream, in recorded
// order (first-hit first).
func (r *Router) hostsFor(streamID string) []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aliases := r.streamNodes[streamID]
	out := make([]*Node, 0, len(aliases))
	for _, alias := range aliases {
		if n, ok := r.nodes[alias]; ok {
			out = append(out, n)
		}
	}
	return out
}

// RouteWHIP implements the WHIP routing algorithm: co-locate with any
// existing host for the stream (no rebalancing — an explicit Open Question
// decision, see DESIGN.md), otherwise pick the node with the most idle
// publish capacity, tie-broken by lowest RTT.
func (r *Router) RouteWHIP(streamID string) (*Node, error) {
	if hosts := r.hostsFor(streamID); len(hosts) > 0 {
		return hosts[0], nil
	}

	r.mu.RLock()
	candidates := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.HasPubCapacity() {
			candidates = append(candidates, n)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, apierr.ErrNoCapacity
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PubIdle() != candidates[j].PubIdle() {
			return candidates[i].PubIdle() > candidates[j].PubIdle()
		}
		return candidates[i].RTT() < candidates[j].RTT()
	})
	return candidates[0], nil
}

// RecordStreamHost records that streamID is now hosted on node (called
// after the first successful 201 from a WHIP proxy).
func (r *Router) RecordStreamHost(streamID, nodeAlias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !containsString(r.streamNodes[streamID], nodeAlias) {
		r.streamNodes[streamID] = append(r.streamNodes[streamID], nodeAlias)
	}
}

// RouteSession looks up the node hosting sessionID, used for every
// non-creation request (PATCH/DELETE/layer ops): unknown session is always
// a 404, the route never guesses.
func (r *Router) RouteSession(sessionID string) (*Node, error) {
	r.mu.RLock()
	rec, ok := r.sessions[sessionID]
	if !ok {
		r.mu.RUnlock()
		return nil, apierr.ErrSessionNotFound
	}
	n, ok := r.nodes[rec.nodeAlias]
	r.mu.RUnlock()
	if !ok {
		return nil, apierr.ErrSessionNotFound
	}
	return n, nil
}

// RecordSessionHost records a session's hosting node, stream, and kind
// (publish or subscribe). The stream/kind are what let cascade eviction
// later scope itself to a single stream's subscribers.
func (r *Router) RecordSessionHost(sessionID, nodeAlias, streamID string, kind SessionKind) {
	r.mu.Lock()
	r.sessions[sessionID] = sessionRecord{nodeAlias: nodeAlias, streamID: streamID, kind: kind}
	r.mu.Unlock()
}

// RemoveSessionHost forgets a session's hosting node record (called on
// teardown).
func (r *Router) RemoveSessionHost(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// RouteWHEP implements the WHEP routing algorithm, invoking cascade when
// no existing host has spare subscribe capacity.
func (r *Router) RouteWHEP(ctx context.Context, streamID string) (*Node, error) {
	hosts := r.hostsFor(streamID)
	if len(hosts) == 0 {
		return nil, apierr.ErrStreamNotFound
	}

	best := bestBySubIdle(hosts)
	if best != nil && best.HasSubCapacity() {
		return best, nil
	}

	return r.cascade(ctx, streamID, hosts)
}

func bestBySubIdle(nodes []*Node) *Node {
	if len(nodes) == 0 {
		return nil
	}
	best := nodes[0]
	for _, n := range nodes[1:] {
		if n.SubIdle() > best.SubIdle() {
			best = n
		}
	}
	return best
}

// cascade implements the reforward algorithm from spec.md §4.3: choose a
// source among the stream's current hosts (preferring one with
// reforward_cascade=true), choose a destination with maximum idle
// subscribe capacity among nodes not already hosting the stream, instruct
// the source to reforward, then poll the destination until the stream
// appears.
func (r *Router) cascade(ctx context.Context, streamID string, hosts []*Node) (*Node, error) {
	src := chooseCascadeSource(hosts)
	if src == nil {
		return nil, apierr.ErrNoCapacity
	}

	dst := r.chooseCascadeDestination(streamID, hosts)
	if dst == nil {
		return nil, apierr.ErrNoCapacity
	}

	targetURL := fmt.Sprintf("%s/whip/%s", dst.URL, streamID)
	if err := r.transport.PostReforward(ctx, src, streamID, targetURL, dst.AdminToken); err != nil {
		return nil, fmt.Errorf("%w: %v", apierr.ErrCascadeFailed, err)
	}

	if !r.pollForStream(ctx, dst, streamID) {
		return nil, apierr.ErrCascadeFailed
	}

	r.RecordStreamHost(streamID, dst.Alias)

	if r.policy.CloseOtherSub {
		go r.evictOtherSubscribers(ctx, src, streamID)
	}

	return dst, nil
}

func chooseCascadeSource(hosts []*Node) *Node {
	for _, n := range hosts {
		if n.ReforwardCascade() {
			return n
		}
	}
	if len(hosts) > 0 {
		return hosts[0]
	}
	return nil
}

func (r *Router) chooseCascadeDestination(streamID string, hosts []*Node) *Node {
	hostSet := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		hostSet[h.Alias] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Node
	for alias, n := range r.nodes {
		if hostSet[alias] {
			continue
		}
		if best == nil || n.SubIdle() > best.SubIdle() {
			best = n
		}
	}
	return best
}

func (r *Router) pollForStream(ctx context.Context, node *Node, streamID string) bool {
	interval := r.policy.CascadePollInterval
	attempts := r.policy.CascadePollAttempts
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if attempts <= 0 {
		attempts = 10
	}

	for i := 0; i < attempts; i++ {
		infos, err := r.transport.GetInfos(ctx, node, streamID)
		if err == nil {
			for _, s := range infos.Streams {
				if s == streamID {
					return true
				}
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return false
}

// evictOtherSubscribers closes src's existing subscribers for streamID,
// biasing eviction toward downstream nodes, once a cascade succeeds and
// the CloseOtherSub policy is enabled. Only sessions recorded against src,
// for this exact stream, and of kind SessionSubscribe are candidates —
// unrelated streams' sessions and src's own publisher session are left
// alone.
func (r *Router) evictOtherSubscribers(ctx context.Context, src *Node, streamID string) {
	r.mu.RLock()
	var victims []string
	for sessionID, rec := range r.sessions {
		if rec.nodeAlias == src.Alias && rec.streamID == streamID && rec.kind == SessionSubscribe {
			victims = append(victims, sessionID)
		}
	}
	r.mu.RUnlock()

	for _, sessionID := range victims {
		if err := r.transport.DeleteResource(ctx, src, streamID, sessionID); err != nil {
			r.log.Warn("cascade eviction failed", "node", src.Alias, "session", sessionID, "err", err)
			continue
		}
		r.RemoveSessionHost(sessionID)
	}
}
