package cluster

import (
	"sync"
	"time"
)

// Capacity is a node's advertised admission limits.
type Capacity struct {
	PubMax uint32
	SubMax uint32
}

// Usage is a node's last-reported load, refreshed by the background
// updater from /admin/infos and /admin/strategy.
type Usage struct {
	Stream           uint32
	Publish          uint32
	Subscribe        uint32
	Reforward        uint32
	ReforwardCascade bool
}

// Node is one cluster member, grounded on
// original_source/liveman/src/mem.rs's Server/Node pair (alias, token, url,
// capacity, and the last-seen strategy snapshot folded into one type here
// rather than Rust's separate wire/storage representations).
type Node struct {
	mu sync.RWMutex

	Alias      string
	URL        string
	AdminToken string
	Capacity   Capacity

	usage       Usage
	measuredRTT time.Duration
	lastSeen    time.Time
	staleGen    int
}

// NewNode constructs a Node with the given static identity and capacity.
func NewNode(alias, url, adminToken string, cap Capacity) *Node {
	return &Node{Alias: alias, URL: url, AdminToken: adminToken, Capacity: cap, lastSeen: time.Now()}
}

// UpdateSnapshot records a fresh infos/strategy poll result.
func (n *Node) UpdateSnapshot(usage Usage, rtt time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.usage = usage
	n.measuredRTT = rtt
	n.lastSeen = time.Now()
	n.staleGen = 0
}

// MarkStale increments the stale-generation counter on a failed poll and
// reports whether the node has now exceeded the eviction threshold.
func (n *Node) MarkStale(maxGenerations int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.staleGen++
	return n.staleGen > maxGenerations
}

// Usage returns the last-known usage snapshot.
func (n *Node) Usage() Usage {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.usage
}

// RTT returns the last-measured round trip time to this node's admin API.
func (n *Node) RTT() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.measuredRTT
}

// SubIdle returns sub_max - subscribe, the WHEP/cascade-destination
// ranking quantity from spec.md §4.3. Negative results clamp to 0.
func (n *Node) SubIdle() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	idle := int64(n.Capacity.SubMax) - int64(n.usage.Subscribe)
	if idle < 0 {
		return 0
	}
	return idle
}

// PubIdle returns pub_max - stream, the WHIP destination ranking quantity.
func (n *Node) PubIdle() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	idle := int64(n.Capacity.PubMax) - int64(n.usage.Stream)
	if idle < 0 {
		return 0
	}
	return idle
}

// HasPubCapacity reports stream < pub_max at the cached snapshot.
func (n *Node) HasPubCapacity() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.usage.Stream < n.Capacity.PubMax
}

// HasSubCapacity reports subscribe < sub_max at the cached snapshot.
func (n *Node) HasSubCapacity() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.usage.Subscribe < n.Capacity.SubMax
}

// ReforwardCascade reports whether this node advertises itself as a valid
// cascade source (the reference's reforward_cascade flag).
func (n *Node) ReforwardCascade() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.usage.ReforwardCascade
}
