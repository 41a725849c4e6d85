// Package bus implements the Track Bus: fan-out of one publisher track's
// RTP packets to many subscriber queues, each bounded and independently
// backpressured so one slow subscriber cannot stall the publisher or other
// subscribers.
package bus

import (
	"sync"

	"github.com/pion/rtp"

	"github.com/liveform/mediacluster/internal/obs"
)

// QueueDepth is the bounded channel capacity per subscriber, matching the
// reference forwarder's per-subscription channel size.
const QueueDepth = 32

// Policy controls what happens when a subscriber's queue is full.
type Policy int

const (
	// DropOldest discards the queue's oldest buffered packet to make room
	// for the new one. Used for media packets, where a stale frame is
	// worse than a gap the decoder can conceal with its own PLI/NACK path.
	DropOldest Policy = iota
	// DropNewest discards the incoming packet, leaving the queue untouched.
	// Used for control-plane forwarding where preserving order matters more
	// than freshness.
	DropNewest
)

// Subscriber receives packets published to a Bus.
type Subscriber struct {
	id      string
	queue   chan *rtp.Packet
	policy  Policy
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

func newSubscriber(id string, policy Policy) *Subscriber {
	return &Subscriber{id: id, queue: make(chan *rtp.Packet, QueueDepth), policy: policy}
}

// C returns the channel the subscriber should range over to receive
// packets. It is closed when the subscriber is removed from its Bus.
func (s *Subscriber) C() <-chan *rtp.Packet {
	return s.queue
}

// Dropped returns the number of packets discarded for this subscriber due
// to backpressure.
func (s *Subscriber) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) publish(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- pkt:
		return
	default:
	}
	switch s.policy {
	case DropNewest:
		s.dropped++
	case DropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- pkt:
		default:
		}
		s.dropped++
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// Bus fans out packets from one publisher track to its current subscriber
// set. A Bus has no goroutine of its own: the publisher's read loop calls
// Publish directly, and each subscriber's write loop ranges over its own
// channel — matching the "explicit push, no hidden coroutine" shape used
// throughout the forwarder.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	log         *obs.Logger
}

// New creates an empty Bus. log may be nil, in which case bus events are
// not logged.
func New(log *obs.Logger) *Bus {
	return &Bus{subscribers: make(map[string]*Subscriber), log: log}
}

// Subscribe registers a new subscriber under id with the given backpressure
// policy, replacing any existing subscriber registered under the same id.
func (b *Bus) Subscribe(id string, policy Policy) *Subscriber {
	sub := newSubscriber(id, policy)
	b.mu.Lock()
	if old, ok := b.subscribers[id]; ok {
		old.close()
	}
	b.subscribers[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes the subscriber registered under id, if
// any.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish fans pkt out to every current subscriber. Packets are not copied;
// callers must treat pkt as immutable once published, since multiple
// subscriber goroutines may read it concurrently.
func (b *Bus) Publish(pkt *rtp.Packet) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		sub.publish(pkt)
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// CloseAll unsubscribes and closes every current subscriber, used when the
// publisher track ends.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}
