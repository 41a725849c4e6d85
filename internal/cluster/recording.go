package cluster

import (
	"sync"
	"time"
)

// RecordingSession is a cluster-manager-visible record of one active
// recorder instance running on a node, supplemented from
// original_source/liveman/src/service/recording_sessions.rs (dropped by
// the distillation): nodes own and run the recorder themselves
// (internal/recorder), but the manager tracks which stream is being
// recorded where, for GET /admin/recordings.
type RecordingSession struct {
	StreamID            string    `json:"stream_id"`
	Node                string    `json:"node"`
	StartedAt           time.Time `json:"started_at"`
	SegmentCount        uint64    `json:"segment_count"`
	LastManifestWriteAt time.Time `json:"last_manifest_write_at"`
}

// RecordingRegistry is a thread-safe index of active RecordingSessions,
// keyed by stream ID (a stream records on at most one node at a time,
// matching the Forwarder's single-publisher invariant).
type RecordingRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*RecordingSession
}

// NewRecordingRegistry builds an empty RecordingRegistry.
func NewRecordingRegistry() *RecordingRegistry {
	return &RecordingRegistry{sessions: make(map[string]*RecordingSession)}
}

// Start registers a new recording session for streamID, replacing any
// prior entry (a stale entry from a node that crashed without
// deregistering would otherwise block the stream from ever recording
// again).
func (r *RecordingRegistry) Start(streamID, node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[streamID] = &RecordingSession{StreamID: streamID, Node: node, StartedAt: time.Now()}
}

// Heartbeat updates the segment count and manifest-write timestamp for an
// in-progress recording, a no-op if the session isn't registered.
func (r *RecordingRegistry) Heartbeat(streamID string, segmentCount uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[streamID]
	if !ok {
		return
	}
	sess.SegmentCount = segmentCount
	sess.LastManifestWriteAt = time.Now()
}

// Stop deregisters streamID's recording session.
func (r *RecordingRegistry) Stop(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, streamID)
}

// List returns a snapshot of every active recording session.
func (r *RecordingRegistry) List() []RecordingSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordingSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	return out
}
