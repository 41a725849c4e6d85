package media

import "sync"

// Registry is a process-wide, reader-biased index of live Streams and
// Sessions. It holds weak handles in the sense spec.md describes: entries
// are placed and removed by whoever owns the underlying Session/Stream (the
// forwarder), never reference-counted, and the registry itself never keeps
// an entry alive past its owner's Close call — looking something up here
// after its owner tore it down simply returns "not found". Grounded on the
// RWMutex-guarded state map in the teacher's pkg/nest/multi_manager.go.
type Registry struct {
	mu       sync.RWMutex
	streams  map[string]*Stream
	sessions map[string]*Session
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		streams:  make(map[string]*Stream),
		sessions: make(map[string]*Session),
	}
}

// PutStream registers or replaces the Stream entry for its ID.
func (r *Registry) PutStream(s *Stream) {
	r.mu.Lock()
	r.streams[s.ID] = s
	r.mu.Unlock()
}

// Stream looks up a Stream by ID.
func (r *Registry) Stream(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// RemoveStream deletes the Stream entry for id, if present.
func (r *Registry) RemoveStream(id string) {
	r.mu.Lock()
	delete(r.streams, id)
	r.mu.Unlock()
}

// Streams returns a snapshot of every registered Stream.
func (r *Registry) Streams() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// PutSession registers or replaces the Session entry for its ID.
func (r *Registry) PutSession(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Session looks up a Session by ID.
func (r *Registry) Session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// RemoveSession deletes the Session entry for id, if present. It does not
// close the session; callers close first, then remove, or rely on the
// session's own Close callback to call this.
func (r *Registry) RemoveSession(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// SessionsForStream returns every registered session belonging to
// streamID. O(n) in total session count; acceptable at the per-node scale
// this registry serves (cluster-wide session counts live in
// internal/cluster, not here).
func (r *Registry) SessionsForStream(streamID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.StreamID == streamID {
			out = append(out, s)
		}
	}
	return out
}
