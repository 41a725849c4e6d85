// Package media defines the Stream/Session/Track data model shared by the
// forwarder and signaling layers, and a process-wide Session registry that
// holds weak references only — it never itself keeps a session alive.
package media

import (
	"sync"
	"time"
)

// StreamState is the lifecycle state of a Stream.
type StreamState int

const (
	StreamCreated StreamState = iota
	StreamPublishing
	StreamIdle
)

func (s StreamState) String() string {
	switch s {
	case StreamCreated:
		return "created"
	case StreamPublishing:
		return "publishing"
	case StreamIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// SessionKind distinguishes a publishing session from a subscribing one.
type SessionKind int

const (
	SessionPublish SessionKind = iota
	SessionSubscribe
)

// SessionState is the lifecycle state of a Session, matching the state
// machine every forwarder session follows regardless of kind.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionConnecting
	SessionConnected
	SessionDisconnected
	SessionFailed
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionDisconnected:
		return "disconnected"
	case SessionFailed:
		return "failed"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TrackKind is video or audio.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// Track describes one publisher media track.
type Track struct {
	Kind        TrackKind
	Codec       string
	SSRC        uint32
	PayloadType uint8
}

// Session is one WHIP/WHEP-issued resource: one peer connection, one HTTP
// resource URL, and (for cascade sessions) a marker naming the upstream
// node it was reforwarded from.
type Session struct {
	mu sync.RWMutex

	ID          string
	Kind        SessionKind
	ResourceURL string
	StreamID    string
	CascadeFrom string // upstream node alias, empty for non-cascade sessions

	state     SessionState
	createdAt time.Time
	closeFn   func()
}

// NewSession constructs a Session in the New state.
func NewSession(id string, kind SessionKind, streamID, resourceURL string, closeFn func()) *Session {
	return &Session{
		ID:          id,
		Kind:        kind,
		ResourceURL: resourceURL,
		StreamID:    streamID,
		state:       SessionNew,
		createdAt:   time.Now(),
		closeFn:     closeFn,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the session to state. It does not validate the
// transition against the state machine diagram; callers (the forwarder's
// ICE/connection-state handlers) are the sole place transitions originate.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Terminal reports whether the session is in a state equivalent to
// teardown (FAILED or CLOSED).
func (s *Session) Terminal() bool {
	st := s.State()
	return st == SessionFailed || st == SessionClosed
}

// Close transitions the session to CLOSED and invokes its teardown
// callback exactly once. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	alreadyClosed := s.state == SessionClosed
	s.state = SessionClosed
	fn := s.closeFn
	s.closeFn = nil
	s.mu.Unlock()
	if !alreadyClosed && fn != nil {
		fn()
	}
}

// Stream is the cluster-visible unit of one published identity: at most
// one local publisher track of each kind, and any number of subscriber
// sessions.
type Stream struct {
	mu sync.RWMutex

	ID        string
	state     StreamState
	createdAt time.Time
	idleSince time.Time
	tracks    map[TrackKind]*Track
}

// NewStream constructs an empty Stream in the Created state.
func NewStream(id string) *Stream {
	return &Stream{ID: id, state: StreamCreated, createdAt: time.Now(), tracks: make(map[TrackKind]*Track)}
}

// CreatedAt returns when the stream was first registered.
func (s *Stream) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetPublishing marks the stream as actively publishing, recording track.
func (s *Stream) SetPublishing(track *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[track.Kind] = track
	s.state = StreamPublishing
	s.idleSince = time.Time{}
}

// MarkIdle marks the stream idle (no active publisher) starting now. The
// caller (forwarder) decides whether to keep subscriber sessions alive.
func (s *Stream) MarkIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = make(map[TrackKind]*Track)
	s.state = StreamIdle
	s.idleSince = time.Now()
}

// IdleFor returns how long the stream has been idle, or zero if not idle.
func (s *Stream) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StreamIdle || s.idleSince.IsZero() {
		return 0
	}
	return time.Since(s.idleSince)
}

// Track returns the current track of the given kind, if any.
func (s *Stream) Track(kind TrackKind) (*Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[kind]
	return t, ok
}

// Tracks returns a snapshot of all current tracks.
func (s *Stream) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}
