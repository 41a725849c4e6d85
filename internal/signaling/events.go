package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liveform/mediacluster/internal/obs"
)

// Event describes one stream/session churn notification pushed to
// connected admin dashboards.
type Event struct {
	Type     string    `json:"type"` // "publish", "subscribe", "teardown"
	StreamID string    `json:"stream_id"`
	Time     time.Time `json:"time"`
}

// EventBroadcaster fans out Events to every connected GET /admin/events
// websocket client. Grounded on the teacher's n0remac-robot-webrtc-derived
// gorilla/websocket usage pattern: one goroutine per connection writing
// off a per-connection buffered channel, so one slow dashboard can never
// block stream/session handling.
type EventBroadcaster struct {
	upgrader websocket.Upgrader
	log      *obs.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]chan Event
}

// NewEventBroadcaster builds an EventBroadcaster that accepts connections
// from any origin, matching the signaling server's existing CORS policy.
func NewEventBroadcaster(log *obs.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log,
		conns:    make(map[*websocket.Conn]chan Event),
	}
}

// ServeHTTP upgrades the connection and streams Events to it until the
// client disconnects.
func (b *EventBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("admin events upgrade failed", "error", err)
		return
	}

	ch := make(chan Event, 32)
	b.mu.Lock()
	b.conns[conn] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		conn.Close()
	}()

	// Drain the read side so pings/close frames are handled, even though
	// this is a push-only protocol with no client-to-server messages.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Broadcast pushes ev to every connected client's buffered channel,
// dropping it for any client whose buffer is already full rather than
// blocking the caller (which is on the hot WHIP/WHEP request path).
func (b *EventBroadcaster) Broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.conns {
		select {
		case ch <- ev:
		default:
			b.log.DebugCat(obs.CatAll, "dropping admin event: client buffer full")
		}
	}
}
