package signaling

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/liveform/mediacluster/internal/obs"
)

func TestEventBroadcasterDeliversToConnectedClient(t *testing.T) {
	log, err := obs.New(obs.NewConfig())
	require.NoError(t, err)

	b := NewEventBroadcaster(log)
	server := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		b.mu.Lock()
		n := len(b.conns)
		b.mu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	b.Broadcast(Event{Type: "publish", StreamID: "stream1", Time: time.Now()})

	var got Event
	conn.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "publish", got.Type)
	require.Equal(t, "stream1", got.StreamID)
}

func TestEventBroadcasterDropsWhenBufferFull(t *testing.T) {
	log, err := obs.New(obs.NewConfig())
	require.NoError(t, err)
	b := NewEventBroadcaster(log)

	ch := make(chan Event, 1)
	b.conns[&websocket.Conn{}] = ch
	ch <- Event{Type: "fill"}

	require.NotPanics(t, func() {
		b.Broadcast(Event{Type: "overflow"})
	})
}
