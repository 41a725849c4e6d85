// Package signaling implements the WHIP/WHEP HTTP contract: a thin adapter
// translating HTTP requests into Forwarder operations and serializing ICE
// gathering completion without ever blocking the response indefinitely.
package signaling

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/liveform/mediacluster/internal/obs"
)

// IceServer describes one entry advertised via the Link: rel="ice-server"
// response header.
type IceServer struct {
	URL            string
	Username       string
	Credential     string
	CredentialType string
}

// Host creates and looks up per-stream Forwarders on behalf of the
// signaling endpoint. cmd/clustermanager and cmd/mediaserver both implement
// it — the former wraps the internal/cluster router, the latter owns a
// local Forwarder map directly.
type Host interface {
	// Publish implements set_publisher for streamID, returning the SDP
	// answer and the opaque resource path to hand back as Location.
	Publish(streamID string, offerSDP string) (answerSDP string, resourcePath string, err error)
	// Subscribe implements add_subscriber.
	Subscribe(streamID string, offerSDP string) (answerSDP string, resourcePath string, err error)
	// Patch applies a trickled ICE candidate line to the session identified
	// by resourcePath.
	Patch(resourcePath string, candidateLine string) error
	// Teardown implements remove_session via resourcePath; always
	// idempotent from the caller's point of view.
	Teardown(resourcePath string)
	// StreamInfo returns a JSON-ready snapshot of one stream, or ok=false if
	// it does not exist.
	StreamInfo(streamID string) (StreamInfo, bool)
	// ListStreams returns a snapshot of every known stream.
	ListStreams() []StreamInfo
}

// StreamInfo is the JSON shape returned by GET /streams/ and
// GET /streams/{id}, matching spec.md §6's external interface.
type StreamInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Publish   Sessions  `json:"publish"`
	Subscribe Sessions  `json:"subscribe"`
	Codecs    []string  `json:"codecs"`
}

// Sessions is the {sessions: [...]} envelope spec.md uses for both the
// publish and subscribe sides of a StreamInfo.
type Sessions struct {
	Sessions []string `json:"sessions"`
}

// Server adapts Host to net/http, implementing the public WHIP/WHEP
// surface plus the read-only stream listing endpoints. Grounded on the
// teacher's pkg/api/server.go ServeMux/middleware/timeout conventions.
type Server struct {
	host      Host
	iceServer []IceServer
	log       *obs.Logger
	events    *EventBroadcaster

	httpServer *http.Server
}

// NewServer builds a Server. iceServers is advertised verbatim on every
// successful WHIP/WHEP response.
func NewServer(host Host, iceServers []IceServer, log *obs.Logger) *Server {
	return &Server{host: host, iceServer: iceServers, log: log, events: NewEventBroadcaster(log)}
}

// Handler builds the net/http.Handler implementing the public surface,
// wrapped in CORS and request logging middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /whip/{stream}", s.handleWHIP)
	mux.HandleFunc("POST /whep/{stream}", s.handleWHEP)
	mux.HandleFunc("PATCH /resource/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /resource/{id}", s.handleDelete)
	mux.HandleFunc("GET /streams/", s.handleListStreams)
	mux.HandleFunc("GET /streams/{id}", s.handleGetStream)
	mux.HandleFunc("GET /admin/events", s.events.ServeHTTP)

	return s.withLogging(s.withCORS(mux))
}

// ListenAndServe starts an http.Server on addr with the timeouts the
// teacher's API server applies to guard against slow-client exhaustion.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info("signaling server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the listener, waiting for in-flight requests
// to complete up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, If-Match")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusCapturingWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.DebugCat(obs.CatAll, "http request", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur", time.Since(start))
	})
}

// NewSessionID generates an opaque server-issued session id, used by Host
// implementations when minting publish/subscribe session identities.
func NewSessionID() string {
	return uuid.NewString()
}
