package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/liveform/mediacluster/internal/cluster"
)

// buildAdminMux layers the RecordingSession endpoints spec.md §3.1's
// expansion calls for (GET /admin/recordings plus the node-facing
// start/stop notifications) on top of the shared WHIP/WHEP signaling
// handler, which remains the fallback for every other path.
func buildAdminMux(signalingHandler http.Handler, recordings *cluster.RecordingRegistry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/recordings", handleListRecordings(recordings))
	mux.HandleFunc("POST /admin/recordings/{stream}", handleRecordingStarted(recordings))
	mux.HandleFunc("DELETE /admin/recordings/{stream}", handleRecordingStopped(recordings))
	mux.Handle("/", signalingHandler)
	return mux
}

type recordingNotification struct {
	Node string `json:"node"`
}

func handleListRecordings(recordings *cluster.RecordingRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recordings.List())
	}
}

func handleRecordingStarted(recordings *cluster.RecordingRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamID := r.PathValue("stream")
		var body recordingNotification
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		recordings.Start(streamID, body.Node)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleRecordingStopped(recordings *cluster.RecordingRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamID := r.PathValue("stream")
		recordings.Stop(streamID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
