package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liveform/mediacluster/internal/apierr"
)

const maxOfferBytes = 1 << 20 // 1 MiB: generous headroom over any real SDP offer

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, apierr.Reason(err))
}

// handleWHIP implements POST /whip/{stream}.
func (s *Server) handleWHIP(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	offer, err := readSDPBody(r)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", apierr.ErrMalformedOffer, err))
		return
	}

	answer, resourcePath, err := s.host.Publish(stream, offer)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.events.Broadcast(Event{Type: "publish", StreamID: stream, Time: time.Now()})
	s.writeAnswer(w, r, answer, resourcePath, http.StatusCreated)
}

// handleWHEP implements POST /whep/{stream}.
func (s *Server) handleWHEP(w http.ResponseWriter, r *http.Request) {
	stream := r.PathValue("stream")
	offer, err := readSDPBody(r)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", apierr.ErrMalformedOffer, err))
		return
	}

	answer, resourcePath, err := s.host.Subscribe(stream, offer)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.events.Broadcast(Event{Type: "subscribe", StreamID: stream, Time: time.Now()})
	s.writeAnswer(w, r, answer, resourcePath, http.StatusCreated)
}

func readSDPBody(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOfferBytes))
	if err != nil {
		return "", err
	}
	if len(body) == 0 {
		return "", errors.New("empty request body")
	}
	return string(body), nil
}

// writeAnswer writes the SDP answer with Location and Link headers, per
// spec.md §4.2/§6. The Link header's <scheme:host> value is serialized as
// <scheme://host> and must be normalized back to <scheme:host> by clients
// per spec.md §6's explicit note.
func (s *Server) writeAnswer(w http.ResponseWriter, r *http.Request, answerSDP, resourcePath string, status int) {
	w.Header().Set("Content-Type", "application/sdp")
	w.Header().Set("Location", resourcePath)
	for _, ice := range s.iceServer {
		w.Header().Add("Link", formatLinkHeader(ice))
	}
	w.WriteHeader(status)
	io.WriteString(w, answerSDP)
}

func formatLinkHeader(ice IceServer) string {
	url := "<" + strings.Replace(ice.URL, ":", "://", 1) + ">; rel=\"ice-server\""
	if ice.Username != "" {
		url += fmt.Sprintf("; username=%q", ice.Username)
	}
	if ice.Credential != "" {
		url += fmt.Sprintf("; credential=%q", ice.Credential)
	}
	if ice.CredentialType != "" {
		url += fmt.Sprintf("; credential-type=%q", ice.CredentialType)
	}
	return url
}

// handlePatch implements PATCH {resource}: trickle ICE.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, 8192))
	if err != nil || len(strings.TrimSpace(string(body))) == 0 {
		s.writeError(w, apierr.ErrMalformedCandidate)
		return
	}
	if err := s.host.Patch("/resource/"+id, string(body)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete implements DELETE {resource}: idempotent teardown, always
// 204 regardless of prior state.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.host.Teardown("/resource/" + id)
	s.events.Broadcast(Event{Type: "teardown", StreamID: id, Time: time.Now()})
	w.WriteHeader(http.StatusNoContent)
}

// handleListStreams implements GET /streams/.
func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	streams := s.host.ListStreams()
	writeJSON(w, http.StatusOK, streams)
}

// handleGetStream implements GET /streams/{id}.
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, ok := s.host.StreamInfo(id)
	if !ok {
		s.writeError(w, apierr.ErrStreamNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
