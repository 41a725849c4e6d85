package main

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/liveform/mediacluster/internal/cluster"
	"github.com/liveform/mediacluster/internal/obs"
	"github.com/liveform/mediacluster/internal/signaling"
)

// clusterHost implements signaling.Host by routing each request to a node
// via cluster.Router, then proxying the SDP offer/answer through
// cluster.NodeTransport rather than issuing an HTTP redirect — mirroring
// liveman/src/route/proxy.rs's whip()/whep(), which terminates the client
// connection at the manager and relays to the chosen node itself.
type clusterHost struct {
	router    *cluster.Router
	transport cluster.NodeTransport
	log       *obs.Logger

	mu          sync.Mutex
	sessionNode map[string]string // resource session id -> node alias
}

// newClusterHost builds a clusterHost. RecordingSession tracking
// (GET /admin/recordings) is wired separately in admin.go, since it has
// no bearing on WHIP/WHEP routing itself.
func newClusterHost(router *cluster.Router, transport cluster.NodeTransport, log *obs.Logger) *clusterHost {
	return &clusterHost{
		router:      router,
		transport:   transport,
		log:         log,
		sessionNode: make(map[string]string),
	}
}

// Publish implements signaling.Host: route to a node with idle publish
// capacity (or the stream's existing host), proxy the offer, then record
// the winning node as the stream's and session's host.
func (h *clusterHost) Publish(streamID, offerSDP string) (string, string, error) {
	node, err := h.router.RouteWHIP(streamID)
	if err != nil {
		return "", "", err
	}

	// The node's own resource path is an internal implementation detail once
	// proxied; the manager mints its own session id for the external one.
	answer, _, err := h.transport.ProxyWHIP(context.Background(), node, streamID, offerSDP)
	if err != nil {
		return "", "", err
	}

	sessionID := signaling.NewSessionID()
	h.router.RecordStreamHost(streamID, node.Alias)
	h.router.RecordSessionHost(sessionID, node.Alias, streamID, cluster.SessionPublish)
	h.recordSessionNode(sessionID, node.Alias)

	h.log.Info("routed publish", "stream", streamID, "node", node.Alias)
	return answer, "/resource/" + sessionID, nil
}

// Subscribe implements signaling.Host: route to an existing host with
// spare subscribe capacity, cascading to a new node first if none has
// room, then proxy the offer to whichever node was chosen.
func (h *clusterHost) Subscribe(streamID, offerSDP string) (string, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node, err := h.router.RouteWHEP(ctx, streamID)
	if err != nil {
		return "", "", err
	}

	answer, _, err := h.transport.ProxyWHEP(ctx, node, streamID, offerSDP)
	if err != nil {
		return "", "", err
	}

	sessionID := signaling.NewSessionID()
	h.router.RecordSessionHost(sessionID, node.Alias, streamID, cluster.SessionSubscribe)
	h.recordSessionNode(sessionID, node.Alias)

	h.log.Info("routed subscribe", "stream", streamID, "node", node.Alias)
	return answer, "/resource/" + sessionID, nil
}

// Patch implements signaling.Host. As with the single-node host, every
// session here negotiates in one offer/answer round, so trickled
// candidates have nothing left to attach to.
func (h *clusterHost) Patch(resourcePath, candidateLine string) error {
	return nil
}

// Teardown implements signaling.Host: resolves the externally-issued
// resource path back to the node that actually owns the session, deletes
// it there, then forgets the routing-table entries. Idempotent: an
// unknown resourcePath is silently ignored, matching spec.md §6's DELETE
// semantics.
func (h *clusterHost) Teardown(resourcePath string) {
	sessionID := sessionIDFromResourcePath(resourcePath)

	h.mu.Lock()
	alias, ok := h.sessionNode[sessionID]
	if ok {
		delete(h.sessionNode, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	node, err := h.router.RouteSession(sessionID)
	if err == nil {
		if err := h.transport.DeleteResource(context.Background(), node, "", sessionID); err != nil {
			h.log.Warn("failed to delete upstream resource", "node", alias, "session", sessionID, "error", err)
		}
	}
	h.router.RemoveSessionHost(sessionID)
}

func (h *clusterHost) recordSessionNode(sessionID, nodeAlias string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionNode[sessionID] = nodeAlias
}

func sessionIDFromResourcePath(resourcePath string) string {
	const prefix = "/resource/"
	if strings.HasPrefix(resourcePath, prefix) {
		return resourcePath[len(prefix):]
	}
	return resourcePath
}

// StreamInfo implements signaling.Host. The manager itself only tracks
// which nodes host a stream, not its codec/session detail, so it reports
// existence only; a caller wanting the full detail queries the hosting
// node's own /streams/{id} directly.
func (h *clusterHost) StreamInfo(streamID string) (signaling.StreamInfo, bool) {
	aliases := h.router.HostAliases(streamID)
	if len(aliases) == 0 {
		return signaling.StreamInfo{}, false
	}
	return signaling.StreamInfo{ID: streamID}, true
}

// ListStreams implements signaling.Host, returning one skeletal entry per
// stream the router currently knows a host for.
func (h *clusterHost) ListStreams() []signaling.StreamInfo {
	streamIDs := h.router.Streams()
	out := make([]signaling.StreamInfo, 0, len(streamIDs))
	for _, id := range streamIDs {
		out = append(out, signaling.StreamInfo{ID: id})
	}
	return out
}

var _ signaling.Host = (*clusterHost)(nil)
