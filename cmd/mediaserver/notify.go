package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/liveform/mediacluster/internal/obs"
)

// recordingNotifier tells a cluster manager when this node starts or stops
// recording a stream, supplementing SPEC_FULL.md §3.1's RecordingSession
// entity: the manager has no direct visibility into a node's recorder
// pipeline, so the node pushes its own state changes over HTTP rather than
// the manager polling for them. Grounded on the teacher's
// pkg/cloudflare/client.go fire-and-forget HTTP-with-timeout style.
type recordingNotifier struct {
	managerURL string
	nodeAlias  string
	client     *http.Client
	log        *obs.Logger
}

// newRecordingNotifier returns nil if managerURL is empty: single-node
// deployments run with no cluster manager at all, and every method below
// is a nil-receiver no-op.
func newRecordingNotifier(managerURL, nodeAlias string, log *obs.Logger) *recordingNotifier {
	if managerURL == "" {
		return nil
	}
	return &recordingNotifier{
		managerURL: strings.TrimRight(managerURL, "/"),
		nodeAlias:  nodeAlias,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

// started reports streamID's recording as active, fire-and-forget.
func (n *recordingNotifier) started(streamID string) {
	if n == nil {
		return
	}
	go n.send(http.MethodPost, streamID)
}

// stopped reports streamID's recording as ended, fire-and-forget.
func (n *recordingNotifier) stopped(streamID string) {
	if n == nil {
		return
	}
	go n.send(http.MethodDelete, streamID)
}

func (n *recordingNotifier) send(method, streamID string) {
	body, _ := json.Marshal(map[string]string{"node": n.nodeAlias})
	req, err := http.NewRequest(method, n.managerURL+"/admin/recordings/"+streamID, bytes.NewReader(body))
	if err != nil {
		n.log.Warn("failed to build recording notification", "stream", streamID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("failed to notify cluster manager of recording state", "stream", streamID, "method", method, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.log.Warn("cluster manager rejected recording notification", "stream", streamID, "method", method, "status", resp.StatusCode)
	}
}
