package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liveform/mediacluster/internal/apierr"
	"github.com/liveform/mediacluster/internal/obs"
)

type fakeHost struct {
	publishResourcePath string
	publishErr          error
	streams             map[string]StreamInfo
	patched             []string
	torndown            []string
}

func (f *fakeHost) Publish(streamID, offerSDP string) (string, string, error) {
	if f.publishErr != nil {
		return "", "", f.publishErr
	}
	return "v=0\r\n(answer)", f.publishResourcePath, nil
}

func (f *fakeHost) Subscribe(streamID, offerSDP string) (string, string, error) {
	return "v=0\r\n(answer)", f.publishResourcePath, nil
}

func (f *fakeHost) Patch(resourcePath, candidateLine string) error {
	f.patched = append(f.patched, resourcePath)
	return nil
}

func (f *fakeHost) Teardown(resourcePath string) {
	f.torndown = append(f.torndown, resourcePath)
}

func (f *fakeHost) StreamInfo(streamID string) (StreamInfo, bool) {
	info, ok := f.streams[streamID]
	return info, ok
}

func (f *fakeHost) ListStreams() []StreamInfo {
	out := make([]StreamInfo, 0, len(f.streams))
	for _, s := range f.streams {
		out = append(out, s)
	}
	return out
}

func newTestServer(host Host) *Server {
	log, _ := obs.New(obs.NewConfig())
	return NewServer(host, []IceServer{{URL: "stun:stun.example.com:3478"}}, log)
}

func TestHandleWHIPSuccess(t *testing.T) {
	host := &fakeHost{publishResourcePath: "/resource/abc"}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodPost, "/whip/cam-1", strings.NewReader("v=0\r\n(offer)"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "/resource/abc", rec.Header().Get("Location"))
	require.Contains(t, rec.Header().Get("Link"), `rel="ice-server"`)
	require.Contains(t, rec.Header().Get("Link"), "stun://stun.example.com:3478")
}

func TestHandleWHIPConflict(t *testing.T) {
	host := &fakeHost{publishErr: apierr.ErrAlreadyPublishing}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodPost, "/whip/cam-1", strings.NewReader("v=0\r\n(offer)"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleWHIPEmptyBody(t *testing.T) {
	host := &fakeHost{}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodPost, "/whip/cam-1", strings.NewReader(""))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteAlwaysNoContent(t *testing.T) {
	host := &fakeHost{}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodDelete, "/resource/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"/resource/does-not-exist"}, host.torndown)
}

func TestHandlePatchMalformedCandidate(t *testing.T) {
	host := &fakeHost{}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodPatch, "/resource/abc", strings.NewReader("   "))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetStreamNotFound(t *testing.T) {
	host := &fakeHost{streams: map[string]StreamInfo{}}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodGet, "/streams/missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetStreamFound(t *testing.T) {
	host := &fakeHost{streams: map[string]StreamInfo{
		"cam-1": {ID: "cam-1", CreatedAt: time.Now(), Codecs: []string{"h264", "opus"}},
	}}
	srv := newTestServer(host)

	req := httptest.NewRequest(http.MethodGet, "/streams/cam-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"cam-1"`)
}
