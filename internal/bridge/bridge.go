// Package bridge implements the client-role WHIP/WHEP glue the standalone
// RTP/RTSP bridge tools (cmd/whipinto, cmd/whepfrom) need: POST an SDP
// offer to a WHIP or WHEP endpoint, track the returned resource URL for
// teardown, and otherwise pass RTP packets straight through between a
// PeerConnection and a UDP/RTSP transport with no depacketization —
// matching original_source/tools/{whipinto,whepfrom}'s passthrough design
// (ffmpeg/a camera already produces correctly-packetized RTP; these tools
// never transcode).
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AuthHeader builds the Authorization header value for either a basic
// "user:pass" credential or a bearer token, mirroring libwish::Client's
// get_auth_header_map (never both at once — bearer wins if both are set).
func AuthHeader(basicUserPass, bearerToken string) string {
	if bearerToken != "" {
		return "Bearer " + bearerToken
	}
	if basicUserPass != "" {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(basicUserPass))
	}
	return ""
}

// signalClient holds the pieces shared by the WHIP publish and WHEP
// subscribe flows: an endpoint URL, an optional Authorization header, and
// the ephemeral resource URL the server returns for DELETE-based teardown.
type signalClient struct {
	httpClient  *http.Client
	endpointURL string
	authHeader  string
	resourceURL string
}

func newSignalClient(endpointURL, authHeader string, timeout time.Duration) *signalClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &signalClient{
		httpClient:  &http.Client{Timeout: timeout},
		endpointURL: endpointURL,
		authHeader:  authHeader,
	}
}

// post sends an SDP offer and returns the SDP answer, recording the
// resource URL from the Location header (absolute, or resolved against the
// endpoint if relative — servers are inconsistent about this).
func (c *signalClient) post(ctx context.Context, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build offer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post offer to %s: %w", c.endpointURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s returned status %d: %s", c.endpointURL, resp.StatusCode, string(body))
	}

	location := resp.Header.Get("Location")
	c.resourceURL = resolveLocation(c.endpointURL, location)

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return buf.String(), nil
}

// teardown issues the DELETE the WHIP/WHEP spec requires on session end.
func (c *signalClient) teardown(ctx context.Context) error {
	if c.resourceURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.resourceURL, nil)
	if err != nil {
		return fmt.Errorf("build teardown request: %w", err)
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("teardown %s: %w", c.resourceURL, err)
	}
	defer resp.Body.Close()
	return nil
}

// resolveLocation resolves a WHIP/WHEP Location header against the
// endpoint URL it was returned from; servers disagree on whether this
// header is absolute or relative, so both forms have to work.
func resolveLocation(endpointURL, location string) string {
	if location == "" {
		return ""
	}
	base, err := url.Parse(endpointURL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}
