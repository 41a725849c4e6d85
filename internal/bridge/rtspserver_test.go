package bridge

import (
	"bufio"
	"strings"
	"testing"
)

func TestReadRTSPRequestParsesMethodAndCSeq(t *testing.T) {
	raw := "DESCRIBE rtsp://127.0.0.1:8554/stream RTSP/1.0\r\nCSeq: 2\r\nAccept: application/sdp\r\n\r\n"
	req, err := readRTSPRequest(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("readRTSPRequest: %v", err)
	}
	if req.method != "DESCRIBE" {
		t.Fatalf("method = %q, want DESCRIBE", req.method)
	}
	if req.cseq != "2" {
		t.Fatalf("cseq = %q, want 2", req.cseq)
	}
	if req.headers["Accept"] != "application/sdp" {
		t.Fatalf("Accept header = %q", req.headers["Accept"])
	}
}

func TestRTSPResponseFormatsStatusLineAndBody(t *testing.T) {
	resp := rtspResponse("2", 200, "OK", map[string]string{"Content-Type": "application/sdp"}, "v=0\r\n")
	if !strings.HasPrefix(resp, "RTSP/1.0 200 OK\r\n") {
		t.Fatalf("response missing status line: %q", resp)
	}
	if !strings.Contains(resp, "CSeq: 2\r\n") {
		t.Fatalf("response missing CSeq: %q", resp)
	}
	if !strings.HasSuffix(resp, "v=0\r\n") {
		t.Fatalf("response missing body: %q", resp)
	}
}
