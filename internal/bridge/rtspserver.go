package bridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pion/rtp"

	"github.com/liveform/mediacluster/internal/obs"
)

// RTSPServer is a single-stream RTSP server: it answers
// OPTIONS/DESCRIBE/SETUP/PLAY/TEARDOWN with a fixed SDP description and
// then relays RTP packets pushed via WriteVideoRTP/WriteAudioRTP to every
// connected client that has sent PLAY, using TCP-interleaved framing ("$" + channel + 2-byte length + payload),
// the wire format the teacher's RTSP pull client
// (pkg/rtsp/client.go's ReadPackets) parses on the other end. This is
// whepfrom's default --mode rtsp: rather than pushing RTP to a fixed UDP
// target, it waits for a player to pull the stream.
type RTSPServer struct {
	log *obs.Logger
	sdp string

	mu       sync.Mutex
	sessions map[*rtspSession]struct{}

	listener net.Listener
}

// NewRTSPServer builds a server that will advertise sdp (the session
// description produced by the WHEP answer) to any client that connects.
func NewRTSPServer(sdp string, log *obs.Logger) *RTSPServer {
	return &RTSPServer{log: log, sdp: sdp, sessions: make(map[*rtspSession]struct{})}
}

// Serve binds hostPort and accepts RTSP client connections until ctx is
// canceled. One RTSP TCP connection can host multiple interleaved
// channels (video, audio); this server always writes video on channel 0
// and audio on channel 2. SETUP echoes the client's requested Transport
// header unchanged, so no channel numbers are negotiated here.
func (s *RTSPServer) Serve(ctx context.Context, hostPort string) (int, error) {
	ln, err := net.Listen("tcp", hostPort)
	if err != nil {
		return 0, fmt.Errorf("listen %s: %w", hostPort, err)
	}
	s.listener = ln
	port := ln.Addr().(*net.TCPAddr).Port

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sess := newRTSPSession(conn, s)
			s.addSession(sess)
			go func() {
				sess.serve(ctx)
				s.removeSession(sess)
			}()
		}
	}()

	return port, nil
}

func (s *RTSPServer) addSession(sess *rtspSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *RTSPServer) removeSession(sess *rtspSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// WriteVideoRTP relays pkt on the video interleaved channel (0) to every
// connected, playing session.
func (s *RTSPServer) WriteVideoRTP(pkt *rtp.Packet) { s.write(0, pkt) }

// WriteAudioRTP relays pkt on the audio interleaved channel (2) to every
// connected, playing session.
func (s *RTSPServer) WriteAudioRTP(pkt *rtp.Packet) { s.write(2, pkt) }

func (s *RTSPServer) write(channel byte, pkt *rtp.Packet) {
	buf, err := pkt.Marshal()
	if err != nil {
		return
	}
	s.mu.Lock()
	sessions := make([]*rtspSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.writeInterleaved(channel, buf)
	}
}

// Close stops accepting new connections.
func (s *RTSPServer) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

type rtspSession struct {
	conn    net.Conn
	server  *RTSPServer
	writeMu sync.Mutex
	playing bool
}

func newRTSPSession(conn net.Conn, server *RTSPServer) *rtspSession {
	return &rtspSession{conn: conn, server: server}
}

// serve reads and answers one client's requests
// (OPTIONS/DESCRIBE/SETUP/PLAY/TEARDOWN) until TEARDOWN, a read error or a
// failed write ends the connection. Media is not written here:
// writeInterleaved is driven externally by WriteVideoRTP/WriteAudioRTP.
func (s *rtspSession) serve(ctx context.Context) {
	defer s.conn.Close()
	r := bufio.NewReader(s.conn)

	for {
		req, err := readRTSPRequest(r)
		if err != nil {
			return
		}

		var resp string
		switch req.method {
		case "OPTIONS":
			resp = rtspResponse(req.cseq, 200, "OK", map[string]string{
				"Public": "OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN",
			}, "")
		case "DESCRIBE":
			resp = rtspResponse(req.cseq, 200, "OK", map[string]string{
				"Content-Type":   "application/sdp",
				"Content-Length": strconv.Itoa(len(s.server.sdp)),
			}, s.server.sdp)
		case "SETUP":
			resp = rtspResponse(req.cseq, 200, "OK", map[string]string{
				"Transport": req.headers["Transport"],
				"Session":   "1",
			}, "")
		case "PLAY":
			s.playing = true
			resp = rtspResponse(req.cseq, 200, "OK", map[string]string{
				"Session": "1",
				"Range":   "npt=0.000-",
			}, "")
		case "TEARDOWN":
			resp = rtspResponse(req.cseq, 200, "OK", nil, "")
			s.writeRaw([]byte(resp))
			return
		default:
			resp = rtspResponse(req.cseq, 501, "Not Implemented", nil, "")
		}
		if err := s.writeRaw([]byte(resp)); err != nil {
			return
		}
	}
}

func (s *rtspSession) writeRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(b)
	return err
}

// writeInterleaved frames payload in the "$" + channel + 2-byte big-endian
// length header the teacher's RTSP client parses in ReadPackets.
func (s *rtspSession) writeInterleaved(channel byte, payload []byte) {
	if !s.playing {
		return
	}
	header := []byte{'$', channel, byte(len(payload) >> 8), byte(len(payload))}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(header); err != nil {
		return
	}
	s.conn.Write(payload)
}

type rtspRequest struct {
	method  string
	uri     string
	cseq    string
	headers map[string]string
}

func readRTSPRequest(r *bufio.Reader) (*rtspRequest, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed request line %q", line)
	}
	req := &rtspRequest{method: parts[0], uri: parts[1], headers: make(map[string]string)}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		req.headers[key] = val
		if strings.EqualFold(key, "CSeq") {
			req.cseq = val
		}
	}
	return req, nil
}

func rtspResponse(cseq string, code int, status string, headers map[string]string, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", code, status)
	fmt.Fprintf(&b, "CSeq: %s\r\n", cseq)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
