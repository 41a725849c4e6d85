package bridge

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/rtp"
)

// UDPSource binds a UDP socket and unmarshals every datagram it receives
// as one RTP packet, matching whipinto's rtp_listener: the source (ffmpeg,
// a camera) is trusted to already emit correctly-packetized RTP for the
// negotiated codec, so no reassembly happens here.
type UDPSource struct {
	conn *net.UDPConn
}

// ListenUDP binds to 0.0.0.0:port (port 0 picks an ephemeral port) and
// returns the bound source along with the port actually bound, so a
// caller that requested port 0 can report it (e.g. for a `{port}` command
// template, mirroring whipinto's --command substitution).
func ListenUDP(port int) (*UDPSource, int, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, 0, fmt.Errorf("listen udp: %w", err)
	}
	return &UDPSource{conn: conn}, conn.LocalAddr().(*net.UDPAddr).Port, nil
}

// ReadRTP blocks until one datagram arrives and returns it parsed as an
// RTP packet. It respects ctx cancellation by closing the socket, which
// unblocks the pending ReadFromUDP with a net.ErrClosed-wrapping error.
func (s *UDPSource) ReadRTP(ctx context.Context) (*rtp.Packet, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 1500)
	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf[:n]); err != nil {
		return nil, fmt.Errorf("unmarshal rtp: %w", err)
	}
	return pkt, nil
}

// Close releases the underlying socket.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}

// UDPSink re-serializes RTP packets and sends them as UDP datagrams to a
// single fixed destination, for whepfrom's --mode rtp egress.
type UDPSink struct {
	conn *net.UDPConn
}

// DialUDP resolves target ("host:port") and opens a connected UDP socket
// to it.
func DialUDP(target string) (*UDPSink, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &UDPSink{conn: conn}, nil
}

// WriteRTP marshals pkt and sends it to the sink's target unchanged.
func (s *UDPSink) WriteRTP(pkt *rtp.Packet) error {
	buf, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}
	_, err = s.conn.Write(buf)
	return err
}

// Close releases the underlying socket.
func (s *UDPSink) Close() error {
	return s.conn.Close()
}
