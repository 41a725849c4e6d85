package codec

import (
	"fmt"

	"github.com/pion/rtp"
)

// vp8Assembler reassembles VP8 RTP payloads (RFC 7741) into frames. VP8 has
// no separate parameter-set NALUs; keyframe detection reads the P bit in the
// first payload descriptor's payload header (only present on the packet
// carrying the start of a frame).
type vp8Assembler struct {
	frame []byte
}

func newVP8Assembler() *vp8Assembler {
	return &vp8Assembler{}
}

func (a *vp8Assembler) ParameterSets() [][]byte { return nil }

func (a *vp8Assembler) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < 1 {
		return nil, nil
	}
	b0 := pkt.Payload[0]
	extended := b0&0x80 != 0
	startOfPartition := b0&0x10 != 0
	off := 1
	if extended {
		if len(pkt.Payload) < 2 {
			return nil, fmt.Errorf("vp8: truncated extended descriptor")
		}
		x := pkt.Payload[1]
		off = 2
		if x&0x80 != 0 { // PictureID
			off++
			if off <= len(pkt.Payload) && pkt.Payload[off-1]&0x80 != 0 {
				off++
			}
		}
		if x&0x40 != 0 { // TL0PICIDX
			off++
		}
		if x&0x30 != 0 { // TID/KEYIDX
			off++
		}
	}
	if off > len(pkt.Payload) {
		return nil, fmt.Errorf("vp8: descriptor overruns payload")
	}
	payload := pkt.Payload[off:]

	isKey := false
	if startOfPartition && len(payload) > 0 {
		isKey = payload[0]&0x01 == 0
	}
	if startOfPartition {
		a.frame = a.frame[:0]
	}
	a.frame = append(a.frame, payload...)

	if pkt.Marker {
		out := append([]byte(nil), a.frame...)
		a.frame = a.frame[:0]
		return &Frame{Data: out, IsKeyFrame: isKey, Timestamp: pkt.Timestamp}, nil
	}
	return nil, nil
}
