package codec

import "github.com/pion/rtp"

// vp9Assembler reassembles VP9 RTP payloads (draft-ietf-payload-vp9). Only
// the flexible/non-flexible descriptor bits needed for frame boundary and
// keyframe detection are parsed; scalability structure (SS) fields are
// skipped, matching the recorder's record-only treatment of VP9.
type vp9Assembler struct {
	frame []byte
}

func newVP9Assembler() *vp9Assembler {
	return &vp9Assembler{}
}

func (a *vp9Assembler) ParameterSets() [][]byte { return nil }

func (a *vp9Assembler) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < 1 {
		return nil, nil
	}
	b0 := pkt.Payload[0]
	i := b0&0x80 != 0 // PictureID present
	l := b0&0x40 != 0 // Layer indices present
	f := b0&0x20 != 0 // Flexible mode
	b := b0&0x08 != 0 // Start of frame
	v := b0&0x02 != 0 // Scalability structure present

	off := 1
	if i {
		if off >= len(pkt.Payload) {
			return nil, nil
		}
		if pkt.Payload[off]&0x80 != 0 {
			off += 2
		} else {
			off++
		}
	}
	if l {
		off++
		if !f {
			off++
		}
	}
	if f && l {
		off++
	}
	if v {
		off++ // caller does not need SS contents, only needs to skip past the descriptor
	}
	if off > len(pkt.Payload) {
		return nil, nil
	}
	payload := pkt.Payload[off:]

	isKey := false
	if b && len(payload) > 0 {
		// Uncompressed header: frame_marker(2)+profile(2)+show_existing(1)+frame_type(1)
		isKey = payload[0]&0x04 == 0
	}
	if b {
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
