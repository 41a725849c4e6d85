package codec

import "github.com/pion/rtp"

// av1Assembler reassembles AV1 RTP payloads (draft-ietf-payload-av1). Each
// OBU element is prefixed with a LEB128 size inside the aggregation header
// when more than one follows in a packet; we only need enough of the
// structure to find frame boundaries and the key-frame OBU.
type av1Assembler struct {
	frame []byte
}

func newAV1Assembler() *av1Assembler {
	return &av1Assembler{}
}

func (a *av1Assembler) ParameterSets() [][]byte { return nil }

const (
	av1OBUTypeSequenceHeader = 1
	av1OBUTypeFrame          = 6
	av1OBUTypeFrameHeader    = 3
)

func (a *av1Assembler) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < 1 {
		return nil, nil
	}
	aggHeader := pkt.Payload[0]
	newCodedVideoSeq := aggHeader&0x08 != 0
	payload := pkt.Payload[1:]

	if newCodedVideoSeq {
		a.frame = a.frame[:0]
	}

	isKey := a.scanKeyframe(payload)
	a.frame = append(a.frame, payload...)

	if pkt.Marker {
		out := append([]byte(nil), a.frame...)
		a.frame = a.frame[:0]
		return &Frame{Data: out, IsKeyFrame: isKey, Timestamp: pkt.Timestamp}, nil
	}
	return nil, nil
}

// scanKeyframe looks for a sequence-header OBU, which AV1 encoders only
// emit on keyframes/intra-refresh points under typical RTP packetization.
func (a *av1Assembler) scanKeyframe(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	obuType := (payload[0] >> 3) & 0x0F
	return obuType == av1OBUTypeSequenceHeader
}
