package codec

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.265/HEVC NAL unit types (ITU-T H.265 Table 7-1). The NAL header is two
// bytes; type occupies bits 6..1 of the first byte.
const (
	h265NALVPS        = 32
	h265NALSPS        = 33
	h265NALPPS        = 34
	h265NALFU         = 49
	h265NALAggregation = 48
	h265KeyFrameLo    = 16
	h265KeyFrameHi    = 21
)

func h265NALType(header0 byte) uint8 {
	return (header0 >> 1) & 0x3F
}

func h265IsKeyFrameType(t uint8) bool {
	return t >= h265KeyFrameLo && t <= h265KeyFrameHi
}

type h265Assembler struct {
	vps, sps, pps []byte
	frame         []byte
	keyframe      bool
}

func newH265Assembler() *h265Assembler {
	return &h265Assembler{frame: make([]byte, 0, 4096)}
}

func (a *h265Assembler) ParameterSets() [][]byte {
	var out [][]byte
	for _, ps := range [][]byte{a.vps, a.sps, a.pps} {
		if len(ps) > 0 {
			out = append(out, ps)
		}
	}
	return out
}

func (a *h265Assembler) storeParamSet(naluType uint8, nalu []byte) {
	switch naluType {
	case h265NALVPS:
		a.vps = append([]byte(nil), nalu...)
	case h265NALSPS:
		a.sps = append([]byte(nil), nalu...)
	case h265NALPPS:
		a.pps = append([]byte(nil), nalu...)
	}
}

func (a *h265Assembler) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < 2 {
		return nil, nil
	}
	naluType := h265NALType(pkt.Payload[0])

	switch naluType {
	case h265NALFU:
		if err := a.pushFU(pkt.Payload); err != nil {
			return nil, err
		}
	case h265NALAggregation:
		a.pushAggregation(pkt.Payload[2:])
	default:
		a.storeParamSet(naluType, pkt.Payload)
		if h265IsKeyFrameType(naluType) {
			a.keyframe = true
		}
		a.frame = annexB(a.frame, pkt.Payload)
	}

	if pkt.Marker {
		return a.emit(pkt.Timestamp)
	}
	return nil, nil
}

func (a *h265Assembler) pushFU(payload []byte) error {
	if len(payload) < 3 {
		return fmt.Errorf("h265: FU packet too short")
	}
	header0, header1 := payload[0], payload[1]
	fuHeader := payload[2]
	body := payload[3:]
	fuType := fuHeader & 0x3F
	start := fuHeader&0x80 != 0

	if start {
		a.frame = append(a.frame, 0x00, 0x00, 0x00, 0x01)
		reconstructed0 := (header0 &^ (0x3F << 1)) | (fuType << 1)
		a.frame = append(a.frame, reconstructed0, header1)
		if h265IsKeyFrameType(fuType) {
			a.keyframe = true
		}
		a.storeParamSet(fuType, nil)
	}
	a.frame = append(a.frame, body...)
	return nil
}

func (a *h265Assembler) pushAggregation(units []byte) {
	for len(units) > 2 {
		size := int(units[0])<<8 | int(units[1])
		units = units[2:]
		if len(units) < size {
			return
		}
		nalu := units[:size]
		units = units[size:]
		if len(nalu) >= 2 {
			naluType := h265NALType(nalu[0])
			a.storeParamSet(naluType, nalu)
			if h265IsKeyFrameType(naluType) {
				a.keyframe = true
			}
		}
		a.frame = annexB(a.frame, nalu)
	}
}

func (a *h265Assembler) emit(ts uint32) (*Frame, error) {
	if len(a.frame) == 0 {
		return nil, nil
	}
	out := a.frame
	isKey := a.keyframe
	a.frame = make([]byte, 0, 4096)
	a.keyframe = false
	return &Frame{Data: out, IsKeyFrame: isKey, Timestamp: ts}, nil
}
