package codec

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.264 NAL unit types relevant to depacketization (RFC 6184).
const (
	nalTypeMask   = 0x1F
	h264NALPFrame = 1
	h264NALIDR    = 5
	h264NALSEI    = 6
	h264NALSPS    = 7
	h264NALPPS    = 8
	h264NALSTAPA  = 24
	h264NALFUA    = 28
)

type h264Assembler struct {
	buf      []byte
	sps, pps []byte
	frame    []byte
}

func newH264Assembler() *h264Assembler {
	return &h264Assembler{buf: make([]byte, 0, 4096)}
}

func (a *h264Assembler) ParameterSets() [][]byte {
	var out [][]byte
	if len(a.sps) > 0 {
		out = append(out, a.sps)
	}
	if len(a.pps) > 0 {
		out = append(out, a.pps)
	}
	return out
}

func (a *h264Assembler) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) == 0 {
		return nil, nil
	}
	naluType := pkt.Payload[0] & nalTypeMask

	switch naluType {
	case h264NALFUA:
		return a.pushFUA(pkt)
	case h264NALSTAPA:
		return a.pushSTAPA(pkt)
	default:
		a.storeParamSet(naluType, pkt.Payload)
		a.appendNALU(naluType, pkt.Payload)
		if pkt.Marker {
			return a.emit(pkt.Timestamp)
		}
		return nil, nil
	}
}

func (a *h264Assembler) pushFUA(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) < 2 {
		return nil, fmt.Errorf("h264: FU-A packet too short")
	}
	indicator := pkt.Payload[0]
	header := pkt.Payload[1]
	fragment := pkt.Payload[2:]
	naluType := header & 0x1F

	if header&0x80 != 0 { // start
		reconstructed := (indicator & 0xE0) | naluType
		a.storeParamSet(naluType, nil)
		if naluType == h264NALIDR || naluType == h264NALPFrame {
			a.frame = a.frame[:0]
		}
		a.appendNALUHeader(reconstructed)
	}
	a.appendFragment(fragment)

	if header&0x40 != 0 { // end
		if pkt.Marker {
			return a.emit(pkt.Timestamp)
		}
	}
	return nil, nil
}

func (a *h264Assembler) pushSTAPA(pkt *rtp.Packet) (*Frame, error) {
	payload := pkt.Payload[1:]
	for len(payload) > 2 {
		size := int(payload[0])<<8 | int(payload[1])
		payload = payload[2:]
		if len(payload) < size {
			return nil, fmt.Errorf("h264: STAP-A NALU size exceeds payload")
		}
		nalu := payload[:size]
		payload = payload[size:]
		naluType := nalu[0] & nalTypeMask
		a.storeParamSet(naluType, nalu)
		a.appendNALU(naluType, nalu)
	}
	if pkt.Marker {
		return a.emit(pkt.Timestamp)
	}
	return nil, nil
}

func (a *h264Assembler) storeParamSet(naluType uint8, nalu []byte) {
	switch naluType {
	case h264NALSPS:
		if nalu != nil {
			a.sps = append([]byte(nil), nalu...)
		}
	case h264NALPPS:
		if nalu != nil {
			a.pps = append([]byte(nil), nalu...)
		}
	}
}

// appendNALU appends a single-NALU-in-payload unit (not fragmented) to the
// frame buffer, resetting the buffer on the first NALU of a new frame.
func (a *h264Assembler) appendNALU(naluType uint8, nalu []byte) {
	if naluType == h264NALIDR || naluType == h264NALPFrame {
		a.frame = a.frame[:0]
	}
	a.frame = annexB(a.frame, nalu)
}

func (a *h264Assembler) appendNALUHeader(header byte) {
	a.frame = append(a.frame, 0x00, 0x00, 0x00, 0x01, header)
}

func (a *h264Assembler) appendFragment(fragment []byte) {
	a.frame = append(a.frame, fragment...)
}

func (a *h264Assembler) emit(ts uint32) (*Frame, error) {
	if len(a.frame) == 0 {
		return nil, nil
	}
	isKey := containsNALType(a.frame, h264NALIDR)
	var out []byte
	if isKey && len(a.sps) > 0 && len(a.pps) > 0 {
		out = annexB(nil, a.sps)
		out = annexB(out, a.pps)
		out = append(out, a.frame...)
	} else {
		out = append([]byte(nil), a.frame...)
	}
	a.frame = a.frame[:0]
	return &Frame{Data: out, IsKeyFrame: isKey, Timestamp: ts}, nil
}

// containsNALType scans an Annex-B buffer for a NAL unit of the given type.
func containsNALType(annexB []byte, want uint8) bool {
	for i := 0; i+4 < len(annexB); i++ {
		if annexB[i] == 0 && annexB[i+1] == 0 && annexB[i+2] == 0 && annexB[i+3] == 1 {
			if annexB[i+4]&nalTypeMask == want {
				return true
			}
		}
	}
	return false
}
