package codec

import "github.com/pion/rtp"

// Frame is one complete access unit assembled from a run of RTP packets
// terminated by the marker bit. Video frames are Annex-B (start-code
// delimited NAL units); the segmenter is responsible for converting to
// length-prefixed AVCC/HVCC before writing samples.
type Frame struct {
	Data       []byte
	IsKeyFrame bool
	Timestamp  uint32 // RTP timestamp, codec clock rate
}

// Assembler accumulates RTP packets for one track and emits complete Frames.
// It never holds a goroutine or suspension point of its own — callers drive
// it from their own read loop, per the "explicit push_packet" design note:
// hidden coroutine state across suspension points is exactly what this
// avoids.
type Assembler interface {
	// Push consumes one RTP packet, returning a Frame if the packet
	// completed one (i.e. carried the marker bit), or nil otherwise.
	Push(pkt *rtp.Packet) (*Frame, error)
	// ParameterSets returns the codec's out-of-band parameter sets seen so
	// far (SPS/PPS for H.264, VPS/SPS/PPS for H.265, empty for codecs that
	// carry configuration in-band only).
	ParameterSets() [][]byte
}

// NewAssembler returns the Assembler for name, or nil if name is not
// recognized for depacketization.
func NewAssembler(name Name) Assembler {
	switch name {
	case H264:
		return newH264Assembler()
	case H265:
		return newH265Assembler()
	case VP8:
		return newVP8Assembler()
	case VP9:
		return newVP9Assembler()
	case AV1:
		return newAV1Assembler()
	case Opus, G722:
		return newPassthroughAssembler()
	default:
		return nil
	}
}

// annexB prepends a 4-byte start code to nalu and appends it to dst.
func annexB(dst, nalu []byte) []byte {
	dst = append(dst, 0x00, 0x00, 0x00, 0x01)
	return append(dst, nalu...)
}
