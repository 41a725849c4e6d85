package codec

import "github.com/pion/rtp"

// passthroughAssembler treats one RTP packet as one frame, used for audio
// codecs (Opus, G.722) where a sample and a packet already coincide and no
// depacketization is required beyond stripping the RTP header.
type passthroughAssembler struct{}

func newPassthroughAssembler() *passthroughAssembler {
	return &passthroughAssembler{}
}

func (a *passthroughAssembler) ParameterSets() [][]byte { return nil }

func (a *passthroughAssembler) Push(pkt *rtp.Packet) (*Frame, error) {
	if len(pkt.Payload) == 0 {
		return nil, nil
	}
	return &Frame{Data: pkt.Payload, IsKeyFrame: true, Timestamp: pkt.Timestamp}, nil
}
