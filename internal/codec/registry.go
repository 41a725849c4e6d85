// Package codec enumerates the negotiable audio/video codecs, their RTP
// clock rates, default payload types, and RTCP feedback capabilities, and
// provides the per-codec frame assemblers the recorder pipeline depends on.
package codec

import "github.com/pion/webrtc/v4"

// Kind distinguishes audio from video media.
type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

// Name identifies a codec independent of its negotiated payload type.
type Name string

const (
	VP8  Name = "vp8"
	H264 Name = "h264"
	H265 Name = "h265"
	AV1  Name = "av1"
	VP9  Name = "vp9"
	Opus Name = "opus"
	G722 Name = "g722"
)

// Descriptor is one entry in the registry: a negotiable codec plus the RTP
// parameters a Forwarder needs to register it with pion's MediaEngine.
type Descriptor struct {
	Name        Name
	Kind        Kind
	MimeType    string
	ClockRate   uint32
	Channels    uint16
	FmtpLine    string
	PayloadType webrtc.PayloadType
	// FeedbackPLI reports whether this codec supports Picture Loss
	// Indication — true for every video codec we negotiate, false for audio.
	FeedbackPLI bool
	// FeedbackNACK reports retransmission-request support.
	FeedbackNACK bool
}

// Registry enumerates every codec the media server will negotiate on a
// fresh PeerConnection. Order matters only for SDP codec preference, which
// pion preserves from RegisterCodec call order.
var Registry = []Descriptor{
	{
		Name:         VP8,
		Kind:         Video,
		MimeType:     webrtc.MimeTypeVP8,
		ClockRate:    90000,
		PayloadType:  96,
		FeedbackPLI:  true,
		FeedbackNACK: true,
	},
	{
		Name:         H264,
		Kind:         Video,
		MimeType:     webrtc.MimeTypeH264,
		ClockRate:    90000,
		FmtpLine:     "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		PayloadType:  102,
		FeedbackPLI:  true,
		FeedbackNACK: true,
	},
	{
		Name:         Opus,
		Kind:         Audio,
		MimeType:     webrtc.MimeTypeOpus,
		ClockRate:    48000,
		Channels:     2,
		PayloadType:  111,
		FeedbackNACK: true,
	},
	{
		Name:        G722,
		Kind:        Audio,
		MimeType:    webrtc.MimeTypeG722,
		ClockRate:   8000,
		Channels:    1,
		PayloadType: 9,
	},
}

// RecordOnly enumerates codecs the recorder must recognize for
// depacketization/keyframe detection but that the Forwarder never
// negotiates as a local sender codec (they only arrive via cascade from a
// node that does negotiate them, or are out of scope for live egress).
var RecordOnly = []Descriptor{
	{Name: H265, Kind: Video, MimeType: "video/H265", ClockRate: 90000, FeedbackPLI: true, FeedbackNACK: true},
	{Name: AV1, Kind: Video, MimeType: webrtc.MimeTypeAV1, ClockRate: 90000, FeedbackPLI: true, FeedbackNACK: true},
	{Name: VP9, Kind: Video, MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, FeedbackPLI: true, FeedbackNACK: true},
}

// ByName finds a Descriptor (negotiable or record-only) by codec Name.
func ByName(name Name) (Descriptor, bool) {
	for _, d := range Registry {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range RecordOnly {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ByMimeType finds a Descriptor (negotiable or record-only) matching a
// case-sensitive RTP MIME type such as "video/H264".
func ByMimeType(mime string) (Descriptor, bool) {
	for _, d := range Registry {
		if d.MimeType == mime {
			return d, true
		}
	}
	for _, d := range RecordOnly {
		if d.MimeType == mime {
			return d, true
		}
	}
	return Descriptor{}, false
}

// RegisterAll adds every negotiable Descriptor to m, in Registry order.
func RegisterAll(m *webrtc.MediaEngine) error {
	for _, d := range Registry {
		rtpType := webrtc.RTPCodecTypeAudio
		if d.Kind == Video {
			rtpType = webrtc.RTPCodecTypeVideo
		}
		var feedback []webrtc.RTCPFeedback
		if d.FeedbackPLI {
			feedback = append(feedback, webrtc.RTCPFeedback{Type: "nack"}, webrtc.RTCPFeedback{Type: "nack", Parameter: "pli"})
		} else if d.FeedbackNACK {
			feedback = append(feedback, webrtc.RTCPFeedback{Type: "nack"})
		}
		err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     d.MimeType,
				ClockRate:    d.ClockRate,
				Channels:     d.Channels,
				SDPFmtpLine:  d.FmtpLine,
				RTCPFeedback: feedback,
			},
			PayloadType: d.PayloadType,
		}, rtpType)
		if err != nil {
			return err
		}
	}
	return nil
}
