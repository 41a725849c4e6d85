package forward

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	require.Greater(t, cfg.GatherDeadline.Seconds(), 0.0)
	require.Greater(t, cfg.PLIConfig.MaxRequests, 0)
	require.Greater(t, cfg.UnhealthyDropThreshold, uint64(0))
}

func TestAllowedUpstreamRTCP(t *testing.T) {
	require.True(t, allowedUpstreamRTCP(&rtcp.PictureLossIndication{}))
	require.True(t, allowedUpstreamRTCP(&rtcp.FullIntraRequest{}))
	require.True(t, allowedUpstreamRTCP(&rtcp.TransportLayerNack{}))
	require.False(t, allowedUpstreamRTCP(&rtcp.ReceiverEstimatedMaximumBitrate{}))
	require.False(t, allowedUpstreamRTCP(&rtcp.SenderReport{}))
}

func TestMimeToCodecName(t *testing.T) {
	require.Equal(t, "h264", mimeToCodecName(webrtc.MimeTypeH264))
	require.Equal(t, "opus", mimeToCodecName(webrtc.MimeTypeOpus))
	require.Equal(t, "", mimeToCodecName("video/unknown"))
}
