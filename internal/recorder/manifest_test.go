package recorder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildManifestIncludesChecksumNamespaceAndAttrs(t *testing.T) {
	seg := NewSegmenter(newFakeStorage(), "stream1/123", testLogger(t))
	seg.width, seg.height = 1280, 720
	seg.lastSegmentCRC16, seg.lastSegmentCRC8 = 0xBEEF, 0x7A

	mpd := seg.buildManifest()
	require.Contains(t, mpd, `xmlns:sc="urn:mediacluster:segment-checksum"`)
	require.Contains(t, mpd, `sc:crc16="0xbeef"`)
	require.Contains(t, mpd, `sc:crc8="0x7a"`)
}

func TestAspectRatioReducesToLowestTerms(t *testing.T) {
	require.Equal(t, "16:9", aspectRatio(1920, 1080))
	require.Equal(t, "4:3", aspectRatio(640, 480))
	require.Equal(t, "1:1", aspectRatio(0, 0))
}

func TestSegmentChecksumIsDeterministic(t *testing.T) {
	data := []byte("a reproducible fragment payload")
	crc16a, crc8a := segmentChecksum(data)
	crc16b, crc8b := segmentChecksum(data)
	require.Equal(t, crc16a, crc16b)
	require.Equal(t, crc8a, crc8b)

	otherCRC16, otherCRC8 := segmentChecksum([]byte("a different payload entirely"))
	require.True(t, crc16a != otherCRC16 || crc8a != otherCRC8, "different payloads should not collide in this small test")
}

func TestVideoCodecStringDerivesFromSPS(t *testing.T) {
	seg := NewSegmenter(newFakeStorage(), "s", testLogger(t))
	seg.videoTag = "avc1"
	seg.sps = sampleSPS
	require.True(t, strings.HasPrefix(seg.videoCodecString(), "avc1."))
}
