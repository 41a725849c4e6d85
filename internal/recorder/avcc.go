package recorder

import (
	"encoding/binary"

	"github.com/liveform/mediacluster/internal/codec"
)

// annexBToLengthPrefixed converts an Annex-B buffer (4-byte start codes) to
// AVCC/HVCC length-prefixed NAL units for H.264/H.265, or passes the
// payload through unchanged for codecs that don't use Annex-B (VP8/VP9/AV1
// carry their own framing already). The keyframe flag is returned as the
// assembler set it; it is not re-derived from the payload.
func annexBToLengthPrefixed(name codec.Name, data []byte, assemblerKeyframe bool) ([]byte, bool) {
	switch name {
	case codec.H264, codec.H265:
		return nalusToLengthPrefixed(data), assemblerKeyframe
	default:
		return data, assemblerKeyframe
	}
}

// nalusToLengthPrefixed rewrites a concatenation of start-code-delimited
// NAL units into 4-byte-big-endian-length-prefixed ones, the format
// ISO/IEC 14496-15 AVC/HEVC sample entries require.
func nalusToLengthPrefixed(annexB []byte) []byte {
	out := make([]byte, 0, len(annexB))
	for _, nalu := range splitAnnexB(annexB) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
		out = append(out, lenBuf[:]...)
		out = append(out, nalu...)
	}
	return out
}

func splitAnnexB(data []byte) [][]byte {
	var nalus [][]byte
	starts := findStartCodes(data)
	for i, start := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1].offset
		}
		nalus = append(nalus, data[start.offset+start.length:end])
	}
	return nalus
}

type startCode struct {
	offset int
	length int
}

func findStartCodes(data []byte) []startCode {
	var codes []startCode
	i := 0
	for i+2 < len(data) {
		if data[i] == 0 && data[i+1] == 0 {
			if data[i+2] == 1 {
				codes = append(codes, startCode{offset: i, length: 3})
				i += 3
				continue
			}
			if i+3 < len(data) && data[i+2] == 0 && data[i+3] == 1 {
				codes = append(codes, startCode{offset: i, length: 4})
				i += 4
				continue
			}
		}
		i++
	}
	return codes
}

// buildAVCC constructs an ISO/IEC 14496-15 AVCDecoderConfigurationRecord
// from raw SPS/PPS NAL units (header bytes included), the configuration
// record an "avc1" sample entry's avcC box needs.
func buildAVCC(sps, pps []byte) []byte {
	if len(sps) < 4 {
		return nil
	}
	var out []byte
	out = append(out, 1)              // configurationVersion
	out = append(out, sps[1])         // AVCProfileIndication
	out = append(out, sps[2])         // profile_compatibility
	out = append(out, sps[3])         // AVCLevelIndication
	out = append(out, 0xFF)           // reserved(6)=111111 + lengthSizeMinusOne=3 (4-byte lengths)
	out = append(out, 0xE1)           // reserved(3)=111 + numOfSequenceParameterSets=1
	out = appendU16LenPrefixed(out, sps)
	out = append(out, 1) // numOfPictureParameterSets
	out = appendU16LenPrefixed(out, pps)
	return out
}

// buildHVCC constructs a minimal HEVCDecoderConfigurationRecord from
// VPS/SPS/PPS. Profile/tier/level and chroma/bit-depth fields are left at
// zero rather than parsed from the SPS's profile_tier_level structure —
// HEVC's Exp-Golomb layout there is materially more involved than H.264's
// and no pack reference implements it in Go; players fall back to
// out-of-band signaling (the hvc1 sample entry codec string) in practice.
func buildHVCC(vps, sps, pps []byte) []byte {
	if len(vps) == 0 || len(sps) == 0 || len(pps) == 0 {
		return nil
	}
	out := make([]byte, 0, 64)
	out = append(out, 1)          // configurationVersion
	out = append(out, 0)          // profile_space/tier/profile_idc
	out = append(out, 0, 0, 0, 0) // profile_compatibility_flags
	out = append(out, 0, 0, 0, 0, 0, 0) // constraint_indicator_flags
	out = append(out, 0)          // level_idc
	out = append(out, 0xF0, 0)    // reserved+min_spatial_segmentation_idc
	out = append(out, 0xFC)       // reserved+parallelismType
	out = append(out, 0xFC)       // reserved+chromaFormat
	out = append(out, 0xF8)       // reserved+bitDepthLumaMinus8
	out = append(out, 0xF8)       // reserved+bitDepthChromaMinus8
	out = append(out, 0, 0)       // avgFrameRate
	out = append(out, 0x0F)       // constantFrameRate/numTemporalLayers/temporalIdNested/lengthSizeMinusOne=3
	out = append(out, 3)          // numOfArrays

	out = appendHVCCArray(out, 32, vps) // VPS_NUT
	out = appendHVCCArray(out, 33, sps) // SPS_NUT
	out = appendHVCCArray(out, 34, pps) // PPS_NUT
	return out
}

func appendHVCCArray(out []byte, nalType byte, nalu []byte) []byte {
	out = append(out, 0x80|nalType) // array_completeness=1, nal_unit_type
	out = append(out, 0, 1)         // numNalus = 1
	out = appendU16LenPrefixed(out, nalu)
	return out
}

func appendU16LenPrefixed(out, data []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	out = append(out, lenBuf[:]...)
	return append(out, data...)
}
