package recorder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// buildManifest regenerates the static DASH MPD, with a fixed-duration
// SegmentTemplate (no SegmentTimeline — every segment target is the same
// nominal length) and a conditional audio AdaptationSet, grounded on
// liveion/src/recorder/segmenter.rs's write_manifest.
func (s *Segmenter) buildManifest() string {
	segCount := uint64(0)
	if s.segIndex > 0 {
		segCount = uint64(s.segIndex - 1)
	}
	segDurationSecs := uint64(DefaultSegmentDuration / time.Second)
	totalDurationTicks := uint64(videoTimescale) * segDurationSecs * segCount
	totalDurationSecs := float64(totalDurationTicks) / float64(videoTimescale)

	mediaDuration := fmt.Sprintf("PT%.3fS", totalDurationSecs)
	maxSegDuration := fmt.Sprintf("PT%dS", segDurationSecs)
	minBufferTime := "PT1S"
	if segDurationSecs*3 > 0 {
		minBufferTime = fmt.Sprintf("PT%dS", segDurationSecs*3)
	}

	var videoBandwidth uint64
	if s.totalTicks > 0 {
		videoBandwidth = s.totalBytes * 8 * videoTimescale / s.totalTicks
	}

	fps := s.frameRate
	if fps == 0 {
		fps = 30
	}
	par := aspectRatio(s.width, s.height)
	segTicks := uint64(videoTimescale) * segDurationSecs

	var audioSection string
	if s.audioReady {
		var audioBandwidth uint64
		if s.audioTotalTicks > 0 {
			audioBandwidth = s.audioTotalBytes * 8 * 48000 / s.audioTotalTicks
		}
		audioSegTicks := uint64(48000) * segDurationSecs
		audioSection = fmt.Sprintf(
			"        <AdaptationSet id=\"1\" contentType=\"audio\" segmentAlignment=\"true\">\n"+
				"            <Representation id=\"1\" mimeType=\"audio/mp4\" codecs=\"opus\" bandwidth=\"%d\" audioSamplingRate=\"48000\">\n"+
				"                <SegmentTemplate timescale=\"48000\" initialization=\"audio_init.m4s\" media=\"audio_seg_$Number%%04d$.m4s\" duration=\"%d\" startNumber=\"1\" />\n"+
				"            </Representation>\n"+
				"        </AdaptationSet>\n",
			audioBandwidth, audioSegTicks,
		)
	}

	codecString := s.videoCodecString()

	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"utf-8\"?>\n")
	b.WriteString("<MPD xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\"\n")
	b.WriteString("     xmlns=\"urn:mpeg:dash:schema:mpd:2011\"\n")
	b.WriteString("     xmlns:xlink=\"http://www.w3.org/1999/xlink\"\n")
	b.WriteString("     xmlns:sc=\"urn:mediacluster:segment-checksum\"\n")
	b.WriteString("     xsi:schemaLocation=\"urn:mpeg:DASH:schema:MPD:2011 http://standards.iso.org/ittf/PubliclyAvailableStandards/MPEG-DASH_schema_files/DASH-MPD.xsd\"\n")
	b.WriteString("     profiles=\"urn:mpeg:dash:profile:isoff-live:2011\"\n")
	b.WriteString("     type=\"static\"\n")
	fmt.Fprintf(&b, "     mediaPresentationDuration=\"%s\"\n", mediaDuration)
	fmt.Fprintf(&b, "     maxSegmentDuration=\"%s\"\n", maxSegDuration)
	fmt.Fprintf(&b, "     minBufferTime=\"%s\">\n", minBufferTime)
	b.WriteString("    <ProgramInformation/>\n    <ServiceDescription id=\"0\"/>\n    <Period id=\"0\" start=\"PT0.0S\">\n")
	fmt.Fprintf(&b, "        <AdaptationSet id=\"0\" contentType=\"video\" startWithSAP=\"1\" segmentAlignment=\"true\" bitstreamSwitching=\"true\" frameRate=\"%d/1\" maxWidth=\"%d\" maxHeight=\"%d\" par=\"%s\">\n",
		fps, s.width, s.height, par)
	fmt.Fprintf(&b, "            <Representation id=\"0\" mimeType=\"video/mp4\" codecs=\"%s\" bandwidth=\"%d\" width=\"%d\" height=\"%d\" sar=\"1:1\">\n",
		codecString, videoBandwidth, s.width, s.height)
	fmt.Fprintf(&b, "                <SegmentTemplate timescale=\"%d\" initialization=\"init.m4s\" media=\"seg_$Number%%04d$.m4s\" duration=\"%d\" startNumber=\"1\" sc:crc16=\"%#04x\" sc:crc8=\"%#02x\" />\n",
		videoTimescale, segTicks, s.lastSegmentCRC16, s.lastSegmentCRC8)
	b.WriteString("            </Representation>\n        </AdaptationSet>\n")
	b.WriteString(audioSection)
	b.WriteString("    </Period>\n</MPD>\n")
	return b.String()
}

// videoCodecString derives the RFC 6381 codec parameter string. Only
// H.264's avc1.PPCCLL form is computed precisely (profile/constraint/level
// sit at fixed SPS byte offsets); the other codecs use representative
// fixed strings since their precise derivation needs full profile parsing
// this pipeline doesn't implement (see buildHVCC's comment).
func (s *Segmenter) videoCodecString() string {
	switch s.videoTag {
	case "avc1":
		if len(s.sps) >= 4 {
			return fmt.Sprintf("avc1.%02X%02X%02X", s.sps[1], s.sps[2], s.sps[3])
		}
		return "avc1.42E01E"
	case "hvc1":
		return "hev1.1.6.L93.B0"
	case "vp09":
		return "vp09.00.10.08"
	case "vp08":
		return "vp8"
	case "av01":
		return "av01.0.04M.08"
	default:
		return s.videoTag
	}
}

func aspectRatio(width, height uint16) string {
	if width == 0 || height == 0 {
		return "1:1"
	}
	w, h := uint32(width), uint32(height)
	for h != 0 {
		w, h = h, w%h
	}
	if w == 0 {
		return "1:1"
	}
	return fmt.Sprintf("%d:%d", uint32(width)/w, uint32(height)/w)
}

func (s *Segmenter) writeManifest(ctx context.Context) error {
	return s.storeFile("manifest.mpd", []byte(s.buildManifest()))
}
