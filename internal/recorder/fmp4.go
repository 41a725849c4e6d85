// Package recorder implements the fragmented-MP4 + DASH persistence
// pipeline: per-codec depacketization (via internal/codec), Annex-B to
// AVCC/HVCC conversion, fMP4 segment writing, and static MPD manifest
// generation.
package recorder

import (
	"bytes"
	"encoding/binary"
)

// box writes one ISO BMFF box: a 4-byte big-endian size (including the
// 8-byte header) followed by the 4-byte type tag and payload. Grounded on
// original_source/liveion/src/recorder/fmp4.rs's make_box helper,
// reimplemented against bytes.Buffer instead of a Vec<u8> builder.
func box(tag string, payload ...[]byte) []byte {
	size := 8
	for _, p := range payload {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(size))
	buf = append(buf, tag...)
	for _, p := range payload {
		buf = append(buf, p...)
	}
	return buf
}

func u16(v uint16) []byte { b := make([]byte, 2); binary.BigEndian.PutUint16(b, v); return b }
func u32(v uint32) []byte { b := make([]byte, 4); binary.BigEndian.PutUint32(b, v); return b }
func u64(v uint64) []byte { b := make([]byte, 8); binary.BigEndian.PutUint64(b, v); return b }

// TrackConfig describes one track's fMP4 initialization parameters.
type TrackConfig struct {
	TrackID       uint32
	Timescale     uint32
	Video         bool
	Width, Height uint16
	// CodecConfig is the codec-specific decoder configuration record
	// (avcC for H.264, hvcC for H.265, dOps for Opus, ...).
	CodecConfig []byte
	CodecTag    string // "avc1", "hvc1", "Opus", ...
	SampleRate  uint32 // audio only
	Channels    uint16 // audio only
}

// Fmp4Writer builds the ftyp+moov initialization segment and per-fragment
// styp+moof+mdat segments for one or two tracks (video and/or audio),
// grounded on original_source/liveion/src/recorder/fmp4.rs's Fmp4Writer.
type Fmp4Writer struct {
	Video *TrackConfig
	Audio *TrackConfig
}

// BuildInitSegment returns the ftyp+moov bytes written once per stream
// after parameter sets are captured.
func (w *Fmp4Writer) BuildInitSegment() []byte {
	var out bytes.Buffer
	out.Write(w.buildFtyp())
	out.Write(w.buildMoov())
	return out.Bytes()
}

func (w *Fmp4Writer) buildFtyp() []byte {
	majorBrand := []byte("isom")
	minorVersion := u32(512)
	compatible := []byte("isomiso2avc1mp41")
	return box("ftyp", majorBrand, minorVersion, compatible)
}

func (w *Fmp4Writer) buildMoov() []byte {
	mvhd := w.buildMvhd()
	var traks [][]byte
	var trexes [][]byte
	if w.Video != nil {
		traks = append(traks, w.buildTrak(w.Video))
		trexes = append(trexes, buildTrex(w.Video.TrackID))
	}
	if w.Audio != nil {
		traks = append(traks, w.buildTrak(w.Audio))
		trexes = append(trexes, buildTrex(w.Audio.TrackID))
	}
	mvex := box("mvex", concat(trexes...))
	payload := concat(append([][]byte{mvhd}, append(traks, mvex)...)...)
	return box("moov", payload)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (w *Fmp4Writer) buildMvhd() []byte {
	payload := concat(
		[]byte{0, 0, 0, 0}, // version+flags
		u32(0),             // creation_time
		u32(0),             // modification_time
		u32(1000),          // timescale (movie-level; tracks carry their own)
		u32(0),             // duration, 0 for fragmented
		u32(0x00010000),    // rate 1.0
		u16(0x0100),        // volume 1.0
		u16(0),             // reserved
		u32(0), u32(0),     // reserved
		identityMatrix(),
		make([]byte, 24), // pre_defined
		u32(nextTrackID(w)),
	)
	return box("mvhd", payload)
}

func identityMatrix() []byte {
	return concat(u32(0x00010000), u32(0), u32(0), u32(0), u32(0x00010000), u32(0), u32(0), u32(0), u32(0x40000000))
}

func nextTrackID(w *Fmp4Writer) uint32 {
	max := uint32(1)
	if w.Video != nil && w.Video.TrackID >= max {
		max = w.Video.TrackID + 1
	}
	if w.Audio != nil && w.Audio.TrackID >= max {
		max = w.Audio.TrackID + 1
	}
	return max
}

func (w *Fmp4Writer) buildTrak(t *TrackConfig) []byte {
	tkhd := buildTkhd(t)
	mdia := buildMdia(t)
	return box("trak", tkhd, mdia)
}

func buildTkhd(t *TrackConfig) []byte {
	flags := []byte{0, 0, 0, 7} // enabled | in movie | in preview
	payload := concat(
		flags,
		u32(0), u32(0), // creation/modification time
		u32(t.TrackID),
		u32(0), // reserved
		u32(0), // duration
		u32(0), u32(0), // reserved
		u16(0), u16(0), // layer, alternate_group
		u16(0), u16(0), // volume, reserved
		identityMatrix(),
		u32(uint32(t.Width)<<16),
		u32(uint32(t.Height)<<16),
	)
	return box("tkhd", payload)
}

func buildMdia(t *TrackConfig) []byte {
	mdhd := box("mdhd", concat([]byte{0, 0, 0, 0}, u32(0), u32(0), u32(t.Timescale), u32(0), u16(0x55c4), u16(0)))
	handlerType := "vide"
	handlerName := []byte("VideoHandler\x00")
	if !t.Video {
		handlerType = "soun"
		handlerName = []byte("SoundHandler\x00")
	}
	hdlr := box("hdlr", concat([]byte{0, 0, 0, 0}, u32(0), []byte(handlerType), make([]byte, 12), handlerName))
	minf := buildMinf(t)
	return box("mdia", mdhd, hdlr, minf)
}

func buildMinf(t *TrackConfig) []byte {
	var mediaHeader []byte
	if t.Video {
		mediaHeader = box("vmhd", concat([]byte{0, 0, 0, 1}, u16(0), u16(0), u16(0), u16(0)))
	} else {
		mediaHeader = box("smhd", concat([]byte{0, 0, 0, 0}, u16(0), u16(0)))
	}
	dref := box("dref", concat([]byte{0, 0, 0, 0}, u32(1), box("url ", []byte{0, 0, 0, 1})))
	dinf := box("dinf", dref)
	stbl := buildStbl(t)
	return box("minf", mediaHeader, dinf, stbl)
}

func buildStbl(t *TrackConfig) []byte {
	stsd := buildStsd(t)
	empty32 := concat([]byte{0, 0, 0, 0}, u32(0))
	stts := box("stts", empty32)
	stsc := box("stsc", empty32)
	stsz := box("stsz", concat([]byte{0, 0, 0, 0}, u32(0), u32(0)))
	stco := box("stco", empty32)
	return box("stbl", stsd, stts, stsc, stsz, stco)
}

func buildStsd(t *TrackConfig) []byte {
	var sampleEntry []byte
	if t.Video {
		sampleEntry = buildVisualSampleEntry(t)
	} else {
		sampleEntry = buildAudioSampleEntry(t)
	}
	return box("stsd", concat([]byte{0, 0, 0, 0}, u32(1), sampleEntry))
}

func buildVisualSampleEntry(t *TrackConfig) []byte {
	tag := t.CodecTag
	if tag == "" {
		tag = "avc1"
	}
	payload := concat(
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u16(0), u16(0), u32(0), make([]byte, 12), // pre_defined/reserved
		u16(t.Width), u16(t.Height),
		u32(0x00480000), u32(0x00480000), // h/v resolution 72dpi
		u32(0),   // reserved
		u16(1),   // frame_count
		make([]byte, 32), // compressorname
		u16(0x0018), // depth
		u16(0xffff), // pre_defined
		t.CodecConfig,
	)
	return box(tag, payload)
}

func buildAudioSampleEntry(t *TrackConfig) []byte {
	tag := t.CodecTag
	if tag == "" {
		tag = "mp4a"
	}
	channels := t.Channels
	if channels == 0 {
		channels = 2
	}
	sampleRate := t.SampleRate
	if sampleRate == 0 {
		sampleRate = 48000
	}
	payload := concat(
		make([]byte, 6), u16(1), // reserved, data_reference_index
		u32(0), u32(0), // reserved
		u16(channels),
		u16(16), // sample size
		u16(0), u16(0),
		u32(sampleRate<<16),
		t.CodecConfig,
	)
	return box(tag, payload)
}

func buildTrex(trackID uint32) []byte {
	payload := concat([]byte{0, 0, 0, 0}, u32(trackID), u32(1), u32(0), u32(0), u32(0x00010000))
	return box("trex", payload)
}

// Sample is one encoded access unit ready to be written into a fragment.
type Sample struct {
	Data       []byte
	StartTime  uint64 // decode timestamp, in the track's timescale
	DurationPT uint32 // in the track's timescale
	Keyframe   bool
}

// BuildMediaSegment builds one styp+moof+mdat fragment for a batch of
// samples on a single track, per spec.md §6's box list
// (styp/moof{mfhd,traf{tfhd,tfdt,trun}}/mdat).
func BuildMediaSegment(trackID uint32, sequenceNumber uint32, baseTimeDTS uint64, samples []Sample) []byte {
	styp := box("styp", concat([]byte("msdh"), u32(0), []byte("msdh"), []byte("dash")))
	moof := buildMoof(trackID, sequenceNumber, baseTimeDTS, samples)
	patchDataOffset(moof, len(samples), uint32(len(moof)+8)) // mdat's 8-byte header follows moof

	var mdatPayload []byte
	for _, s := range samples {
		mdatPayload = append(mdatPayload, s.Data...)
	}
	mdat := box("mdat", mdatPayload)

	return concat(styp, moof, mdat)
}

// patchDataOffset overwrites trun's data_offset field in place once the
// full moof size (and hence the mdat start relative to moof) is known; the
// offset can't be computed before the surrounding boxes are serialized.
func patchDataOffset(moof []byte, sampleCount int, offset uint32) {
	entriesLen := 12 * sampleCount
	pos := len(moof) - entriesLen - 4
	binary.BigEndian.PutUint32(moof[pos:pos+4], offset)
}

func buildMoof(trackID, sequenceNumber uint32, baseTimeDTS uint64, samples []Sample) []byte {
	mfhd := box("mfhd", concat([]byte{0, 0, 0, 0}, u32(sequenceNumber)))
	traf := buildTraf(trackID, baseTimeDTS, samples)
	return box("moof", mfhd, traf)
}

func buildTraf(trackID uint32, baseTimeDTS uint64, samples []Sample) []byte {
	// default-base-is-moof (flag 0x020000) per spec.md §6.
	tfhd := box("tfhd", concat([]byte{0x02, 0x00, 0x00, 0x00}, u32(trackID)))
	tfdt := box("tfdt", concat([]byte{1, 0, 0, 0}, u64(baseTimeDTS))) // version 1: 64-bit base time
	trun := buildTrun(samples)
	return box("traf", tfhd, tfdt, trun)
}

func buildTrun(samples []Sample) []byte {
	const (
		flagDataOffset     = 0x000001
		flagSampleDuration = 0x000100
		flagSampleSize     = 0x000200
		flagSampleFlags    = 0x000400
	)
	flags := uint32(flagDataOffset | flagSampleDuration | flagSampleSize | flagSampleFlags)

	var entries []byte
	for i, s := range samples {
		sampleFlags := nonKeyframeSampleFlags
		if s.Keyframe && i == 0 {
			sampleFlags = keyframeSampleFlags
		}
		entries = append(entries, u32(s.DurationPT)...)
		entries = append(entries, u32(uint32(len(s.Data)))...)
		entries = append(entries, u32(sampleFlags)...)
	}

	header := concat(
		[]byte{0, byte(flags >> 16), byte(flags >> 8), byte(flags)},
		u32(uint32(len(samples))),
		u32(8), // data_offset: mdat payload starts 8 bytes (its own header) after this moof ends
	)
	return box("trun", header, entries)
}

const (
	keyframeSampleFlags    = 0x02000000 // sample_depends_on=2 (does not depend on others)
	nonKeyframeSampleFlags = 0x01010000 // sample_depends_on=1, sample_is_non_sync_sample=1
)
