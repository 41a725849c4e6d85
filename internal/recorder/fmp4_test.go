package recorder

import (
	"encoding/binary"
	"testing"
)

func TestBoxSizePrefix(t *testing.T) {
	b := box("free", []byte{1, 2, 3})
	if got, want := binary.BigEndian.Uint32(b[0:4]), uint32(8+3); got != want {
		t.Fatalf("box size = %d, want %d", got, want)
	}
	if string(b[4:8]) != "free" {
		t.Fatalf("box tag = %q, want \"free\"", b[4:8])
	}
	if len(b) != 11 {
		t.Fatalf("box length = %d, want 11", len(b))
	}
}

func TestBuildInitSegmentHasFtypAndMoov(t *testing.T) {
	w := &Fmp4Writer{Video: &TrackConfig{
		TrackID:     1,
		Timescale:   90000,
		Video:       true,
		Width:       1280,
		Height:      720,
		CodecConfig: buildAVCC(sampleSPS, samplePPS),
		CodecTag:    "avc1",
	}}
	init := w.BuildInitSegment()
	if len(init) < 16 {
		t.Fatalf("init segment too short: %d bytes", len(init))
	}
	if string(init[4:8]) != "ftyp" {
		t.Fatalf("first box = %q, want \"ftyp\"", init[4:8])
	}
	ftypSize := binary.BigEndian.Uint32(init[0:4])
	moovOffset := ftypSize
	if string(init[moovOffset+4:moovOffset+8]) != "moov" {
		t.Fatalf("second box = %q, want \"moov\"", init[moovOffset+4:moovOffset+8])
	}
}

func TestBuildMediaSegmentDataOffsetPointsPastMoof(t *testing.T) {
	samples := []Sample{
		{Data: []byte{0xAA, 0xBB, 0xCC}, StartTime: 0, DurationPT: 3000, Keyframe: true},
		{Data: []byte{0x01, 0x02}, StartTime: 3000, DurationPT: 3000, Keyframe: false},
	}
	seg := BuildMediaSegment(1, 1, 0, samples)

	// styp is the first box; moof follows it.
	stypSize := binary.BigEndian.Uint32(seg[0:4])
	moofStart := stypSize
	moofSize := binary.BigEndian.Uint32(seg[moofStart : moofStart+4])
	mdatStart := moofStart + moofSize
	if string(seg[mdatStart+4:mdatStart+8]) != "mdat" {
		t.Fatalf("expected mdat immediately after moof, got %q", seg[mdatStart+4:mdatStart+8])
	}

	// trun's data_offset is the last field before the per-sample entries;
	// it must equal moofSize+8 (mdat's own header), the byte distance from
	// moof's start to the first mdat payload byte.
	entriesLen := 12 * len(samples)
	dataOffsetPos := moofStart + moofSize - uint32(entriesLen) - 4
	dataOffset := binary.BigEndian.Uint32(seg[dataOffsetPos : dataOffsetPos+4])
	if dataOffset != moofSize+8 {
		t.Fatalf("data_offset = %d, want %d", dataOffset, moofSize+8)
	}

	mdatPayload := seg[mdatStart+8:]
	if len(mdatPayload) != len(samples[0].Data)+len(samples[1].Data) {
		t.Fatalf("mdat payload length = %d, want %d", len(mdatPayload), len(samples[0].Data)+len(samples[1].Data))
	}
}

func TestBuildAVCC(t *testing.T) {
	avcc := buildAVCC(sampleSPS, samplePPS)
	if avcc[0] != 1 {
		t.Fatalf("configurationVersion = %d, want 1", avcc[0])
	}
	if avcc[1] != sampleSPS[1] || avcc[2] != sampleSPS[2] || avcc[3] != sampleSPS[3] {
		t.Fatal("profile/compatibility/level bytes not copied from SPS")
	}
	if avcc[4] != 0xFF {
		t.Fatalf("lengthSizeMinusOne byte = %#x, want 0xFF (4-byte lengths)", avcc[4])
	}
}

func TestBuildHVCCHasThreeArrays(t *testing.T) {
	hvcc := buildHVCC([]byte{0x40, 1, 2}, sampleSPS, samplePPS)
	if hvcc[0] != 1 {
		t.Fatalf("configurationVersion = %d, want 1", hvcc[0])
	}
	if numArrays := hvcc[22]; numArrays != 3 {
		t.Fatalf("numOfArrays = %d, want 3", numArrays)
	}
}

var sampleSPS = []byte{0x67, 0x42, 0x00, 0x1E, 0xF4, 0x4B, 0x00}
var samplePPS = []byte{0x68, 0xCE, 0x3C, 0x80}
