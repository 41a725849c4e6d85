package codec

import "testing"

// sps32x32 is a hand-assembled baseline-profile SPS (profile_idc 0x42,
// level_idc 0x1E) describing a 32x32 progressive picture with no cropping:
// max_num_ref_frames=1, pic_width_in_mbs_minus1=1,
// pic_height_in_map_units_minus1=1, frame_mbs_only_flag=1,
// direct_8x8_inference_flag=1, frame_cropping_flag=0.
var sps32x32 = []byte{0x67, 0x42, 0x00, 0x1E, 0xF4, 0x4B, 0x00}

func TestParseH264SPS(t *testing.T) {
	info, ok := ParseH264SPS(sps32x32)
	if !ok {
		t.Fatal("expected a successful parse")
	}
	if info.ProfileIDC != 0x42 {
		t.Fatalf("profile_idc = %#x, want 0x42", info.ProfileIDC)
	}
	if info.ConstraintSet != 0x00 {
		t.Fatalf("constraint_set = %#x, want 0x00", info.ConstraintSet)
	}
	if info.LevelIDC != 0x1E {
		t.Fatalf("level_idc = %#x, want 0x1E", info.LevelIDC)
	}
	if info.Width != 32 || info.Height != 32 {
		t.Fatalf("dimensions = %dx%d, want 32x32", info.Width, info.Height)
	}
}

func TestParseH264SPSTooShort(t *testing.T) {
	if _, ok := ParseH264SPS([]byte{0x67, 0x42, 0x00}); ok {
		t.Fatal("expected a 3-byte NALU to fail (no room for level_idc)")
	}
}

func TestReadUEKnownValues(t *testing.T) {
	// "1" -> 0, "010" -> 1, "011" -> 2.
	r := &bitReader{data: []byte{0b1_010_011_0}}
	if v := r.readUE(); v != 0 {
		t.Fatalf("readUE#1 = %d, want 0", v)
	}
	if v := r.readUE(); v != 1 {
		t.Fatalf("readUE#2 = %d, want 1", v)
	}
	if v := r.readUE(); v != 2 {
		t.Fatalf("readUE#3 = %d, want 2", v)
	}
}

func TestUnescapeRBSP(t *testing.T) {
	in := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x02}
	want := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x02}
	got := unescapeRBSP(in)
	if len(got) != len(want) {
		t.Fatalf("unescaped length = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}
