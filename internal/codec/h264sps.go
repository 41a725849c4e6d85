package codec

// bitReader reads individual bits MSB-first out of a byte slice, the
// standard layout H.264/H.265 RBSP parsing needs for Exp-Golomb fields.
type bitReader struct {
	data []byte
	pos  int // bit position
}

func (r *bitReader) readBit() uint32 {
	if r.pos/8 >= len(r.data) {
		return 0
	}
	b := r.data[r.pos/8]
	shift := 7 - uint(r.pos%8)
	r.pos++
	return uint32(b>>shift) & 1
}

func (r *bitReader) readBits(n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<1 | r.readBit()
	}
	return v
}

// readUE reads an unsigned Exp-Golomb coded value (ITU-T H.264 §9.1).
func (r *bitReader) readUE() uint32 {
	leadingZeros := 0
	for r.readBit() == 0 {
		leadingZeros++
		if leadingZeros > 32 || r.pos/8 >= len(r.data) {
			return 0
		}
	}
	if leadingZeros == 0 {
		return 0
	}
	return (1 << uint(leadingZeros)) - 1 + r.readBits(leadingZeros)
}

// readSE reads a signed Exp-Golomb coded value.
func (r *bitReader) readSE() int32 {
	k := r.readUE()
	if k%2 == 0 {
		return -int32(k / 2)
	}
	return int32(k+1) / 2
}

// unescapeRBSP strips H.264/H.265 emulation prevention bytes (00 00 03 ->
// 00 00) before bit-level RBSP parsing.
func unescapeRBSP(nalu []byte) []byte {
	out := make([]byte, 0, len(nalu))
	zeroRun := 0
	for _, b := range nalu {
		if zeroRun >= 2 && b == 0x03 {
			zeroRun = 0
			continue
		}
		if b == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
		out = append(out, b)
	}
	return out
}

// H264SPSInfo holds the fields an fMP4 writer needs out of an H.264 SPS:
// the profile/constraint/level triplet for the avc1.PPCCLL codec string,
// plus cropped picture dimensions.
type H264SPSInfo struct {
	ProfileIDC     byte
	ConstraintSet  byte
	LevelIDC       byte
	Width, Height  uint16
}

// ParseH264SPS extracts profile/level and picture size from a raw SPS NALU
// (including its 1-byte NAL header). Returns ok=false if the NALU is
// shorter than 4 bytes or carries a scaling matrix, which this parser does
// not read; callers fall back to codec-string-only defaults in that case.
// Bits read past the end of the data count as zero, so a truncated SPS is
// not detected.
func ParseH264SPS(nalu []byte) (H264SPSInfo, bool) {
	if len(nalu) < 4 {
		return H264SPSInfo{}, false
	}
	info := H264SPSInfo{
		ProfileIDC:    nalu[1],
		ConstraintSet: nalu[2],
		LevelIDC:      nalu[3],
	}

	rbsp := unescapeRBSP(nalu[4:])
	r := &bitReader{data: rbsp}

	r.readUE() // seq_parameter_set_id
	if info.ProfileIDC == 100 || info.ProfileIDC == 110 || info.ProfileIDC == 122 ||
		info.ProfileIDC == 244 || info.ProfileIDC == 44 || info.ProfileIDC == 83 ||
		info.ProfileIDC == 86 || info.ProfileIDC == 118 || info.ProfileIDC == 128 {
		chromaFormatIDC := r.readUE()
		if chromaFormatIDC == 3 {
			r.readBit() // separate_colour_plane_flag
		}
		r.readUE() // bit_depth_luma_minus8
		r.readUE() // bit_depth_chroma_minus8
		r.readBit() // qpprime_y_zero_transform_bypass_flag
		seqScalingMatrixPresent := r.readBit()
		if seqScalingMatrixPresent != 0 {
			// Scaling list parsing is involved and rare in camera encoders;
			// bail out rather than mis-parse the remaining fields.
			return info, false
		}
	}
	r.readUE() // log2_max_frame_num_minus4
	picOrderCntType := r.readUE()
	if picOrderCntType == 0 {
		r.readUE() // log2_max_pic_order_cnt_lsb_minus4
	} else if picOrderCntType == 1 {
		r.readBit()
		r.readSE()
		r.readSE()
		n := r.readUE()
		for i := uint32(0); i < n; i++ {
			r.readSE()
		}
	}
	r.readUE() // max_num_ref_frames
	r.readBit() // gaps_in_frame_num_value_allowed_flag
	picWidthInMbsMinus1 := r.readUE()
	picHeightInMapUnitsMinus1 := r.readUE()
	frameMbsOnlyFlag := r.readBit()
	if frameMbsOnlyFlag == 0 {
		r.readBit() // mb_adaptive_frame_field_flag
	}
	r.readBit() // direct_8x8_inference_flag
	frameCropping := r.readBit()
	var cropLeft, cropRight, cropTop, cropBottom uint32
	if frameCropping != 0 {
		cropLeft = r.readUE()
		cropRight = r.readUE()
		cropTop = r.readUE()
		cropBottom = r.readUE()
	}

	width := (picWidthInMbsMinus1 + 1) * 16
	heightMapUnits := (picHeightInMapUnitsMinus1 + 1) * 16
	height := heightMapUnits
	if frameMbsOnlyFlag == 0 {
		height *= 2
	}

	cropUnitX := uint32(2)
	cropUnitY := uint32(2) * (2 - frameMbsOnlyFlag)
	width -= (cropLeft + cropRight) * cropUnitX
	height -= (cropTop + cropBottom) * cropUnitY

	info.Width = uint16(width)
	info.Height = uint16(height)
	return info, true
}
