package avcbitstream

// writeNALHeader emits forbidden_zero_bit=0, nal_ref_idc, nal_unit_type.
func writeNALHeader(w *Writer, refIdc, nalUnitType uint32) {
	w.WriteBit(0)
	w.WriteBits(refIdc, 2)
	w.WriteBits(nalUnitType, 5)
}

// newProductWriter starts a fresh bit writer with the start-code prefix
// already emitted, as every AUD/SPS/PPS/slice product does.
func newProductWriter() *Writer {
	w := NewWriter()
	w.WriteBits(0x00000001, 32)
	return w
}

// BuildAUD emits an access unit delimiter NAL. primary_pic_type is always
// 1 per spec.md §6.
func BuildAUD() (data []byte, bitLen int) {
	w := newProductWriter()
	writeNALHeader(w, RefIdcAUD, NALTypeAUD)
	w.WriteBits(1, 3) // primary_pic_type
	w.TrailingBits()
	return w.Bytes(), w.Len()
}

// SPSParams carries the per-session fields needed to build a sequence
// parameter set (spec.md §3, §6).
type SPSParams struct {
	LevelIDC                  uint32
	BitDepthLumaMinus8        uint32
	BitDepthChromaMinus8      uint32
	PicWidthInMbsMinus1       uint32
	PicHeightInMapUnitsMinus1 uint32
	RefreshRate               uint32
}

// BuildSPS emits a sequence parameter set NAL. Constraint flags set4/set5
// (frame-mbs-only, no B-slices) are always 1; pic_order_cnt_type is always
// 2; max_num_ref_frames is always 1 (spec.md §6).
func BuildSPS(p SPSParams) (data []byte, bitLen int) {
	w := newProductWriter()
	writeNALHeader(w, RefIdcSPSPPSIDR, NALTypeSPS)

	w.WriteBits(ProfileHigh, 8)
	w.WriteBit(0) // constraint_set0_flag
	w.WriteBit(0) // constraint_set1_flag
	w.WriteBit(0) // constraint_set2_flag
	w.WriteBit(0) // constraint_set3_flag
	w.WriteBit(1) // constraint_set4_flag
	w.WriteBit(1) // constraint_set5_flag
	w.WriteBits(0, 2)
	w.WriteBits(p.LevelIDC, 8)

	w.WriteUE(0) // seq_parameter_set_id

	// High-profile-family fields.
	w.WriteUE(1) // chroma_format_idc: 4:2:0
	w.WriteUE(p.BitDepthLumaMinus8)
	w.WriteUE(p.BitDepthChromaMinus8)
	w.WriteBit(0) // qpprime_y_zero_transform_bypass_flag
	w.WriteBit(0) // seq_scaling_matrix_present_flag

	w.WriteUE(4) // log2_max_frame_num_minus4
	w.WriteUE(2) // pic_order_cnt_type

	w.WriteUE(1) // max_num_ref_frames
	w.WriteBit(0) // gaps_in_frame_num_value_allowed_flag
	w.WriteUE(p.PicWidthInMbsMinus1)
	w.WriteUE(p.PicHeightInMapUnitsMinus1)
	w.WriteBit(1) // frame_mbs_only_flag
	w.WriteBit(1) // direct_8x8_inference_flag
	w.WriteBit(0) // frame_cropping_flag

	w.WriteBit(1) // vui_parameters_present_flag
	w.WriteBit(1) // aspect_ratio_info_present_flag
	w.WriteBits(ExtendedSAR, 8)
	w.WriteBits(1, 16) // sar_width
	w.WriteBits(1, 16) // sar_height
	w.WriteBit(0)       // overscan_info_present_flag
	w.WriteBit(0)       // video_signal_type_present_flag
	w.WriteBit(0)       // chroma_loc_info_present_flag
	w.WriteBit(1)       // timing_info_present_flag
	w.WriteBits(1000, 32)
	w.WriteBits(2*p.RefreshRate*1000, 32)
	w.WriteBit(0) // fixed_frame_rate_flag
	w.WriteBit(0) // nal_hrd_parameters_present_flag
	w.WriteBit(0) // vcl_hrd_parameters_present_flag
	w.WriteBit(0) // pic_struct_present_flag
	w.WriteBit(1) // bitstream_restriction_flag
	w.WriteBit(1) // motion_vectors_over_pic_boundaries_flag
	w.WriteUE(0)  // max_bytes_per_pic_denom
	w.WriteUE(0)  // max_bits_per_mb_denom
	w.WriteUE(15) // log2_max_mv_length_horizontal
	w.WriteUE(15) // log2_max_mv_length_vertical
	w.WriteUE(0)  // max_num_reorder_frames
	w.WriteUE(1)  // max_dec_frame_buffering

	w.TrailingBits()
	return w.Bytes(), w.Len()
}

// BuildPPS emits the single picture parameter set used throughout a
// session's lifetime: CABAC, 8x8 transform, pic_init_qp=22, no weighted
// prediction, no B-slices (spec.md §4.2, §6).
func BuildPPS() (data []byte, bitLen int) {
	w := newProductWriter()
	writeNALHeader(w, RefIdcSPSPPSIDR, NALTypePPS)

	w.WriteUE(0) // pic_parameter_set_id
	w.WriteUE(0) // seq_parameter_set_id
	w.WriteBit(1) // entropy_coding_mode_flag
	w.WriteBit(0) // bottom_field_pic_order_in_frame_present_flag
	w.WriteUE(0) // num_slice_groups_minus1
	w.WriteUE(0) // num_ref_idx_l0_default_active_minus1
	w.WriteUE(0) // num_ref_idx_l1_default_active_minus1
	w.WriteBit(0) // weighted_pred_flag
	w.WriteBits(0, 2) // weighted_bipred_idc
	w.WriteSE(-4) // pic_init_qp_minus26 (pic_init_qp = 22)
	w.WriteSE(0)  // pic_init_qs_minus26
	w.WriteSE(0)  // chroma_qp_index_offset
	w.WriteBit(1) // deblocking_filter_control_present_flag
	w.WriteBit(0) // constrained_intra_pred_flag
	w.WriteBit(0) // redundant_pic_cnt_present_flag

	w.WriteBit(1) // transform_8x8_mode_flag
	w.WriteBit(0) // pic_scaling_matrix_present_flag
	w.WriteSE(0)  // second_chroma_qp_index_offset

	w.TrailingBits()
	return w.Bytes(), w.Len()
}

// SliceHeaderParams carries the per-frame fields needed to build a slice
// header (spec.md §4.2).
type SliceHeaderParams struct {
	FirstMbInSlice uint32
	SliceType      uint32 // SliceTypeI or SliceTypeP
	FrameNum       uint32
	IdrPicID       uint32
	IsIDR          bool
}

// BuildSliceHeader emits a slice header NAL without rbsp_trailing_bits:
// VA-API appends entropy-coded slice data directly after it (spec.md
// §4.1). slice_qp_delta is always 0 since pic_init_qp (22) is used
// directly; disable_deblocking_filter_idc and its offsets are always 0.
func BuildSliceHeader(p SliceHeaderParams) (data []byte, bitLen int) {
	refIdc := uint32(RefIdcPSlice)
	nalType := uint32(NALTypeSliceNonIDR)
	if p.IsIDR {
		refIdc = RefIdcSPSPPSIDR
		nalType = NALTypeSliceIDR
	}

	w := newProductWriter()
	writeNALHeader(w, refIdc, nalType)

	w.WriteUE(p.FirstMbInSlice)
	w.WriteUE(p.SliceType)
	w.WriteUE(0) // pic_parameter_set_id
	w.WriteBits(p.FrameNum, Log2MaxFrameNum)

	if p.IsIDR {
		w.WriteUE(p.IdrPicID)
	}

	if p.SliceType == SliceTypeP {
		w.WriteBit(0) // num_ref_idx_active_override_flag
		w.WriteBit(0) // ref_pic_list_modification_flag_l0
	}

	// nal_ref_idc is always nonzero for the NAL types this session emits.
	if p.IsIDR {
		w.WriteBit(0) // no_output_of_prior_pics_flag
		w.WriteBit(0) // long_term_reference_flag
	} else {
		w.WriteBit(0) // adaptive_ref_pic_marking_mode_flag
	}

	if p.SliceType != SliceTypeI {
		w.WriteUE(0) // cabac_init_idc
	}

	w.WriteSE(0) // slice_qp_delta

	w.WriteUE(0) // disable_deblocking_filter_idc
	w.WriteSE(0) // slice_alpha_c0_offset_div2
	w.WriteSE(0) // slice_beta_offset_div2

	return w.Bytes(), w.Len()
}
