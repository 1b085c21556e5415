package avcbitstream

// Profile, ref_idc, and NAL unit type constants (spec.md §4.1).
const (
	ProfileHigh = 100
	ExtendedSAR = 255

	RefIdcSPSPPSIDR = 3
	RefIdcPSlice    = 2
	RefIdcAUD       = 0

	NALTypeAUD         = 9
	NALTypeSPS         = 7
	NALTypePPS         = 8
	NALTypeSliceNonIDR = 1
	NALTypeSliceIDR    = 5

	SliceTypeI = 2
	SliceTypeP = 0

	Log2MaxFrameNum = 8
)

// StartCode is the byte-aligned prefix written before every NAL unit.
var StartCode = [4]byte{0x00, 0x00, 0x00, 0x01}

// levelThreshold pairs a maximum macroblocks-per-second figure with the
// level_idc that applies once the session's macroblock rate exceeds the
// previous tier's threshold. Table A-1 of the AVC spec, collapsed to the
// subset of levels the encode session actually distinguishes between.
type levelThreshold struct {
	maxMBPS  int64
	levelIDC uint32
}

var levelThresholds = []levelThreshold{
	{1485, 10},
	{3000, 11},
	{6000, 12},
	{11880, 13},
	{19800, 21},
	{20250, 22},
	{40500, 30},
	{108000, 31},
	{216000, 32},
	{522240, 40},
	{589824, 50},
	{983040, 51},
	{2073600, 52},
	{4177920, 60},
	{8355840, 61},
	{16711680, 62},
}

// DeriveLevelIDC returns the level_idc for a surface of widthMBs x
// heightMBs macroblocks running at refreshRate fps, picking the first
// threshold whose maxMBPS is at least the session's macroblock rate
// (spec.md §4.2, §8 property E1).
func DeriveLevelIDC(widthMBs, heightMBs, refreshRate int) uint32 {
	mbps := int64(widthMBs) * int64(heightMBs) * int64(refreshRate)
	for _, t := range levelThresholds {
		if mbps <= t.maxMBPS {
			return t.levelIDC
		}
	}
	return levelThresholds[len(levelThresholds)-1].levelIDC
}
