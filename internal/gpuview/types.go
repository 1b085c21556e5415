// Package gpuview builds the two NV12 views (main and auxiliary) a source
// BGRA image is turned into on the GPU, plus the damage and chroma-change
// state buffers the encode session uses to steer QP and motion-vector
// hints (spec.md §3, §4.5). It follows the device/pipeline/fallback split
// of the reference codebase's Vulkan-backed renderer.
package gpuview

// ImageHandle is an opaque reference to a Vulkan image (source BGRA or a
// destination NV12 plane).
type ImageHandle uint64

// Dimensions is a width/height pair, always a multiple of 16 on the target
// side (spec.md §4.5).
type Dimensions struct {
	Width  int
	Height int
}

// SourceImages is the input to CreateView: the current BGRA frame, and
// optionally the previous one. PerformDamageDetection is derived from
// whether Old is present: an IDR (no previous frame to diff against) never
// runs damage detection.
type SourceImages struct {
	New ImageHandle
	Old ImageHandle // zero value means "none": damage detection is off
}

// ViewImages is one NV12 view: a Y plane (full res, 8-bit) and a UV plane
// (half-width, half-height, 8-bit, interleaved).
type ViewImages struct {
	Y  ImageHandle
	UV ImageHandle
}

// DestinationViews is the pair of NV12 views the compute shader populates.
type DestinationViews struct {
	Main ViewImages
	Aux  ViewImages
}

// SpecializationConstants are baked into the compute pipeline at creation
// time (spec.md §4.5): one pipeline per PerformDamageDetection value.
type SpecializationConstants struct {
	SourceWidth            uint32
	SourceHeight           uint32
	TargetWidth            uint32
	TargetHeight           uint32
	PerformDamageDetection bool
	StateBufferStride      uint32
}

// stateBufferStride is ceil(sourceWidth/64): the number of 64-pixel tile
// columns in one row of the state buffers.
func stateBufferStride(sourceWidth int) uint32 {
	return uint32(ceilDiv(sourceWidth, 64))
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// tileDims returns the damage/chroma bitmap shape: ceil(W/64) x ceil(H/64)
// 64x64-pixel tiles (spec.md §3 "Render state").
func tileDims(d Dimensions) (wTiles, hTiles int) {
	return ceilDiv(d.Width, 64), ceilDiv(d.Height, 64)
}

// RenderState is the per-frame side channel produced by finish_view
// (spec.md §3): two bitmaps shaped (height tiles, width tiles), one bit per
// 64x64 tile.
type RenderState struct {
	WidthTiles  int
	HeightTiles int

	// Damage and ChromaChange are packed one-bit-per-tile, row-major,
	// matching the GPU's 32-bit-word layout (word = row*WidthTiles+col,
	// divided into 32-tile words).
	Damage       []uint32
	ChromaChange []uint32
}

// TileChanged reports whether the damage bitmap has the bit for (tileX,
// tileY) set.
func (r *RenderState) TileChanged(tileX, tileY int) bool {
	return bitSet(r.Damage, r.WidthTiles, tileX, tileY)
}

// ChromaTileChanged reports whether the chroma-change bitmap has the bit
// for (tileX, tileY) set.
func (r *RenderState) ChromaTileChanged(tileX, tileY int) bool {
	return bitSet(r.ChromaChange, r.WidthTiles, tileX, tileY)
}

func bitSet(bitmap []uint32, widthTiles, tileX, tileY int) bool {
	idx := tileY*widthTiles + tileX
	word := idx / 32
	bit := uint(idx % 32)
	if word >= len(bitmap) {
		return false
	}
	return bitmap[word]&(1<<bit) != 0
}

func setBit(bitmap []uint32, widthTiles, tileX, tileY int) {
	idx := tileY*widthTiles + tileX
	word := idx / 32
	bit := uint(idx % 32)
	bitmap[word] |= 1 << bit
}

func newStateBitmap(widthTiles, heightTiles int) []uint32 {
	nBits := widthTiles * heightTiles
	return make([]uint32, ceilDiv(nBits, 32))
}
