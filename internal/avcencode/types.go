// Package avcencode implements the AVC hardware encode session: per-frame
// buffer assembly, reference-picture tracking, and the pending/locked
// bitstream bookkeeping described in spec.md §3/§4.2. The actual hardware
// session is represented by the Backend interface (see backend.go) since
// no VA-API cgo binding is available; it follows the encoderBackend
// interface/factory pattern of the reference codebase's software encoder.
package avcencode

import "github.com/gnome-remote-desktop/grd-pipeline/internal/avcbitstream"

// Side-channel constants fixed by this session's CQP configuration
// (spec.md §6).
const (
	PicInitQP = 22
	Quality   = 100

	subPelMode      = 3
	qualityLevelVal = 0
)

// FrameType classifies a frame record as an IDR (I) or reference (P)
// picture.
type FrameType int

const (
	FrameTypeI FrameType = iota
	FrameTypeP
)

func (t FrameType) String() string {
	if t == FrameTypeI {
		return "I"
	}
	return "P"
}

// ImageViewHandle identifies one of the session's NV12 source surface
// views (spec.md §3: 8 surfaces, 4 per view).
type ImageViewHandle uint64

// ReconstructedPicture is an AVC reference frame (spec.md §3). FrameNum
// wraps at (1<<avcbitstream.Log2MaxFrameNum)+1 = 257, preserving the
// source's off-by-one versus the H.264 spec's 256-wrap (spec.md §9 design
// note: do not silently fix this).
type ReconstructedPicture struct {
	SurfaceHandle ImageViewHandle
	FrameNum      uint32
	IDR           bool
}

// FrameNumModulus is the session's frame_num wraparound modulus.
const FrameNumModulus = (1 << avcbitstream.Log2MaxFrameNum) + 1

// FrameInfo is the per-frame side channel consumed by the RDP graphics
// pipeline to choose GFX headers (spec.md §6). It is not part of the wire
// format.
type FrameInfo struct {
	FrameType FrameType
	QP        uint8
	Quality   uint8
}

// Bitstream is the mapped encoder output plus its frame info.
type Bitstream struct {
	Data []byte
	Info FrameInfo
}

// BitstreamID identifies a locked bitstream between LockBitstream and
// UnlockBitstream.
type BitstreamID uint64

// BitstreamHandle is returned by LockBitstream and consumed by
// UnlockBitstream.
type BitstreamHandle struct {
	ID        BitstreamID
	Bitstream Bitstream
}

// FrameRecord is the per-frame encoder state (spec.md §3): the owned
// reconstructed picture, the NV12 view it was submitted from, the frame
// info side channel, and the three timestamps used only when time-debug
// is enabled.
type FrameRecord struct {
	View      ImageViewHandle
	Picture   ReconstructedPicture
	FrameInfo FrameInfo

	SubmitTimeUs     int64
	RenderTimeUs     int64
	BitstreamReadyUs int64
}

// FrameSubmission is the ordered per-frame buffer list a Backend receives
// for its begin/render/end submit triplet (spec.md §4.2 "Per-frame
// protocol").
type FrameSubmission struct {
	ViewHandle ImageViewHandle
	IsIDR      bool

	AUD []byte
	SPS []byte // present only on IDR
	PPS []byte // present only on IDR

	SubPelMode      uint8
	QualityLevel    *uint8 // non-nil only on IDR when the device supports quality levels
	SliceHeader     []byte
	SliceType       int
	FrameNum        uint32
	CodedBufferSize int

	// PrevReference is the picture RefPicList0[0]/ReferenceFrames[0] must
	// point at for a P slice; nil on IDR (spec.md §4.2 "Reference
	// handling").
	PrevReference *ReconstructedPicture
}
