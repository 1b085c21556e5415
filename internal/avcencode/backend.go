package avcencode

// Capabilities describes what a Backend's device supports; EncodeSession
// construction fails with rdperror.KindUnsupportedDevice if the requested
// surface can't be satisfied (spec.md §4.2 "new(...)").
type Capabilities struct {
	SupportsNV12         bool
	SupportsQualityLevel bool
	// MaxWidth/MaxHeight of 0 means unconstrained (used by the software
	// backend, which has no real hardware limit).
	MaxWidth  int
	MaxHeight int
}

// Backend abstracts the hardware-accelerated encode session a real VA-API
// binding would implement (no such cgo binding is available in this
// module's dependency set; see DESIGN.md). It mirrors the reference
// codebase's encoderBackend interface shape, generalized to the
// NV12/begin-render-end protocol spec.md §4.2 describes.
type Backend interface {
	Name() string
	IsHardware() bool
	Capabilities() Capabilities

	// Submit assembles and dispatches the begin/render/end buffer triplet
	// for one frame. It must not block on hardware completion.
	Submit(sub FrameSubmission) error

	// Wait blocks until hardware completion for the given view and
	// returns the mapped output bitstream.
	Wait(view ImageViewHandle) (Bitstream, error)

	// Release unmaps and frees the bitstream's backing buffer.
	Release(bitstream Bitstream) error

	// Reset rebuilds all parameter buffers on the next frame, used after
	// a hardware error leaves the session needing a fresh IDR.
	Reset() error
}
