package avcencode

import (
	"sync"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/avcbitstream"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/gpuview"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/logging"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"
)

var log = logging.L("avcencode")

const sourceSurfacePoolSize = 8

// EncodeSession is the AVC hardware encode session (spec.md §4.2): it
// owns the source-surface pool, the single reference picture, frame_num
// bookkeeping, and the pending/locked bitstream maps.
type EncodeSession struct {
	mu sync.Mutex

	backend Backend

	surfaceWidth  int
	surfaceHeight int
	refreshRate   int
	levelIDC      uint32

	pendingIDR bool
	frameNum   uint32

	reference *ReconstructedPicture

	sourceViews []ImageViewHandle

	// viewSurfaces maps each source view to the NV12 main/aux planes it is
	// backed by in the shared gpuview.ImageStore: the view creator renders
	// into these same handles, so the bitstream EncodeFrame/LockBitstream
	// produce for a view is always the view creator's most recent output
	// for it (spec.md §3: "the Vulkan images expose the same memory that
	// the VA encoder reads").
	viewSurfaces map[ImageViewHandle]gpuview.DestinationViews

	pendingFrames    map[ImageViewHandle]*FrameRecord
	lockedBitstreams map[BitstreamID]*FrameRecord
	nextBitstreamID  BitstreamID
}

// New rounds srcW/srcH up to the 16-pixel macroblock grid, derives
// level_idc, verifies the backend supports NV12 and the resulting
// dimensions, and allocates the source-surface pool (spec.md §4.2 "new").
// Each pool view's NV12 main/aux planes are allocated out of store, the
// same gpuview.ImageStore the session's Pipeline renders views into, so
// the pool is sharable end to end rather than a second, disconnected set
// of handles.
func New(backend Backend, store *gpuview.ImageStore, srcW, srcH, refreshRate int) (*EncodeSession, error) {
	width := roundUp16(srcW)
	height := roundUp16(srcH)

	caps := backend.Capabilities()
	if !caps.SupportsNV12 {
		return nil, rdperror.New(rdperror.KindUnsupportedDevice, "avcencode.New", "backend does not support NV12 surfaces", nil)
	}
	if caps.MaxWidth > 0 && width > caps.MaxWidth {
		return nil, rdperror.New(rdperror.KindUnsupportedDevice, "avcencode.New", "surface width exceeds backend maximum", nil)
	}
	if caps.MaxHeight > 0 && height > caps.MaxHeight {
		return nil, rdperror.New(rdperror.KindUnsupportedDevice, "avcencode.New", "surface height exceeds backend maximum", nil)
	}

	levelIDC := avcbitstream.DeriveLevelIDC(width/16, height/16, refreshRate)

	target := gpuview.Dimensions{Width: width, Height: height}
	ySize := width * height
	uvSize := width * height / 2

	views := make([]ImageViewHandle, sourceSurfacePoolSize)
	viewSurfaces := make(map[ImageViewHandle]gpuview.DestinationViews, sourceSurfacePoolSize)
	for i := range views {
		views[i] = ImageViewHandle(i + 1)
		viewSurfaces[views[i]] = gpuview.DestinationViews{
			Main: gpuview.ViewImages{Y: store.Alloc(ySize, target), UV: store.Alloc(uvSize, target)},
			Aux:  gpuview.ViewImages{Y: store.Alloc(ySize, target), UV: store.Alloc(uvSize, target)},
		}
	}

	return &EncodeSession{
		backend:          backend,
		surfaceWidth:     width,
		surfaceHeight:    height,
		refreshRate:      refreshRate,
		levelIDC:         levelIDC,
		pendingIDR:       true,
		sourceViews:      views,
		viewSurfaces:     viewSurfaces,
		pendingFrames:    make(map[ImageViewHandle]*FrameRecord),
		lockedBitstreams: make(map[BitstreamID]*FrameRecord),
	}, nil
}

func roundUp16(v int) int {
	if v < 16 {
		return 16
	}
	return ((v + 15) / 16) * 16
}

// LevelIDC returns the derived level_idc for this session.
func (s *EncodeSession) LevelIDC() uint32 {
	return s.levelIDC
}

// SurfaceSize returns the rounded-up encode surface dimensions.
func (s *EncodeSession) SurfaceSize() (width, height int) {
	return s.surfaceWidth, s.surfaceHeight
}

// GetImageViews returns the stable set of NV12 views backed by source
// surfaces.
func (s *EncodeSession) GetImageViews() []ImageViewHandle {
	out := make([]ImageViewHandle, len(s.sourceViews))
	copy(out, s.sourceViews)
	return out
}

// ViewDestination returns the NV12 main/aux gpuview.ImageStore handles
// backing view, so a caller can pass them as CreateView's destination and
// be certain the bitstream EncodeFrame later produces for view reflects
// exactly what was just rendered there.
func (s *EncodeSession) ViewDestination(view ImageViewHandle) (gpuview.DestinationViews, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.viewSurfaces[view]
	return d, ok
}

// HasPendingFrames reports whether any view currently has a frame between
// submit and bitstream-lock.
func (s *EncodeSession) HasPendingFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingFrames) > 0
}

// EncodeFrame builds a frame record for the given NV12 view, submits it
// to the backend, and inserts the record into pending-frames (spec.md
// §4.2 "encode_frame"). It fails with rdperror.ErrBusy if view already has
// a pending frame.
func (s *EncodeSession) EncodeFrame(view ImageViewHandle) error {
	s.mu.Lock()
	if _, busy := s.pendingFrames[view]; busy {
		s.mu.Unlock()
		return rdperror.ErrBusy
	}

	isIDR := s.pendingIDR
	frameNum := s.frameNum
	prevRef := s.reference
	widthMBs := s.surfaceWidth / 16
	heightMBs := s.surfaceHeight / 16
	caps := s.backend.Capabilities()
	s.mu.Unlock()

	sub := s.buildSubmission(view, isIDR, frameNum, prevRef, widthMBs, heightMBs, caps.SupportsQualityLevel)

	if err := s.backend.Submit(sub); err != nil {
		return rdperror.Wrap(rdperror.KindHardwareFailure, "avcencode.EncodeFrame", err)
	}

	frameType := FrameTypeP
	if isIDR {
		frameType = FrameTypeI
	}

	pic := ReconstructedPicture{SurfaceHandle: view, FrameNum: frameNum, IDR: isIDR}
	record := &FrameRecord{
		View:      view,
		Picture:   pic,
		FrameInfo: FrameInfo{FrameType: frameType, QP: PicInitQP, Quality: Quality},
	}

	s.mu.Lock()
	s.pendingFrames[view] = record
	s.reference = &pic
	s.frameNum = (s.frameNum + 1) % FrameNumModulus
	if isIDR {
		s.pendingIDR = false
	}
	s.mu.Unlock()

	return nil
}

func (s *EncodeSession) buildSubmission(view ImageViewHandle, isIDR bool, frameNum uint32, prevRef *ReconstructedPicture, widthMBs, heightMBs int, supportsQualityLevel bool) FrameSubmission {
	aud, audBits := avcbitstream.BuildAUD()

	var sps, pps []byte
	var spsBits, ppsBits int
	if isIDR {
		sps, spsBits = avcbitstream.BuildSPS(avcbitstream.SPSParams{
			LevelIDC:                  s.levelIDC,
			PicWidthInMbsMinus1:       uint32(widthMBs - 1),
			PicHeightInMapUnitsMinus1: uint32(heightMBs - 1),
			RefreshRate:               uint32(s.refreshRate),
		})
		pps, ppsBits = avcbitstream.BuildPPS()
	}

	sliceType := avcbitstream.SliceTypeP
	if isIDR {
		sliceType = avcbitstream.SliceTypeI
	}
	slice, sliceBits := avcbitstream.BuildSliceHeader(avcbitstream.SliceHeaderParams{
		SliceType: uint32(sliceType),
		FrameNum:  frameNum,
		IsIDR:     isIDR,
	})

	var qualityLevel *uint8
	if isIDR && supportsQualityLevel {
		v := uint8(qualityLevelVal)
		qualityLevel = &v
	}

	headerBits := audBits + spsBits + ppsBits + sliceBits
	codedBufferSize := widthMBs*heightMBs*400 + (headerBits+7)/8

	var ref *ReconstructedPicture
	if !isIDR {
		ref = prevRef
	}

	return FrameSubmission{
		ViewHandle:      view,
		IsIDR:           isIDR,
		AUD:             aud,
		SPS:             sps,
		PPS:             pps,
		SubPelMode:      subPelMode,
		QualityLevel:    qualityLevel,
		SliceHeader:     slice,
		SliceType:       sliceType,
		FrameNum:        frameNum,
		CodedBufferSize: codedBufferSize,
		PrevReference:   ref,
	}
}

// LockBitstream waits for hardware completion on view's source surface,
// moves the frame from pending-frames to locked-bitstreams, and returns
// the mapped bitstream (spec.md §4.2 "lock_bitstream").
func (s *EncodeSession) LockBitstream(view ImageViewHandle) (BitstreamHandle, error) {
	s.mu.Lock()
	record, ok := s.pendingFrames[view]
	if !ok {
		s.mu.Unlock()
		return BitstreamHandle{}, rdperror.New(rdperror.KindProtocolViolation, "avcencode.LockBitstream", "view has no pending frame", nil)
	}
	delete(s.pendingFrames, view)
	id := s.nextBitstreamID
	s.nextBitstreamID++
	s.mu.Unlock()

	bitstream, err := s.backend.Wait(view)
	if err != nil {
		return BitstreamHandle{}, rdperror.Wrap(rdperror.KindHardwareFailure, "avcencode.LockBitstream", err)
	}
	bitstream.Info = record.FrameInfo

	s.mu.Lock()
	s.lockedBitstreams[id] = record
	s.mu.Unlock()

	return BitstreamHandle{ID: id, Bitstream: bitstream}, nil
}

// UnlockBitstream unmaps and frees the backing buffer and releases the
// frame record (spec.md §4.2 "unlock_bitstream").
func (s *EncodeSession) UnlockBitstream(handle BitstreamHandle) error {
	s.mu.Lock()
	_, ok := s.lockedBitstreams[handle.ID]
	if !ok {
		s.mu.Unlock()
		return rdperror.New(rdperror.KindProtocolViolation, "avcencode.UnlockBitstream", "bitstream is not locked", nil)
	}
	delete(s.lockedBitstreams, handle.ID)
	s.mu.Unlock()

	return s.backend.Release(handle.Bitstream)
}

// Close asserts both maps are empty, as the reference session does at
// dispose time (spec.md §5 "Resource policy").
func (s *EncodeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pendingFrames) != 0 || len(s.lockedBitstreams) != 0 {
		return rdperror.New(rdperror.KindProtocolViolation, "avcencode.Close", "session disposed with outstanding frames", nil)
	}
	return nil
}

// HandleHardwareError resets the backend and marks the session for a
// fresh IDR on the next frame, per spec.md §4.2 "Failure semantics".
func (s *EncodeSession) HandleHardwareError(err error) {
	log.Warn("hardware error, resetting session", "error", err)
	if resetErr := s.backend.Reset(); resetErr != nil {
		log.Error("backend reset failed", "error", resetErr)
	}
	s.mu.Lock()
	s.pendingIDR = true
	s.mu.Unlock()
}
