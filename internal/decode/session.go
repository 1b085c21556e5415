package decode

import (
	"sync"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/logging"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/workerpool"
)

var log = logging.L("decode")

// SoftwareSession is a CPU-side Session that decodes by stripping the NAL
// framing avcencode.SoftwareBackend fabricated and handing the remaining
// bytes back as the "decoded" picture. It exists for tests and the CLI
// demo harness.
type SoftwareSession struct {
	mu sync.Mutex

	surfaceWidth  uint32
	surfaceHeight uint32
	modifier      DrmFormatModifier

	registered map[BufferHandle]*SampleBuffer
	pending    int

	pool *workerpool.Pool
}

// NewSoftwareSession returns a session whose DecodeFrame calls run on
// pool.
func NewSoftwareSession(pool *workerpool.Pool) *SoftwareSession {
	return &SoftwareSession{
		registered: make(map[BufferHandle]*SampleBuffer),
		pool:       pool,
	}
}

// GetDRMFormatModifiers reports only DRM_FORMAT_MOD_LINEAR (0), the
// modifier the software session's fabricated buffers use.
func (s *SoftwareSession) GetDRMFormatModifiers(drmFormat uint32) []DrmFormatModifier {
	return []DrmFormatModifier{0}
}

// Reset reconfigures the session for a new surface size (spec.md §9:
// "reset" in the decode session capability set).
func (s *SoftwareSession) Reset(surfaceWidth, surfaceHeight uint32, modifier DrmFormatModifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if surfaceWidth == 0 || surfaceHeight == 0 {
		return rdperror.New(rdperror.KindProtocolViolation, "decode.Reset", "surface dimensions must be positive", nil)
	}
	s.surfaceWidth = surfaceWidth
	s.surfaceHeight = surfaceHeight
	s.modifier = modifier
	s.registered = make(map[BufferHandle]*SampleBuffer)
	s.pending = 0
	return nil
}

// RegisterBuffer associates buf with a fresh empty SampleBuffer.
func (s *SoftwareSession) RegisterBuffer(buf BufferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[buf]; ok {
		return rdperror.New(rdperror.KindProtocolViolation, "decode.RegisterBuffer", "buffer already registered", nil)
	}
	s.registered[buf] = &SampleBuffer{Buffer: buf}
	return nil
}

// UnregisterBuffer drops buf's association.
func (s *SoftwareSession) UnregisterBuffer(buf BufferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.registered, buf)
}

// GetSampleBuffer returns the SampleBuffer associated with buf, if any.
func (s *SoftwareSession) GetSampleBuffer(buf BufferHandle) (*SampleBuffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.registered[buf]
	return sb, ok
}

// SubmitSample stores sample's bytes into its registered buffer.
func (s *SoftwareSession) SubmitSample(sample *SampleBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sb, ok := s.registered[sample.Buffer]
	if !ok {
		return rdperror.New(rdperror.KindProtocolViolation, "decode.SubmitSample", "buffer not registered", nil)
	}
	sb.Data = sample.Data
	sb.FrameType = sample.FrameType
	return nil
}

// GetNPendingFrames reports how many DecodeFrame calls have been
// submitted but not yet completed.
func (s *SoftwareSession) GetNPendingFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// DecodeFrame enqueues sample onto the worker pool; onFrameReady is
// called with the decoded sample once the (trivial, CPU-only) decode
// completes.
func (s *SoftwareSession) DecodeFrame(sample *SampleBuffer, onFrameReady func(*SampleBuffer, error)) error {
	s.mu.Lock()
	s.pending++
	s.mu.Unlock()

	accepted := s.pool.Submit(func() {
		defer func() {
			s.mu.Lock()
			s.pending--
			s.mu.Unlock()
		}()

		decoded := &SampleBuffer{
			Buffer:    sample.Buffer,
			FrameType: sample.FrameType,
			Data:      stripNALFraming(sample.Data),
		}
		onFrameReady(decoded, nil)
	})
	if !accepted {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
		return rdperror.New(rdperror.KindHardwareFailure, "decode.DecodeFrame", "worker pool queue full", nil)
	}
	return nil
}

// stripNALFraming is a placeholder "decode": it returns the payload
// after the last Annex-B start code, standing in for real entropy
// decoding (no VA-API/Vulkan-video decode binding is available; see
// DESIGN.md).
func stripNALFraming(data []byte) []byte {
	lastStart := -1
	for i := 0; i+3 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			lastStart = i + 4
		}
	}
	if lastStart < 0 || lastStart >= len(data) {
		return data
	}
	return data[lastStart:]
}
