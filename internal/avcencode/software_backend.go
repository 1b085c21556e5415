package avcencode

import (
	"bytes"
	"sync"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"
)

// SoftwareBackend is a placeholder Backend that fabricates a well-formed
// bitstream (the concatenated parameter-set/slice NALs plus a zero-filled
// coded-data region of the advertised size) without touching real
// hardware. It exists the way the reference codebase carries a software
// placeholder encoder alongside its hardware backends: useful for the
// demo harness and for exercising EncodeSession without a GPU.
type SoftwareBackend struct {
	mu      sync.Mutex
	pending map[ImageViewHandle]FrameSubmission
	caps    Capabilities
}

// NewSoftwareBackend returns a Backend with unconstrained NV12/quality-
// level support, suitable for tests and the CLI demo harness.
func NewSoftwareBackend() *SoftwareBackend {
	return &SoftwareBackend{
		pending: make(map[ImageViewHandle]FrameSubmission),
		caps: Capabilities{
			SupportsNV12:         true,
			SupportsQualityLevel: true,
		},
	}
}

func (b *SoftwareBackend) Name() string { return "software-placeholder" }

func (b *SoftwareBackend) IsHardware() bool { return false }

func (b *SoftwareBackend) Capabilities() Capabilities { return b.caps }

func (b *SoftwareBackend) Submit(sub FrameSubmission) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[sub.ViewHandle] = sub
	return nil
}

func (b *SoftwareBackend) Wait(view ImageViewHandle) (Bitstream, error) {
	b.mu.Lock()
	sub, ok := b.pending[view]
	if ok {
		delete(b.pending, view)
	}
	b.mu.Unlock()

	if !ok {
		return Bitstream{}, rdperror.New(rdperror.KindHardwareFailure, "software_backend.wait", "no submission pending for view", nil)
	}

	var buf bytes.Buffer
	buf.Write(sub.AUD)
	buf.Write(sub.SPS)
	buf.Write(sub.PPS)
	buf.Write(sub.SliceHeader)
	buf.Write(make([]byte, sub.CodedBufferSize))

	frameType := FrameTypeP
	if sub.IsIDR {
		frameType = FrameTypeI
	}

	return Bitstream{
		Data: buf.Bytes(),
		Info: FrameInfo{FrameType: frameType, QP: PicInitQP, Quality: Quality},
	}, nil
}

func (b *SoftwareBackend) Release(Bitstream) error {
	return nil
}

func (b *SoftwareBackend) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = make(map[ImageViewHandle]FrameSubmission)
	return nil
}
