// Package decode is the receive-side counterpart to avcencode: a
// capability-set interface modeled on the original implementation's
// GrdDecodeSession vtable (get_drm_format_modifiers, reset,
// register_buffer, unregister_buffer, get_sample_buffer, submit_sample,
// get_n_pending_frames, decode_frame — spec.md §9 design note), realized
// as a Go interface plus a software implementation that keeps registered
// buffer handles in a map and drains decode work on a bounded worker pool
// (spec.md §5: "Decode
// thread ... drains a task queue with a blocking main-loop iteration").
package decode

import "github.com/gnome-remote-desktop/grd-pipeline/internal/avcencode"

// BufferHandle is an opaque reference to an imported PipeWire buffer
// (the original's struct pw_buffer *).
type BufferHandle uint64

// SampleBuffer is the decoded-frame side channel handed to the
// compositor, mirroring GrdSampleBuffer.
type SampleBuffer struct {
	Buffer    BufferHandle
	FrameType avcencode.FrameType
	Data      []byte
}

// DrmFormatModifier enumerates a supported DRM modifier for a given
// fourcc format.
type DrmFormatModifier uint64

// Session is the decode-side capability set (spec.md §9). A real
// implementation binds to a VA-API or Vulkan video decode context; no
// such cgo binding is available in this module's dependency set (see
// DESIGN.md), so Session is backed by SoftwareSession below for the demo
// harness.
type Session interface {
	GetDRMFormatModifiers(drmFormat uint32) []DrmFormatModifier
	Reset(surfaceWidth, surfaceHeight uint32, modifier DrmFormatModifier) error
	RegisterBuffer(buf BufferHandle) error
	UnregisterBuffer(buf BufferHandle)
	GetSampleBuffer(buf BufferHandle) (*SampleBuffer, bool)
	SubmitSample(sample *SampleBuffer) error
	GetNPendingFrames() int
	// DecodeFrame decodes sample asynchronously; onFrameReady is invoked
	// on the worker pool's goroutine once decoding completes (or fails).
	DecodeFrame(sample *SampleBuffer, onFrameReady func(*SampleBuffer, error)) error
}
