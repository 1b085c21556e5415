// Package rdpgfx ties capture, gpuview, avcencode, framepacer, netdetect,
// and inputqueue together into the per-surface pipeline thread and the
// session thread spec.md §5 describes. No in-pack library speaks the
// real MS-RDPEGFX wire format, so Transport is a narrow collaborator
// interface. WebRTCTransport (webrtc_transport.go) implements it over
// pion/webrtc DataChannels; the cmd/grd-pipeline-sim harness uses an
// in-process loopback transport instead.
package rdpgfx

import "github.com/gnome-remote-desktop/grd-pipeline/internal/avcencode"

// FrameInfo is the wire-level per-frame header sent alongside an encoded
// bitstream (spec.md §6).
type FrameInfo struct {
	FrameID   uint32
	FrameType avcencode.FrameType
	QP        uint8
	Quality   uint8
}

// Transport is the sequence-numbered PDU send/ack contract a real RDP
// graphics-channel implementation provides. Acks and RTT/bandwidth
// responses arrive on the transport's own I/O thread (spec.md §5
// "Transport callback threads").
type Transport interface {
	// SendFrame sends one encoded bitstream with its frame info. The
	// transport assigns no sequencing of its own: frame_id round-trips
	// through AckCallback.
	SendFrame(info FrameInfo, bitstream []byte) error

	// RTTMeasureRequest sends a steady-state ping with the given
	// sequence number (netdetect.Transport).
	RTTMeasureRequest(seq uint32)

	// SetAckCallback registers the function invoked when the remote
	// peer acknowledges a frame.
	SetAckCallback(func(frameID uint32))

	// SetRTTResponseCallback registers the function invoked when the
	// remote peer responds to a steady-state RTT ping.
	SetRTTResponseCallback(func(seq uint32, nowUs int64))

	Close() error
}
