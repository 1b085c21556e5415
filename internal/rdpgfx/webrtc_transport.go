package rdpgfx

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"
)

// Wire message tags for the gfx data channel. There is no in-pack
// MS-RDPEGFX codec to reuse, so this is a minimal framing invented for the
// demo harness, not a protocol this module claims wire-compatibility with
// (see DESIGN.md).
const (
	tagFrame byte = iota
	tagAck
)

// WebRTCTransport drives rdpgfx.Transport over two unordered, unreliable
// pion/webrtc/v4 DataChannels ("gfx" and "netchar"), the way the reference
// codebase gives the cursor channel its own unordered/unreliable
// DataChannelInit separate from the ordered default channels (spec.md
// Non-goals exclude the real wire protocol; this is the WebRTC transport
// referenced in transport.go's package doc).
type WebRTCTransport struct {
	mu sync.Mutex

	gfx     *webrtc.DataChannel
	netchar *webrtc.DataChannel

	onAck         func(frameID uint32)
	onRTTResponse func(seq uint32, nowUs int64)
}

// NewWebRTCTransport creates the gfx and netchar channels on pc and wires
// their OnMessage handlers. Both are unordered/unreliable: a dropped frame
// ack or ping response is just a missed sample, never a protocol error.
func NewWebRTCTransport(pc *webrtc.PeerConnection) (*WebRTCTransport, error) {
	ordered := false
	maxRetransmits := uint16(0)
	init := &webrtc.DataChannelInit{Ordered: &ordered, MaxRetransmits: &maxRetransmits}

	gfx, err := pc.CreateDataChannel("gfx", init)
	if err != nil {
		return nil, rdperror.Wrap(rdperror.KindProtocolViolation, "rdpgfx.NewWebRTCTransport", err)
	}
	netchar, err := pc.CreateDataChannel("netchar", init)
	if err != nil {
		return nil, rdperror.Wrap(rdperror.KindProtocolViolation, "rdpgfx.NewWebRTCTransport", err)
	}

	t := &WebRTCTransport{gfx: gfx, netchar: netchar}

	gfx.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.handleGfxMessage(msg.Data)
	})
	netchar.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.handleNetcharMessage(msg.Data)
	})

	return t, nil
}

func (t *WebRTCTransport) handleGfxMessage(data []byte) {
	if len(data) < 5 || data[0] != tagAck {
		return
	}
	frameID := binary.BigEndian.Uint32(data[1:5])

	t.mu.Lock()
	cb := t.onAck
	t.mu.Unlock()
	if cb != nil {
		cb(frameID)
	}
}

// handleNetcharMessage parses inbound RTCP packets on the netchar channel.
// The remote peer answers a SenderReport ping (RTTMeasureRequest) with a
// ReceiverReport carrying the same SSRC as the sequence number, the way a
// real RTCP receiver echoes the sender's SSRC in its report blocks.
func (t *WebRTCTransport) handleNetcharMessage(data []byte) {
	pkts, err := rtcp.Unmarshal(data)
	if err != nil {
		return
	}
	for _, pkt := range pkts {
		rr, ok := pkt.(*rtcp.ReceiverReport)
		if !ok {
			continue
		}

		t.mu.Lock()
		cb := t.onRTTResponse
		t.mu.Unlock()
		if cb != nil {
			cb(rr.SSRC, time.Now().UnixMicro())
		}
	}
}

// SendFrame encodes info and bitstream as one gfx-channel message:
// [tagFrame][frame_id u32][frame_type u8][qp u8][quality u8][bitstream...].
func (t *WebRTCTransport) SendFrame(info FrameInfo, bitstream []byte) error {
	buf := make([]byte, 8+len(bitstream))
	buf[0] = tagFrame
	binary.BigEndian.PutUint32(buf[1:5], info.FrameID)
	buf[5] = byte(info.FrameType)
	buf[6] = info.QP
	buf[7] = info.Quality
	copy(buf[8:], bitstream)

	if err := t.gfx.Send(buf); err != nil {
		return rdperror.Wrap(rdperror.KindProtocolViolation, "rdpgfx.SendFrame", err)
	}
	return nil
}

// RTTMeasureRequest sends a netchar-channel ping as an RTCP SenderReport,
// stashing seq in SSRC so the matching ReceiverReport echoes it back.
func (t *WebRTCTransport) RTTMeasureRequest(seq uint32) {
	sr := &rtcp.SenderReport{SSRC: seq, NTPTime: uint64(time.Now().UnixNano())}
	buf, err := sr.Marshal()
	if err != nil {
		return
	}
	_ = t.netchar.Send(buf)
}

// SetAckCallback registers the frame-ack handler.
func (t *WebRTCTransport) SetAckCallback(cb func(frameID uint32)) {
	t.mu.Lock()
	t.onAck = cb
	t.mu.Unlock()
}

// SetRTTResponseCallback registers the RTT-ping-response handler.
func (t *WebRTCTransport) SetRTTResponseCallback(cb func(seq uint32, nowUs int64)) {
	t.mu.Lock()
	t.onRTTResponse = cb
	t.mu.Unlock()
}

// Close closes both data channels.
func (t *WebRTCTransport) Close() error {
	errGfx := t.gfx.Close()
	errNet := t.netchar.Close()
	if errGfx != nil {
		return rdperror.Wrap(rdperror.KindProtocolViolation, "rdpgfx.Close", errGfx)
	}
	if errNet != nil {
		return rdperror.Wrap(rdperror.KindProtocolViolation, "rdpgfx.Close", errNet)
	}
	return nil
}
