package rdpgfx

import (
	"encoding/binary"
	"testing"

	"github.com/pion/rtcp"
)

func TestHandleGfxMessageInvokesAckCallback(t *testing.T) {
	tr := &WebRTCTransport{}

	var got uint32
	tr.SetAckCallback(func(frameID uint32) { got = frameID })

	buf := make([]byte, 5)
	buf[0] = tagAck
	binary.BigEndian.PutUint32(buf[1:5], 7)

	tr.handleGfxMessage(buf)

	if got != 7 {
		t.Fatalf("expected ack callback with frame_id 7, got %d", got)
	}
}

func TestHandleGfxMessageIgnoresUnknownTag(t *testing.T) {
	tr := &WebRTCTransport{}

	called := false
	tr.SetAckCallback(func(uint32) { called = true })

	tr.handleGfxMessage([]byte{tagFrame, 0, 0, 0, 0})

	if called {
		t.Fatal("expected no callback for a non-ack tag")
	}
}

func TestHandleNetcharMessageInvokesRTTCallback(t *testing.T) {
	tr := &WebRTCTransport{}

	var gotSeq uint32
	tr.SetRTTResponseCallback(func(seq uint32, nowUs int64) { gotSeq = seq })

	rr := &rtcp.ReceiverReport{SSRC: 99}
	buf, err := rr.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tr.handleNetcharMessage(buf)

	if gotSeq != 99 {
		t.Fatalf("expected RTT callback with seq 99, got %d", gotSeq)
	}
}

func TestHandleNetcharMessageIgnoresSenderReport(t *testing.T) {
	tr := &WebRTCTransport{}

	called := false
	tr.SetRTTResponseCallback(func(uint32, int64) { called = true })

	sr := &rtcp.SenderReport{SSRC: 1}
	buf, err := sr.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	tr.handleNetcharMessage(buf)

	if called {
		t.Fatal("expected no callback for a SenderReport (that's our own ping echoed nowhere)")
	}
}
