package rdpgfx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/avcencode"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/capture"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/framepacer"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/gpuview"
)

// fakeTransport is an in-process Transport that immediately "acks" every
// frame it's sent, so pipeline_test can exercise the pacer's ack
// bookkeeping without a real network round trip.
type fakeTransport struct {
	mu     sync.Mutex
	frames []FrameInfo

	onAck func(frameID uint32)
}

func (f *fakeTransport) SendFrame(info FrameInfo, bitstream []byte) error {
	f.mu.Lock()
	f.frames = append(f.frames, info)
	cb := f.onAck
	f.mu.Unlock()

	if cb != nil {
		cb(info.FrameID)
	}
	return nil
}

func (f *fakeTransport) RTTMeasureRequest(seq uint32)               {}
func (f *fakeTransport) SetAckCallback(cb func(frameID uint32))     { f.onAck = cb }
func (f *fakeTransport) SetRTTResponseCallback(func(uint32, int64)) {}
func (f *fakeTransport) Close() error                               { return nil }

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newTestPipelineWithStore(t *testing.T) (*Pipeline, *fakeTransport, *gpuview.ImageStore) {
	t.Helper()

	store := gpuview.NewImageStore()

	backend := avcencode.NewSoftwareBackend()
	enc, err := avcencode.New(backend, store, 64, 64, 60)
	if err != nil {
		t.Fatalf("avcencode.New: %v", err)
	}

	transport := &fakeTransport{}
	pacer := framepacer.NewFrameController(60)
	source := capture.NewSyntheticSource(64, 64)
	creator := gpuview.NewSoftwareCreator(store, gpuview.Dimensions{Width: 64, Height: 64})

	p := NewPipeline(PipelineConfig{
		Source:      source,
		Creator:     creator,
		Store:       store,
		Encode:      enc,
		Transport:   transport,
		Pacer:       pacer,
		RefreshRate: 60,
	})
	return p, transport, store
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeTransport) {
	t.Helper()
	p, transport, _ := newTestPipelineWithStore(t)
	return p, transport
}

func TestPipelineTickSendsOneFrame(t *testing.T) {
	p, transport := newTestPipeline(t)
	defer p.Close()

	if err := p.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := transport.sentCount(); got != 1 {
		t.Fatalf("expected 1 frame sent, got %d", got)
	}
	if transport.frames[0].FrameType != avcencode.FrameTypeI {
		t.Fatalf("expected first frame to be an IDR, got %v", transport.frames[0].FrameType)
	}
}

func TestPipelineSecondTickIsPFrame(t *testing.T) {
	p, transport := newTestPipeline(t)
	defer p.Close()

	if err := p.tick(); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := p.tick(); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if got := transport.sentCount(); got != 2 {
		t.Fatalf("expected 2 frames sent, got %d", got)
	}
	if transport.frames[1].FrameType != avcencode.FrameTypeP {
		t.Fatalf("expected second frame to be a P frame, got %v", transport.frames[1].FrameType)
	}
}

func TestPipelineRunStopsOnContextCancel(t *testing.T) {
	p, _ := newTestPipeline(t)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

// TestPipelineTickEncodesTheViewItJustRendered reproduces spec.md §3's
// requirement that the view creator's destination and the encode
// session's source surface are the same memory: the NV12 planes the
// picked view resolves to via ViewDestination must hold non-zero data
// (the SoftwareCreator's conversion output) immediately after tick(),
// not a separate, never-written allocation.
func TestPipelineTickEncodesTheViewItJustRendered(t *testing.T) {
	p, transport, store := newTestPipelineWithStore(t)
	defer p.Close()

	if err := p.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := transport.sentCount(); got != 1 {
		t.Fatalf("expected 1 frame sent, got %d", got)
	}

	views := p.cfg.Encode.GetImageViews()
	view := views[(p.nextFrame-1)%uint32(len(views))]

	dst, ok := p.cfg.Encode.ViewDestination(view)
	if !ok {
		t.Fatalf("expected ViewDestination to resolve the encoded view %v", view)
	}

	yPlane := store.Get(dst.Main.Y)
	if len(yPlane) == 0 {
		t.Fatal("expected the encoded view's Y plane to be allocated")
	}
	allZero := true
	for _, b := range yPlane {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatal("expected the encoded view's Y plane to hold the view creator's rendered luma data, got all zero bytes")
	}
}
