package avcencode

import (
	"testing"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/gpuview"
)

func newTestSession(t *testing.T) (*EncodeSession, *SoftwareBackend) {
	t.Helper()
	backend := NewSoftwareBackend()
	sess, err := New(backend, gpuview.NewImageStore(), 1920, 1080, 60)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sess, backend
}

// TestEncodeLockUnlockOrdering reproduces spec.md §8 property #1.
func TestEncodeLockUnlockOrdering(t *testing.T) {
	sess, _ := newTestSession(t)
	view := sess.GetImageViews()[0]

	if err := sess.EncodeFrame(view); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if !sess.HasPendingFrames() {
		t.Fatal("expected a pending frame after EncodeFrame")
	}

	// Re-encoding the same view before lock must fail Busy.
	if err := sess.EncodeFrame(view); err == nil {
		t.Fatal("expected Busy error encoding an already-pending view")
	}

	handle, err := sess.LockBitstream(view)
	if err != nil {
		t.Fatalf("LockBitstream: %v", err)
	}
	if sess.HasPendingFrames() {
		t.Fatal("expected no pending frames after lock")
	}

	if err := sess.UnlockBitstream(handle); err != nil {
		t.Fatalf("UnlockBitstream: %v", err)
	}

	// View is eligible for a new EncodeFrame again.
	if err := sess.EncodeFrame(view); err != nil {
		t.Fatalf("expected EncodeFrame to succeed after unlock: %v", err)
	}
}

func TestCloseAssertsMapsEmpty(t *testing.T) {
	sess, _ := newTestSession(t)
	view := sess.GetImageViews()[0]

	if err := sess.EncodeFrame(view); err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if err := sess.Close(); err == nil {
		t.Fatal("expected Close to fail with an outstanding pending frame")
	}

	handle, err := sess.LockBitstream(view)
	if err != nil {
		t.Fatalf("LockBitstream: %v", err)
	}
	if err := sess.Close(); err == nil {
		t.Fatal("expected Close to fail with an outstanding locked bitstream")
	}

	if err := sess.UnlockBitstream(handle); err != nil {
		t.Fatalf("UnlockBitstream: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("expected Close to succeed once maps are empty: %v", err)
	}
}

// TestIDRThenPReferenceE2 reproduces spec.md §8 scenario E2.
func TestIDRThenPReferenceE2(t *testing.T) {
	sess, _ := newTestSession(t)
	views := sess.GetImageViews()

	if err := sess.EncodeFrame(views[0]); err != nil {
		t.Fatalf("EncodeFrame IDR: %v", err)
	}
	idrHandle, err := sess.LockBitstream(views[0])
	if err != nil {
		t.Fatalf("LockBitstream IDR: %v", err)
	}
	if idrHandle.Bitstream.Info.FrameType != FrameTypeI {
		t.Fatalf("expected IDR frame info type I, got %v", idrHandle.Bitstream.Info.FrameType)
	}

	if sess.reference == nil || !sess.reference.IDR || sess.reference.FrameNum != 0 {
		t.Fatalf("expected reference picture to be the IDR with frame_num 0, got %+v", sess.reference)
	}

	if err := sess.EncodeFrame(views[1]); err != nil {
		t.Fatalf("EncodeFrame P: %v", err)
	}
	pHandle, err := sess.LockBitstream(views[1])
	if err != nil {
		t.Fatalf("LockBitstream P: %v", err)
	}
	if pHandle.Bitstream.Info.FrameType != FrameTypeP {
		t.Fatalf("expected P frame info type P, got %v", pHandle.Bitstream.Info.FrameType)
	}

	if err := sess.UnlockBitstream(idrHandle); err != nil {
		t.Fatalf("UnlockBitstream IDR: %v", err)
	}
	if err := sess.UnlockBitstream(pHandle); err != nil {
		t.Fatalf("UnlockBitstream P: %v", err)
	}
}

// TestFrameNumWrapsAt257 reproduces spec.md §8 scenario E3.
func TestFrameNumWrapsAt257(t *testing.T) {
	sess, _ := newTestSession(t)
	views := sess.GetImageViews()

	for i := 0; i < 257; i++ {
		view := views[i%len(views)]
		if err := sess.EncodeFrame(view); err != nil {
			t.Fatalf("EncodeFrame #%d: %v", i, err)
		}
		handle, err := sess.LockBitstream(view)
		if err != nil {
			t.Fatalf("LockBitstream #%d: %v", i, err)
		}
		if err := sess.UnlockBitstream(handle); err != nil {
			t.Fatalf("UnlockBitstream #%d: %v", i, err)
		}
	}

	if sess.frameNum != 0 {
		t.Fatalf("expected frame_num to wrap to 0 after 257 frames, got %d", sess.frameNum)
	}
}

func TestNewRejectsUnsupportedNV12(t *testing.T) {
	backend := NewSoftwareBackend()
	backend.caps.SupportsNV12 = false

	if _, err := New(backend, gpuview.NewImageStore(), 1920, 1080, 60); err == nil {
		t.Fatal("expected an error when backend does not support NV12")
	}
}

func TestNewRoundsUpToMacroblockGrid(t *testing.T) {
	sess, err := New(NewSoftwareBackend(), gpuview.NewImageStore(), 1000, 500, 30)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w, h := sess.SurfaceSize()
	if w%16 != 0 || h%16 != 0 {
		t.Fatalf("expected dimensions rounded to multiples of 16, got %dx%d", w, h)
	}
	if w < 1000 || h < 500 {
		t.Fatalf("expected rounded dimensions to be >= requested, got %dx%d", w, h)
	}
}

// TestViewDestinationCoversEveryView reproduces spec.md §3's requirement
// that the view creator's destination views and the encode session's
// source-surface pool are the same surfaces: every handle GetImageViews
// returns must resolve to a distinct set of NV12 planes.
func TestViewDestinationCoversEveryView(t *testing.T) {
	sess, _ := newTestSession(t)

	seen := make(map[gpuview.ImageHandle]bool)
	for _, view := range sess.GetImageViews() {
		dst, ok := sess.ViewDestination(view)
		if !ok {
			t.Fatalf("expected ViewDestination to resolve view %v", view)
		}
		for _, h := range []gpuview.ImageHandle{dst.Main.Y, dst.Main.UV, dst.Aux.Y, dst.Aux.UV} {
			if h == 0 {
				t.Fatalf("view %v has a zero-value plane handle", view)
			}
			if seen[h] {
				t.Fatalf("plane handle %v reused across views", h)
			}
			seen[h] = true
		}
	}
}
