package capture

import "testing"

func TestSyntheticSourceProducesRequestedDimensions(t *testing.T) {
	s := NewSyntheticSource(64, 32)
	w, h := s.Bounds()
	if w != 64 || h != 32 {
		t.Fatalf("Bounds() = %d,%d want 64,32", w, h)
	}

	frame, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if frame == nil {
		t.Fatal("expected a frame, got nil")
	}
	if len(frame.Pix) != 64*32*4 {
		t.Fatalf("unexpected pixel buffer length %d", len(frame.Pix))
	}
}

func TestSyntheticSourceFramesDiffer(t *testing.T) {
	s := NewSyntheticSource(16, 16)
	f1, _ := s.Capture()
	f2, _ := s.Capture()

	identical := true
	for i := range f1.Pix {
		if f1.Pix[i] != f2.Pix[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Fatal("expected successive synthetic frames to differ")
	}
}

func TestSyntheticSourceReturnsNilAfterClose(t *testing.T) {
	s := NewSyntheticSource(16, 16)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	frame, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture after close: %v", err)
	}
	if frame != nil {
		t.Fatal("expected nil frame after close")
	}
}
