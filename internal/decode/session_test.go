package decode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/workerpool"
)

func TestRegisterSubmitGetSampleBuffer(t *testing.T) {
	pool := workerpool.New(2, 4)
	defer pool.Drain(context.Background())

	s := NewSoftwareSession(pool)
	if err := s.Reset(1920, 1080, 0); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if err := s.RegisterBuffer(1); err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	if err := s.RegisterBuffer(1); err == nil {
		t.Fatal("expected an error registering the same buffer twice")
	}

	payload := []byte{0, 0, 0, 1, 0xAA, 0xBB}
	if err := s.SubmitSample(&SampleBuffer{Buffer: 1, Data: payload}); err != nil {
		t.Fatalf("SubmitSample: %v", err)
	}

	sb, ok := s.GetSampleBuffer(1)
	if !ok {
		t.Fatal("expected a sample buffer for a registered handle")
	}
	if len(sb.Data) != len(payload) {
		t.Fatalf("unexpected sample buffer data: %v", sb.Data)
	}

	s.UnregisterBuffer(1)
	if _, ok := s.GetSampleBuffer(1); ok {
		t.Fatal("expected no sample buffer after unregister")
	}
}

func TestSubmitSampleRejectsUnregisteredBuffer(t *testing.T) {
	pool := workerpool.New(1, 1)
	defer pool.Drain(context.Background())

	s := NewSoftwareSession(pool)
	if err := s.SubmitSample(&SampleBuffer{Buffer: 42}); err == nil {
		t.Fatal("expected an error submitting to an unregistered buffer")
	}
}

func TestDecodeFrameStripsNALFramingAndCallsBack(t *testing.T) {
	pool := workerpool.New(2, 4)
	defer pool.Drain(context.Background())

	s := NewSoftwareSession(pool)

	var wg sync.WaitGroup
	wg.Add(1)

	var got *SampleBuffer
	var callErr error
	sample := &SampleBuffer{
		Buffer: 7,
		Data:   []byte{0, 0, 0, 1, 0x67, 0, 0, 0, 1, 0xAA, 0xBB},
	}

	if err := s.DecodeFrame(sample, func(decoded *SampleBuffer, err error) {
		got = decoded
		callErr = err
		wg.Done()
	}); err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	waitOrTimeout(t, &wg, time.Second)

	if callErr != nil {
		t.Fatalf("onFrameReady error: %v", callErr)
	}
	if len(got.Data) != 2 || got.Data[0] != 0xAA || got.Data[1] != 0xBB {
		t.Fatalf("expected framing stripped to [0xAA 0xBB], got %v", got.Data)
	}
}

func TestGetNPendingFramesTracksOutstandingDecodes(t *testing.T) {
	pool := workerpool.New(1, 4)
	defer pool.Drain(context.Background())

	s := NewSoftwareSession(pool)

	var wg sync.WaitGroup
	wg.Add(1)
	block := make(chan struct{})

	_ = s.DecodeFrame(&SampleBuffer{Buffer: 1}, func(*SampleBuffer, error) {
		<-block
		wg.Done()
	})

	// Give the worker a moment to pick up the task.
	deadline := time.Now().Add(time.Second)
	for s.GetNPendingFrames() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if s.GetNPendingFrames() != 1 {
		t.Fatalf("expected 1 pending frame, got %d", s.GetNPendingFrames())
	}

	close(block)
	waitOrTimeout(t, &wg, time.Second)

	if s.GetNPendingFrames() != 0 {
		t.Fatalf("expected 0 pending frames after completion, got %d", s.GetNPendingFrames())
	}
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for callback")
	}
}
