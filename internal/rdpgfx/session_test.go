package rdpgfx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/inputqueue"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/netdetect"
)

type recordingSink struct {
	mu     sync.Mutex
	events []inputqueue.Event
}

func (r *recordingSink) HandleInputEvent(e inputqueue.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestSession(t *testing.T) (*Session, *fakeTransport, *recordingSink) {
	t.Helper()

	pipeline, transport := newTestPipeline(t)
	queue := inputqueue.New()
	sink := &recordingSink{}
	netDetect := netdetect.NewSteadyState(transport)

	s := NewSession(SessionConfig{
		Pipeline:  pipeline,
		Input:     queue,
		Sink:      sink,
		NetDetect: netDetect,
		Transport: transport,
	})
	return s, transport, sink
}

// RTTMeasureRequest already satisfies netdetect.Transport on fakeTransport.

func TestSessionStartRunsUntilContextCancel(t *testing.T) {
	s, _, _ := newTestSession(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Start(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestSessionDrainsInputEventsToSink(t *testing.T) {
	s, _, sink := newTestSession(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Start(ctx)
		close(done)
	}()

	s.cfg.Input.Push(inputqueue.NewKeySymEvent(42, inputqueue.KeyPressed))
	s.cfg.Input.Push(inputqueue.NewKeySymEvent(42, inputqueue.KeyReleased))

	<-done

	if got := sink.count(); got != 2 {
		t.Fatalf("expected 2 drained events, got %d", got)
	}
}

func TestSessionSetsHighNecessityForRDPGFX(t *testing.T) {
	s, _, _ := newTestSession(t)
	defer s.Close()

	interval, active := s.cfg.NetDetect.PingInterval()
	if !active {
		t.Fatal("expected the RDPGFX consumer to make netdetect active")
	}
	if interval != netdetect.HighPingInterval {
		t.Fatalf("expected HighPingInterval, got %v", interval)
	}
}
