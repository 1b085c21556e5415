package netdetect

import "testing"

type fakeTransport struct {
	requested []uint32
}

func (f *fakeTransport) RTTMeasureRequest(seq uint32) {
	f.requested = append(f.requested, seq)
}

type fakeObserver struct {
	updates []int64
}

func (f *fakeObserver) OnRTTUpdate(meanRTTUs int64) {
	f.updates = append(f.updates, meanRTTUs)
}

// TestPingIntervalSelection reproduces spec.md §8 property #6.
func TestPingIntervalSelection(t *testing.T) {
	s := NewSteadyState(&fakeTransport{})

	if _, active := s.PingInterval(); active {
		t.Fatal("expected no active interval with no consumers")
	}

	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityHigh)
	if interval, active := s.PingInterval(); !active || interval != HighPingInterval {
		t.Fatalf("expected HIGH interval, got %v active=%v", interval, active)
	}

	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityLow)
	if interval, active := s.PingInterval(); !active || interval != LowPingInterval {
		t.Fatalf("expected LOW interval, got %v active=%v", interval, active)
	}

	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityNone)
	if _, active := s.PingInterval(); active {
		t.Fatal("expected no active interval after consumer removed")
	}
}

func TestTickSkipsWhenNoConsumer(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSteadyState(transport)
	s.Tick(1000)
	if len(transport.requested) != 0 {
		t.Fatalf("expected no ping request with no active consumer, got %v", transport.requested)
	}
}

func TestSeqZeroNeverIssued(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSteadyState(transport)
	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityHigh)
	for i := 0; i < 5; i++ {
		s.Tick(int64(i) * 1000)
	}
	for _, seq := range transport.requested {
		if seq == 0 {
			t.Fatal("seq 0 must never be issued for steady-state pings")
		}
	}
}

// TestSteadyStateRTTMeanE5 reproduces spec.md §8 scenario E5.
func TestSteadyStateRTTMeanE5(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSteadyState(transport)
	observer := &fakeObserver{}
	s.AddObserver(observer)
	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityHigh)

	s.Tick(0) // seq 1 at t=0us

	s.NotifyResponse(1, 100_000) // 100ms later

	if len(observer.updates) != 1 {
		t.Fatalf("expected exactly one RTT update, got %d", len(observer.updates))
	}
	if observer.updates[0] != 100_000 {
		t.Fatalf("expected mean RTT 100000us, got %d", observer.updates[0])
	}
}

func TestNotifyResponseIgnoresUnknownSeq(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSteadyState(transport)
	observer := &fakeObserver{}
	s.AddObserver(observer)
	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityHigh)

	s.NotifyResponse(999, 100_000)
	if len(observer.updates) != 0 {
		t.Fatal("expected no update for an unknown sequence number")
	}
}

func TestNotifyResponseCapsRTTAtOneSecond(t *testing.T) {
	transport := &fakeTransport{}
	s := NewSteadyState(transport)
	observer := &fakeObserver{}
	s.AddObserver(observer)
	s.SetConsumerNecessity(ConsumerRDPGFX, NecessityHigh)

	s.Tick(0)
	s.NotifyResponse(1, 5_000_000) // 5s later, should cap at 1s = 1_000_000us
	if observer.updates[0] != 1_000_000 {
		t.Fatalf("expected RTT capped at 1s, got %d", observer.updates[0])
	}
}
