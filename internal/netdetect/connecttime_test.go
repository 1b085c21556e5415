package netdetect

import (
	"runtime"
	"testing"
)

// TestConnectTimeBurstProgressionE6 reproduces spec.md §8 scenario E6.
func TestConnectTimeBurstProgressionE6(t *testing.T) {
	d := NewConnectTimeDetector()
	d.Start()
	if d.State() != StateMeasureBW1 {
		t.Fatalf("expected MeasureBW1 after Start, got %v", d.State())
	}
	if got := d.BurstPayloadCount(); got != 1 {
		t.Fatalf("expected burst 1 payload count 1, got %d", got)
	}

	d.AwaitBurstResult()
	if d.State() != StateAwaitBWResult1 {
		t.Fatalf("expected AwaitBWResult1, got %v", d.State())
	}

	d.OnBurstResult(BandwidthBurstResult{TimeDeltaMs: 50, ByteCount: 15_000})
	if d.State() != StateMeasureBW2 {
		t.Fatalf("expected MeasureBW2 after a fast burst 1, got %v", d.State())
	}
	if got := d.BurstPayloadCount(); got != 4 {
		t.Fatalf("expected burst 2 payload count 4, got %d", got)
	}

	d.AwaitBurstResult()
	d.OnBurstResult(BandwidthBurstResult{TimeDeltaMs: 500, ByteCount: 60_000})
	if d.State() != StateStartRTTDetection {
		t.Fatalf("expected StartRTTDetection after a slow burst 2, got %v", d.State())
	}
}

func TestConnectTimeThirdBurstAlwaysAdvancesToRTT(t *testing.T) {
	d := NewConnectTimeDetector()
	d.Start()
	d.AwaitBurstResult()
	d.OnBurstResult(BandwidthBurstResult{TimeDeltaMs: 10, ByteCount: 15_000})
	d.AwaitBurstResult()
	d.OnBurstResult(BandwidthBurstResult{TimeDeltaMs: 10, ByteCount: 60_000})
	if d.State() != StateMeasureBW3 {
		t.Fatalf("expected MeasureBW3, got %v", d.State())
	}
	d.AwaitBurstResult()
	d.OnBurstResult(BandwidthBurstResult{TimeDeltaMs: 10, ByteCount: 240_000})
	if d.State() != StateStartRTTDetection {
		t.Fatalf("expected StartRTTDetection after burst 3, got %v", d.State())
	}
}

func TestConnectTimeRTTDetectionSealsOnTenthResponse(t *testing.T) {
	d := NewConnectTimeDetector()
	d.Start()
	d.AwaitBurstResult()
	d.OnBurstResult(BandwidthBurstResult{TimeDeltaMs: 500, ByteCount: 15_000}) // skip to RTT

	d.StartRTTDetection()
	if d.State() != StateInRTTDetection {
		t.Fatalf("expected InRTTDetection, got %v", d.State())
	}

	for i := 0; i < 9; i++ {
		d.OnRTTPingResponse(int64(10_000 + i*100))
	}
	if d.State() != StateAwaitLastRTTResponse {
		t.Fatalf("expected AwaitLastRTTResponse after 9 responses, got %v", d.State())
	}
	if _, ok := d.Result(); ok {
		t.Fatal("expected no result before the 10th response")
	}

	d.OnRTTPingResponse(20_000)
	if d.State() != StateSendNetCharResult {
		t.Fatalf("expected SendNetCharResult after the 10th response, got %v", d.State())
	}
	result, ok := d.Result()
	if !ok {
		t.Fatal("expected a result after RTT detection seals")
	}
	if result.BandwidthKbits != (15_000*8)/500 {
		t.Fatalf("unexpected bandwidth %d", result.BandwidthKbits)
	}

	d.Complete()
	if d.State() != StateComplete {
		t.Fatalf("expected Complete, got %v", d.State())
	}
}

func TestAwaitSyncReturnsFalseOutsideDetection(t *testing.T) {
	d := NewConnectTimeDetector()
	if d.AwaitSync() {
		t.Fatal("expected AwaitSync to return false in state None")
	}
}

func TestAwaitSyncUnblocksOnClear(t *testing.T) {
	d := NewConnectTimeDetector()
	d.Start()

	done := make(chan bool, 1)
	go func() {
		done <- d.AwaitSync()
	}()

	// The pipeline thread only clears a sync that is pending: wait until
	// the waiter has raised the flag before clearing it.
	for {
		d.mu.Lock()
		waiting := d.pendingSync
		d.mu.Unlock()
		if waiting {
			break
		}
		runtime.Gosched()
	}
	d.ClearPendingSync()
	if ok := <-done; !ok {
		t.Fatal("expected AwaitSync to return true once cleared")
	}
}

func TestAwaitSyncUnblocksOnShutdown(t *testing.T) {
	d := NewConnectTimeDetector()
	d.Start()

	done := make(chan bool, 1)
	go func() {
		done <- d.AwaitSync()
	}()

	d.InvokeShutdown()
	if ok := <-done; ok {
		t.Fatal("expected AwaitSync to return false after shutdown")
	}
}
