package netdetect

import "sync"

// ConnectState is one state of the connect-time autodetector (spec.md
// §4.6), run once per session.
type ConnectState int

const (
	StateNone ConnectState = iota
	StateMeasureBW1
	StateAwaitBWResult1
	StateMeasureBW2
	StateAwaitBWResult2
	StateMeasureBW3
	StateAwaitBWResult3
	StateStartRTTDetection
	StateInRTTDetection
	StateAwaitLastRTTResponse
	StateSendNetCharResult
	StateComplete
)

func (s ConnectState) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateMeasureBW1:
		return "MeasureBW1"
	case StateAwaitBWResult1:
		return "AwaitBWResult1"
	case StateMeasureBW2:
		return "MeasureBW2"
	case StateAwaitBWResult2:
		return "AwaitBWResult2"
	case StateMeasureBW3:
		return "MeasureBW3"
	case StateAwaitBWResult3:
		return "AwaitBWResult3"
	case StateStartRTTDetection:
		return "StartRTTDetection"
	case StateInRTTDetection:
		return "InRTTDetection"
	case StateAwaitLastRTTResponse:
		return "AwaitLastRTTResponse"
	case StateSendNetCharResult:
		return "SendNetCharResult"
	case StateComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// burstPayloadCounts is the growing payload-count schedule for the three
// bandwidth-measure bursts (spec.md §4.6).
var burstPayloadCounts = [3]int{1, 4, 16}

// bandwidthPayloadSize is one payload unit's byte size (spec.md §4.6:
// "15*1024 + 512 + 256 + 128 + 64 bytes").
const bandwidthPayloadSize = 15*1024 + 512 + 256 + 128 + 64

// skipLatencyThresholdMs and skipDeltaThresholdMs are the thresholds past
// which a burst result skips straight to RTT detection (spec.md §4.6: "If
// a burst's response latency >= 400ms or reported time-delta >= 100ms").
// BandwidthBurstResult only carries the reported time-delta, so both
// conditions are evaluated against it; the 100ms threshold dominates.
const (
	skipLatencyThresholdMs = 400
	skipDeltaThresholdMs   = 100
)

const rttDetectionPingCount = 10
const rttDetectionIntervalMs = 10

// NetworkCharacteristicsResult is the connect-time detector's final
// output (spec.md §4.6).
type NetworkCharacteristicsResult struct {
	BaseRTTUs      int64
	AverageRTTUs   int64
	BandwidthKbits int64
}

// BandwidthBurstResult is what the transport reports back for one
// bandwidth-measure burst.
type BandwidthBurstResult struct {
	TimeDeltaMs int64
	ByteCount   int64
}

// ConnectTimeDetector runs the one-shot state machine. Method calls from
// the session thread and the transport callback thread are serialized by
// mu; a NetworkCharacteristicsSync PDU received mid-detection blocks on
// cond until the pipeline-thread sync callback clears pendingSync.
type ConnectTimeDetector struct {
	mu   sync.Mutex
	cond *sync.Cond

	state ConnectState

	lastBurst BandwidthBurstResult

	rttPings []int64 // recorded RTTs in microseconds, in arrival order

	pendingSync bool
	inShutdown  bool

	result *NetworkCharacteristicsResult
}

// NewConnectTimeDetector returns a detector in State None.
func NewConnectTimeDetector() *ConnectTimeDetector {
	d := &ConnectTimeDetector{state: StateNone}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// State returns the current state.
func (d *ConnectTimeDetector) State() ConnectState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start transitions None -> MeasureBW1, the entry point the session
// thread calls once at connect time.
func (d *ConnectTimeDetector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateNone {
		return
	}
	d.state = StateMeasureBW1
}

// BurstPayloadCount returns how many payloads the current
// MeasureBW_N state should send.
func (d *ConnectTimeDetector) BurstPayloadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateMeasureBW1:
		return burstPayloadCounts[0]
	case StateMeasureBW2:
		return burstPayloadCounts[1]
	case StateMeasureBW3:
		return burstPayloadCounts[2]
	default:
		return 0
	}
}

// AwaitBurstResult transitions MeasureBW_N -> AwaitBWResult_N once the
// burst's payloads have been sent.
func (d *ConnectTimeDetector) AwaitBurstResult() {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateMeasureBW1:
		d.state = StateAwaitBWResult1
	case StateMeasureBW2:
		d.state = StateAwaitBWResult2
	case StateMeasureBW3:
		d.state = StateAwaitBWResult3
	}
}

// OnBurstResult handles the transport's response to the current
// AwaitBWResult_N state (spec.md §4.6): if the response is slow or the
// reported delta is large, skip ahead to RTT detection; otherwise advance
// to the next burst (or RTT detection after the third).
func (d *ConnectTimeDetector) OnBurstResult(res BandwidthBurstResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastBurst = res

	skip := res.TimeDeltaMs >= skipLatencyThresholdMs || res.TimeDeltaMs >= skipDeltaThresholdMs

	switch d.state {
	case StateAwaitBWResult1:
		if skip {
			d.state = StateStartRTTDetection
		} else {
			d.state = StateMeasureBW2
		}
	case StateAwaitBWResult2:
		if skip {
			d.state = StateStartRTTDetection
		} else {
			d.state = StateMeasureBW3
		}
	case StateAwaitBWResult3:
		d.state = StateStartRTTDetection
	}
}

// StartRTTDetection transitions StartRTTDetection -> InRTTDetection; the
// caller is expected to then send rttDetectionPingCount pings at
// rttDetectionIntervalMs spacing.
func (d *ConnectTimeDetector) StartRTTDetection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateStartRTTDetection {
		d.state = StateInRTTDetection
		d.rttPings = d.rttPings[:0]
	}
}

// OnRTTPingResponse records one RTT detection response (spec.md §4.6:
// "10 pings at 10ms intervals; the last response seals the measurement").
// Once rttDetectionPingCount responses have arrived the detector moves to
// SendNetCharResult with the final NetworkCharacteristicsResult computed.
func (d *ConnectTimeDetector) OnRTTPingResponse(rttUs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInRTTDetection && d.state != StateAwaitLastRTTResponse {
		return
	}

	d.rttPings = append(d.rttPings, rttUs)
	if len(d.rttPings) < rttDetectionPingCount {
		d.state = StateAwaitLastRTTResponse
		return
	}

	d.result = &NetworkCharacteristicsResult{
		BaseRTTUs:      d.minRTTLocked(),
		AverageRTTUs:   d.averageRTTLocked(),
		BandwidthKbits: computeBandwidthKbits(d.lastBurst),
	}
	d.state = StateSendNetCharResult
}

func (d *ConnectTimeDetector) minRTTLocked() int64 {
	if len(d.rttPings) == 0 {
		return 0
	}
	min := d.rttPings[0]
	for _, v := range d.rttPings[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func (d *ConnectTimeDetector) averageRTTLocked() int64 {
	if len(d.rttPings) == 0 {
		return 0
	}
	var sum int64
	for _, v := range d.rttPings {
		sum += v
	}
	return sum / int64(len(d.rttPings))
}

// computeBandwidthKbits implements spec.md §4.6's
// "bandwidth_kbits = (last_byte_count * 8) / max(last_time_delta_ms, 1)".
func computeBandwidthKbits(last BandwidthBurstResult) int64 {
	delta := last.TimeDeltaMs
	if delta < 1 {
		delta = 1
	}
	return (last.ByteCount * 8) / delta
}

// Result returns the final NetworkCharacteristicsResult once the detector
// has reached SendNetCharResult or Complete.
func (d *ConnectTimeDetector) Result() (NetworkCharacteristicsResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result == nil {
		return NetworkCharacteristicsResult{}, false
	}
	return *d.result, true
}

// Complete transitions SendNetCharResult -> Complete once the result PDU
// has been sent.
func (d *ConnectTimeDetector) Complete() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateSendNetCharResult {
		d.state = StateComplete
	}
}

// AwaitSync blocks the calling (transport callback) goroutine until the
// pipeline thread clears pendingSync, or until shutdown is invoked
// (spec.md §5: "A NetworkCharacteristicsSync PDU received mid-detection
// waits ... until the pipeline-thread sync callback clears the pending-
// sync flag; a shutdown signals the condvar so the waiter can observe
// in_shutdown and return"). It returns false if the detector is not in a
// state where a Sync is valid — callers should log and ignore per spec.md
// §4.6.
func (d *ConnectTimeDetector) AwaitSync() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateComplete || d.state == StateNone {
		return false
	}

	d.pendingSync = true
	for d.pendingSync && !d.inShutdown {
		d.cond.Wait()
	}
	return !d.inShutdown
}

// ClearPendingSync is called by the pipeline thread once it has drained
// its RTT state, waking any AwaitSync waiter.
func (d *ConnectTimeDetector) ClearPendingSync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingSync = false
	d.cond.Broadcast()
}

// InvokeShutdown sets the shutdown flag and wakes every AwaitSync waiter;
// callers may spuriously wake and must re-check the flag (spec.md §5).
func (d *ConnectTimeDetector) InvokeShutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inShutdown = true
	d.cond.Broadcast()
}
