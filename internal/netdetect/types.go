// Package netdetect implements the two network-characteristic detectors
// spec.md §4.6 describes: a steady-state RTT ping pipeline driven by a
// consumer table, and a one-shot connect-time bandwidth/RTT state
// machine. It follows the mutex-guarded, EWMA-adjacent state-tracking
// style of the reference codebase's adaptive bitrate controller.
package netdetect

import "time"

// Necessity is the priority a consumer requests RTT data at.
type Necessity int

const (
	NecessityNone Necessity = iota
	NecessityLow
	NecessityHigh
)

// Consumer identifies a subsystem that wants steady-state RTT samples.
// Only one is named in this repository's scope, but the table is built to
// hold more (spec.md §4.6: "bitmask of subsystems").
type Consumer int

const (
	ConsumerRDPGFX Consumer = iota
)

const (
	// HighPingInterval is the ping cadence while any consumer requests
	// HIGH necessity.
	HighPingInterval = 70 * time.Millisecond
	// LowPingInterval is the cadence when only LOW-necessity consumers are
	// active.
	LowPingInterval = 700 * time.Millisecond

	// RTTWindow is the sliding window steady-state RTT samples are
	// averaged over.
	RTTWindow = 500 * time.Millisecond

	// MaxRTT caps a single recorded sample (spec.md §4.6: "min(now -
	// ping_time, 1s)").
	MaxRTT = time.Second
)

// PingRecord is one outstanding ping (spec.md §3).
type PingRecord struct {
	Seq        uint32
	PingTimeUs int64
}

// RTTSample is a recorded round-trip time, timestamped at the moment the
// response arrived so it can be evicted from the sliding window.
type RTTSample struct {
	RTTUs          int64
	ResponseTimeUs int64
}
