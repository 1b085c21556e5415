package netdetect

import (
	"sync"
	"time"
)

// Transport is the narrow contract the steady-state detector drives ping
// requests through; a real implementation forwards to the RDP transport's
// wire PDU.
type Transport interface {
	RTTMeasureRequest(seq uint32)
}

// RTTObserver is notified with the sliding-window mean RTT in
// microseconds whenever a response updates it (spec.md §4.6: "report the
// arithmetic mean to every active consumer").
type RTTObserver interface {
	OnRTTUpdate(meanRTTUs int64)
}

// SteadyState is the consumer table + ping pipeline of spec.md §4.6. Tick
// and NotifyResponse are called by the pipeline thread and the transport
// callback thread respectively; both are safe for concurrent use.
type SteadyState struct {
	mu sync.Mutex

	transport Transport
	observers []RTTObserver

	necessity map[Consumer]Necessity

	nextSeq      uint32
	outstanding  map[uint32]struct{}
	pings        []PingRecord
	rttSamples   []RTTSample

	currentInterval Necessity
}

// NewSteadyState returns a detector with no active consumers (ping
// interval NONE).
func NewSteadyState(transport Transport) *SteadyState {
	return &SteadyState{
		transport:   transport,
		necessity:   make(map[Consumer]Necessity),
		outstanding: make(map[uint32]struct{}),
		nextSeq:     1, // seq 0 is reserved for bandwidth-measure probes (spec.md §3)
	}
}

// AddObserver registers an RTTObserver notified on every mean-RTT update.
func (s *SteadyState) AddObserver(o RTTObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// SetConsumerNecessity updates one consumer's requested necessity. Setting
// NecessityNone removes the consumer from the table. Any change restarts
// the effective ping interval (spec.md §4.6: "Changing consumers restarts
// the ping source").
func (s *SteadyState) SetConsumerNecessity(c Consumer, necessity Necessity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if necessity == NecessityNone {
		delete(s.necessity, c)
	} else {
		s.necessity[c] = necessity
	}
	s.currentInterval = s.effectiveNecessityLocked()
}

func (s *SteadyState) effectiveNecessityLocked() Necessity {
	best := NecessityNone
	for _, n := range s.necessity {
		if n > best {
			best = n
		}
	}
	return best
}

// PingInterval returns the current effective ping cadence, or zero if no
// consumer is active.
func (s *SteadyState) PingInterval() (interval time.Duration, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.currentInterval {
	case NecessityHigh:
		return HighPingInterval, true
	case NecessityLow:
		return LowPingInterval, true
	default:
		return 0, false
	}
}

// Tick is called on every ping-source timer fire; it allocates a fresh
// sequence number, records the outstanding ping, and calls the
// transport's RTTMeasureRequest.
func (s *SteadyState) Tick(nowUs int64) {
	s.mu.Lock()
	if s.currentInterval == NecessityNone {
		s.mu.Unlock()
		return
	}
	seq := s.nextSeq
	s.nextSeq++
	if s.nextSeq == 0 {
		s.nextSeq = 1 // never reissue the reserved seq 0
	}
	s.outstanding[seq] = struct{}{}
	s.pings = append(s.pings, PingRecord{Seq: seq, PingTimeUs: nowUs})
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		transport.RTTMeasureRequest(seq)
	}
}

// NotifyResponse handles rtt_measure_response(seq) (spec.md §4.6): pops
// pings from the head discarding any older than seq (lost), records the
// matching ping's RTT, evicts samples older than RTTWindow, and reports
// the sliding mean to every observer.
func (s *SteadyState) NotifyResponse(seq uint32, nowUs int64) {
	s.mu.Lock()
	if _, ok := s.outstanding[seq]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.outstanding, seq)

	var matched *PingRecord
	i := 0
	for ; i < len(s.pings); i++ {
		if s.pings[i].Seq == seq {
			p := s.pings[i]
			matched = &p
			i++
			break
		}
	}
	if matched == nil {
		s.mu.Unlock()
		return
	}
	s.pings = s.pings[i:]

	rtt := nowUs - matched.PingTimeUs
	if rtt > int64(MaxRTT/1000) {
		rtt = int64(MaxRTT / 1000)
	}
	s.rttSamples = append(s.rttSamples, RTTSample{RTTUs: rtt, ResponseTimeUs: nowUs})

	cutoff := nowUs - int64(RTTWindow/1000)
	kept := s.rttSamples[:0]
	for _, sample := range s.rttSamples {
		if sample.ResponseTimeUs >= cutoff {
			kept = append(kept, sample)
		}
	}
	s.rttSamples = kept

	var mean int64
	haveSamples := len(s.rttSamples) > 0
	if haveSamples {
		var sum int64
		for _, sample := range s.rttSamples {
			sum += sample.RTTUs
		}
		mean = sum / int64(len(s.rttSamples))
	}
	observers := append([]RTTObserver(nil), s.observers...)
	s.mu.Unlock()

	if haveSamples {
		for _, o := range observers {
			o.OnRTTUpdate(mean)
		}
	}
}
