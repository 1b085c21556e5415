package framepacer

import (
	"math"
	"sort"
	"sync"
)

const framerateWindowUs = 500_000

type rateSample struct {
	encRate int
	timeUs  int64
}

// FramerateLog decides whether the next frame should be encoded as a
// dual-view (main + auxiliary chroma) frame, per spec.md §4.4.
type FramerateLog struct {
	mu                   sync.Mutex
	samples              []rateSample
	lastAckRate          int
	missingDualFrameAcks int
}

// NewFramerateLog returns an empty framerate log.
func NewFramerateLog() *FramerateLog {
	return &FramerateLog{}
}

// NotifyFrameStats appends the current encode rate sample, evicts samples
// older than 500ms, and records the latest ack rate and missing-dual-frame
// count.
func (f *FramerateLog) NotifyFrameStats(missingDualFrameAcks, encRate, ackRate int, nowUs int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.samples = append(f.samples, rateSample{encRate: encRate, timeUs: nowUs})
	f.evictLocked(nowUs)
	f.lastAckRate = ackRate
	f.missingDualFrameAcks = missingDualFrameAcks
}

func (f *FramerateLog) evictLocked(nowUs int64) {
	cutoff := nowUs - framerateWindowUs
	i := 0
	for i < len(f.samples) && f.samples[i].timeUs < cutoff {
		i++
	}
	if i > 0 {
		f.samples = append([]rateSample(nil), f.samples[i:]...)
	}
}

// ShouldAvoidDualFrame implements the §4.4 algorithm exactly, including
// the preserved quirk noted in spec.md §9: a median in [5,24) with
// unstable encoding returns false even if the missing-ack inequality
// would otherwise read true.
func (f *FramerateLog) ShouldAvoidDualFrame(nowUs int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictLocked(nowUs)
	if len(f.samples) < 4 {
		return false
	}

	rates := make([]int, len(f.samples))
	for i, s := range f.samples {
		rates[i] = s.encRate
	}
	sort.Ints(rates)

	min := rates[0]
	q3, median := rankSelectQ3Median(rates)

	if median < 5 {
		return false
	}

	stable := min >= int(math.Floor(float64(median)*0.8))

	if median >= 24 || stable {
		return q3+3*f.missingDualFrameAcks >= f.lastAckRate
	}
	return false
}

// rankSelectQ3Median returns the third-quartile and median encode rates by
// nearest-rank selection over a sorted-ascending slice: pop len(sorted)>>2
// entries off the tail to land on quartile3, then pop that many again to
// land on the median. This mirrors the original's queue-pop-by-count
// selection rather than a linear-interpolation percentile, so it agrees
// with the original on non-uniform sample sets, not just uniform ones.
func rankSelectQ3Median(sorted []int) (q3, median int) {
	n := len(sorted)
	k := n >> 2
	q3 = sorted[n-1-k]
	median = sorted[n-1-2*k]
	return q3, median
}
