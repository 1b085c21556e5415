package framepacer

import "sync"

// State is one of the frame controller's three pacing states (spec.md
// §4.3).
type State int

const (
	Inactive State = iota
	Active
	ActiveLoweringLatency
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case ActiveLoweringLatency:
		return "active_lowering_latency"
	default:
		return "unknown"
	}
}

// ActivateThreshold returns activate_th(rtt_us) = clamp(delayed_frames+2,
// 2, refreshRate) where delayed_frames = rtt_us*refreshRate/1_000_000
// (spec.md §4.3, §8 property #3).
func ActivateThreshold(rttUs int64, refreshRate int) int {
	delayedFrames := int(rttUs * int64(refreshRate) / 1_000_000)
	th := delayedFrames + 2
	if th < 2 {
		th = 2
	}
	if th > refreshRate {
		th = refreshRate
	}
	return th
}

// FrameController is the per-surface pacing state machine (spec.md §4.3).
// Encoding proceeds freely while Inactive. Active and ActiveLoweringLatency
// start out suspended, but suspended is tracked independently of state:
// while nominally Active, encoding resumes as soon as the encode rate stops
// outrunning the ack rate (spec.md §4.3's transition table), mirroring the
// reference controller's separate encoding_suspended flag.
// ActiveLoweringLatency stays suspended until an ack moves it to Active or
// Inactive.
type FrameController struct {
	mu sync.Mutex

	refreshRate      int
	rttUs            int64
	state            State
	storedActivateTh int
	suspended        bool

	frameLog *FrameLog
	wakeup   chan struct{}
}

// NewFrameController returns a controller starting Inactive with no
// recorded RTT.
func NewFrameController(refreshRate int) *FrameController {
	return &FrameController{
		refreshRate: refreshRate,
		frameLog:    NewFrameLog(),
		wakeup:      make(chan struct{}, 1),
	}
}

// State returns the controller's current pacing state.
func (c *FrameController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Suspended reports whether encoding should currently be held back.
func (c *FrameController) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// WakeupChan returns the channel a "try to encode" wakeup is posted on
// whenever the controller transitions from suspended to not-suspended.
func (c *FrameController) WakeupChan() <-chan struct{} {
	return c.wakeup
}

func (c *FrameController) postWakeupLocked() {
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

// wakeIfResumedLocked posts a wakeup exactly when suspended has just
// transitioned from true to false, matching the reference controller's
// "encoding_was_suspended && !encoding_suspended" check in ack_frame/
// unack_frame/notify_new_round_trip_time: the transition is detected
// generically rather than hardcoded per call site.
func (c *FrameController) wakeIfResumedLocked(wasSuspended bool) {
	if wasSuspended && !c.suspended {
		c.postWakeupLocked()
	}
}

// UnackFrame records a newly submitted frame and applies the §4.3
// unack_frame transition table. While remaining Active, encoding stays
// suspended only if the encode rate is outrunning the ack rate by more
// than one frame per second (§4.3 row "Active | otherwise").
func (c *FrameController) UnackFrame(id uint32, encTimeUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasSuspended := c.suspended

	c.frameLog.TrackFrame(id, encTimeUs)
	nUnacked := c.frameLog.GetUnackedFramesCount()
	th := ActivateThreshold(c.rttUs, c.refreshRate)

	switch c.state {
	case Inactive:
		if nUnacked >= th {
			c.storedActivateTh = th
			c.state = Active
			c.suspended = true
		}
	case Active:
		if th < c.storedActivateTh {
			c.storedActivateTh = th
			c.state = ActiveLoweringLatency
			c.suspended = true
		} else {
			c.storedActivateTh = th
			c.suspended = c.frameLog.EncodeRate(encTimeUs) > c.frameLog.AckRate(encTimeUs)+1
		}
	case ActiveLoweringLatency:
		// keep suspended
	}

	c.wakeIfResumedLocked(wasSuspended)
}

// AckFrame records a client acknowledgement and applies the §4.3 ack_frame
// transition table. While remaining Active or re-entering Active from
// ActiveLoweringLatency, encoding stays suspended only if the encode rate
// is still outrunning the ack rate (§4.3 rows "Active | otherwise" and
// "ActiveLoweringLatency | n_unacked == new activate_th").
func (c *FrameController) AckFrame(id uint32, ackTimeUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasSuspended := c.suspended

	c.frameLog.AckTrackedFrame(id, ackTimeUs)
	nUnacked := c.frameLog.GetUnackedFramesCount()
	th := ActivateThreshold(c.rttUs, c.refreshRate)

	switch c.state {
	case Inactive:
		// no-op
	case Active:
		if nUnacked <= 1 {
			c.state = Inactive
			c.suspended = false
		} else if th < c.storedActivateTh {
			c.storedActivateTh = th
			c.state = ActiveLoweringLatency
			c.suspended = true
		} else {
			c.storedActivateTh = th
			c.suspended = c.frameLog.EncodeRate(ackTimeUs) > c.frameLog.AckRate(ackTimeUs)
		}
	case ActiveLoweringLatency:
		switch {
		case nUnacked < th:
			c.storedActivateTh = th
			c.state = Inactive
			c.suspended = false
		case nUnacked == th:
			c.storedActivateTh = th
			c.state = Active
			c.suspended = c.frameLog.EncodeRate(ackTimeUs) > c.frameLog.AckRate(ackTimeUs)
		default:
			// keep suspended
		}
	}

	c.wakeIfResumedLocked(wasSuspended)
}

// UnackLastAckedFrame treats the last acknowledged frame as unacked again,
// used when the pipeline rewrites in-flight state.
func (c *FrameController) UnackLastAckedFrame(id uint32, timeUs int64) {
	c.UnackFrame(id, timeUs)
}

// ClearAllUnackedFrames resets the controller to a fresh Inactive state,
// used on a full pipeline reset.
func (c *FrameController) ClearAllUnackedFrames() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameLog = NewFrameLog()
	c.state = Inactive
	c.storedActivateTh = 0
	c.suspended = false
}

// NotifyNewRoundTripTime updates the stored RTT and re-evaluates the state
// as of nowUs. While ActiveLoweringLatency, new RTT updates are rejected
// since they would race with the pipeline rewrite already in flight
// (spec.md §4.3). The Active re-evaluation uses the same enc_rate/ack_rate
// comparison as ack_frame's "otherwise" row rather than unack_frame's: a
// new RTT sample is an external signal, not a frame submission, so it is
// judged against the rate condition a received ack would see.
func (c *FrameController) NotifyNewRoundTripTime(rttUs, nowUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == ActiveLoweringLatency {
		return
	}

	wasSuspended := c.suspended

	c.rttUs = rttUs
	th := ActivateThreshold(rttUs, c.refreshRate)

	switch c.state {
	case Active:
		if th < c.storedActivateTh {
			c.storedActivateTh = th
			c.state = ActiveLoweringLatency
			c.suspended = true
		} else {
			c.storedActivateTh = th
			if c.frameLog.GetUnackedFramesCount() <= 1 {
				c.state = Inactive
				c.suspended = false
			} else {
				c.suspended = c.frameLog.EncodeRate(nowUs) > c.frameLog.AckRate(nowUs)
			}
		}
	case Inactive:
		c.storedActivateTh = th
	}

	c.wakeIfResumedLocked(wasSuspended)
}
