package rdpgfx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/inputqueue"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/logging"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/netdetect"
)

var sessionLog = logging.L("rdpgfx.session")

// SessionConfig is the set of collaborators a session thread owns: the
// per-surface pipeline, the input event queue, and the steady-state
// network detector (spec.md §5 "Session thread").
type SessionConfig struct {
	Pipeline  *Pipeline
	Input     *inputqueue.Queue
	Sink      inputqueue.Sink
	NetDetect *netdetect.SteadyState
	Transport Transport
}

// Session is the per-connection orchestrator: it starts the pipeline
// goroutine, the input-drain goroutine, and the steady-state ping
// goroutine the way the reference codebase's startStreaming fans one
// goroutine out per subsystem off a shared sync.Once and WaitGroup. Unlike
// that pattern, Session joins its subsystems with an errgroup so the first
// subsystem failure cancels the others and is reported back to the
// caller; the reference codebase doesn't need this because its subsystem
// loops never return an error (see DESIGN.md).
type Session struct {
	cfg SessionConfig

	// ID correlates this session's log lines across the pipeline,
	// input-drain, and netdetect goroutines.
	ID string

	startOnce sync.Once
	stopOnce  sync.Once

	done chan struct{}

	started atomic.Bool
}

// NewSession wires cfg's transport callbacks to the session's netdetect
// and input collaborators and returns an unstarted session identified by a
// freshly generated session ID.
func NewSession(cfg SessionConfig) *Session {
	s := &Session{cfg: cfg, done: make(chan struct{}), ID: uuid.NewString()}

	cfg.Transport.SetRTTResponseCallback(cfg.NetDetect.NotifyResponse)
	cfg.NetDetect.SetConsumerNecessity(netdetect.ConsumerRDPGFX, netdetect.NecessityHigh)

	return s
}

// Start launches the session's subsystem goroutines exactly once and
// blocks until ctx is cancelled or a subsystem fails (spec.md §5
// "Session thread" owns the pipeline and input-queue lifetimes for the
// life of the RDP connection).
func (s *Session) Start(ctx context.Context) error {
	var runErr error
	s.startOnce.Do(func() {
		s.started.Store(true)
		logging.WithSurface(sessionLog, s.ID, "").Info("session starting")
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return s.cfg.Pipeline.Run(gctx)
		})
		g.Go(func() error {
			s.inputDrainLoop(gctx)
			return nil
		})
		g.Go(func() error {
			s.netDetectLoop(gctx)
			return nil
		})

		runErr = g.Wait()
	})
	return runErr
}

// inputDrainLoop delivers queued input events to the sink whenever the
// queue signals work is pending, following the reference codebase's
// ticker-plus-done-channel loop shape but edge-triggered off
// inputqueue.Queue's wakeup channel instead of a fixed-rate ticker.
func (s *Session) inputDrainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.cfg.Input.Shutdown()
			s.cfg.Input.DrainTo(s.cfg.Sink)
			return
		case <-s.cfg.Input.Wakeup():
			s.cfg.Input.DrainTo(s.cfg.Sink)
		}
	}
}

// netDetectLoop drives the steady-state ping cadence (spec.md §4.6): it
// ticks at the active consumer's interval, letting SteadyState.Tick
// decide whether a ping actually goes out.
func (s *Session) netDetectLoop(ctx context.Context) {
	interval, active := s.cfg.NetDetect.PingInterval()
	if !active {
		interval = netdetect.LowPingInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cfg.NetDetect.Tick(now.UnixMicro())
			if newInterval, active := s.cfg.NetDetect.PingInterval(); active && newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}
		}
	}
}

// Close tears down the pipeline once, releasing its encode session.
func (s *Session) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		err = s.cfg.Pipeline.Close()
	})
	return err
}
