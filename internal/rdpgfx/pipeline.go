package rdpgfx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/avcencode"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/capture"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/framepacer"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/gpuview"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/logging"
	"github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"
)

var log = logging.L("rdpgfx")

// PipelineConfig wires together one RDP surface's collaborators (spec.md
// §5: "Pipeline thread (one per RDP surface)").
type PipelineConfig struct {
	Source    capture.Source
	Creator   gpuview.Creator
	Store     *gpuview.ImageStore
	Encode    *avcencode.EncodeSession
	Transport Transport
	Pacer     *framepacer.FrameController

	RefreshRate int
}

// Pipeline owns the view-creator/encode-session/frame-log/framerate-log
// quartet and runs the capture -> view -> encode -> transport loop on its
// own goroutine (spec.md §5: "single-threaded cooperative").
type Pipeline struct {
	cfg PipelineConfig

	mu        sync.Mutex
	prevImage gpuview.ImageHandle
	frameSeq  uint32
	nextFrame uint32
	store     *gpuview.ImageStore

	closed atomic.Bool
}

// NewPipeline wires cfg's collaborators and registers the frame
// controller's ack bookkeeping with the transport.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{cfg: cfg, store: cfg.Store}

	cfg.Transport.SetAckCallback(p.onAck)
	return p
}

// onAck runs the frame controller's ack bookkeeping spec.md §5 requires
// to complete before the next frame's encode_frame on this thread
// ("Ordering guarantees").
func (p *Pipeline) onAck(frameID uint32) {
	p.cfg.Pacer.AckFrame(frameID, nowUs())
}

// Run drives one capture/encode/send cycle per tick until ctx is
// cancelled. It is intended to be launched once per surface, e.g. from an
// errgroup alongside the session thread's subsystems.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(maxInt(p.cfg.RefreshRate, 1)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.cfg.Pacer.WakeupChan():
			// The pacer transitioned to Inactive: fall through to the
			// ticker case on the next iteration; nothing to do here but
			// wake the select.
		case <-ticker.C:
			if p.cfg.Pacer.Suspended() {
				continue
			}
			if err := p.tick(); err != nil {
				log.Warn("pipeline tick failed", "error", err)
			}
		}
	}
}

func (p *Pipeline) tick() error {
	frame, err := p.cfg.Source.Capture()
	if err != nil {
		return err
	}
	if frame == nil {
		return nil
	}

	p.mu.Lock()
	width, height := p.cfg.Source.Bounds()
	source := gpuview.Dimensions{Width: width, Height: height}
	newHandle := p.store.Alloc(len(frame.Pix), source)
	p.store.Set(newHandle, frame.Pix)
	oldHandle := p.prevImage
	p.prevImage = newHandle
	p.mu.Unlock()

	target := gpuview.Dimensions{Width: roundUp16(width), Height: roundUp16(height)}

	views := p.cfg.Encode.GetImageViews()
	view := views[int(atomic.AddUint32(&p.nextFrame, 1))%len(views)]

	// dst is the same NV12 surface pool view EncodeFrame submits below, so
	// the bitstream it produces always reflects what CreateView/FinishView
	// just rendered for this view (spec.md §3).
	dst, ok := p.cfg.Encode.ViewDestination(view)
	if !ok {
		return rdperror.New(rdperror.KindProtocolViolation, "rdpgfx.Pipeline.tick", "encode session has no destination surfaces for view", nil)
	}

	pending, err := p.cfg.Creator.CreateView(gpuview.SourceImages{New: newHandle, Old: oldHandle}, dst, target)
	if err != nil {
		return err
	}
	if _, err := pending.FinishView(); err != nil {
		return err
	}

	if err := p.cfg.Encode.EncodeFrame(view); err != nil {
		return err
	}
	handle, err := p.cfg.Encode.LockBitstream(view)
	if err != nil {
		return err
	}
	defer p.cfg.Encode.UnlockBitstream(handle)

	frameID := atomic.AddUint32(&p.frameSeq, 1)
	p.cfg.Pacer.UnackFrame(frameID, nowUs())

	info := FrameInfo{
		FrameID:   frameID,
		FrameType: handle.Bitstream.Info.FrameType,
		QP:        handle.Bitstream.Info.QP,
		Quality:   handle.Bitstream.Info.Quality,
	}
	return p.cfg.Transport.SendFrame(info, handle.Bitstream.Data)
}

// Close tears down the pipeline's encode session.
func (p *Pipeline) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.cfg.Encode.Close()
}

func roundUp16(v int) int {
	if v < 16 {
		return 16
	}
	return ((v + 15) / 16) * 16
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func nowUs() int64 {
	return time.Now().UnixMicro()
}
