package gpuview

import "github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"

// Creator builds NV12 dual views from a BGRA source (spec.md §4.5).
// VulkanCreator (view_vulkan.go) dispatches on a GPU device's compute
// queue (see device.go); SoftwareCreator stands in for tests and the demo
// harness, the way the reference codebase falls back to a software
// rasterizer when Vulkan init fails.
type Creator interface {
	// CreateView starts building the views and returns a PendingView;
	// FinishView on it completes the work and yields the render state.
	CreateView(src SourceImages, dst DestinationViews, target Dimensions) (*PendingView, error)
}

// PendingView is returned by CreateView; FinishView waits on it and
// extracts the render state.
type PendingView struct {
	dst    DestinationViews
	finish func() (RenderState, error)
}

// FinishView waits on the submission's fence and constructs the
// RenderState from the host-visible state buffers (spec.md §4.5
// "finish_view").
func (p *PendingView) FinishView() (RenderState, error) {
	if p.finish == nil {
		return RenderState{}, rdperror.New(rdperror.KindProtocolViolation, "gpuview.FinishView", "view already finished", nil)
	}
	state, err := p.finish()
	p.finish = nil
	return state, err
}
