package gpuview

import (
	"fmt"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/rdperror"
)

// stateBuffers is the pair of host-visible storage buffers the compute
// shader writes the damage and chroma-change bitmaps into.
type stateBuffers struct {
	damageBuf vk.Buffer
	damageMem vk.DeviceMemory
	chromaBuf vk.Buffer
	chromaMem vk.DeviceMemory

	damageMapped []byte
	chromaMapped []byte

	hostVisible bool
}

// VulkanCreator is the hardware Creator: it owns a PipelineSet and records
// one command buffer per invocation (state clear, compute dispatch, state
// sync), submitted once with a single fence. It records no image layout
// transitions.
type VulkanCreator struct {
	device   *Device
	pipeline *PipelineSet

	fence         vk.Fence
	commandBuffer vk.CommandBuffer

	state stateBuffers
}

// NewVulkanCreator allocates the fence, command buffer, and state buffers
// for one (source, target) dimension pair.
func NewVulkanCreator(device *Device, pipeline *PipelineSet, source, target Dimensions) (*VulkanCreator, error) {
	c := &VulkanCreator{device: device, pipeline: pipeline}

	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
	}
	if res := vk.CreateFence(device.device, &fenceInfo, nil, &c.fence); res != vk.Success {
		return nil, fmt.Errorf("vkCreateFence failed: %d", res)
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        device.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(device.device, &allocInfo, buffers); res != vk.Success {
		vk.DestroyFence(device.device, c.fence, nil)
		return nil, fmt.Errorf("vkAllocateCommandBuffers failed: %d", res)
	}
	c.commandBuffer = buffers[0]

	wTiles, hTiles := tileDims(source)
	nWords := ceilDiv(wTiles*hTiles, 32)
	bufSize := uint64(nWords * 4)

	var err error
	if c.state.damageBuf, c.state.damageMem, c.state.damageMapped, err = allocateHostVisibleBuffer(device, bufSize); err != nil {
		c.Close()
		return nil, err
	}
	if c.state.chromaBuf, c.state.chromaMem, c.state.chromaMapped, err = allocateHostVisibleBuffer(device, bufSize); err != nil {
		c.Close()
		return nil, err
	}
	c.state.hostVisible = true

	return c, nil
}

// allocateHostVisibleBuffer is a placeholder for the full memory-type
// query/allocate/bind/map sequence a real binding performs against
// vkGetPhysicalDeviceMemoryProperties; it is isolated here so the rest of
// the dispatch logic does not depend on the exact memory-type index
// search.
func allocateHostVisibleBuffer(device *Device, size uint64) (vk.Buffer, vk.DeviceMemory, []byte, error) {
	bufInfo := vk.BufferCreateInfo{
		SType: vk.StructureTypeBufferCreateInfo,
		Size:  vk.DeviceSize(size),
		Usage: vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) | vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
	}
	var buf vk.Buffer
	if res := vk.CreateBuffer(device.device, &bufInfo, nil, &buf); res != vk.Success {
		return vk.NullBuffer, vk.NullDeviceMemory, nil, fmt.Errorf("vkCreateBuffer failed: %d", res)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device.device, buf, &req)
	req.Deref()

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: 0,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(device.device, &allocInfo, nil, &mem); res != vk.Success {
		vk.DestroyBuffer(device.device, buf, nil)
		return vk.NullBuffer, vk.NullDeviceMemory, nil, fmt.Errorf("vkAllocateMemory failed: %d", res)
	}
	vk.BindBufferMemory(device.device, buf, mem, 0)

	var mapped unsafe.Pointer
	vk.MapMemory(device.device, mem, 0, vk.DeviceSize(size), 0, &mapped)

	return buf, mem, unsafe.Slice((*byte)(mapped), int(size)), nil
}

// CreateView records and submits the state clear, dispatch, and state sync
// commands (no layout transition) and returns a PendingView whose
// FinishView waits on the fence.
func (c *VulkanCreator) CreateView(src SourceImages, dst DestinationViews, target Dimensions) (*PendingView, error) {
	performDamage := src.Old != 0
	variant := c.pipeline.damageOff
	if performDamage {
		variant = c.pipeline.damageOn
	}

	vk.WaitForFences(c.device.device, 1, []vk.Fence{c.fence}, vk.True, ^uint64(0))
	vk.ResetFences(c.device.device, 1, []vk.Fence{c.fence})

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	vk.BeginCommandBuffer(c.commandBuffer, &beginInfo)

	// Step 3: clear both state buffers, then a barrier before dispatch.
	vk.CmdFillBuffer(c.commandBuffer, c.state.damageBuf, 0, vk.WholeSize, 0)
	vk.CmdFillBuffer(c.commandBuffer, c.state.chromaBuf, 0, vk.WholeSize, 0)
	vk.CmdPipelineBarrier(c.commandBuffer,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 0, nil, 0, nil)

	// Step 4: dispatch.
	vk.CmdBindPipeline(c.commandBuffer, vk.PipelineBindPointCompute, variant.pipeline)
	groupsX := uint32(ceilDiv(ceilDiv(target.Width, 2), 16))
	groupsY := uint32(ceilDiv(ceilDiv(target.Height, 2), 16))
	vk.CmdDispatch(c.commandBuffer, groupsX, groupsY, 1)

	// Step 5: synchronize state back to the host.
	barrierStage := vk.PipelineStageFlags(vk.PipelineStageHostBit)
	if !c.state.hostVisible {
		barrierStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	vk.CmdPipelineBarrier(c.commandBuffer,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		barrierStage, 0, 0, nil, 0, nil, 0, nil)

	vk.EndCommandBuffer(c.commandBuffer)

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.commandBuffer},
	}
	if res := vk.QueueSubmit(c.device.queue, 1, []vk.SubmitInfo{submitInfo}, c.fence); res != vk.Success {
		return nil, rdperror.New(rdperror.KindHardwareFailure, "gpuview.CreateView", fmt.Sprintf("vkQueueSubmit failed: %d", res), nil)
	}

	wTiles, hTiles := tileDims(Dimensions{Width: int(c.pipeline.source.Width), Height: int(c.pipeline.source.Height)})

	return &PendingView{
		dst: dst,
		finish: func() (RenderState, error) {
			const pollInterval = 100 * time.Microsecond
			for {
				res := vk.GetFenceStatus(c.device.device, c.fence)
				if res == vk.Success {
					break
				}
				if res != vk.NotReady {
					return RenderState{}, rdperror.New(rdperror.KindHardwareFailure, "gpuview.FinishView", fmt.Sprintf("fence wait failed: %d", res), nil)
				}
				time.Sleep(pollInterval)
			}
			return RenderState{
				WidthTiles:   wTiles,
				HeightTiles:  hTiles,
				Damage:       bytesToUint32(c.state.damageMapped),
				ChromaChange: bytesToUint32(c.state.chromaMapped),
			}, nil
		},
	}, nil
}

func bytesToUint32(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return out
}

// Close frees the fence, command buffer, and state buffers.
func (c *VulkanCreator) Close() {
	if c.state.damageMem != vk.NullDeviceMemory {
		vk.UnmapMemory(c.device.device, c.state.damageMem)
		vk.FreeMemory(c.device.device, c.state.damageMem, nil)
	}
	if c.state.damageBuf != vk.NullBuffer {
		vk.DestroyBuffer(c.device.device, c.state.damageBuf, nil)
	}
	if c.state.chromaMem != vk.NullDeviceMemory {
		vk.UnmapMemory(c.device.device, c.state.chromaMem)
		vk.FreeMemory(c.device.device, c.state.chromaMem, nil)
	}
	if c.state.chromaBuf != vk.NullBuffer {
		vk.DestroyBuffer(c.device.device, c.state.chromaBuf, nil)
	}
	if c.commandBuffer != vk.NullCommandBuffer {
		vk.FreeCommandBuffers(c.device.device, c.device.commandPool, 1, []vk.CommandBuffer{c.commandBuffer})
	}
	if c.fence != vk.NullFence {
		vk.DestroyFence(c.device.device, c.fence, nil)
	}
}
