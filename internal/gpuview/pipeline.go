package gpuview

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// descriptorSetLayouts holds the four descriptor sets spec.md §4.5
// describes: main-view (2 storage images), aux-view (2 storage images),
// state (2 storage buffers), sources (2 combined image samplers).
type descriptorSetLayouts struct {
	mainView vk.DescriptorSetLayout
	auxView  vk.DescriptorSetLayout
	state    vk.DescriptorSetLayout
	sources  vk.DescriptorSetLayout
}

// pipelineVariant is one of the two compute pipelines built per source
// dimensions: damage detection on (has a previous frame) or off (IDR).
type pipelineVariant struct {
	pipeline vk.Pipeline
	layout   vk.PipelineLayout
}

// PipelineSet owns the descriptor set layouts and the damage-on/damage-off
// compute pipeline pair for one (source, target) dimension combination
// (spec.md §4.5: "Two pipelines are built: one with damage detection off
// ..., one with it on").
type PipelineSet struct {
	device *Device

	layouts descriptorSetLayouts
	sampler vk.Sampler

	descriptorPool vk.DescriptorPool

	damageOff pipelineVariant
	damageOn  pipelineVariant

	shaderModule vk.ShaderModule

	source Dimensions
	target Dimensions
}

// storageImageBinding builds a 2-binding (Y, UV) storage-image set layout.
func storageImageBinding() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
		{Binding: 1, DescriptorType: vk.DescriptorTypeStorageImage, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
	}
}

func storageBufferBinding() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
		{Binding: 1, DescriptorType: vk.DescriptorTypeStorageBuffer, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
	}
}

func combinedSamplerBinding() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
		{Binding: 1, DescriptorType: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 1, StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit)},
	}
}

func createSetLayout(dev vk.Device, bindings []vk.DescriptorSetLayoutBinding, updateAfterBind bool) (vk.DescriptorSetLayout, error) {
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if updateAfterBind {
		info.Flags = vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit)
	}
	var layout vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(dev, &info, nil, &layout); res != vk.Success {
		return vk.NullDescriptorSetLayout, fmt.Errorf("vkCreateDescriptorSetLayout failed: %d", res)
	}
	return layout, nil
}

// NewPipelineSet builds the four descriptor set layouts, the nearest/
// clamp-to-edge/unnormalized-coords sampler, and both compute pipeline
// variants for the given source/target dimensions. shaderCode is the
// SPIR-V binary for the dual-view NV12 conversion compute shader.
func NewPipelineSet(device *Device, source, target Dimensions, shaderCode []byte) (*PipelineSet, error) {
	p := &PipelineSet{device: device, source: source, target: target}

	var err error
	if p.layouts.mainView, err = createSetLayout(device.device, storageImageBinding(), device.updateAfterBind); err != nil {
		return nil, err
	}
	if p.layouts.auxView, err = createSetLayout(device.device, storageImageBinding(), device.updateAfterBind); err != nil {
		p.destroyLayouts()
		return nil, err
	}
	if p.layouts.state, err = createSetLayout(device.device, storageBufferBinding(), device.updateAfterBind); err != nil {
		p.destroyLayouts()
		return nil, err
	}
	if p.layouts.sources, err = createSetLayout(device.device, combinedSamplerBinding(), device.updateAfterBind); err != nil {
		p.destroyLayouts()
		return nil, err
	}

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.True,
	}
	if res := vk.CreateSampler(device.device, &samplerInfo, nil, &p.sampler); res != vk.Success {
		p.destroyLayouts()
		return nil, fmt.Errorf("vkCreateSampler failed: %d", res)
	}

	moduleInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(shaderCode)),
		PCode:    sliceToUint32Ptr(shaderCode),
	}
	if res := vk.CreateShaderModule(device.device, &moduleInfo, nil, &p.shaderModule); res != vk.Success {
		p.destroySampler()
		p.destroyLayouts()
		return nil, fmt.Errorf("vkCreateShaderModule failed: %d", res)
	}

	if p.damageOff, err = p.buildVariant(source, target, false); err != nil {
		p.Close()
		return nil, err
	}
	if p.damageOn, err = p.buildVariant(source, target, true); err != nil {
		p.Close()
		return nil, err
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 4},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 2},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 2},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       4,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if device.updateAfterBind {
		poolInfo.Flags = vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit)
	}
	if res := vk.CreateDescriptorPool(device.device, &poolInfo, nil, &p.descriptorPool); res != vk.Success {
		p.Close()
		return nil, fmt.Errorf("vkCreateDescriptorPool failed: %d", res)
	}

	return p, nil
}

func (p *PipelineSet) buildVariant(source, target Dimensions, damageDetection bool) (pipelineVariant, error) {
	entries := []vk.SpecializationMapEntry{
		{ConstantID: 0, Offset: 0, Size: 4},
		{ConstantID: 1, Offset: 4, Size: 4},
		{ConstantID: 2, Offset: 8, Size: 4},
		{ConstantID: 3, Offset: 12, Size: 4},
		{ConstantID: 4, Offset: 16, Size: 4},
		{ConstantID: 5, Offset: 20, Size: 4},
	}
	sc := SpecializationConstants{
		SourceWidth:            uint32(source.Width),
		SourceHeight:           uint32(source.Height),
		TargetWidth:            uint32(target.Width),
		TargetHeight:           uint32(target.Height),
		PerformDamageDetection: damageDetection,
		StateBufferStride:      stateBufferStride(source.Width),
	}
	data := specializationData(sc)
	specInfo := vk.SpecializationInfo{
		MapEntryCount: uint32(len(entries)),
		PMapEntries:   entries,
		DataSize:      uint(len(data)),
		PData:         unsafe.Pointer(&data[0]),
	}

	layouts := []vk.DescriptorSetLayout{p.layouts.mainView, p.layouts.auxView, p.layouts.state, p.layouts.sources}
	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(p.device.device, &layoutInfo, nil, &pipelineLayout); res != vk.Success {
		return pipelineVariant{}, fmt.Errorf("vkCreatePipelineLayout failed: %d", res)
	}

	stageInfo := vk.PipelineShaderStageCreateInfo{
		SType:               vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:               vk.ShaderStageComputeBit,
		Module:              p.shaderModule,
		PName:               safeString("main"),
		PSpecializationInfo: &specInfo,
	}
	createInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stageInfo,
		Layout: pipelineLayout,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(p.device.device, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines); res != vk.Success {
		vk.DestroyPipelineLayout(p.device.device, pipelineLayout, nil)
		return pipelineVariant{}, fmt.Errorf("vkCreateComputePipelines failed: %d", res)
	}

	return pipelineVariant{pipeline: pipelines[0], layout: pipelineLayout}, nil
}

// specializationData packs SpecializationConstants into the layout the
// SpecializationMapEntry offsets above describe: four uint32 dimensions,
// then the perform_dmg_detection bool encoded as a uint32 at offset 16,
// with state_buffer_stride last at offset 20.
func specializationData(sc SpecializationConstants) []byte {
	buf := make([]byte, 24)
	putU32(buf[0:], sc.SourceWidth)
	putU32(buf[4:], sc.SourceHeight)
	putU32(buf[8:], sc.TargetWidth)
	putU32(buf[12:], sc.TargetHeight)
	if sc.PerformDamageDetection {
		putU32(buf[16:], 1)
	}
	putU32(buf[20:], sc.StateBufferStride)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func sliceToUint32Ptr(b []byte) []uint32 {
	n := (len(b) + 3) / 4
	padded := make([]byte, n*4)
	copy(padded, b)
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = uint32(padded[i*4]) | uint32(padded[i*4+1])<<8 | uint32(padded[i*4+2])<<16 | uint32(padded[i*4+3])<<24
	}
	return out
}

func (p *PipelineSet) destroyLayouts() {
	for _, l := range []vk.DescriptorSetLayout{p.layouts.mainView, p.layouts.auxView, p.layouts.state, p.layouts.sources} {
		if l != vk.NullDescriptorSetLayout {
			vk.DestroyDescriptorSetLayout(p.device.device, l, nil)
		}
	}
	p.layouts = descriptorSetLayouts{}
}

func (p *PipelineSet) destroySampler() {
	if p.sampler != vk.NullSampler {
		vk.DestroySampler(p.device.device, p.sampler, nil)
		p.sampler = vk.NullSampler
	}
}

// Close releases both pipelines, the shader module, the sampler, the
// descriptor pool, and all four set layouts.
func (p *PipelineSet) Close() {
	for _, v := range []pipelineVariant{p.damageOff, p.damageOn} {
		if v.pipeline != vk.NullPipeline {
			vk.DestroyPipeline(p.device.device, v.pipeline, nil)
		}
		if v.layout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(p.device.device, v.layout, nil)
		}
	}
	if p.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(p.device.device, p.descriptorPool, nil)
	}
	if p.shaderModule != vk.NullShaderModule {
		vk.DestroyShaderModule(p.device.device, p.shaderModule, nil)
	}
	p.destroySampler()
	p.destroyLayouts()
}
