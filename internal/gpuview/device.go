package gpuview

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/logging"
)

var log = logging.L("gpuview")

var vulkanInitMutex sync.Mutex
var vulkanInitialized bool

// Device owns the instance/physical-device/logical-device/queue/command-pool
// chain a VulkanCreator dispatches compute work on. Construction and
// teardown follow the reference codebase's ordered init-chain pattern:
// each step that fails unwinds everything acquired before it.
type Device struct {
	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	queue          vk.Queue
	queueFamily    uint32
	commandPool    vk.CommandPool

	updateAfterBind bool
}

// NewDevice initializes a Vulkan instance, selects a GPU with a compute
// queue family, and creates the logical device and command pool.
func NewDevice() (*Device, error) {
	vulkanInitMutex.Lock()
	defer vulkanInitMutex.Unlock()

	if !vulkanInitialized {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			return nil, fmt.Errorf("failed to load Vulkan library: %w", err)
		}
		if err := vk.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize Vulkan loader: %w", err)
		}
		vulkanInitialized = true
	}

	d := &Device{}

	if err := d.createInstance(); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	if err := d.selectPhysicalDevice(); err != nil {
		d.destroyInstance()
		return nil, fmt.Errorf("failed to select physical device: %w", err)
	}
	if err := d.createDevice(); err != nil {
		d.destroyInstance()
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	if err := d.createCommandPool(); err != nil {
		d.destroyDevice()
		d.destroyInstance()
		return nil, fmt.Errorf("failed to create command pool: %w", err)
	}

	return d, nil
}

func (d *Device) createInstance() error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString("grd-pipeline"),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("grd-pipeline-gpuview"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 2, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return fmt.Errorf("vkCreateInstance failed: %d", res)
	}
	d.instance = instance
	vk.InitInstance(instance)
	return nil
}

func (d *Device) selectPhysicalDevice() error {
	var deviceCount uint32
	vk.EnumeratePhysicalDevices(d.instance, &deviceCount, nil)
	if deviceCount == 0 {
		return fmt.Errorf("no Vulkan-capable GPUs found")
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	vk.EnumeratePhysicalDevices(d.instance, &deviceCount, devices)

	for _, device := range devices {
		var queueFamilyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
		queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

		for i, qf := range queueFamilies {
			qf.Deref()
			if qf.QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
				d.physicalDevice = device
				d.queueFamily = uint32(i)
				d.updateAfterBind = deviceSupportsUpdateAfterBind(device)
				return nil
			}
		}
	}

	return fmt.Errorf("no suitable GPU with a compute queue found")
}

// deviceSupportsUpdateAfterBind is a placeholder for the descriptor
// indexing feature query (spec.md §4.5: "descriptorBindingSampledImage
// UpdateAfterBind" / "descriptorBindingStorageImageUpdateAfterBind"); a
// real binding would chain a VkPhysicalDeviceDescriptorIndexingFeatures
// query onto vkGetPhysicalDeviceFeatures2.
func deviceSupportsUpdateAfterBind(vk.PhysicalDevice) bool {
	return false
}

func (d *Device) createDevice() error {
	queuePriority := float32(1.0)
	queueCreateInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{queuePriority},
	}
	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueCreateInfo},
	}

	var device vk.Device
	if res := vk.CreateDevice(d.physicalDevice, &deviceCreateInfo, nil, &device); res != vk.Success {
		return fmt.Errorf("vkCreateDevice failed: %d", res)
	}
	d.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, d.queueFamily, 0, &queue)
	d.queue = queue
	return nil
}

func (d *Device) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.device, &poolInfo, nil, &pool); res != vk.Success {
		return fmt.Errorf("vkCreateCommandPool failed: %d", res)
	}
	d.commandPool = pool
	return nil
}

func (d *Device) destroyDevice() {
	if d.commandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.device, d.commandPool, nil)
		d.commandPool = vk.NullCommandPool
	}
	if d.device != vk.NullDevice {
		vk.DestroyDevice(d.device, nil)
		d.device = vk.NullDevice
	}
}

func (d *Device) destroyInstance() {
	if d.instance != vk.NullInstance {
		vk.DestroyInstance(d.instance, nil)
		d.instance = vk.NullInstance
	}
}

// Close releases the command pool, device, and instance, in that order.
func (d *Device) Close() {
	d.destroyDevice()
	d.destroyInstance()
}

func safeString(s string) string {
	return s + "\x00"
}
