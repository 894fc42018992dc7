package vkng

import (
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// PhysicalDevice is a selection candidate bound to the surface it must
// present to.
type PhysicalDevice struct {
	driver  core1_0.CoreInstanceDriver
	surface khr_surface.ExtensionDriver
	target  khr_surface.Surface
	device  core1_0.PhysicalDevice

	name    string
	version common.APIVersion
}

var _ gpu.PhysicalDevice = (*PhysicalDevice)(nil)

func NewPhysicalDevice(driver core1_0.CoreInstanceDriver, surface khr_surface.ExtensionDriver, target khr_surface.Surface, device core1_0.PhysicalDevice) (*PhysicalDevice, error) {
	properties, err := driver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return nil, gpu.Wrap(err, "get physical device properties")
	}
	return &PhysicalDevice{
		driver:  driver,
		surface: surface,
		target:  target,
		device:  device,
		name:    properties.DeviceName,
		version: properties.APIVersion,
	}, nil
}

// Enumerate wraps every physical device the instance reports, in driver order.
func Enumerate(driver core1_0.CoreInstanceDriver, surface khr_surface.ExtensionDriver, target khr_surface.Surface) ([]gpu.PhysicalDevice, error) {
	devices, _, err := driver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, gpu.Wrap(err, "enumerate physical devices")
	}
	candidates := make([]gpu.PhysicalDevice, 0, len(devices))
	for _, device := range devices {
		pd, err := NewPhysicalDevice(driver, surface, target, device)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, pd)
	}
	return candidates, nil
}

func (p *PhysicalDevice) Handle() core1_0.PhysicalDevice {
	return p.device
}

func (p *PhysicalDevice) Name() string {
	return p.name
}

func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamilyProperties {
	families := p.driver.GetPhysicalDeviceQueueFamilyProperties(p.device)
	out := make([]gpu.QueueFamilyProperties, len(families))
	for i, family := range families {
		out[i] = gpu.QueueFamilyProperties{
			Flags:      family.QueueFlags,
			QueueCount: family.QueueCount,
		}
	}
	return out
}

func (p *PhysicalDevice) SurfaceSupport(family int) (bool, error) {
	supported, _, err := p.surface.GetPhysicalDeviceSurfaceSupport(p.target, p.device, family)
	return supported, err
}

func (p *PhysicalDevice) Extensions() (map[string]struct{}, error) {
	extensions, _, err := p.driver.EnumerateDeviceExtensionProperties(p.device)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(extensions))
	for name := range extensions {
		out[name] = struct{}{}
	}
	return out, nil
}

// Features reports timeline semaphores for 1.2 devices, where they are
// mandatory, and basic subgroup operations for 1.1 devices.
func (p *PhysicalDevice) Features() gpu.Features {
	return gpu.Features{
		TimelineSemaphore:  p.version.IsAtLeast(common.Vulkan1_2),
		SubgroupOperations: p.version.IsAtLeast(common.Vulkan1_1),
	}
}

func (p *PhysicalDevice) MemoryProperties() gpu.MemoryProperties {
	properties := p.driver.GetPhysicalDeviceMemoryProperties(p.device)
	out := gpu.MemoryProperties{Types: make([]gpu.MemoryType, len(properties.MemoryTypes))}
	for i, memoryType := range properties.MemoryTypes {
		out.Types[i] = gpu.MemoryType{PropertyFlags: memoryType.PropertyFlags}
	}
	return out
}

func (p *PhysicalDevice) FormatProperties(format core1_0.Format) gpu.FormatProperties {
	properties := p.driver.GetPhysicalDeviceFormatProperties(p.device, format)
	return gpu.FormatProperties{
		LinearTilingFeatures:  properties.LinearTilingFeatures,
		OptimalTilingFeatures: properties.OptimalTilingFeatures,
	}
}
