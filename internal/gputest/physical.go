package gputest

import (
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type PhysicalDevice struct {
	DeviceName string
	Families   []gpu.QueueFamilyProperties
	// Present lists the families that can present. Nil means all of them.
	Present      map[int]bool
	ExtensionSet []string
	Supported    gpu.Features
	Memory       gpu.MemoryProperties
	Formats      map[core1_0.Format]gpu.FormatProperties
	SurfaceErr   error
}

var _ gpu.PhysicalDevice = (*PhysicalDevice)(nil)

const (
	graphicsFlags = core1_0.QueueGraphics | core1_0.QueueCompute | core1_0.QueueTransfer
	computeFlags  = core1_0.QueueCompute | core1_0.QueueTransfer
)

// Discrete looks like a desktop GPU: a combined family, a dedicated transfer
// family and an async compute family that cannot present.
func Discrete(name string) *PhysicalDevice {
	return &PhysicalDevice{
		DeviceName: name,
		Families: []gpu.QueueFamilyProperties{
			{Flags: graphicsFlags, QueueCount: 16},
			{Flags: core1_0.QueueTransfer, QueueCount: 2},
			{Flags: computeFlags, QueueCount: 8},
		},
		Present:      map[int]bool{0: true},
		ExtensionSet: []string{"VK_KHR_swapchain"},
		Supported:    gpu.Features{TimelineSemaphore: true, SubgroupOperations: true},
		Memory:       DefaultMemoryProperties(),
		Formats: map[core1_0.Format]gpu.FormatProperties{
			core1_0.FormatD32SignedFloat: {OptimalTilingFeatures: core1_0.FormatFeatureDepthStencilAttachment},
		},
	}
}

// Integrated has a single family that does everything.
func Integrated(name string) *PhysicalDevice {
	pd := Discrete(name)
	pd.Families = pd.Families[:1]
	return pd
}

func (p *PhysicalDevice) Name() string {
	return p.DeviceName
}

func (p *PhysicalDevice) QueueFamilies() []gpu.QueueFamilyProperties {
	return p.Families
}

func (p *PhysicalDevice) SurfaceSupport(family int) (bool, error) {
	if p.SurfaceErr != nil {
		return false, p.SurfaceErr
	}
	if p.Present == nil {
		return true, nil
	}
	return p.Present[family], nil
}

func (p *PhysicalDevice) Extensions() (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(p.ExtensionSet))
	for _, name := range p.ExtensionSet {
		out[name] = struct{}{}
	}
	return out, nil
}

func (p *PhysicalDevice) Features() gpu.Features {
	return p.Supported
}

func (p *PhysicalDevice) MemoryProperties() gpu.MemoryProperties {
	return p.Memory
}

func (p *PhysicalDevice) FormatProperties(format core1_0.Format) gpu.FormatProperties {
	return p.Formats[format]
}
