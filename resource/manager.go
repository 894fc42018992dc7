// Package resource owns device-resident buffers and images, each bound to a
// dedicated memory allocation.
package resource

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/family"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var (
	ErrNotHostVisible = errors.Mark(errors.New("memory is not host visible"), gpu.ErrResource)
	ErrNotMapped      = errors.New("region is not mapped")
	ErrOutOfRange     = errors.New("write exceeds resource size")
)

type Manager struct {
	device   gpu.MemoryDevice
	props    gpu.MemoryProperties
	families family.Indices
	logger   *slog.Logger
	registry *Registry
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(device gpu.MemoryDevice, props gpu.MemoryProperties, families family.Indices, opts ...Option) *Manager {
	m := &Manager{
		device:   device,
		props:    props,
		families: families,
		logger:   slog.Default(),
		registry: NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Device() gpu.MemoryDevice {
	return m.device
}

func (m *Manager) Families() family.Indices {
	return m.families
}

func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// Live lists every resource created by m and not yet destroyed.
func (m *Manager) Live() []Entry {
	return m.registry.Entries()
}

// Close reports resources that were never destroyed. It does not destroy them.
func (m *Manager) Close() error {
	var leaked error
	for _, entry := range m.registry.Entries() {
		m.logger.Warn("leaked resource", "id", entry.ID, "name", entry.Name, "kind", entry.Kind, "size", entry.Size)
		leaked = errors.CombineErrors(leaked, errors.Newf("leaked %s %q", entry.Kind, entry.Name))
	}
	return leaked
}

// sharing returns the sharing mode and family list for a resource. Shared
// resources are visible to both the combined and transfer families.
func (m *Manager) sharing(shared bool) (core1_0.SharingMode, []int) {
	if !shared || m.families.Combined == m.families.Transfer {
		return core1_0.SharingModeExclusive, nil
	}
	return core1_0.SharingModeConcurrent, []int{m.families.Combined, m.families.Transfer}
}

func (m *Manager) allocate(reqs gpu.MemoryRequirements, properties core1_0.MemoryPropertyFlags, name string) (gpu.DeviceMemory, error) {
	typeIndex, err := FindMemoryType(m.props, reqs.MemoryTypeBits, properties)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", name)
	}

	memory, err := m.device.AllocateMemory(reqs.Size, typeIndex)
	if err != nil {
		return 0, gpu.Wrap(err, "allocate %d bytes for %s", reqs.Size, name)
	}

	m.logger.Debug("allocated memory", "name", name, "size", reqs.Size, "type", typeIndex)
	return memory, nil
}

// allocationSize keeps zero-length resources valid. Vulkan rejects a size of 0.
func allocationSize(size int) int {
	if size < 1 {
		return 1
	}
	return size
}
