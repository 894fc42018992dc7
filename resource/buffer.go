package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type BufferSettings struct {
	Size       int
	Usage      core1_0.BufferUsageFlags
	Properties core1_0.MemoryPropertyFlags
	// Map keeps the memory persistently mapped for the buffer's lifetime.
	Map bool
	// Shared creates the buffer concurrent across the combined and transfer
	// families. Otherwise it is exclusive.
	Shared bool
	Name   string
}

type Buffer struct {
	ID            uuid.UUID
	Handle        gpu.Buffer
	Memory        gpu.DeviceMemory
	Size          int
	Usage         core1_0.BufferUsageFlags
	Properties    core1_0.MemoryPropertyFlags
	SharingMode   core1_0.SharingMode
	QueueFamilies []int
	Name          string

	manager   *Manager
	region    *MappedRegion
	owner     int
	destroyed bool
}

func (m *Manager) NewBuffer(settings BufferSettings) (*Buffer, error) {
	if settings.Size < 0 {
		return nil, errors.AssertionFailedf("negative buffer size %d for %s", settings.Size, settings.Name)
	}

	sharingMode, families := m.sharing(settings.Shared)
	handle, err := m.device.CreateBuffer(gpu.BufferCreateInfo{
		Size:               allocationSize(settings.Size),
		Usage:              settings.Usage,
		SharingMode:        sharingMode,
		QueueFamilyIndices: families,
	})
	if err != nil {
		return nil, gpu.Wrap(err, "create buffer %s", settings.Name)
	}

	reqs := m.device.BufferMemoryRequirements(handle)
	memory, err := m.allocate(reqs, settings.Properties, settings.Name)
	if err != nil {
		m.device.DestroyBuffer(handle)
		return nil, err
	}

	if err := m.device.BindBufferMemory(handle, memory); err != nil {
		m.device.DestroyBuffer(handle)
		m.device.FreeMemory(memory)
		return nil, gpu.Wrap(err, "bind buffer memory %s", settings.Name)
	}

	b := &Buffer{
		Handle:        handle,
		Memory:        memory,
		Size:          settings.Size,
		Usage:         settings.Usage,
		Properties:    settings.Properties,
		SharingMode:   sharingMode,
		QueueFamilies: families,
		Name:          settings.Name,
		manager:       m,
		owner:         gpu.QueueFamilyIgnored,
	}

	if settings.Map {
		b.region, err = b.Map()
		if err != nil {
			b.Destroy()
			return nil, err
		}
	}

	b.ID = m.registry.add(KindBuffer, b.Name, b.Size)
	m.logger.Debug("created buffer", "name", b.Name, "size", b.Size, "usage", b.Usage, "sharing", sharingMode)
	return b, nil
}

func (b *Buffer) HostVisible() bool {
	return b.Properties&core1_0.MemoryPropertyHostVisible != 0
}

func (b *Buffer) Exclusive() bool {
	return b.SharingMode == core1_0.SharingModeExclusive
}

// Owner is the queue family that last acquired the buffer, or
// gpu.QueueFamilyIgnored before any queue has written it.
func (b *Buffer) Owner() int {
	return b.owner
}

func (b *Buffer) SetOwner(family int) {
	b.owner = family
}

// Map maps the whole buffer. Only one region may be live at a time.
func (b *Buffer) Map() (*MappedRegion, error) {
	if b.destroyed {
		return nil, errors.AssertionFailedf("map of destroyed buffer %s", b.Name)
	}
	if !b.HostVisible() {
		return nil, errors.Wrapf(ErrNotHostVisible, "%s", b.Name)
	}
	if b.region.Mapped() {
		return nil, errors.Newf("buffer %s is already mapped", b.Name)
	}

	region, err := mapRegion(b.manager.device, b.Memory, b.Size)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", b.Name)
	}
	b.region = region
	return region, nil
}

// Mapped returns the live region, if any.
func (b *Buffer) Mapped() *MappedRegion {
	if b.region.Mapped() {
		return b.region
	}
	return nil
}

func (b *Buffer) Write(data []byte) error {
	return b.WriteAt(data, 0)
}

// WriteAt copies data into the buffer through the live region, or through a
// temporary mapping when there is none.
func (b *Buffer) WriteAt(data []byte, offset int) error {
	return b.withRegion(func(r *MappedRegion) error {
		return r.WriteAt(data, offset)
	})
}

func (b *Buffer) Read(dst []byte) error {
	return b.withRegion(func(r *MappedRegion) error {
		return r.ReadAt(dst, 0)
	})
}

func (b *Buffer) withRegion(fn func(r *MappedRegion) error) error {
	if live := b.Mapped(); live != nil {
		return errors.Wrapf(fn(live), "%s", b.Name)
	}

	region, err := b.Map()
	if err != nil {
		return err
	}
	defer region.Unmap()

	return errors.Wrapf(fn(region), "%s", b.Name)
}

// Destroy releases the buffer and then its memory. The device must be done
// with the buffer. Calls after the first do nothing.
func (b *Buffer) Destroy() {
	if b.destroyed {
		b.manager.logger.Warn("buffer destroyed twice", "name", b.Name)
		return
	}
	b.destroyed = true

	b.region.Unmap()
	b.manager.device.DestroyBuffer(b.Handle)
	b.manager.device.FreeMemory(b.Memory)
	b.manager.registry.remove(b.ID)

	b.manager.logger.Debug("destroyed buffer", "name", b.Name)
	b.Handle = 0
	b.Memory = 0
}

func (b *Buffer) Destroyed() bool {
	return b.destroyed
}
