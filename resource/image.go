package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type ImageSettings struct {
	Width, Height int
	Format        core1_0.Format
	Tiling        core1_0.ImageTiling
	Usage         core1_0.ImageUsageFlags
	Properties    core1_0.MemoryPropertyFlags
	Aspect        core1_0.ImageAspectFlags
	Shared        bool
	Name          string
}

// Image is a single-level 2D image with its own memory and view.
type Image struct {
	ID            uuid.UUID
	Handle        gpu.Image
	View          gpu.ImageView
	Memory        gpu.DeviceMemory
	Width, Height int
	Format        core1_0.Format
	Aspect        core1_0.ImageAspectFlags
	Usage         core1_0.ImageUsageFlags
	SharingMode   core1_0.SharingMode
	QueueFamilies []int
	Name          string

	manager   *Manager
	layout    core1_0.ImageLayout
	owner     int
	destroyed bool
}

func (m *Manager) NewImage(settings ImageSettings) (*Image, error) {
	if settings.Width <= 0 || settings.Height <= 0 {
		return nil, errors.AssertionFailedf("image %s has extent %dx%d", settings.Name, settings.Width, settings.Height)
	}
	if settings.Aspect == 0 {
		settings.Aspect = core1_0.ImageAspectColor
	}

	sharingMode, families := m.sharing(settings.Shared)
	handle, err := m.device.CreateImage(gpu.ImageCreateInfo{
		Width:              settings.Width,
		Height:             settings.Height,
		MipLevels:          1,
		Format:             settings.Format,
		Tiling:             settings.Tiling,
		Usage:              settings.Usage,
		SharingMode:        sharingMode,
		QueueFamilyIndices: families,
	})
	if err != nil {
		return nil, gpu.Wrap(err, "create image %s", settings.Name)
	}

	reqs := m.device.ImageMemoryRequirements(handle)
	memory, err := m.allocate(reqs, settings.Properties, settings.Name)
	if err != nil {
		m.device.DestroyImage(handle)
		return nil, err
	}

	if err := m.device.BindImageMemory(handle, memory); err != nil {
		m.device.DestroyImage(handle)
		m.device.FreeMemory(memory)
		return nil, gpu.Wrap(err, "bind image memory %s", settings.Name)
	}

	view, err := m.device.CreateImageView(gpu.ImageViewCreateInfo{
		Image:  handle,
		Format: settings.Format,
		Aspect: settings.Aspect,
	})
	if err != nil {
		m.device.DestroyImage(handle)
		m.device.FreeMemory(memory)
		return nil, gpu.Wrap(err, "create image view %s", settings.Name)
	}

	img := &Image{
		Handle:        handle,
		View:          view,
		Memory:        memory,
		Width:         settings.Width,
		Height:        settings.Height,
		Format:        settings.Format,
		Aspect:        settings.Aspect,
		Usage:         settings.Usage,
		SharingMode:   sharingMode,
		QueueFamilies: families,
		Name:          settings.Name,
		manager:       m,
		layout:        core1_0.ImageLayoutUndefined,
		owner:         gpu.QueueFamilyIgnored,
	}
	img.ID = m.registry.add(KindImage, img.Name, reqs.Size)

	m.logger.Debug("created image", "name", img.Name, "width", img.Width, "height", img.Height, "format", img.Format)
	return img, nil
}

// NewDepthImage creates a device-local depth attachment in the first
// supported depth format.
func (m *Manager) NewDepthImage(pd FormatQuerier, width, height int, name string) (*Image, error) {
	format, err := FindDepthFormat(pd)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}

	aspect := core1_0.ImageAspectDepth
	if HasStencilComponent(format) {
		aspect |= core1_0.ImageAspectStencil
	}

	return m.NewImage(ImageSettings{
		Width:      width,
		Height:     height,
		Format:     format,
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      core1_0.ImageUsageDepthStencilAttachment,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     aspect,
		Name:       name,
	})
}

func (i *Image) Range() core1_0.ImageSubresourceRange {
	return core1_0.ImageSubresourceRange{
		AspectMask:     i.Aspect,
		BaseMipLevel:   0,
		LevelCount:     1,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (i *Image) Layers() core1_0.ImageSubresourceLayers {
	return core1_0.ImageSubresourceLayers{
		AspectMask:     i.Aspect,
		MipLevel:       0,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

// ByteSize is the size of the image's single level when tightly packed in a
// buffer.
func (i *Image) ByteSize() (int, error) {
	return ImageByteSize(i.Width, i.Height, i.Format)
}

// Layout is the layout the image was last transitioned to on the host's record.
func (i *Image) Layout() core1_0.ImageLayout {
	return i.layout
}

func (i *Image) SetLayout(layout core1_0.ImageLayout) {
	i.layout = layout
}

func (i *Image) Exclusive() bool {
	return i.SharingMode == core1_0.SharingModeExclusive
}

func (i *Image) Owner() int {
	return i.owner
}

func (i *Image) SetOwner(family int) {
	i.owner = family
}

// Destroy releases the view, the image and then its memory. Calls after the
// first do nothing.
func (i *Image) Destroy() {
	if i.destroyed {
		i.manager.logger.Warn("image destroyed twice", "name", i.Name)
		return
	}
	i.destroyed = true

	i.manager.device.DestroyImageView(i.View)
	i.manager.device.DestroyImage(i.Handle)
	i.manager.device.FreeMemory(i.Memory)
	i.manager.registry.remove(i.ID)

	i.manager.logger.Debug("destroyed image", "name", i.Name)
	i.View = 0
	i.Handle = 0
	i.Memory = 0
}

func (i *Image) Destroyed() bool {
	return i.destroyed
}
