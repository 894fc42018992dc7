// Package vkng implements the gpu port over vkngwrapper drivers.
package vkng

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_2"
)

type queueKey struct {
	family, index int
}

type memoryEntry struct {
	memory core1_0.DeviceMemory
	mapped bool
}

// Device adapts a vkngwrapper device driver to gpu.Device. Like the driver it
// wraps, it is not safe for concurrent use.
type Device struct {
	driver   core1_0.CoreDeviceDriver
	timeline core1_2.DeviceDriver

	buffers        *table[gpu.Buffer, core1_0.Buffer]
	images         *table[gpu.Image, core1_0.Image]
	views          *table[gpu.ImageView, core1_0.ImageView]
	memories       *table[gpu.DeviceMemory, *memoryEntry]
	pools          *table[gpu.CommandPool, core1_0.CommandPool]
	commandBuffers *table[gpu.CommandBuffer, core1_0.CommandBuffer]
	queues         *table[gpu.Queue, core1_0.Queue]
	semaphores     *table[gpu.Semaphore, core1_0.Semaphore]
	fences         *table[gpu.Fence, core1_0.Fence]
	samplers       *table[gpu.Sampler, core1_0.Sampler]
	sets           *table[gpu.DescriptorSet, core1_0.DescriptorSet]

	queueHandles map[queueKey]gpu.Queue
}

var _ gpu.Device = (*Device)(nil)

// NewDevice wraps driver. Timeline semaphore calls fail with
// gpu.ErrMissingFeature when driver does not expose the 1.2 entry points.
func NewDevice(driver core1_0.CoreDeviceDriver) *Device {
	d := &Device{
		driver:         driver,
		buffers:        newTable[gpu.Buffer, core1_0.Buffer]("buffer"),
		images:         newTable[gpu.Image, core1_0.Image]("image"),
		views:          newTable[gpu.ImageView, core1_0.ImageView]("image view"),
		memories:       newTable[gpu.DeviceMemory, *memoryEntry]("device memory"),
		pools:          newTable[gpu.CommandPool, core1_0.CommandPool]("command pool"),
		commandBuffers: newTable[gpu.CommandBuffer, core1_0.CommandBuffer]("command buffer"),
		queues:         newTable[gpu.Queue, core1_0.Queue]("queue"),
		semaphores:     newTable[gpu.Semaphore, core1_0.Semaphore]("semaphore"),
		fences:         newTable[gpu.Fence, core1_0.Fence]("fence"),
		samplers:       newTable[gpu.Sampler, core1_0.Sampler]("sampler"),
		sets:           newTable[gpu.DescriptorSet, core1_0.DescriptorSet]("descriptor set"),
		queueHandles:   make(map[queueKey]gpu.Queue),
	}
	if timeline, ok := driver.(core1_2.DeviceDriver); ok {
		d.timeline = timeline
	}
	return d
}

func (d *Device) Driver() core1_0.CoreDeviceDriver {
	return d.driver
}

func (d *Device) Buffer(h gpu.Buffer) core1_0.Buffer {
	return d.buffers.must(h)
}

func (d *Device) Image(h gpu.Image) core1_0.Image {
	return d.images.must(h)
}

func (d *Device) ImageView(h gpu.ImageView) core1_0.ImageView {
	return d.views.must(h)
}

func (d *Device) CommandBuffer(h gpu.CommandBuffer) core1_0.CommandBuffer {
	return d.commandBuffers.must(h)
}

func (d *Device) Queue(h gpu.Queue) core1_0.Queue {
	return d.queues.must(h)
}

func (d *Device) Semaphore(h gpu.Semaphore) core1_0.Semaphore {
	return d.semaphores.must(h)
}

// ImportSampler makes a sampler created directly on the driver usable in
// descriptor writes. The caller keeps ownership.
func (d *Device) ImportSampler(sampler core1_0.Sampler) gpu.Sampler {
	return d.samplers.add(sampler)
}

// ImportDescriptorSet makes a set allocated directly on the driver usable in
// descriptor writes.
func (d *Device) ImportDescriptorSet(set core1_0.DescriptorSet) gpu.DescriptorSet {
	return d.sets.add(set)
}

func (d *Device) ForgetSampler(h gpu.Sampler) {
	d.samplers.remove(h)
}

func (d *Device) ForgetDescriptorSet(h gpu.DescriptorSet) {
	d.sets.remove(h)
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, error) {
	buffer, _, err := d.driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:               info.Size,
		Usage:              info.Usage,
		SharingMode:        info.SharingMode,
		QueueFamilyIndices: info.QueueFamilyIndices,
	})
	if err != nil {
		return 0, err
	}
	return d.buffers.add(buffer), nil
}

func (d *Device) DestroyBuffer(h gpu.Buffer) {
	if buffer, ok := d.buffers.remove(h); ok {
		d.driver.DestroyBuffer(buffer, nil)
	}
}

func (d *Device) BufferMemoryRequirements(h gpu.Buffer) gpu.MemoryRequirements {
	r := d.driver.GetBufferMemoryRequirements(d.buffers.must(h))
	return gpu.MemoryRequirements{Size: r.Size, Alignment: r.Alignment, MemoryTypeBits: r.MemoryTypeBits}
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, error) {
	image, _, err := d.driver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Width,
			Height: info.Height,
			Depth:  1,
		},
		MipLevels:          info.MipLevels,
		ArrayLayers:        1,
		Format:             info.Format,
		Tiling:             info.Tiling,
		InitialLayout:      core1_0.ImageLayoutUndefined,
		Usage:              info.Usage,
		SharingMode:        info.SharingMode,
		QueueFamilyIndices: info.QueueFamilyIndices,
		Samples:            core1_0.Samples1,
	})
	if err != nil {
		return 0, err
	}
	return d.images.add(image), nil
}

// ImportImage tracks an image owned elsewhere, such as a swapchain image.
// Destroying the returned handle only forgets it.
func (d *Device) ImportImage(image core1_0.Image) gpu.Image {
	return d.images.add(image)
}

func (d *Device) ForgetImage(h gpu.Image) {
	d.images.remove(h)
}

func (d *Device) DestroyImage(h gpu.Image) {
	if image, ok := d.images.remove(h); ok {
		d.driver.DestroyImage(image, nil)
	}
}

func (d *Device) ImageMemoryRequirements(h gpu.Image) gpu.MemoryRequirements {
	r := d.driver.GetImageMemoryRequirements(d.images.must(h))
	return gpu.MemoryRequirements{Size: r.Size, Alignment: r.Alignment, MemoryTypeBits: r.MemoryTypeBits}
}

func (d *Device) CreateImageView(info gpu.ImageViewCreateInfo) (gpu.ImageView, error) {
	image, err := d.images.get(info.Image)
	if err != nil {
		return 0, err
	}
	view, _, err := d.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   info.Format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     info.Aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return 0, err
	}
	return d.views.add(view), nil
}

func (d *Device) DestroyImageView(h gpu.ImageView) {
	if view, ok := d.views.remove(h); ok {
		d.driver.DestroyImageView(view, nil)
	}
}

func (d *Device) AllocateMemory(size int, memoryTypeIndex int) (gpu.DeviceMemory, error) {
	memory, _, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return 0, err
	}
	return d.memories.add(&memoryEntry{memory: memory}), nil
}

func (d *Device) FreeMemory(h gpu.DeviceMemory) {
	entry, ok := d.memories.remove(h)
	if !ok {
		return
	}
	if entry.mapped {
		d.driver.UnmapMemory(entry.memory)
	}
	d.driver.FreeMemory(entry.memory, nil)
}

func (d *Device) BindBufferMemory(buffer gpu.Buffer, memory gpu.DeviceMemory) error {
	b, err := d.buffers.get(buffer)
	if err != nil {
		return err
	}
	m, err := d.memories.get(memory)
	if err != nil {
		return err
	}
	_, err = d.driver.BindBufferMemory(b, m.memory, 0)
	return err
}

func (d *Device) BindImageMemory(image gpu.Image, memory gpu.DeviceMemory) error {
	i, err := d.images.get(image)
	if err != nil {
		return err
	}
	m, err := d.memories.get(memory)
	if err != nil {
		return err
	}
	_, err = d.driver.BindImageMemory(i, m.memory, 0)
	return err
}

func (d *Device) MapMemory(memory gpu.DeviceMemory, offset, size int) (unsafe.Pointer, error) {
	m, err := d.memories.get(memory)
	if err != nil {
		return nil, err
	}
	ptr, _, err := d.driver.MapMemory(m.memory, offset, size, 0)
	if err != nil {
		return nil, err
	}
	m.mapped = true
	return ptr, nil
}

func (d *Device) UnmapMemory(memory gpu.DeviceMemory) {
	m, err := d.memories.get(memory)
	if err != nil || !m.mapped {
		return
	}
	d.driver.UnmapMemory(m.memory)
	m.mapped = false
}

func (d *Device) GetQueue(family, index int) gpu.Queue {
	key := queueKey{family: family, index: index}
	if h, ok := d.queueHandles[key]; ok {
		return h
	}
	h := d.queues.add(d.driver.GetQueue(family, index))
	d.queueHandles[key] = h
	return h
}

func (d *Device) CreateCommandPool(family int, flags core1_0.CommandPoolCreateFlags) (gpu.CommandPool, error) {
	pool, _, err := d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: family,
		Flags:            flags,
	})
	if err != nil {
		return 0, err
	}
	return d.pools.add(pool), nil
}

func (d *Device) DestroyCommandPool(h gpu.CommandPool) {
	if pool, ok := d.pools.remove(h); ok {
		d.driver.DestroyCommandPool(pool, nil)
	}
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, count int) ([]gpu.CommandBuffer, error) {
	p, err := d.pools.get(pool)
	if err != nil {
		return nil, err
	}
	buffers, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, err
	}
	handles := make([]gpu.CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		handles[i] = d.commandBuffers.add(buffer)
	}
	return handles, nil
}

func (d *Device) FreeCommandBuffers(_ gpu.CommandPool, handles ...gpu.CommandBuffer) {
	buffers := make([]core1_0.CommandBuffer, 0, len(handles))
	for _, h := range handles {
		if buffer, ok := d.commandBuffers.remove(h); ok {
			buffers = append(buffers, buffer)
		}
	}
	if len(buffers) > 0 {
		d.driver.FreeCommandBuffers(buffers...)
	}
}

func (d *Device) BeginCommandBuffer(h gpu.CommandBuffer, flags core1_0.CommandBufferUsageFlags) error {
	buffer, err := d.commandBuffers.get(h)
	if err != nil {
		return err
	}
	_, err = d.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{Flags: flags})
	return err
}

func (d *Device) EndCommandBuffer(h gpu.CommandBuffer) error {
	buffer, err := d.commandBuffers.get(h)
	if err != nil {
		return err
	}
	_, err = d.driver.EndCommandBuffer(buffer)
	return err
}

func (d *Device) CmdPipelineBarrier(h gpu.CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, buffers []gpu.BufferMemoryBarrier, images []gpu.ImageMemoryBarrier) error {
	commandBuffer, err := d.commandBuffers.get(h)
	if err != nil {
		return err
	}

	var bufferBarriers []core1_0.BufferMemoryBarrier
	for _, b := range buffers {
		buffer, err := d.buffers.get(b.Buffer)
		if err != nil {
			return err
		}
		bufferBarriers = append(bufferBarriers, core1_0.BufferMemoryBarrier{
			SrcAccessMask:       b.SrcAccessMask,
			DstAccessMask:       b.DstAccessMask,
			SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: b.DstQueueFamilyIndex,
			Buffer:              buffer,
			Offset:              b.Offset,
			Size:                b.Size,
		})
	}

	var imageBarriers []core1_0.ImageMemoryBarrier
	for _, b := range images {
		image, err := d.images.get(b.Image)
		if err != nil {
			return err
		}
		imageBarriers = append(imageBarriers, core1_0.ImageMemoryBarrier{
			SrcAccessMask:       b.SrcAccessMask,
			DstAccessMask:       b.DstAccessMask,
			OldLayout:           b.OldLayout,
			NewLayout:           b.NewLayout,
			SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
			DstQueueFamilyIndex: b.DstQueueFamilyIndex,
			Image:               image,
			SubresourceRange:    b.SubresourceRange,
		})
	}

	return d.driver.CmdPipelineBarrier(commandBuffer, srcStage, dstStage, 0, nil, bufferBarriers, imageBarriers)
}

func (d *Device) CmdCopyBuffer(h gpu.CommandBuffer, src, dst gpu.Buffer, regions ...core1_0.BufferCopy) error {
	commandBuffer, err := d.commandBuffers.get(h)
	if err != nil {
		return err
	}
	srcBuffer, err := d.buffers.get(src)
	if err != nil {
		return err
	}
	dstBuffer, err := d.buffers.get(dst)
	if err != nil {
		return err
	}
	return d.driver.CmdCopyBuffer(commandBuffer, srcBuffer, dstBuffer, regions...)
}

func (d *Device) CmdCopyBufferToImage(h gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, layout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error {
	commandBuffer, err := d.commandBuffers.get(h)
	if err != nil {
		return err
	}
	buffer, err := d.buffers.get(src)
	if err != nil {
		return err
	}
	image, err := d.images.get(dst)
	if err != nil {
		return err
	}
	return d.driver.CmdCopyBufferToImage(commandBuffer, buffer, image, layout, regions...)
}

func (d *Device) CmdCopyImageToBuffer(h gpu.CommandBuffer, src gpu.Image, layout core1_0.ImageLayout, dst gpu.Buffer, regions ...core1_0.BufferImageCopy) error {
	commandBuffer, err := d.commandBuffers.get(h)
	if err != nil {
		return err
	}
	image, err := d.images.get(src)
	if err != nil {
		return err
	}
	buffer, err := d.buffers.get(dst)
	if err != nil {
		return err
	}
	return d.driver.CmdCopyImageToBuffer(commandBuffer, image, layout, buffer, regions...)
}

func (d *Device) QueueSubmit(queue gpu.Queue, fence gpu.Fence, submits ...gpu.SubmitInfo) error {
	q, err := d.queues.get(queue)
	if err != nil {
		return err
	}

	var f *core1_0.Fence
	if fence != 0 {
		handle, err := d.fences.get(fence)
		if err != nil {
			return err
		}
		f = &handle
	}

	infos := make([]core1_0.SubmitInfo, 0, len(submits))
	for _, submit := range submits {
		info, err := d.submitInfo(submit)
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}

	_, err = d.driver.QueueSubmit(q, f, infos...)
	return err
}

// submitInfo translates one submission. Timeline values ride along in a
// chained TimelineSemaphoreSubmitInfo whenever any wait or signal carries one.
func (d *Device) submitInfo(submit gpu.SubmitInfo) (core1_0.SubmitInfo, error) {
	var info core1_0.SubmitInfo
	var timeline core1_2.TimelineSemaphoreSubmitInfo
	hasValues := false

	for _, wait := range submit.Waits {
		semaphore, err := d.semaphores.get(wait.Semaphore)
		if err != nil {
			return info, err
		}
		info.WaitSemaphores = append(info.WaitSemaphores, semaphore)
		info.WaitDstStageMask = append(info.WaitDstStageMask, wait.Stage)
		timeline.WaitSemaphoreValues = append(timeline.WaitSemaphoreValues, wait.Value)
		hasValues = hasValues || wait.Value != 0
	}
	for _, h := range submit.CommandBuffers {
		buffer, err := d.commandBuffers.get(h)
		if err != nil {
			return info, err
		}
		info.CommandBuffers = append(info.CommandBuffers, buffer)
	}
	for _, signal := range submit.Signals {
		semaphore, err := d.semaphores.get(signal.Semaphore)
		if err != nil {
			return info, err
		}
		info.SignalSemaphores = append(info.SignalSemaphores, semaphore)
		timeline.SignalSemaphoreValues = append(timeline.SignalSemaphoreValues, signal.Value)
		hasValues = hasValues || signal.Value != 0
	}

	if hasValues {
		info.Next = timeline
	}
	return info, nil
}

func (d *Device) QueueWaitIdle(queue gpu.Queue) error {
	q, err := d.queues.get(queue)
	if err != nil {
		return err
	}
	_, err = d.driver.QueueWaitIdle(q)
	return err
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, _, err := d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return 0, err
	}
	return d.semaphores.add(semaphore), nil
}

func (d *Device) CreateTimelineSemaphore(initialValue uint64) (gpu.Semaphore, error) {
	if d.timeline == nil {
		return 0, errors.Wrap(gpu.ErrMissingFeature, "timeline semaphores need a Vulkan 1.2 device")
	}
	info := core1_0.SemaphoreCreateInfo{}
	info.Next = core1_2.SemaphoreTypeCreateInfo{
		SemaphoreType: core1_2.SemaphoreTypeTimeline,
		InitialValue:  initialValue,
	}
	semaphore, _, err := d.driver.CreateSemaphore(nil, info)
	if err != nil {
		return 0, err
	}
	return d.semaphores.add(semaphore), nil
}

func (d *Device) DestroySemaphore(h gpu.Semaphore) {
	if semaphore, ok := d.semaphores.remove(h); ok {
		d.driver.DestroySemaphore(semaphore, nil)
	}
}

func (d *Device) WaitSemaphore(h gpu.Semaphore, value uint64, timeout time.Duration) error {
	if d.timeline == nil {
		return errors.Wrap(gpu.ErrMissingFeature, "timeline semaphores need a Vulkan 1.2 device")
	}
	semaphore, err := d.semaphores.get(h)
	if err != nil {
		return err
	}
	res, err := d.timeline.WaitSemaphores(timeout, core1_2.SemaphoreWaitInfo{
		Semaphores: []core1_0.Semaphore{semaphore},
		Values:     []uint64{value},
	})
	if err != nil {
		return err
	}
	if res == core1_0.VKTimeout {
		return errors.Newf("timed out waiting for semaphore value %d", value)
	}
	return nil
}

func (d *Device) SignalSemaphore(h gpu.Semaphore, value uint64) error {
	if d.timeline == nil {
		return errors.Wrap(gpu.ErrMissingFeature, "timeline semaphores need a Vulkan 1.2 device")
	}
	semaphore, err := d.semaphores.get(h)
	if err != nil {
		return err
	}
	_, err = d.timeline.SignalSemaphore(core1_2.SemaphoreSignalInfo{
		Semaphore: semaphore,
		Value:     value,
	})
	return err
}

func (d *Device) SemaphoreCounterValue(h gpu.Semaphore) (uint64, error) {
	if d.timeline == nil {
		return 0, errors.Wrap(gpu.ErrMissingFeature, "timeline semaphores need a Vulkan 1.2 device")
	}
	semaphore, err := d.semaphores.get(h)
	if err != nil {
		return 0, err
	}
	value, _, err := d.timeline.GetSemaphoreCounterValue(semaphore)
	return value, err
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}
	fence, _, err := d.driver.CreateFence(nil, core1_0.FenceCreateInfo{Flags: flags})
	if err != nil {
		return 0, err
	}
	return d.fences.add(fence), nil
}

func (d *Device) DestroyFence(h gpu.Fence) {
	if fence, ok := d.fences.remove(h); ok {
		d.driver.DestroyFence(fence, nil)
	}
}

func (d *Device) lookupFences(handles []gpu.Fence) ([]core1_0.Fence, error) {
	fences := make([]core1_0.Fence, 0, len(handles))
	for _, h := range handles {
		fence, err := d.fences.get(h)
		if err != nil {
			return nil, err
		}
		fences = append(fences, fence)
	}
	return fences, nil
}

func (d *Device) WaitForFences(waitAll bool, timeout time.Duration, handles ...gpu.Fence) error {
	fences, err := d.lookupFences(handles)
	if err != nil {
		return err
	}
	if timeout == gpu.NoTimeout {
		timeout = common.NoTimeout
	}
	res, err := d.driver.WaitForFences(waitAll, timeout, fences...)
	if err != nil {
		return err
	}
	if res == core1_0.VKTimeout {
		return errors.Newf("timed out waiting for %d fences", len(fences))
	}
	return nil
}

func (d *Device) ResetFences(handles ...gpu.Fence) error {
	fences, err := d.lookupFences(handles)
	if err != nil {
		return err
	}
	_, err = d.driver.ResetFences(fences...)
	return err
}

func (d *Device) FenceSignaled(h gpu.Fence) (bool, error) {
	fence, err := d.fences.get(h)
	if err != nil {
		return false, err
	}
	res, err := d.driver.GetFenceStatus(fence)
	if err != nil {
		return false, err
	}
	return res == core1_0.VKSuccess, nil
}

func (d *Device) DeviceWaitIdle() error {
	_, err := d.driver.DeviceWaitIdle()
	return err
}

func (d *Device) UpdateDescriptorSets(writes ...gpu.DescriptorWrite) error {
	out := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, err := d.sets.get(w.Set)
		if err != nil {
			return err
		}
		write := core1_0.WriteDescriptorSet{
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  w.Type,
		}
		for _, b := range w.Buffers {
			buffer, err := d.buffers.get(b.Buffer)
			if err != nil {
				return err
			}
			write.BufferInfo = append(write.BufferInfo, core1_0.DescriptorBufferInfo{
				Buffer: buffer,
				Offset: b.Offset,
				Range:  b.Range,
			})
		}
		for _, i := range w.Images {
			view, err := d.views.get(i.View)
			if err != nil {
				return err
			}
			info := core1_0.DescriptorImageInfo{
				ImageView:   view,
				ImageLayout: i.Layout,
			}
			if i.Sampler != 0 {
				if info.Sampler, err = d.samplers.get(i.Sampler); err != nil {
					return err
				}
			}
			write.ImageInfo = append(write.ImageInfo, info)
		}
		out = append(out, write)
	}
	return d.driver.UpdateDescriptorSets(out, nil)
}

// Destroy releases the driver device. Every handle must already be destroyed.
func (d *Device) Destroy() {
	d.driver.DestroyDevice(nil)
}
