package gpu

import (
	"time"
	"unsafe"

	"github.com/vkngwrapper/core/v3/core1_0"
)

type MemoryRequirements struct {
	Size           int
	Alignment      int
	MemoryTypeBits uint32
}

type MemoryType struct {
	PropertyFlags core1_0.MemoryPropertyFlags
}

type MemoryProperties struct {
	Types []MemoryType
}

type QueueFamilyProperties struct {
	Flags      core1_0.QueueFlags
	QueueCount int
}

type FormatProperties struct {
	LinearTilingFeatures  core1_0.FormatFeatureFlags
	OptimalTilingFeatures core1_0.FormatFeatureFlags
}

// Features lists the optional device capabilities the engine can require.
type Features struct {
	TimelineSemaphore  bool
	SubgroupOperations bool
}

type BufferCreateInfo struct {
	Size               int
	Usage              core1_0.BufferUsageFlags
	SharingMode        core1_0.SharingMode
	QueueFamilyIndices []int
}

type ImageCreateInfo struct {
	Width, Height      int
	MipLevels          int
	Format             core1_0.Format
	Tiling             core1_0.ImageTiling
	Usage              core1_0.ImageUsageFlags
	SharingMode        core1_0.SharingMode
	QueueFamilyIndices []int
}

type ImageViewCreateInfo struct {
	Image  Image
	Format core1_0.Format
	Aspect core1_0.ImageAspectFlags
}

type BufferMemoryBarrier struct {
	SrcAccessMask       core1_0.AccessFlags
	DstAccessMask       core1_0.AccessFlags
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int
	Buffer              Buffer
	Offset              int
	Size                int
}

type ImageMemoryBarrier struct {
	SrcAccessMask       core1_0.AccessFlags
	DstAccessMask       core1_0.AccessFlags
	OldLayout           core1_0.ImageLayout
	NewLayout           core1_0.ImageLayout
	SrcQueueFamilyIndex int
	DstQueueFamilyIndex int
	Image               Image
	SubresourceRange    core1_0.ImageSubresourceRange
}

// SemaphoreWait is one wait of a submission. Value is ignored for binary
// semaphores.
type SemaphoreWait struct {
	Semaphore Semaphore
	Value     uint64
	Stage     core1_0.PipelineStageFlags
}

type SemaphoreSignal struct {
	Semaphore Semaphore
	Value     uint64
}

type SubmitInfo struct {
	Waits          []SemaphoreWait
	CommandBuffers []CommandBuffer
	Signals        []SemaphoreSignal
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset int
	Range  int
}

type DescriptorImageInfo struct {
	Sampler Sampler
	View    ImageView
	Layout  core1_0.ImageLayout
}

type DescriptorWrite struct {
	Set          DescriptorSet
	Binding      int
	ArrayElement int
	Type         core1_0.DescriptorType
	Buffers      []DescriptorBufferInfo
	Images       []DescriptorImageInfo
}

type MemoryDevice interface {
	CreateBuffer(info BufferCreateInfo) (Buffer, error)
	DestroyBuffer(buffer Buffer)
	BufferMemoryRequirements(buffer Buffer) MemoryRequirements

	CreateImage(info ImageCreateInfo) (Image, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) MemoryRequirements

	CreateImageView(info ImageViewCreateInfo) (ImageView, error)
	DestroyImageView(view ImageView)

	AllocateMemory(size int, memoryTypeIndex int) (DeviceMemory, error)
	FreeMemory(memory DeviceMemory)
	BindBufferMemory(buffer Buffer, memory DeviceMemory) error
	BindImageMemory(image Image, memory DeviceMemory) error
	MapMemory(memory DeviceMemory, offset, size int) (unsafe.Pointer, error)
	UnmapMemory(memory DeviceMemory)
}

type CommandDevice interface {
	GetQueue(family, index int) Queue
	CreateCommandPool(family int, flags core1_0.CommandPoolCreateFlags) (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, error)
	FreeCommandBuffers(pool CommandPool, buffers ...CommandBuffer)

	BeginCommandBuffer(buffer CommandBuffer, flags core1_0.CommandBufferUsageFlags) error
	EndCommandBuffer(buffer CommandBuffer) error

	CmdPipelineBarrier(buffer CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, buffers []BufferMemoryBarrier, images []ImageMemoryBarrier) error
	CmdCopyBuffer(buffer CommandBuffer, src, dst Buffer, regions ...core1_0.BufferCopy) error
	CmdCopyBufferToImage(buffer CommandBuffer, src Buffer, dst Image, layout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error
	CmdCopyImageToBuffer(buffer CommandBuffer, src Image, layout core1_0.ImageLayout, dst Buffer, regions ...core1_0.BufferImageCopy) error

	// QueueSubmit signals fence when it is non-null.
	QueueSubmit(queue Queue, fence Fence, submits ...SubmitInfo) error
	QueueWaitIdle(queue Queue) error
}

type SyncDevice interface {
	CreateSemaphore() (Semaphore, error)
	CreateTimelineSemaphore(initialValue uint64) (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)
	WaitSemaphore(semaphore Semaphore, value uint64, timeout time.Duration) error
	SignalSemaphore(semaphore Semaphore, value uint64) error
	SemaphoreCounterValue(semaphore Semaphore) (uint64, error)

	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	WaitForFences(waitAll bool, timeout time.Duration, fences ...Fence) error
	ResetFences(fences ...Fence) error
	FenceSignaled(fence Fence) (bool, error)

	DeviceWaitIdle() error
}

type DescriptorDevice interface {
	UpdateDescriptorSets(writes ...DescriptorWrite) error
}

// Device is a logical device. Implementations are driven from one goroutine.
type Device interface {
	MemoryDevice
	CommandDevice
	SyncDevice
	DescriptorDevice
}

// PhysicalDevice is a selection candidate, already bound to the target surface.
type PhysicalDevice interface {
	Name() string
	QueueFamilies() []QueueFamilyProperties
	SurfaceSupport(family int) (bool, error)
	Extensions() (map[string]struct{}, error)
	Features() Features
	MemoryProperties() MemoryProperties
	FormatProperties(format core1_0.Format) FormatProperties
}

// Presenter acquires and presents images of one swapchain.
type Presenter interface {
	// AcquireNextImage returns an error marked ErrSurfaceOutOfDate when the
	// swapchain no longer matches the surface.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (int, error)
	// Present returns an error marked ErrSurfaceOutOfDate for out-of-date and
	// suboptimal swapchains.
	Present(queue Queue, wait []Semaphore, imageIndex int) error
	ImageCount() int
}
