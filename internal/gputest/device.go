// Package gputest provides an in-memory gpu.Device that executes transfers at
// submit time, tracks every object it hands out and records the misuse a
// validation layer would report.
package gputest

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// ErrWouldBlock is returned by host waits that could never complete, since
// the fake executes work as soon as it is submitted.
var ErrWouldBlock = errors.New("wait would block forever")

// TexelSize is the byte size the fake assumes for every image texel.
const TexelSize = 4

type memory struct {
	data      []byte
	typeIndex int
	mapped    bool
	bound     bool
}

type buffer struct {
	info   gpu.BufferCreateInfo
	memory gpu.DeviceMemory
	owner  int
}

type image struct {
	info   gpu.ImageCreateInfo
	memory gpu.DeviceMemory
	layout core1_0.ImageLayout
	owner  int
}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbInvalid
)

type commandBuffer struct {
	pool     gpu.CommandPool
	state    cbState
	oneShot  bool
	commands []recorded
}

type recordedKind int

const (
	recBarrier recordedKind = iota
	recCopyBuffer
	recCopyBufferToImage
	recCopyImageToBuffer
)

type recorded struct {
	kind     recordedKind
	barrier  Barrier
	src, dst uint64
	layout   core1_0.ImageLayout
	regions  []core1_0.BufferCopy
}

type semaphore struct {
	timeline bool
	value    uint64
	pending  bool
}

// Barrier is a pipeline barrier as executed on a queue family.
type Barrier struct {
	Family   int
	SrcStage core1_0.PipelineStageFlags
	DstStage core1_0.PipelineStageFlags
	Buffers  []gpu.BufferMemoryBarrier
	Images   []gpu.ImageMemoryBarrier
}

type Submission struct {
	Queue  gpu.Queue
	Family int
	Fence  gpu.Fence
	Info   gpu.SubmitInfo
}

type EventKind int

const (
	EventSubmit EventKind = iota
	EventWaitIdle
)

type Event struct {
	Kind   EventKind
	Family int
}

// Call is one destroy or free, in call order.
type Call struct {
	Name   string
	Handle uint64
}

type ownershipKey struct {
	buffer gpu.Buffer
	image  gpu.Image
}

type Device struct {
	MemoryProperties gpu.MemoryProperties
	// TypeBits restricts the memory types every resource accepts. Zero allows all.
	TypeBits uint32

	// CreatedBuffers and CreatedImages keep every create info, live or not.
	CreatedBuffers []gpu.BufferCreateInfo
	CreatedImages  []gpu.ImageCreateInfo

	Submissions []Submission
	Barriers    []Barrier
	Events      []Event
	Calls       []Call
	HostSignals []gpu.SemaphoreSignal
	HostWaits   []gpu.SemaphoreSignal
	Writes      []gpu.DescriptorWrite
	Violations  []string

	next       uint64
	failures   map[string]error
	memories   map[gpu.DeviceMemory]*memory
	buffers    map[gpu.Buffer]*buffer
	images     map[gpu.Image]*image
	views      map[gpu.ImageView]gpu.Image
	pools      map[gpu.CommandPool]int
	cbs        map[gpu.CommandBuffer]*commandBuffer
	queues     map[gpu.Queue]int
	semaphores map[gpu.Semaphore]*semaphore
	fences     map[gpu.Fence]bool
	released   map[ownershipKey]gpu.ImageMemoryBarrier
}

var _ gpu.Device = (*Device)(nil)

// DefaultMemoryProperties has one device-local type and one host-visible,
// host-coherent type.
func DefaultMemoryProperties() gpu.MemoryProperties {
	return gpu.MemoryProperties{Types: []gpu.MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
	}}
}

func NewDevice() *Device {
	return &Device{
		MemoryProperties: DefaultMemoryProperties(),
		failures:         make(map[string]error),
		memories:         make(map[gpu.DeviceMemory]*memory),
		buffers:          make(map[gpu.Buffer]*buffer),
		images:           make(map[gpu.Image]*image),
		views:            make(map[gpu.ImageView]gpu.Image),
		pools:            make(map[gpu.CommandPool]int),
		cbs:              make(map[gpu.CommandBuffer]*commandBuffer),
		queues:           make(map[gpu.Queue]int),
		semaphores:       make(map[gpu.Semaphore]*semaphore),
		fences:           make(map[gpu.Fence]bool),
		released:         make(map[ownershipKey]gpu.ImageMemoryBarrier),
	}
}

// FailNext makes the next call of method return err.
func (d *Device) FailNext(method string, err error) {
	d.failures[method] = err
}

func (d *Device) fail(method string) error {
	err, ok := d.failures[method]
	if !ok {
		return nil
	}
	delete(d.failures, method)
	return err
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) violate(format string, args ...interface{}) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

func (d *Device) call(name string, handle uint64) {
	d.Calls = append(d.Calls, Call{Name: name, Handle: handle})
}

func (d *Device) typeBits() uint32 {
	if d.TypeBits != 0 {
		return d.TypeBits
	}
	return uint32(1<<len(d.MemoryProperties.Types)) - 1
}

// Counts of live objects.
type Counts struct {
	Buffers, Images, Views, Memories, Pools, CommandBuffers, Semaphores, Fences int
}

func (d *Device) Live() Counts {
	return Counts{
		Buffers:        len(d.buffers),
		Images:         len(d.images),
		Views:          len(d.views),
		Memories:       len(d.memories),
		Pools:          len(d.pools),
		CommandBuffers: len(d.cbs),
		Semaphores:     len(d.semaphores),
		Fences:         len(d.fences),
	}
}

// BufferInfo returns the create info of a live buffer.
func (d *Device) BufferInfo(b gpu.Buffer) (gpu.BufferCreateInfo, bool) {
	buf, ok := d.buffers[b]
	if !ok {
		return gpu.BufferCreateInfo{}, false
	}
	return buf.info, true
}

func (d *Device) ImageInfo(i gpu.Image) (gpu.ImageCreateInfo, bool) {
	img, ok := d.images[i]
	if !ok {
		return gpu.ImageCreateInfo{}, false
	}
	return img.info, true
}

func (d *Device) ImageLayout(i gpu.Image) core1_0.ImageLayout {
	if img, ok := d.images[i]; ok {
		return img.layout
	}
	return core1_0.ImageLayoutUndefined
}

// AllBuffers lists the create info of every live buffer.
func (d *Device) AllBuffers() []gpu.BufferCreateInfo {
	out := make([]gpu.BufferCreateInfo, 0, len(d.buffers))
	for _, b := range d.buffers {
		out = append(out, b.info)
	}
	return out
}

// Timeline returns the current value of a semaphore.
func (d *Device) Timeline(s gpu.Semaphore) uint64 {
	if sem, ok := d.semaphores[s]; ok {
		return sem.value
	}
	return 0
}

func (d *Device) QueueFamily(q gpu.Queue) int {
	return d.queues[q]
}

// Memory

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, error) {
	if err := d.fail("CreateBuffer"); err != nil {
		return 0, err
	}
	if info.Size <= 0 {
		d.violate("buffer size %d", info.Size)
	}
	d.checkSharing("buffer", info.SharingMode, info.QueueFamilyIndices)

	h := gpu.Buffer(d.handle())
	d.buffers[h] = &buffer{info: info, owner: gpu.QueueFamilyIgnored}
	d.CreatedBuffers = append(d.CreatedBuffers, info)
	return h, nil
}

func (d *Device) checkSharing(kind string, mode core1_0.SharingMode, families []int) {
	if mode == core1_0.SharingModeExclusive && len(families) > 1 {
		d.violate("exclusive %s lists families %v", kind, families)
	}
	if mode == core1_0.SharingModeConcurrent && len(families) < 2 {
		d.violate("concurrent %s lists families %v", kind, families)
	}
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	if b == 0 {
		return
	}
	d.call("DestroyBuffer", uint64(b))
	buf, ok := d.buffers[b]
	if !ok {
		d.violate("destroy of unknown buffer %d", b)
		return
	}
	if mem, ok := d.memories[buf.memory]; ok {
		mem.bound = false
	}
	delete(d.buffers, b)
}

func (d *Device) BufferMemoryRequirements(b gpu.Buffer) gpu.MemoryRequirements {
	buf, ok := d.buffers[b]
	if !ok {
		d.violate("requirements of unknown buffer %d", b)
		return gpu.MemoryRequirements{}
	}
	return gpu.MemoryRequirements{Size: buf.info.Size, Alignment: 1, MemoryTypeBits: d.typeBits()}
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, error) {
	if err := d.fail("CreateImage"); err != nil {
		return 0, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		d.violate("image extent %dx%d", info.Width, info.Height)
	}
	d.checkSharing("image", info.SharingMode, info.QueueFamilyIndices)

	h := gpu.Image(d.handle())
	d.images[h] = &image{info: info, layout: core1_0.ImageLayoutUndefined, owner: gpu.QueueFamilyIgnored}
	d.CreatedImages = append(d.CreatedImages, info)
	return h, nil
}

func (d *Device) DestroyImage(i gpu.Image) {
	if i == 0 {
		return
	}
	d.call("DestroyImage", uint64(i))
	img, ok := d.images[i]
	if !ok {
		d.violate("destroy of unknown image %d", i)
		return
	}
	for _, viewed := range d.views {
		if viewed == i {
			d.violate("image %d destroyed before its view", i)
		}
	}
	if mem, ok := d.memories[img.memory]; ok {
		mem.bound = false
	}
	delete(d.images, i)
}

func (d *Device) ImageMemoryRequirements(i gpu.Image) gpu.MemoryRequirements {
	img, ok := d.images[i]
	if !ok {
		d.violate("requirements of unknown image %d", i)
		return gpu.MemoryRequirements{}
	}
	return gpu.MemoryRequirements{
		Size:           img.info.Width * img.info.Height * TexelSize,
		Alignment:      1,
		MemoryTypeBits: d.typeBits(),
	}
}

func (d *Device) CreateImageView(info gpu.ImageViewCreateInfo) (gpu.ImageView, error) {
	if err := d.fail("CreateImageView"); err != nil {
		return 0, err
	}
	if _, ok := d.images[info.Image]; !ok {
		d.violate("view of unknown image %d", info.Image)
	}
	h := gpu.ImageView(d.handle())
	d.views[h] = info.Image
	return h, nil
}

func (d *Device) DestroyImageView(v gpu.ImageView) {
	if v == 0 {
		return
	}
	d.call("DestroyImageView", uint64(v))
	if _, ok := d.views[v]; !ok {
		d.violate("destroy of unknown image view %d", v)
		return
	}
	delete(d.views, v)
}

func (d *Device) AllocateMemory(size int, memoryTypeIndex int) (gpu.DeviceMemory, error) {
	if err := d.fail("AllocateMemory"); err != nil {
		return 0, err
	}
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(d.MemoryProperties.Types) {
		d.violate("memory type %d out of range", memoryTypeIndex)
	}
	if size <= 0 {
		d.violate("allocation size %d", size)
		size = 1
	}

	h := gpu.DeviceMemory(d.handle())
	d.memories[h] = &memory{data: make([]byte, size), typeIndex: memoryTypeIndex}
	return h, nil
}

func (d *Device) FreeMemory(m gpu.DeviceMemory) {
	if m == 0 {
		return
	}
	d.call("FreeMemory", uint64(m))
	mem, ok := d.memories[m]
	if !ok {
		d.violate("free of unknown memory %d", m)
		return
	}
	if mem.bound {
		d.violate("memory %d freed while still bound", m)
	}
	delete(d.memories, m)
}

func (d *Device) bind(m gpu.DeviceMemory) error {
	mem, ok := d.memories[m]
	if !ok {
		return errors.Newf("bind of unknown memory %d", m)
	}
	if mem.bound {
		d.violate("memory %d bound twice", m)
	}
	mem.bound = true
	return nil
}

func (d *Device) BindBufferMemory(b gpu.Buffer, m gpu.DeviceMemory) error {
	if err := d.fail("BindBufferMemory"); err != nil {
		return err
	}
	buf, ok := d.buffers[b]
	if !ok {
		return errors.Newf("bind of unknown buffer %d", b)
	}
	if err := d.bind(m); err != nil {
		return err
	}
	if len(d.memories[m].data) < buf.info.Size {
		d.violate("memory %d too small for buffer %d", m, b)
	}
	buf.memory = m
	return nil
}

func (d *Device) BindImageMemory(i gpu.Image, m gpu.DeviceMemory) error {
	if err := d.fail("BindImageMemory"); err != nil {
		return err
	}
	img, ok := d.images[i]
	if !ok {
		return errors.Newf("bind of unknown image %d", i)
	}
	if err := d.bind(m); err != nil {
		return err
	}
	img.memory = m
	return nil
}

func (d *Device) MapMemory(m gpu.DeviceMemory, offset, size int) (unsafe.Pointer, error) {
	if err := d.fail("MapMemory"); err != nil {
		return nil, err
	}
	mem, ok := d.memories[m]
	if !ok {
		return nil, errors.Newf("map of unknown memory %d", m)
	}
	flags := d.MemoryProperties.Types[mem.typeIndex].PropertyFlags
	if flags&core1_0.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("map of memory %d which is not host visible", m)
	}
	if mem.mapped {
		return nil, errors.Newf("memory %d is already mapped", m)
	}
	if size == gpu.WholeSize {
		size = len(mem.data) - offset
	}
	if offset < 0 || size < 0 || offset+size > len(mem.data) || offset >= len(mem.data) {
		return nil, errors.Newf("map of %d bytes at %d outside memory %d", size, offset, m)
	}

	mem.mapped = true
	return unsafe.Pointer(&mem.data[offset]), nil
}

func (d *Device) UnmapMemory(m gpu.DeviceMemory) {
	mem, ok := d.memories[m]
	if !ok || !mem.mapped {
		d.violate("unmap of memory %d that is not mapped", m)
		return
	}
	mem.mapped = false
}

// Contents returns a copy of the memory bound to a live buffer.
func (d *Device) Contents(b gpu.Buffer) []byte {
	buf, ok := d.buffers[b]
	if !ok {
		return nil
	}
	mem := d.memories[buf.memory]
	out := make([]byte, buf.info.Size)
	copy(out, mem.data)
	return out
}

// Commands

func (d *Device) GetQueue(family, index int) gpu.Queue {
	for q, f := range d.queues {
		if f == family {
			return q
		}
	}
	h := gpu.Queue(d.handle())
	d.queues[h] = family
	return h
}

func (d *Device) CreateCommandPool(family int, flags core1_0.CommandPoolCreateFlags) (gpu.CommandPool, error) {
	if err := d.fail("CreateCommandPool"); err != nil {
		return 0, err
	}
	h := gpu.CommandPool(d.handle())
	d.pools[h] = family
	return h, nil
}

func (d *Device) DestroyCommandPool(p gpu.CommandPool) {
	if p == 0 {
		return
	}
	d.call("DestroyCommandPool", uint64(p))
	if _, ok := d.pools[p]; !ok {
		d.violate("destroy of unknown command pool %d", p)
		return
	}
	for h, cb := range d.cbs {
		if cb.pool == p {
			delete(d.cbs, h)
		}
	}
	delete(d.pools, p)
}

func (d *Device) AllocateCommandBuffers(p gpu.CommandPool, count int) ([]gpu.CommandBuffer, error) {
	if err := d.fail("AllocateCommandBuffers"); err != nil {
		return nil, err
	}
	if _, ok := d.pools[p]; !ok {
		return nil, errors.Newf("allocate from unknown pool %d", p)
	}
	out := make([]gpu.CommandBuffer, count)
	for i := range out {
		out[i] = gpu.CommandBuffer(d.handle())
		d.cbs[out[i]] = &commandBuffer{pool: p}
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(p gpu.CommandPool, buffers ...gpu.CommandBuffer) {
	for _, b := range buffers {
		d.call("FreeCommandBuffers", uint64(b))
		cb, ok := d.cbs[b]
		if !ok {
			d.violate("free of unknown command buffer %d", b)
			continue
		}
		if cb.pool != p {
			d.violate("command buffer %d freed to the wrong pool", b)
		}
		delete(d.cbs, b)
	}
}

func (d *Device) BeginCommandBuffer(b gpu.CommandBuffer, flags core1_0.CommandBufferUsageFlags) error {
	if err := d.fail("BeginCommandBuffer"); err != nil {
		return err
	}
	cb, ok := d.cbs[b]
	if !ok {
		return errors.Newf("begin of unknown command buffer %d", b)
	}
	if cb.state == cbRecording {
		d.violate("command buffer %d begun twice", b)
	}
	cb.state = cbRecording
	cb.oneShot = flags&core1_0.CommandBufferUsageOneTimeSubmit != 0
	cb.commands = nil
	return nil
}

func (d *Device) EndCommandBuffer(b gpu.CommandBuffer) error {
	if err := d.fail("EndCommandBuffer"); err != nil {
		return err
	}
	cb, ok := d.cbs[b]
	if !ok {
		return errors.Newf("end of unknown command buffer %d", b)
	}
	if cb.state != cbRecording {
		d.violate("end of command buffer %d that is not recording", b)
	}
	cb.state = cbExecutable
	return nil
}

func (d *Device) record(b gpu.CommandBuffer, r recorded) error {
	cb, ok := d.cbs[b]
	if !ok {
		return errors.Newf("record into unknown command buffer %d", b)
	}
	if cb.state != cbRecording {
		d.violate("record into command buffer %d that is not recording", b)
	}
	cb.commands = append(cb.commands, r)
	return nil
}

func (d *Device) CmdPipelineBarrier(b gpu.CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, buffers []gpu.BufferMemoryBarrier, images []gpu.ImageMemoryBarrier) error {
	return d.record(b, recorded{kind: recBarrier, barrier: Barrier{
		SrcStage: srcStage,
		DstStage: dstStage,
		Buffers:  append([]gpu.BufferMemoryBarrier(nil), buffers...),
		Images:   append([]gpu.ImageMemoryBarrier(nil), images...),
	}})
}

func (d *Device) CmdCopyBuffer(b gpu.CommandBuffer, src, dst gpu.Buffer, regions ...core1_0.BufferCopy) error {
	if len(regions) == 0 {
		d.violate("buffer copy without regions")
	}
	return d.record(b, recorded{kind: recCopyBuffer, src: uint64(src), dst: uint64(dst), regions: regions})
}

func (d *Device) CmdCopyBufferToImage(b gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, layout core1_0.ImageLayout, regions ...core1_0.BufferImageCopy) error {
	return d.record(b, recorded{kind: recCopyBufferToImage, src: uint64(src), dst: uint64(dst), layout: layout})
}

func (d *Device) CmdCopyImageToBuffer(b gpu.CommandBuffer, src gpu.Image, layout core1_0.ImageLayout, dst gpu.Buffer, regions ...core1_0.BufferImageCopy) error {
	return d.record(b, recorded{kind: recCopyImageToBuffer, src: uint64(src), dst: uint64(dst), layout: layout})
}

func (d *Device) QueueSubmit(q gpu.Queue, fence gpu.Fence, submits ...gpu.SubmitInfo) error {
	if err := d.fail("QueueSubmit"); err != nil {
		return err
	}
	family, ok := d.queues[q]
	if !ok {
		return errors.Newf("submit to unknown queue %d", q)
	}

	for _, submit := range submits {
		d.Submissions = append(d.Submissions, Submission{Queue: q, Family: family, Fence: fence, Info: submit})
		d.Events = append(d.Events, Event{Kind: EventSubmit, Family: family})

		for _, wait := range submit.Waits {
			d.consumeWait(wait)
		}
		for _, b := range submit.CommandBuffers {
			d.execute(family, b)
		}
		for _, signal := range submit.Signals {
			d.signal(signal.Semaphore, signal.Value, "submission")
		}
	}

	if fence != 0 {
		signaled, ok := d.fences[fence]
		if !ok {
			d.violate("submit with unknown fence %d", fence)
		} else if signaled {
			d.violate("submit with fence %d already signaled", fence)
		}
		d.fences[fence] = true
	}
	return nil
}

func (d *Device) consumeWait(wait gpu.SemaphoreWait) {
	sem, ok := d.semaphores[wait.Semaphore]
	if !ok {
		d.violate("wait on unknown semaphore %d", wait.Semaphore)
		return
	}
	if sem.timeline {
		if sem.value < wait.Value {
			d.violate("wait for timeline %d >= %d but it is %d with nothing pending", wait.Semaphore, wait.Value, sem.value)
		}
		return
	}
	if !sem.pending {
		d.violate("wait on binary semaphore %d with no pending signal", wait.Semaphore)
	}
	sem.pending = false
}

func (d *Device) signal(s gpu.Semaphore, value uint64, from string) {
	sem, ok := d.semaphores[s]
	if !ok {
		d.violate("%s signals unknown semaphore %d", from, s)
		return
	}
	if sem.timeline {
		if value <= sem.value {
			d.violate("%s signals timeline %d to %d, not above %d", from, s, value, sem.value)
		}
		sem.value = value
		return
	}
	if sem.pending {
		d.violate("%s signals binary semaphore %d that is already signaled", from, s)
	}
	sem.pending = true
}

func (d *Device) execute(family int, b gpu.CommandBuffer) {
	cb, ok := d.cbs[b]
	if !ok {
		d.violate("submit of unknown command buffer %d", b)
		return
	}
	if cb.state != cbExecutable {
		d.violate("submit of command buffer %d that is not executable", b)
		return
	}
	if cb.oneShot {
		cb.state = cbInvalid
	}

	for _, r := range cb.commands {
		switch r.kind {
		case recBarrier:
			d.executeBarrier(family, r.barrier)
		case recCopyBuffer:
			d.executeCopyBuffer(family, gpu.Buffer(r.src), gpu.Buffer(r.dst), r.regions)
		case recCopyBufferToImage:
			d.executeBufferImage(family, gpu.Buffer(r.src), gpu.Image(r.dst), r.layout, true)
		case recCopyImageToBuffer:
			d.executeBufferImage(family, gpu.Buffer(r.dst), gpu.Image(r.src), r.layout, false)
		}
	}
}

// use checks that family may touch an exclusive resource and claims it if
// nobody has yet.
func (d *Device) use(family int, name string, exclusive bool, owner *int) {
	if !exclusive {
		return
	}
	if *owner == gpu.QueueFamilyIgnored {
		*owner = family
		return
	}
	if *owner != family {
		d.violate("%s used on family %d while owned by family %d", name, family, *owner)
	}
}

func (d *Device) executeBarrier(family int, barrier Barrier) {
	barrier.Family = family
	d.Barriers = append(d.Barriers, barrier)

	for _, b := range barrier.Buffers {
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			d.violate("barrier on unknown buffer %d", b.Buffer)
			continue
		}
		if b.SrcQueueFamilyIndex == b.DstQueueFamilyIndex {
			continue
		}
		key := ownershipKey{buffer: b.Buffer}
		d.transferOwnership(family, key, fmt.Sprintf("buffer %d", b.Buffer), &buf.owner,
			b.SrcQueueFamilyIndex, b.DstQueueFamilyIndex, gpu.ImageMemoryBarrier{
				SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
				DstQueueFamilyIndex: b.DstQueueFamilyIndex,
			})
	}

	for _, b := range barrier.Images {
		img, ok := d.images[b.Image]
		if !ok {
			d.violate("barrier on unknown image %d", b.Image)
			continue
		}
		if b.SrcQueueFamilyIndex == b.DstQueueFamilyIndex {
			if b.OldLayout != core1_0.ImageLayoutUndefined && b.OldLayout != img.layout {
				d.violate("image %d transitioned from %s but is in %s", b.Image, b.OldLayout, img.layout)
			}
			img.layout = b.NewLayout
			continue
		}
		key := ownershipKey{image: b.Image}
		release := family == b.SrcQueueFamilyIndex
		if release && b.OldLayout != img.layout {
			d.violate("image %d released from %s but is in %s", b.Image, b.OldLayout, img.layout)
		}
		d.transferOwnership(family, key, fmt.Sprintf("image %d", b.Image), &img.owner,
			b.SrcQueueFamilyIndex, b.DstQueueFamilyIndex, gpu.ImageMemoryBarrier{
				SrcQueueFamilyIndex: b.SrcQueueFamilyIndex,
				DstQueueFamilyIndex: b.DstQueueFamilyIndex,
				OldLayout:           b.OldLayout,
				NewLayout:           b.NewLayout,
			})
		if !release {
			img.layout = b.NewLayout
		}
	}
}

func (d *Device) transferOwnership(family int, key ownershipKey, name string, owner *int, src, dst int, shape gpu.ImageMemoryBarrier) {
	switch family {
	case src:
		if *owner != gpu.QueueFamilyIgnored && *owner != src {
			d.violate("%s released by family %d but owned by %d", name, src, *owner)
		}
		if _, pending := d.released[key]; pending {
			d.violate("%s released twice", name)
		}
		d.released[key] = shape
	case dst:
		rel, pending := d.released[key]
		if !pending {
			d.violate("%s acquired by family %d without a release", name, dst)
			return
		}
		if rel != shape {
			d.violate("%s acquire %+v does not match release %+v", name, shape, rel)
		}
		delete(d.released, key)
		*owner = dst
	default:
		d.violate("%s ownership barrier %d -> %d executed on family %d", name, src, dst, family)
	}
}

func (d *Device) executeCopyBuffer(family int, src, dst gpu.Buffer, regions []core1_0.BufferCopy) {
	s, sok := d.buffers[src]
	t, tok := d.buffers[dst]
	if !sok || !tok {
		d.violate("copy between unknown buffers %d -> %d", src, dst)
		return
	}
	if s.info.Usage&core1_0.BufferUsageTransferSrc == 0 {
		d.violate("copy from buffer %d without TRANSFER_SRC usage", src)
	}
	if t.info.Usage&core1_0.BufferUsageTransferDst == 0 {
		d.violate("copy to buffer %d without TRANSFER_DST usage", dst)
	}
	d.use(family, fmt.Sprintf("buffer %d", src), s.info.SharingMode == core1_0.SharingModeExclusive, &s.owner)
	d.use(family, fmt.Sprintf("buffer %d", dst), t.info.SharingMode == core1_0.SharingModeExclusive, &t.owner)

	sm, tm := d.memories[s.memory], d.memories[t.memory]
	for _, r := range regions {
		if r.SrcOffset+r.Size > s.info.Size || r.DstOffset+r.Size > t.info.Size {
			d.violate("copy region %+v out of bounds", r)
			continue
		}
		copy(tm.data[r.DstOffset:r.DstOffset+r.Size], sm.data[r.SrcOffset:r.SrcOffset+r.Size])
	}
}

func (d *Device) executeBufferImage(family int, b gpu.Buffer, i gpu.Image, layout core1_0.ImageLayout, toImage bool) {
	buf, bok := d.buffers[b]
	img, iok := d.images[i]
	if !bok || !iok {
		d.violate("copy between unknown buffer %d and image %d", b, i)
		return
	}
	if img.layout != layout {
		d.violate("copy with image %d in %s, expected %s", i, img.layout, layout)
	}
	d.use(family, fmt.Sprintf("buffer %d", b), buf.info.SharingMode == core1_0.SharingModeExclusive, &buf.owner)
	d.use(family, fmt.Sprintf("image %d", i), img.info.SharingMode == core1_0.SharingModeExclusive, &img.owner)

	extent := img.info.Width * img.info.Height * TexelSize
	if buf.info.Size < extent {
		d.violate("copy of image %d (%d bytes) through buffer %d (%d bytes)", i, extent, b, buf.info.Size)
		return
	}

	bm, im := d.memories[buf.memory], d.memories[img.memory]
	if toImage {
		copy(im.data[:extent], bm.data[:extent])
	} else {
		copy(bm.data[:extent], im.data[:extent])
	}
}

func (d *Device) QueueWaitIdle(q gpu.Queue) error {
	if err := d.fail("QueueWaitIdle"); err != nil {
		return err
	}
	family, ok := d.queues[q]
	if !ok {
		return errors.Newf("wait on unknown queue %d", q)
	}
	d.Events = append(d.Events, Event{Kind: EventWaitIdle, Family: family})
	return nil
}

// Sync

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	if err := d.fail("CreateSemaphore"); err != nil {
		return 0, err
	}
	h := gpu.Semaphore(d.handle())
	d.semaphores[h] = &semaphore{}
	return h, nil
}

func (d *Device) CreateTimelineSemaphore(initialValue uint64) (gpu.Semaphore, error) {
	if err := d.fail("CreateTimelineSemaphore"); err != nil {
		return 0, err
	}
	h := gpu.Semaphore(d.handle())
	d.semaphores[h] = &semaphore{timeline: true, value: initialValue}
	return h, nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	if s == 0 {
		return
	}
	d.call("DestroySemaphore", uint64(s))
	if _, ok := d.semaphores[s]; !ok {
		d.violate("destroy of unknown semaphore %d", s)
		return
	}
	delete(d.semaphores, s)
}

func (d *Device) WaitSemaphore(s gpu.Semaphore, value uint64, timeout time.Duration) error {
	if err := d.fail("WaitSemaphore"); err != nil {
		return err
	}
	d.HostWaits = append(d.HostWaits, gpu.SemaphoreSignal{Semaphore: s, Value: value})
	sem, ok := d.semaphores[s]
	if !ok || !sem.timeline {
		return errors.Newf("host wait on semaphore %d which is not a timeline", s)
	}
	if sem.value < value {
		return errors.Wrapf(ErrWouldBlock, "timeline %d is %d, waiting for %d", s, sem.value, value)
	}
	return nil
}

func (d *Device) SignalSemaphore(s gpu.Semaphore, value uint64) error {
	if err := d.fail("SignalSemaphore"); err != nil {
		return err
	}
	d.HostSignals = append(d.HostSignals, gpu.SemaphoreSignal{Semaphore: s, Value: value})
	sem, ok := d.semaphores[s]
	if !ok || !sem.timeline {
		return errors.Newf("host signal of semaphore %d which is not a timeline", s)
	}
	d.signal(s, value, "host")
	return nil
}

func (d *Device) SemaphoreCounterValue(s gpu.Semaphore) (uint64, error) {
	sem, ok := d.semaphores[s]
	if !ok || !sem.timeline {
		return 0, errors.Newf("counter of semaphore %d which is not a timeline", s)
	}
	return sem.value, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	if err := d.fail("CreateFence"); err != nil {
		return 0, err
	}
	h := gpu.Fence(d.handle())
	d.fences[h] = signaled
	return h, nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	if f == 0 {
		return
	}
	d.call("DestroyFence", uint64(f))
	if _, ok := d.fences[f]; !ok {
		d.violate("destroy of unknown fence %d", f)
		return
	}
	delete(d.fences, f)
}

func (d *Device) WaitForFences(waitAll bool, timeout time.Duration, fences ...gpu.Fence) error {
	if err := d.fail("WaitForFences"); err != nil {
		return err
	}
	for _, f := range fences {
		signaled, ok := d.fences[f]
		if !ok {
			return errors.Newf("wait on unknown fence %d", f)
		}
		if !signaled {
			return errors.Wrapf(ErrWouldBlock, "fence %d", f)
		}
	}
	return nil
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	if err := d.fail("ResetFences"); err != nil {
		return err
	}
	for _, f := range fences {
		if _, ok := d.fences[f]; !ok {
			return errors.Newf("reset of unknown fence %d", f)
		}
		d.fences[f] = false
	}
	return nil
}

func (d *Device) FenceSignaled(f gpu.Fence) (bool, error) {
	signaled, ok := d.fences[f]
	if !ok {
		return false, errors.Newf("status of unknown fence %d", f)
	}
	return signaled, nil
}

func (d *Device) DeviceWaitIdle() error {
	return d.fail("DeviceWaitIdle")
}

// Descriptors

func (d *Device) UpdateDescriptorSets(writes ...gpu.DescriptorWrite) error {
	if err := d.fail("UpdateDescriptorSets"); err != nil {
		return err
	}
	for _, w := range writes {
		for _, b := range w.Buffers {
			if _, ok := d.buffers[b.Buffer]; !ok {
				d.violate("descriptor write of unknown buffer %d", b.Buffer)
			}
		}
		for _, i := range w.Images {
			if _, ok := d.views[i.View]; !ok {
				d.violate("descriptor write of unknown image view %d", i.View)
			}
		}
	}
	d.Writes = append(d.Writes, writes...)
	return nil
}
