package resource_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urnvk/urn/family"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/internal/gputest"
	"github.com/urnvk/urn/resource"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var families = family.Indices{Combined: 0, Transfer: 1}

func newManager(t *testing.T) (*gputest.Device, *resource.Manager) {
	t.Helper()
	d := gputest.NewDevice()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return d, resource.NewManager(d, d.MemoryProperties, families, resource.WithLogger(logger))
}

const hostMemory = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

func TestFindMemoryType(t *testing.T) {
	props := gputest.DefaultMemoryProperties()

	index, err := resource.FindMemoryType(props, 0b11, core1_0.MemoryPropertyHostVisible)
	require.NoError(t, err)
	assert.Equal(t, 1, index)

	index, err = resource.FindMemoryType(props, 0b11, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, index)

	_, err = resource.FindMemoryType(props, 0b01, core1_0.MemoryPropertyHostVisible)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrNoSuitableMemoryType))
	assert.Equal(t, gpu.KindResource, gpu.KindOf(err))
}

func TestBufferSharing(t *testing.T) {
	d, m := newManager(t)

	exclusive, err := m.NewBuffer(resource.BufferSettings{Size: 64, Usage: core1_0.BufferUsageStorageBuffer, Name: "exclusive"})
	require.NoError(t, err)
	info, ok := d.BufferInfo(exclusive.Handle)
	require.True(t, ok)
	assert.Equal(t, core1_0.SharingModeExclusive, info.SharingMode)
	assert.Empty(t, info.QueueFamilyIndices)
	assert.True(t, exclusive.Exclusive())

	shared, err := m.NewBuffer(resource.BufferSettings{Size: 64, Properties: hostMemory, Shared: true, Name: "shared"})
	require.NoError(t, err)
	info, ok = d.BufferInfo(shared.Handle)
	require.True(t, ok)
	assert.Equal(t, core1_0.SharingModeConcurrent, info.SharingMode)
	assert.Equal(t, []int{0, 1}, info.QueueFamilyIndices)

	exclusive.Destroy()
	shared.Destroy()
	assert.Empty(t, d.Violations)
}

func TestBufferDestroyOnce(t *testing.T) {
	d, m := newManager(t)

	b, err := m.NewBuffer(resource.BufferSettings{Size: 16, Properties: hostMemory, Map: true, Name: "once"})
	require.NoError(t, err)
	handle, memory := b.Handle, b.Memory
	require.Len(t, m.Live(), 1)

	b.Destroy()
	b.Destroy()

	assert.Equal(t, []gputest.Call{
		{Name: "DestroyBuffer", Handle: uint64(handle)},
		{Name: "FreeMemory", Handle: uint64(memory)},
	}, d.Calls)
	assert.Empty(t, d.Violations)
	assert.Equal(t, gputest.Counts{}, d.Live())
	assert.Empty(t, m.Live())
	assert.True(t, b.Destroyed())
	assert.Zero(t, b.Handle)
}

func TestPersistentMapping(t *testing.T) {
	d, m := newManager(t)

	b, err := m.NewBuffer(resource.BufferSettings{Size: 8, Properties: hostMemory, Map: true, Name: "uniform"})
	require.NoError(t, err)
	defer b.Destroy()

	region := b.Mapped()
	require.NotNil(t, region)
	require.NoError(t, b.WriteAt([]byte{1, 2, 3}, 5))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 1, 2, 3}, d.Contents(b.Handle))

	_, err = b.Map()
	assert.Error(t, err)

	err = b.WriteAt([]byte{1, 2}, 7)
	assert.True(t, errors.Is(err, resource.ErrOutOfRange))

	region.Unmap()
	assert.True(t, errors.Is(region.Write([]byte{9}), resource.ErrNotMapped))
	assert.True(t, errors.Is(region.ReadAt(make([]byte, 1), 0), resource.ErrNotMapped))

	// Without a live region, writes map and unmap around the copy.
	require.NoError(t, b.Write([]byte{7}))
	out := make([]byte, 8)
	require.NoError(t, b.Read(out))
	assert.Equal(t, []byte{7, 0, 0, 0, 0, 1, 2, 3}, out)
	assert.Nil(t, b.Mapped())
	assert.Empty(t, d.Violations)
}

func TestWriteDeviceLocal(t *testing.T) {
	_, m := newManager(t)

	b, err := m.NewBuffer(resource.BufferSettings{Size: 4, Properties: core1_0.MemoryPropertyDeviceLocal, Name: "local"})
	require.NoError(t, err)
	defer b.Destroy()

	err = b.Write([]byte{1})
	assert.True(t, errors.Is(err, resource.ErrNotHostVisible))

	_, err = m.NewBuffer(resource.BufferSettings{Size: 4, Properties: core1_0.MemoryPropertyDeviceLocal, Map: true, Name: "mapped local"})
	assert.True(t, errors.Is(err, resource.ErrNotHostVisible))
}

func TestZeroSizedBuffer(t *testing.T) {
	d, m := newManager(t)

	b, err := m.NewBuffer(resource.BufferSettings{Size: 0, Properties: hostMemory, Map: true, Name: "empty"})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Size)
	assert.Equal(t, 1, d.CreatedBuffers[0].Size)
	require.NoError(t, b.Write(nil))

	b.Destroy()
	assert.Empty(t, d.Violations)
}

func TestAllocationFailureReleasesBuffer(t *testing.T) {
	d, m := newManager(t)
	d.FailNext("AllocateMemory", errors.New("VK_ERROR_OUT_OF_DEVICE_MEMORY"))

	_, err := m.NewBuffer(resource.BufferSettings{Size: 4, Name: "doomed"})
	require.Error(t, err)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))
	assert.Equal(t, gputest.Counts{}, d.Live())

	d.TypeBits = 0b01
	_, err = m.NewBuffer(resource.BufferSettings{Size: 4, Properties: hostMemory, Name: "no type"})
	assert.True(t, errors.Is(err, gpu.ErrNoSuitableMemoryType))
	assert.Equal(t, gputest.Counts{}, d.Live())
}

func TestImageLifecycle(t *testing.T) {
	d, m := newManager(t)

	img, err := m.NewImage(resource.ImageSettings{
		Width:  4,
		Height: 2,
		Format: core1_0.FormatR8G8B8A8SRGB,
		Usage:  core1_0.ImageUsageSampled,
		Name:   "texture",
	})
	require.NoError(t, err)
	assert.Equal(t, core1_0.ImageLayoutUndefined, img.Layout())
	assert.Equal(t, gpu.QueueFamilyIgnored, img.Owner())
	assert.Equal(t, core1_0.ImageAspectColor, img.Range().AspectMask)

	view, handle, memory := img.View, img.Handle, img.Memory
	img.Destroy()
	img.Destroy()

	assert.Equal(t, []gputest.Call{
		{Name: "DestroyImageView", Handle: uint64(view)},
		{Name: "DestroyImage", Handle: uint64(handle)},
		{Name: "FreeMemory", Handle: uint64(memory)},
	}, d.Calls)
	assert.Empty(t, d.Violations)
	assert.Equal(t, gputest.Counts{}, d.Live())
}

func TestDepthImage(t *testing.T) {
	_, m := newManager(t)
	pd := gputest.Discrete("discrete")

	depth, err := m.NewDepthImage(pd, 8, 8, "depth")
	require.NoError(t, err)
	assert.Equal(t, core1_0.FormatD32SignedFloat, depth.Format)
	assert.Equal(t, core1_0.ImageAspectDepth, depth.Aspect)
	depth.Destroy()

	pd.Formats = nil
	_, err = m.NewDepthImage(pd, 8, 8, "depth")
	assert.True(t, errors.Is(err, gpu.ErrUnsupportedFormat))
}

func TestCloseReportsLeaks(t *testing.T) {
	_, m := newManager(t)

	kept, err := m.NewBuffer(resource.BufferSettings{Size: 4, Name: "kept"})
	require.NoError(t, err)
	dropped, err := m.NewBuffer(resource.BufferSettings{Size: 4, Name: "dropped"})
	require.NoError(t, err)
	dropped.Destroy()

	live := m.Live()
	require.Len(t, live, 1)
	assert.Equal(t, kept.ID, live[0].ID)
	assert.Equal(t, resource.KindBuffer, live[0].Kind)

	err = m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kept")

	kept.Destroy()
	assert.NoError(t, m.Close())
}

func TestBytes(t *testing.T) {
	assert.Nil(t, resource.Bytes([]uint32(nil)))
	assert.Equal(t, 12, len(resource.Bytes([]uint32{1, 2, 3})))

	v := struct{ A, B float32 }{1, 2}
	assert.Len(t, resource.ValueBytes(&v), 8)
}
