package transfer_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/family"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/internal/gputest"
	"github.com/urnvk/urn/resource"
	"github.com/urnvk/urn/transfer"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type fixture struct {
	device   *gputest.Device
	mgr      *resource.Manager
	transfer *command.Command
	combined *command.Command
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := gputest.NewDevice()
	families := family.Indices{Combined: 0, Transfer: 1}

	transferCmd, err := command.New(d, command.Settings{FamilyIndex: families.Transfer, Name: "transfer", Logger: logger})
	require.NoError(t, err)
	combinedCmd, err := command.New(d, command.Settings{FamilyIndex: families.Combined, Name: "combined", Logger: logger})
	require.NoError(t, err)

	f := &fixture{
		device:   d,
		mgr:      resource.NewManager(d, d.MemoryProperties, families, resource.WithLogger(logger)),
		transfer: transferCmd,
		combined: combinedCmd,
	}
	t.Cleanup(func() {
		f.transfer.Destroy()
		f.combined.Destroy()
	})
	return f
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i*7 + 3)
	}
	return out
}

func TestUploadReadBack(t *testing.T) {
	for _, size := range []int{0, 1, 4096, 1021} {
		t.Run(fmt.Sprintf("%d bytes", size), func(t *testing.T) {
			f := newFixture(t)
			data := pattern(size)

			b, err := transfer.Upload(f.mgr, f.transfer, data, transfer.Destination{
				Usage: core1_0.BufferUsageTransferSrc | core1_0.BufferUsageStorageBuffer,
				Name:  "payload",
			})
			require.NoError(t, err)
			assert.Equal(t, size, b.Size)
			assert.Equal(t, f.transfer.FamilyIndex, b.Owner())
			assert.False(t, b.HostVisible())

			out, err := transfer.ReadBack(f.mgr, f.transfer, b)
			require.NoError(t, err)
			assert.Equal(t, data, out)

			b.Destroy()
			assert.Empty(t, f.mgr.Live())
			assert.Empty(t, f.device.Violations)
		})
	}
}

func TestUploadSharing(t *testing.T) {
	f := newFixture(t)

	b, err := transfer.UploadStorage(f.mgr, f.transfer, []uint32{1, 2, 3, 4}, "storage")
	require.NoError(t, err)
	defer b.Destroy()

	require.Len(t, f.device.CreatedBuffers, 2)
	staging, dst := f.device.CreatedBuffers[0], f.device.CreatedBuffers[1]

	assert.Equal(t, core1_0.SharingModeConcurrent, staging.SharingMode)
	assert.ElementsMatch(t, []int{0, 1}, staging.QueueFamilyIndices)

	assert.Equal(t, core1_0.SharingModeExclusive, dst.SharingMode)
	assert.LessOrEqual(t, len(dst.QueueFamilyIndices), 1)
	assert.NotZero(t, dst.Usage&core1_0.BufferUsageTransferDst)
	assert.Equal(t, 16, dst.Size)

	// Only the destination survives the upload.
	assert.Len(t, f.device.AllBuffers(), 1)
}

func TestUploadCleansUpOnSubmitFailure(t *testing.T) {
	f := newFixture(t)
	f.device.FailNext("QueueSubmit", errors.New("VK_ERROR_DEVICE_LOST"))

	_, err := transfer.UploadVertices(f.mgr, f.transfer, []float32{0, 1, 2}, "vertices")
	require.Error(t, err)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))

	live := f.device.Live()
	assert.Zero(t, live.Buffers)
	assert.Zero(t, live.Memories)
	assert.Zero(t, live.CommandBuffers)
	assert.Empty(t, f.mgr.Live())
}

func TestCopyBufferBounds(t *testing.T) {
	f := newFixture(t)

	src, err := transfer.NewStorage(f.mgr, 8, "src")
	require.NoError(t, err)
	defer src.Destroy()
	dst, err := transfer.NewStorage(f.mgr, 4, "dst")
	require.NoError(t, err)
	defer dst.Destroy()

	err = transfer.CopyBuffer(f.transfer, src, dst, 8)
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))

	require.NoError(t, transfer.CopyBuffer(f.transfer, src, dst, 0))
	assert.Empty(t, f.device.Submissions)
}

func TestUploadImageReadBack(t *testing.T) {
	f := newFixture(t)
	pixels := pattern(4 * 3 * gputest.TexelSize)

	img, err := transfer.UploadImage(f.mgr, f.transfer, pixels, transfer.ImageDestination{
		Width:  4,
		Height: 3,
		Format: core1_0.FormatR8G8B8A8SRGB,
		Usage:  core1_0.ImageUsageSampled | core1_0.ImageUsageTransferSrc,
		Name:   "texture",
	})
	require.NoError(t, err)
	defer img.Destroy()

	assert.Equal(t, core1_0.ImageLayoutTransferDstOptimal, img.Layout())
	assert.Equal(t, core1_0.ImageLayoutTransferDstOptimal, f.device.ImageLayout(img.Handle))
	assert.Equal(t, f.transfer.FamilyIndex, img.Owner())

	// The transition and the copy share one submission.
	assert.Len(t, f.device.Submissions, 1)

	out, err := transfer.ReadBackImage(f.mgr, f.transfer, img)
	require.NoError(t, err)
	assert.Equal(t, pixels, out)
	assert.Equal(t, core1_0.ImageLayoutTransferSrcOptimal, img.Layout())
	assert.Empty(t, f.device.Violations)
}

func TestUploadImageRejectsEmptyPixels(t *testing.T) {
	f := newFixture(t)

	_, err := transfer.UploadImage(f.mgr, f.transfer, nil, transfer.ImageDestination{Width: 1, Height: 1, Name: "empty"})
	assert.Error(t, err)
	assert.Empty(t, f.device.CreatedBuffers)
}

func TestUploadImageRejectsShortPixels(t *testing.T) {
	f := newFixture(t)

	_, err := transfer.UploadImage(f.mgr, f.transfer, pattern(4), transfer.ImageDestination{
		Width:  64,
		Height: 64,
		Format: core1_0.FormatR8G8B8A8SRGB,
		Usage:  core1_0.ImageUsageSampled,
		Name:   "short",
	})
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.Empty(t, f.device.CreatedBuffers)
	assert.Empty(t, f.device.Submissions)
	assert.Empty(t, f.mgr.Live())
}

func TestUploadImageRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)

	_, err := transfer.UploadImage(f.mgr, f.transfer, pattern(4), transfer.ImageDestination{
		Width:  1,
		Height: 1,
		Format: core1_0.FormatD32SignedFloat,
		Name:   "depth",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrUnsupportedFormat))
	assert.Equal(t, gpu.KindResource, gpu.KindOf(err))
	assert.Empty(t, f.device.CreatedBuffers)
}

func TestImageCopyBounds(t *testing.T) {
	f := newFixture(t)
	_, img := upload(t, f)
	submitted := len(f.device.Submissions)

	short, err := transfer.NewStaging(f.mgr, 4, "short")
	require.NoError(t, err)
	defer short.Destroy()

	err = transfer.CopyBufferToImage(f.transfer, short, img)
	assert.True(t, errors.HasAssertionFailure(err))
	err = transfer.CopyImageToBuffer(f.transfer, img, short)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.Len(t, f.device.Submissions, submitted)

	// A copy that skips the host checks is caught by the device.
	err = f.transfer.OneShot("unchecked copy", func(cb gpu.CommandBuffer) error {
		return f.device.CmdCopyBufferToImage(cb, short.Handle, img.Handle, core1_0.ImageLayoutTransferDstOptimal)
	})
	require.NoError(t, err)
	assert.NotEmpty(t, f.device.Violations)
}

func TestUploadBatch(t *testing.T) {
	f := newFixture(t)
	sizes := []int{16, 0, 100}

	items := make([]transfer.BatchItem, len(sizes))
	for i, size := range sizes {
		items[i] = transfer.BatchItem{
			Data: pattern(size),
			Destination: transfer.Destination{
				Usage: core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc,
				Name:  fmt.Sprintf("item_%d", i),
			},
		}
	}

	buffers, err := transfer.UploadBatch(context.Background(), f.mgr, f.transfer, items)
	require.NoError(t, err)
	require.Len(t, buffers, len(items))
	assert.Len(t, f.device.Submissions, 1)
	assert.Len(t, f.mgr.Live(), len(items))

	for i, b := range buffers {
		assert.Equal(t, f.transfer.FamilyIndex, b.Owner())
		out, err := transfer.ReadBack(f.mgr, f.transfer, b)
		require.NoError(t, err)
		assert.Equal(t, items[i].Data, out)
		b.Destroy()
	}
	assert.Empty(t, f.device.Violations)
}

func TestUploadBatchCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transfer.UploadBatch(ctx, f.mgr, f.transfer, []transfer.BatchItem{{Data: pattern(4), Destination: transfer.Destination{Name: "late"}}})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.mgr.Live())
	assert.Empty(t, f.device.Submissions)
}

func upload(t *testing.T, f *fixture) (*resource.Buffer, *resource.Image) {
	t.Helper()
	b, err := transfer.UploadVertexStorage(f.mgr, f.transfer, []float32{1, 2, 3, 4}, "particles")
	require.NoError(t, err)
	img, err := transfer.UploadImage(f.mgr, f.transfer, pattern(2*2*gputest.TexelSize), transfer.ImageDestination{
		Width:  2,
		Height: 2,
		Format: core1_0.FormatR8G8B8A8SRGB,
		Usage:  core1_0.ImageUsageSampled,
		Name:   "texture",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Destroy()
		img.Destroy()
	})
	return b, img
}

func TestToCombined(t *testing.T) {
	f := newFixture(t)
	b, img := upload(t, f)
	before := len(f.device.Events)

	require.NoError(t, transfer.ToCombined([]*resource.Buffer{b}, []*resource.Image{img}, f.transfer, f.combined))

	assert.Equal(t, []gputest.Event{
		{Kind: gputest.EventSubmit, Family: 1},
		{Kind: gputest.EventWaitIdle, Family: 1},
		{Kind: gputest.EventSubmit, Family: 0},
		{Kind: gputest.EventWaitIdle, Family: 0},
	}, f.device.Events[before:])

	barriers := f.device.Barriers[len(f.device.Barriers)-2:]
	release, acquire := barriers[0], barriers[1]

	assert.Equal(t, 1, release.Family)
	assert.Equal(t, core1_0.PipelineStageTransfer, release.SrcStage)
	assert.Equal(t, core1_0.PipelineStageBottomOfPipe, release.DstStage)
	require.Len(t, release.Buffers, 1)
	assert.Equal(t, core1_0.AccessTransferWrite, release.Buffers[0].SrcAccessMask)
	assert.Zero(t, release.Buffers[0].DstAccessMask)
	assert.Equal(t, gpu.WholeSize, release.Buffers[0].Size)

	assert.Equal(t, 0, acquire.Family)
	assert.Equal(t, core1_0.PipelineStageTopOfPipe, acquire.SrcStage)
	assert.NotZero(t, acquire.DstStage&core1_0.PipelineStageComputeShader)
	require.Len(t, acquire.Images, 1)
	assert.Zero(t, acquire.Images[0].SrcAccessMask)
	assert.Equal(t, core1_0.AccessShaderRead, acquire.Images[0].DstAccessMask)
	assert.Equal(t, core1_0.ImageLayoutTransferDstOptimal, acquire.Images[0].OldLayout)
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, acquire.Images[0].NewLayout)

	assert.Equal(t, 0, b.Owner())
	assert.Equal(t, 0, img.Owner())
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, img.Layout())
	assert.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, f.device.ImageLayout(img.Handle))
	assert.Empty(t, f.device.Violations)

	err := transfer.ToCombined([]*resource.Buffer{b}, nil, f.transfer, f.combined)
	assert.True(t, errors.Is(err, transfer.ErrNotTransferOwned))
}

func TestToCombinedRejectsSharedResources(t *testing.T) {
	f := newFixture(t)

	b, err := transfer.Upload(f.mgr, f.transfer, pattern(8), transfer.Destination{
		Usage:  core1_0.BufferUsageStorageBuffer,
		Shared: true,
		Name:   "shared",
	})
	require.NoError(t, err)
	defer b.Destroy()

	submissions := len(f.device.Submissions)
	err = transfer.ToCombined([]*resource.Buffer{b}, nil, f.transfer, f.combined)
	assert.True(t, errors.Is(err, transfer.ErrNotTransferOwned))
	assert.Len(t, f.device.Submissions, submissions)
}

func TestToCombinedRejectsSameFamily(t *testing.T) {
	f := newFixture(t)
	b, _ := upload(t, f)

	err := transfer.ToCombined([]*resource.Buffer{b}, nil, f.transfer, f.transfer)
	assert.True(t, errors.Is(err, transfer.ErrSameFamily))
}

func TestPlanToCombinedMirrored(t *testing.T) {
	f := newFixture(t)
	b, img := upload(t, f)

	h := transfer.PlanToCombined([]*resource.Buffer{b}, []*resource.Image{img}, 1, 0)
	assert.True(t, h.Mirrored())
	require.Len(t, h.Release.Barriers, 2)

	h.Acquire.Barriers[1].NewLayout = core1_0.ImageLayoutGeneral
	assert.False(t, h.Mirrored())

	h = transfer.PlanToCombined([]*resource.Buffer{b}, nil, 1, 0)
	h.Release.Barriers[0].DstAccess = core1_0.AccessShaderRead
	assert.False(t, h.Mirrored())

	h = transfer.PlanToCombined([]*resource.Buffer{b}, nil, 0, 0)
	assert.False(t, h.Mirrored())
}
