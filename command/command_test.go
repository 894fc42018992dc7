package command_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/internal/gputest"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func newCommand(t *testing.T, d *gputest.Device, family, buffers int) *command.Command {
	t.Helper()
	c, err := command.New(d, command.Settings{
		FamilyIndex: family,
		BufferCount: buffers,
		PoolFlags:   core1_0.CommandPoolCreateResetBuffer,
		Name:        "graphics",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestNewAndDestroy(t *testing.T) {
	d := gputest.NewDevice()
	c := newCommand(t, d, 0, 3)

	assert.Len(t, c.Buffers, 3)
	assert.Equal(t, 0, d.QueueFamily(c.Queue))
	assert.Equal(t, gputest.Counts{Pools: 1, CommandBuffers: 3}, d.Live())
	assert.Equal(t, "graphics_2", c.BufferName(2))

	require.NoError(t, c.Reallocate(2))
	assert.Equal(t, gputest.Counts{Pools: 1, CommandBuffers: 2}, d.Live())

	c.Destroy()
	c.Destroy()
	assert.Equal(t, gputest.Counts{}, d.Live())
	assert.Empty(t, d.Violations)
}

func TestNewReleasesPoolOnFailure(t *testing.T) {
	d := gputest.NewDevice()
	d.FailNext("AllocateCommandBuffers", errors.New("VK_ERROR_OUT_OF_HOST_MEMORY"))

	_, err := command.New(d, command.Settings{FamilyIndex: 0, BufferCount: 1, Name: "doomed"})
	require.Error(t, err)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))
	assert.Equal(t, gputest.Counts{}, d.Live())
}

func TestRecord(t *testing.T) {
	d := gputest.NewDevice()
	c := newCommand(t, d, 0, 1)
	defer c.Destroy()

	var recorded gpu.CommandBuffer
	require.NoError(t, c.Record(0, func(cb gpu.CommandBuffer) error {
		recorded = cb
		return nil
	}))
	assert.Equal(t, c.Buffers[0], recorded)

	err := c.Record(1, func(gpu.CommandBuffer) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.HasAssertionFailure(err))

	cause := errors.New("bad pipeline")
	err = c.Record(0, func(gpu.CommandBuffer) error { return cause })
	assert.True(t, errors.Is(err, cause))
}

func TestOneShotSubmitsAndWaits(t *testing.T) {
	d := gputest.NewDevice()
	c := newCommand(t, d, 1, 0)
	defer c.Destroy()

	require.NoError(t, c.OneShot("noop", func(gpu.CommandBuffer) error { return nil }))

	assert.Equal(t, []gputest.Event{
		{Kind: gputest.EventSubmit, Family: 1},
		{Kind: gputest.EventWaitIdle, Family: 1},
	}, d.Events)
	require.Len(t, d.Submissions, 1)
	assert.Zero(t, d.Submissions[0].Fence)
	assert.Equal(t, gputest.Counts{Pools: 1}, d.Live())
	assert.Empty(t, d.Violations)
}

func TestOneShotRecordErrorFreesBuffer(t *testing.T) {
	d := gputest.NewDevice()
	c := newCommand(t, d, 0, 0)
	defer c.Destroy()

	cause := errors.New("record failed")
	err := c.OneShot("broken", func(gpu.CommandBuffer) error { return cause })
	assert.True(t, errors.Is(err, cause))
	assert.Empty(t, d.Submissions)
	assert.Equal(t, gputest.Counts{Pools: 1}, d.Live())
}

func TestOneShotSubmitErrorFreesBuffer(t *testing.T) {
	d := gputest.NewDevice()
	c := newCommand(t, d, 0, 0)
	defer c.Destroy()

	d.FailNext("QueueSubmit", errors.New("VK_ERROR_DEVICE_LOST"))
	err := c.OneShot("lost", func(gpu.CommandBuffer) error { return nil })
	require.Error(t, err)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))
	assert.Equal(t, gputest.Counts{Pools: 1}, d.Live())
}

func TestForLayouts(t *testing.T) {
	s, err := command.ForLayouts(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)
	assert.Equal(t, core1_0.AccessTransferWrite, s.DstAccess)
	assert.Equal(t, core1_0.PipelineStageTopOfPipe, s.SrcStage)
	assert.Equal(t, core1_0.PipelineStageTransfer, s.DstStage)

	s, err = command.ForLayouts(core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	require.NoError(t, err)
	assert.Equal(t, core1_0.AccessShaderRead, s.DstAccess)
	assert.Equal(t, core1_0.PipelineStageFragmentShader, s.DstStage)

	_, err = command.ForLayouts(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutGeneral)
	assert.Error(t, err)
}

func TestTransition(t *testing.T) {
	d := gputest.NewDevice()
	c := newCommand(t, d, 0, 0)
	defer c.Destroy()

	img, err := d.CreateImage(gpu.ImageCreateInfo{Width: 2, Height: 2, MipLevels: 1, SharingMode: core1_0.SharingModeExclusive})
	require.NoError(t, err)

	s, err := command.ForLayouts(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	require.NoError(t, err)
	s.Image = img
	require.NoError(t, command.Transition(c, s))

	assert.Equal(t, core1_0.ImageLayoutTransferDstOptimal, d.ImageLayout(img))
	require.Len(t, d.Barriers, 1)
	barrier := d.Barriers[0]
	assert.Equal(t, 0, barrier.Family)
	require.Len(t, barrier.Images, 1)
	assert.Equal(t, gpu.QueueFamilyIgnored, barrier.Images[0].SrcQueueFamilyIndex)
	assert.Equal(t, gpu.QueueFamilyIgnored, barrier.Images[0].DstQueueFamilyIndex)
	assert.Empty(t, d.Violations)
}
