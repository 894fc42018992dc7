package family

import (
	"io"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/internal/gputest"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var quiet = WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func TestClassifyDiscrete(t *testing.T) {
	families, err := Classify(gputest.Discrete("discrete"))
	require.NoError(t, err)

	combined, err := families.Lookup(Combined)
	require.NoError(t, err)
	assert.Equal(t, 0, combined.Index)

	transfer, err := families.Lookup(DedicatedTransfer)
	require.NoError(t, err)
	assert.Equal(t, 1, transfer.Index)

	compute, err := families.Lookup(Key{Transfer: true, Compute: true})
	require.NoError(t, err)
	assert.Equal(t, 2, compute.Index)
	assert.Len(t, families, 3)
}

func TestClassifyLowestIndexWins(t *testing.T) {
	pd := gputest.Discrete("twins")
	pd.Families = []gpu.QueueFamilyProperties{
		{Flags: core1_0.QueueTransfer, QueueCount: 0},
		{Flags: core1_0.QueueTransfer, QueueCount: 1},
		{Flags: core1_0.QueueTransfer, QueueCount: 1},
	}
	pd.Present = map[int]bool{}

	families, err := Classify(pd)
	require.NoError(t, err)

	transfer, err := families.Lookup(DedicatedTransfer)
	require.NoError(t, err)
	assert.Equal(t, 1, transfer.Index)
}

func TestClassifySurfaceError(t *testing.T) {
	pd := gputest.Discrete("lost")
	pd.SurfaceErr = errors.New("VK_ERROR_SURFACE_LOST_KHR")

	_, err := Classify(pd)
	require.Error(t, err)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))
}

func TestSelectPropagatesDriverError(t *testing.T) {
	lost := gputest.Discrete("lost")
	lost.SurfaceErr = errors.New("VK_ERROR_SURFACE_LOST_KHR")

	selection, err := Select([]gpu.PhysicalDevice{lost, gputest.Discrete("ok")},
		Requirements{Extensions: []string{"VK_KHR_swapchain"}, Timelines: true}, quiet)
	require.Error(t, err)
	assert.Nil(t, selection)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))
	assert.False(t, errors.Is(err, gpu.ErrNoSuitableDevice))
}

func TestSelectSkipsUnqualifiedCandidates(t *testing.T) {
	selection, err := Select([]gpu.PhysicalDevice{
		gputest.Integrated("integrated"),
		gputest.Discrete("discrete"),
	}, Requirements{Extensions: []string{"VK_KHR_swapchain"}, Timelines: true}, quiet)
	require.NoError(t, err)

	assert.Equal(t, "discrete", selection.Device.Name())
	assert.Equal(t, Indices{Combined: 0, Transfer: 1}, selection.Indices())
	assert.Equal(t, []int{0, 1}, selection.QueueFamilies())
}

func TestSelectFailsWithoutDedicatedTransfer(t *testing.T) {
	_, err := Select([]gpu.PhysicalDevice{gputest.Integrated("integrated")}, Requirements{}, quiet)
	require.Error(t, err)

	assert.True(t, errors.Is(err, gpu.ErrNoSuitableDevice))
	assert.True(t, errors.Is(err, gpu.ErrMissingQueueFamily))
	assert.Equal(t, gpu.KindCapability, gpu.KindOf(err))
}

func TestSelectFailsWithoutCombined(t *testing.T) {
	pd := gputest.Discrete("headless")
	pd.Present = map[int]bool{}

	_, err := Select([]gpu.PhysicalDevice{pd}, Requirements{}, quiet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrMissingQueueFamily))
}

func TestSelectMissingExtension(t *testing.T) {
	pd := gputest.Discrete("bare")
	pd.ExtensionSet = nil

	_, err := Select([]gpu.PhysicalDevice{pd}, Requirements{Extensions: []string{"VK_KHR_swapchain"}}, quiet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrMissingExtension))
	assert.Contains(t, err.Error(), "VK_KHR_swapchain")
}

func TestSelectMissingFeatures(t *testing.T) {
	pd := gputest.Discrete("old")
	pd.Supported = gpu.Features{}

	_, err := Select([]gpu.PhysicalDevice{pd}, Requirements{Timelines: true}, quiet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrMissingFeature))

	_, err = Select([]gpu.PhysicalDevice{pd}, Requirements{Subgroups: true}, quiet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrMissingFeature))
}

func TestSelectNoCandidates(t *testing.T) {
	_, err := Select(nil, Requirements{}, quiet)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrNoSuitableDevice))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "graphics|present|transfer|compute", Combined.String())
	assert.Equal(t, "transfer", DedicatedTransfer.String())
	assert.Equal(t, "none", Key{}.String())
}
