package gpu

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, KindUnknown},
		{errors.New("plain"), KindUnknown},
		{ErrNoSuitableDevice, KindCapability},
		{errors.Wrap(ErrMissingQueueFamily, "select"), KindCapability},
		{errors.Wrapf(ErrMissingExtension, "extension %s", "VK_KHR_swapchain"), KindCapability},
		{ErrMissingFeature, KindCapability},
		{ErrNoSuitableMemoryType, KindResource},
		{errors.Wrap(ErrUnsupportedFormat, "depth"), KindResource},
		{errors.Wrap(ErrSurfaceOutOfDate, "acquire"), KindTransient},
		{Wrap(errors.New("VK_ERROR_DEVICE_LOST"), "queue submit"), KindDriver},
	}

	for _, c := range cases {
		assert.Equal(t, c.kind, KindOf(c.err), "%v", c.err)
	}
}

func TestWrapKeepsCategory(t *testing.T) {
	err := Wrap(errors.Wrap(ErrSurfaceOutOfDate, "acquire"), "advance frame %d", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSurfaceOutOfDate))
	assert.False(t, errors.Is(err, ErrDriver))
	assert.Equal(t, KindTransient, KindOf(err))

	assert.NoError(t, Wrap(nil, "nothing"))
}

func TestSentinelsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrNoSuitableDevice, ErrMissingQueueFamily))
	assert.False(t, errors.Is(ErrNoSuitableMemoryType, ErrCapability))
	assert.Equal(t, "transient", KindTransient.String())
}
