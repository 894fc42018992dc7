package framesync

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/internal/gputest"
)

const images = 3

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newLoop(t *testing.T, framesInFlight int) (*gputest.Device, *gputest.Presenter, *Loop) {
	t.Helper()
	d := gputest.NewDevice()
	presenter := gputest.NewPresenter(d, images)

	sync, err := New(d, Settings{FramesInFlight: framesInFlight, Logger: discard})
	require.NoError(t, err)

	compute, err := command.New(d, command.Settings{FamilyIndex: 0, BufferCount: 1, Name: "compute", Logger: discard})
	require.NoError(t, err)
	graphics, err := command.New(d, command.Settings{FamilyIndex: 0, BufferCount: images, Name: "graphics", Logger: discard})
	require.NoError(t, err)

	noop := func(gpu.CommandBuffer) error { return nil }
	require.NoError(t, compute.Record(0, noop))
	for i := range graphics.Buffers {
		require.NoError(t, graphics.Record(i, noop))
	}

	t.Cleanup(func() {
		sync.Destroy()
		compute.Destroy()
		graphics.Destroy()
	})

	return d, presenter, &Loop{
		Device:    d,
		Presenter: presenter,
		Sync:      sync,
		Compute:   compute,
		Graphics:  graphics,
		Logger:    discard,
	}
}

func run(t *testing.T, loop *Loop, frames int) uint64 {
	t.Helper()
	var now uint64
	for i := 0; i < frames; i++ {
		next, err := loop.AdvanceFrame(now)
		require.NoError(t, err, "frame %d", i)
		require.Equal(t, now+2, next)
		now = next
	}
	return now
}

func TestTimelineAdvancesTwoPerFrame(t *testing.T) {
	d, presenter, loop := newLoop(t, 1)
	var updated []int
	loop.Update = func(imageIndex int) error {
		updated = append(updated, imageIndex)
		return nil
	}

	now := run(t, loop, 5)
	assert.Equal(t, uint64(10), now)
	assert.Equal(t, uint64(10), d.Timeline(loop.Sync.Timeline.Handle))

	var signaled []uint64
	for _, s := range d.Submissions {
		for _, signal := range s.Info.Signals {
			if signal.Semaphore == loop.Sync.Timeline.Handle {
				signaled = append(signaled, signal.Value)
			}
		}
	}
	require.Len(t, signaled, 10)
	for i := 1; i < len(signaled); i++ {
		assert.Greater(t, signaled[i], signaled[i-1])
	}

	assert.Equal(t, []int{0, 1, 2, 0, 1}, updated)
	assert.Equal(t, []int{0, 1, 2, 0, 1}, presenter.Acquired)
	assert.Len(t, presenter.Presented, 5)
	assert.Empty(t, d.Violations)
}

func TestSubmissionWaits(t *testing.T) {
	d, _, loop := newLoop(t, 1)
	run(t, loop, 5)

	timeline := loop.Sync.Timeline.Handle
	slot := loop.Sync.Slots[0]
	require.Len(t, d.Submissions, 10)

	for k := 0; k < 5; k++ {
		compute, graphics := d.Submissions[2*k], d.Submissions[2*k+1]

		assert.Equal(t, loop.Compute.Queue, compute.Queue)
		require.Len(t, compute.Info.Waits, 1)
		assert.Equal(t, timeline, compute.Info.Waits[0].Semaphore)
		assert.Equal(t, uint64(2*k), compute.Info.Waits[0].Value)
		assert.Zero(t, compute.Fence)

		assert.Equal(t, slot.InFlight.Handle, graphics.Fence)
		require.Len(t, graphics.Info.Waits, 2)
		assert.Equal(t, slot.ImageAcquired.Handle, graphics.Info.Waits[0].Semaphore)
		assert.Equal(t, timeline, graphics.Info.Waits[1].Semaphore)
		assert.Equal(t, uint64(2*k+1), graphics.Info.Waits[1].Value)
		assert.Equal(t, []gpu.SemaphoreSignal{
			{Semaphore: timeline, Value: uint64(2*k + 2)},
			{Semaphore: slot.RenderingFinished.Handle},
		}, graphics.Info.Signals)
	}
}

func hostWaitValues(d *gputest.Device, timeline gpu.Semaphore) []uint64 {
	var out []uint64
	for _, w := range d.HostWaits {
		if w.Semaphore == timeline {
			out = append(out, w.Value)
		}
	}
	return out
}

func TestHostWaitsByFramesInFlight(t *testing.T) {
	d, _, loop := newLoop(t, 1)
	run(t, loop, 5)
	assert.Equal(t, []uint64{0, 2, 4, 6, 8}, hostWaitValues(d, loop.Sync.Timeline.Handle))

	d, _, loop = newLoop(t, 2)
	run(t, loop, 5)
	assert.Equal(t, []uint64{0, 0, 2, 4, 6}, hostWaitValues(d, loop.Sync.Timeline.Handle))
	assert.Empty(t, d.Violations)

	assert.Equal(t, 0, loop.Sync.Slot(0).Index)
	assert.Equal(t, 1, loop.Sync.Slot(2).Index)
	assert.Equal(t, 0, loop.Sync.Slot(4).Index)
}

func TestOutOfDateAcquire(t *testing.T) {
	d, presenter, loop := newLoop(t, 1)
	presenter.AcquireErrs = []error{gputest.OutOfDate()}

	next, err := loop.AdvanceFrame(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrSurfaceOutOfDate))
	assert.Equal(t, gpu.KindTransient, gpu.KindOf(err))
	assert.Equal(t, uint64(2), next)
	assert.Equal(t, uint64(2), d.Timeline(loop.Sync.Timeline.Handle))
	assert.Equal(t, []gpu.SemaphoreSignal{{Semaphore: loop.Sync.Timeline.Handle, Value: 2}}, d.HostSignals)
	assert.Equal(t, Idle, loop.Sync.Slots[0].State())

	// Only compute was submitted.
	assert.Len(t, d.Submissions, 1)

	next, err = loop.AdvanceFrame(next)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)
	assert.Empty(t, d.Violations)
}

func TestOutOfDatePresent(t *testing.T) {
	d, presenter, loop := newLoop(t, 1)
	presenter.PresentErrs = []error{gputest.OutOfDate()}

	next, err := loop.AdvanceFrame(0)
	require.Error(t, err)
	assert.Equal(t, gpu.KindTransient, gpu.KindOf(err))
	assert.Equal(t, uint64(2), next)
	assert.Equal(t, Idle, loop.Sync.Slots[0].State())

	next, err = loop.AdvanceFrame(next)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), next)
	assert.Empty(t, d.Violations)
}

func TestAcquireDriverError(t *testing.T) {
	_, presenter, loop := newLoop(t, 1)
	presenter.AcquireErrs = []error{errors.New("VK_ERROR_DEVICE_LOST")}

	next, err := loop.AdvanceFrame(0)
	require.Error(t, err)
	assert.Equal(t, gpu.KindDriver, gpu.KindOf(err))
	assert.Equal(t, uint64(0), next)
}

func TestSlotTransitions(t *testing.T) {
	slot := &Slot{}
	assert.True(t, errors.HasAssertionFailure(slot.advance(GraphicsSubmitted)))
	require.NoError(t, slot.advance(ComputeSubmitted))
	require.NoError(t, slot.advance(GraphicsSubmitted))
	assert.Error(t, slot.advance(Idle))
	require.NoError(t, slot.advance(Presented))
	require.NoError(t, slot.advance(Idle))
	assert.Equal(t, "idle", slot.State().String())
}

func TestAdvanceFrameRejectsBusySlot(t *testing.T) {
	d, _, loop := newLoop(t, 1)
	loop.Sync.Slots[0].state = ComputeSubmitted

	next, err := loop.AdvanceFrame(0)
	assert.True(t, errors.HasAssertionFailure(err))
	assert.Equal(t, uint64(0), next)
	assert.Empty(t, d.Submissions)
}

func TestTimelineSchedule(t *testing.T) {
	d := gputest.NewDevice()
	tl, err := NewTimeline(d, 4, "timeline")
	require.NoError(t, err)
	defer tl.Destroy()

	assert.Equal(t, uint64(4), tl.Last())
	assert.True(t, errors.HasAssertionFailure(tl.Schedule(4)))
	require.NoError(t, tl.Signal(6))
	assert.True(t, errors.HasAssertionFailure(tl.Signal(5)))

	value, err := tl.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), value)

	require.NoError(t, tl.Wait(6))
	assert.True(t, errors.Is(tl.Wait(7), gputest.ErrWouldBlock))
}

func TestSetDestroy(t *testing.T) {
	d := gputest.NewDevice()
	set, err := New(d, Settings{FramesInFlight: 3, InitialValue: 8, Logger: discard})
	require.NoError(t, err)

	assert.Equal(t, 3, set.FramesInFlight())
	assert.Equal(t, uint64(8), d.Timeline(set.Timeline.Handle))
	assert.Equal(t, gputest.Counts{Semaphores: 7, Fences: 3}, d.Live())

	for _, slot := range set.Slots {
		signaled, err := slot.InFlight.Signaled()
		require.NoError(t, err)
		assert.True(t, signaled)
	}

	set.Destroy()
	assert.Equal(t, gputest.Counts{}, d.Live())
	assert.Empty(t, d.Violations)
}

func TestSetCreateFailure(t *testing.T) {
	d := gputest.NewDevice()
	d.FailNext("CreateFence", errors.New("VK_ERROR_OUT_OF_HOST_MEMORY"))

	_, err := New(d, Settings{FramesInFlight: 2, Logger: discard})
	require.Error(t, err)
	assert.Equal(t, gputest.Counts{}, d.Live())
}

func TestTimer(t *testing.T) {
	_, _, loop := newLoop(t, 1)
	loop.Timer = NewTimer()

	run(t, loop, 3)
	assert.Equal(t, 3, loop.Timer.Frames())
	assert.GreaterOrEqual(t, loop.Timer.Mean(PhaseWait), time.Duration(0))
	assert.Equal(t, "present", PhasePresent.String())
}

func TestRenewCarriesTimeline(t *testing.T) {
	d, _, loop := newLoop(t, 2)
	now := run(t, loop, 3)
	require.NoError(t, WaitIdle(d))

	old := loop.Sync
	renewed, err := old.Renew(Settings{Logger: discard})
	require.NoError(t, err)
	t.Cleanup(renewed.Destroy)

	assert.Nil(t, old.Slots)
	assert.Equal(t, 2, renewed.FramesInFlight())
	assert.Equal(t, now, renewed.Timeline.Last())
	assert.Equal(t, now, d.Timeline(renewed.Timeline.Handle))
	live := d.Live()
	assert.Equal(t, 5, live.Semaphores)
	assert.Equal(t, 2, live.Fences)

	loop.Sync = renewed
	for i := 0; i < 3; i++ {
		next, err := loop.AdvanceFrame(now)
		require.NoError(t, err, "frame %d", i)
		require.Equal(t, now+2, next)
		now = next
	}
	assert.Equal(t, now, d.Timeline(renewed.Timeline.Handle))
	assert.Empty(t, d.Violations)
}
