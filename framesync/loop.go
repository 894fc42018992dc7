package framesync

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type Device interface {
	gpu.CommandDevice
	gpu.SyncDevice
}

// Loop drives one frame per AdvanceFrame call: compute, acquire, host
// update, graphics and present. Every frame advances the timeline by two.
type Loop struct {
	Device    Device
	Presenter gpu.Presenter
	Sync      *Set
	// Compute records into Buffers[0]. Graphics records one buffer per
	// swapchain image and presents on its queue.
	Compute  *command.Command
	Graphics *command.Command
	// Update writes per-image host data once the image index is known.
	Update func(imageIndex int) error
	Timer  *Timer
	Logger *slog.Logger
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// AdvanceFrame runs the frame that starts at timeline value t and returns
// the value the next frame starts at. An error marked
// gpu.ErrSurfaceOutOfDate asks the caller to rebuild the swapchain and
// continue from the returned value.
func (l *Loop) AdvanceFrame(t uint64) (uint64, error) {
	timeline := l.Sync.Timeline
	slot := l.Sync.Slot(t)
	if slot.State() != Idle {
		return t, errors.AssertionFailedf("frame %d: slot %d is %s", t, slot.Index, slot.State())
	}
	if len(l.Compute.Buffers) == 0 {
		return t, errors.AssertionFailedf("compute command %s has no buffers", l.Compute.Name)
	}

	l.Timer.begin()

	if err := timeline.Wait(l.Sync.HostWaitValue(t)); err != nil {
		return t, err
	}
	if err := slot.InFlight.Wait(); err != nil {
		return t, err
	}
	l.Timer.lap(PhaseWait)

	if err := timeline.Schedule(t + 1); err != nil {
		return t, err
	}
	err := l.Device.QueueSubmit(l.Compute.Queue, 0, gpu.SubmitInfo{
		Waits: []gpu.SemaphoreWait{
			{Semaphore: timeline.Handle, Value: t, Stage: core1_0.PipelineStageComputeShader},
		},
		CommandBuffers: []gpu.CommandBuffer{l.Compute.Buffers[0]},
		Signals: []gpu.SemaphoreSignal{
			{Semaphore: timeline.Handle, Value: t + 1},
		},
	})
	if err != nil {
		return t, gpu.Wrap(err, "frame %d: submit compute", t)
	}
	if err := slot.advance(ComputeSubmitted); err != nil {
		return t, err
	}
	l.Timer.lap(PhaseCompute)

	imageIndex, err := l.Presenter.AcquireNextImage(gpu.NoTimeout, slot.ImageAcquired.Handle)
	if errors.Is(err, gpu.ErrSurfaceOutOfDate) {
		return l.abandon(t, slot, err)
	} else if err != nil {
		return t, gpu.Wrap(err, "frame %d: acquire image", t)
	}
	if imageIndex < 0 || imageIndex >= len(l.Graphics.Buffers) {
		return t, errors.AssertionFailedf("frame %d: image %d of %d", t, imageIndex, len(l.Graphics.Buffers))
	}
	l.Timer.lap(PhaseAcquire)

	if l.Update != nil {
		if err := l.Update(imageIndex); err != nil {
			return t, errors.Wrapf(err, "frame %d: update image %d", t, imageIndex)
		}
	}
	l.Timer.lap(PhaseUpdate)

	if err := slot.InFlight.Reset(); err != nil {
		return t, err
	}
	if err := timeline.Schedule(t + 2); err != nil {
		return t, err
	}
	err = l.Device.QueueSubmit(l.Graphics.Queue, slot.InFlight.Handle, gpu.SubmitInfo{
		Waits: []gpu.SemaphoreWait{
			{Semaphore: slot.ImageAcquired.Handle, Stage: core1_0.PipelineStageColorAttachmentOutput},
			{Semaphore: timeline.Handle, Value: t + 1, Stage: core1_0.PipelineStageVertexInput},
		},
		CommandBuffers: []gpu.CommandBuffer{l.Graphics.Buffers[imageIndex]},
		Signals: []gpu.SemaphoreSignal{
			{Semaphore: timeline.Handle, Value: t + 2},
			{Semaphore: slot.RenderingFinished.Handle},
		},
	})
	if err != nil {
		return t, gpu.Wrap(err, "frame %d: submit graphics", t)
	}
	if err := slot.advance(GraphicsSubmitted); err != nil {
		return t, err
	}
	l.Timer.lap(PhaseGraphics)

	presentErr := l.Presenter.Present(l.Graphics.Queue, []gpu.Semaphore{slot.RenderingFinished.Handle}, imageIndex)
	if err := slot.advance(Presented); err != nil {
		return t, err
	}
	if err := slot.advance(Idle); err != nil {
		return t, err
	}
	l.Timer.lap(PhasePresent)
	l.Timer.end()

	if l.Timer != nil {
		l.logger().Debug("frame",
			"time", t,
			"image", imageIndex,
			"slot", slot.Index,
			"wait", l.Timer.Last(PhaseWait),
			"acquire", l.Timer.Last(PhaseAcquire),
			"present", l.Timer.Last(PhasePresent),
		)
	}

	if presentErr != nil {
		return t + 2, gpu.Wrap(presentErr, "frame %d: present image %d", t, imageIndex)
	}
	return t + 2, nil
}

// abandon finishes a frame whose image could not be acquired. The compute
// work already submitted is waited on and the graphics value is signaled from
// the host, so the timeline stays two ahead per frame.
func (l *Loop) abandon(t uint64, slot *Slot, cause error) (uint64, error) {
	timeline := l.Sync.Timeline
	if err := timeline.Wait(t + 1); err != nil {
		return t, errors.CombineErrors(cause, err)
	}
	if err := timeline.Signal(t + 2); err != nil {
		return t, errors.CombineErrors(cause, err)
	}
	if err := slot.advance(Idle); err != nil {
		return t, err
	}

	l.logger().Info("surface out of date", "time", t)
	return t + 2, errors.Wrapf(cause, "frame %d: acquire image", t)
}

// WaitIdle blocks until the device has finished all submitted work.
func WaitIdle(device gpu.SyncDevice) error {
	return gpu.Wrap(device.DeviceWaitIdle(), "device wait idle")
}
