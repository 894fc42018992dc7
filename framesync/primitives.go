// Package framesync paces CPU submission against GPU execution with a timeline
// semaphore, per-frame binary semaphores and fences.
package framesync

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
)

type Semaphore struct {
	Handle gpu.Semaphore
	Name   string

	device gpu.SyncDevice
}

func NewSemaphore(device gpu.SyncDevice, name string) (*Semaphore, error) {
	handle, err := device.CreateSemaphore()
	if err != nil {
		return nil, gpu.Wrap(err, "create semaphore %s", name)
	}
	return &Semaphore{Handle: handle, Name: name, device: device}, nil
}

func (s *Semaphore) Destroy() {
	if s == nil || s.Handle == 0 {
		return
	}
	s.device.DestroySemaphore(s.Handle)
	s.Handle = 0
}

type Fence struct {
	Handle gpu.Fence
	Name   string

	device gpu.SyncDevice
}

func NewFence(device gpu.SyncDevice, signaled bool, name string) (*Fence, error) {
	handle, err := device.CreateFence(signaled)
	if err != nil {
		return nil, gpu.Wrap(err, "create fence %s", name)
	}
	return &Fence{Handle: handle, Name: name, device: device}, nil
}

func (f *Fence) Wait() error {
	return gpu.Wrap(f.device.WaitForFences(true, gpu.NoTimeout, f.Handle), "wait for fence %s", f.Name)
}

func (f *Fence) Reset() error {
	return gpu.Wrap(f.device.ResetFences(f.Handle), "reset fence %s", f.Name)
}

func (f *Fence) Signaled() (bool, error) {
	signaled, err := f.device.FenceSignaled(f.Handle)
	return signaled, gpu.Wrap(err, "query fence %s", f.Name)
}

func (f *Fence) Destroy() {
	if f == nil || f.Handle == 0 {
		return
	}
	f.device.DestroyFence(f.Handle)
	f.Handle = 0
}

// Timeline is a timeline semaphore. It remembers the highest value it has
// been asked to signal, from the host or from a submission, and refuses to
// go backwards.
type Timeline struct {
	Handle gpu.Semaphore
	Name   string

	device gpu.SyncDevice
	last   uint64
}

func NewTimeline(device gpu.SyncDevice, initial uint64, name string) (*Timeline, error) {
	handle, err := device.CreateTimelineSemaphore(initial)
	if err != nil {
		return nil, gpu.Wrap(err, "create timeline %s", name)
	}
	return &Timeline{Handle: handle, Name: name, device: device, last: initial}, nil
}

// Last is the highest value scheduled for signaling.
func (t *Timeline) Last() uint64 {
	return t.last
}

// Schedule records that a submission will signal value.
func (t *Timeline) Schedule(value uint64) error {
	if value <= t.last {
		return errors.AssertionFailedf("timeline %s: signal %d after %d", t.Name, value, t.last)
	}
	t.last = value
	return nil
}

// Wait blocks the host until the timeline reaches value.
func (t *Timeline) Wait(value uint64) error {
	return gpu.Wrap(t.device.WaitSemaphore(t.Handle, value, gpu.NoTimeout), "wait timeline %s for %d", t.Name, value)
}

// Signal sets the timeline to value from the host.
func (t *Timeline) Signal(value uint64) error {
	if err := t.Schedule(value); err != nil {
		return err
	}
	return gpu.Wrap(t.device.SignalSemaphore(t.Handle, value), "signal timeline %s to %d", t.Name, value)
}

func (t *Timeline) Value() (uint64, error) {
	value, err := t.device.SemaphoreCounterValue(t.Handle)
	return value, gpu.Wrap(err, "query timeline %s", t.Name)
}

func (t *Timeline) Destroy() {
	if t == nil || t.Handle == 0 {
		return
	}
	t.device.DestroySemaphore(t.Handle)
	t.Handle = 0
}
