package vkng

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// Presenter drives one swapchain. It is rebuilt with the swapchain.
type Presenter struct {
	device    *Device
	extension khr_swapchain.ExtensionDriver
	swapchain khr_swapchain.Swapchain
	images    []core1_0.Image
}

var _ gpu.Presenter = (*Presenter)(nil)

func NewPresenter(device *Device, extension khr_swapchain.ExtensionDriver, swapchain khr_swapchain.Swapchain) (*Presenter, error) {
	images, _, err := extension.GetSwapchainImages(swapchain)
	if err != nil {
		return nil, gpu.Wrap(err, "get swapchain images")
	}
	return &Presenter{
		device:    device,
		extension: extension,
		swapchain: swapchain,
		images:    images,
	}, nil
}

func (p *Presenter) Images() []core1_0.Image {
	return p.images
}

func (p *Presenter) ImageCount() int {
	return len(p.images)
}

func (p *Presenter) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (int, error) {
	semaphore, err := p.device.semaphores.get(signal)
	if err != nil {
		return 0, err
	}
	if timeout == gpu.NoTimeout {
		timeout = common.NoTimeout
	}

	index, res, err := p.extension.AcquireNextImage(p.swapchain, timeout, &semaphore, nil)
	// A suboptimal acquire still signals the semaphore, so the frame goes on
	// and Present reports it.
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, errors.Wrap(gpu.ErrSurfaceOutOfDate, "acquire next image")
	}
	if err != nil {
		return 0, err
	}
	return index, nil
}

func (p *Presenter) Present(queue gpu.Queue, wait []gpu.Semaphore, imageIndex int) error {
	q, err := p.device.queues.get(queue)
	if err != nil {
		return err
	}
	semaphores := make([]core1_0.Semaphore, 0, len(wait))
	for _, h := range wait {
		semaphore, err := p.device.semaphores.get(h)
		if err != nil {
			return err
		}
		semaphores = append(semaphores, semaphore)
	}

	res, err := p.extension.QueuePresent(q, khr_swapchain.PresentInfo{
		WaitSemaphores: semaphores,
		Swapchains:     []khr_swapchain.Swapchain{p.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return errors.Wrapf(gpu.ErrSurfaceOutOfDate, "present image %d", imageIndex)
	}
	return err
}
