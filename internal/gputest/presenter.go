package gputest

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
)

type Presentation struct {
	Queue gpu.Queue
	Wait  []gpu.Semaphore
	Image int
}

// Presenter cycles through Images swapchain images. Queued errors are
// returned by the next acquire or present, one per call.
type Presenter struct {
	Images      int
	AcquireErrs []error
	PresentErrs []error
	Acquired    []int
	Presented   []Presentation

	device *Device
	next   int
}

var _ gpu.Presenter = (*Presenter)(nil)

func NewPresenter(device *Device, images int) *Presenter {
	return &Presenter{Images: images, device: device}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (p *Presenter) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (int, error) {
	if err := pop(&p.AcquireErrs); err != nil {
		return 0, err
	}
	if p.Images <= 0 {
		return 0, errors.New("presenter has no images")
	}

	p.device.signal(signal, 0, "acquire")
	index := p.next
	p.next = (p.next + 1) % p.Images
	p.Acquired = append(p.Acquired, index)
	return index, nil
}

func (p *Presenter) Present(queue gpu.Queue, wait []gpu.Semaphore, imageIndex int) error {
	for _, s := range wait {
		p.device.consumeWait(gpu.SemaphoreWait{Semaphore: s})
	}
	p.Presented = append(p.Presented, Presentation{
		Queue: queue,
		Wait:  append([]gpu.Semaphore(nil), wait...),
		Image: imageIndex,
	})
	return pop(&p.PresentErrs)
}

func (p *Presenter) ImageCount() int {
	return p.Images
}

// OutOfDate is what a presenter returns when the swapchain must be rebuilt.
func OutOfDate() error {
	return errors.Wrap(gpu.ErrSurfaceOutOfDate, "VK_ERROR_OUT_OF_DATE_KHR")
}
