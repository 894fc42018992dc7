package framesync

import (
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
)

type State int

const (
	Idle State = iota
	ComputeSubmitted
	GraphicsSubmitted
	Presented
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ComputeSubmitted:
		return "compute submitted"
	case GraphicsSubmitted:
		return "graphics submitted"
	case Presented:
		return "presented"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Idle:              {ComputeSubmitted},
	ComputeSubmitted:  {GraphicsSubmitted, Idle},
	GraphicsSubmitted: {Presented},
	Presented:         {Idle},
}

// Slot holds the binary semaphores and fence of one frame in flight.
type Slot struct {
	Index             int
	ImageAcquired     *Semaphore
	RenderingFinished *Semaphore
	InFlight          *Fence

	state State
}

func (s *Slot) State() State {
	return s.state
}

func (s *Slot) advance(to State) error {
	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return errors.AssertionFailedf("frame slot %d: %s -> %s", s.Index, s.state, to)
}

type Settings struct {
	// FramesInFlight defaults to 1.
	FramesInFlight int
	// InitialValue is the timeline value the frame loop resumes from.
	InitialValue uint64
	Name         string
	Logger       *slog.Logger
}

// Set is created once per swapchain and destroyed with it.
type Set struct {
	Timeline *Timeline
	Slots    []*Slot

	device gpu.SyncDevice
	logger *slog.Logger
}

func New(device gpu.SyncDevice, settings Settings) (*Set, error) {
	if settings.FramesInFlight <= 0 {
		settings.FramesInFlight = 1
	}
	if settings.Name == "" {
		settings.Name = "frame"
	}
	if settings.Logger == nil {
		settings.Logger = slog.Default()
	}

	s := &Set{device: device, logger: settings.Logger}

	var err error
	s.Timeline, err = NewTimeline(device, settings.InitialValue, settings.Name+"_timeline")
	if err != nil {
		return nil, err
	}

	for i := 0; i < settings.FramesInFlight; i++ {
		slot, err := newSlot(device, i, settings.Name)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.Slots = append(s.Slots, slot)
	}

	s.logger.Debug("created frame sync set", "name", settings.Name, "frames", settings.FramesInFlight, "initial", settings.InitialValue)
	return s, nil
}

func newSlot(device gpu.SyncDevice, index int, name string) (*Slot, error) {
	slot := &Slot{Index: index}

	var err error
	slot.ImageAcquired, err = NewSemaphore(device, fmt.Sprintf("%s_image_acquired_%d", name, index))
	if err != nil {
		return nil, err
	}

	slot.RenderingFinished, err = NewSemaphore(device, fmt.Sprintf("%s_rendering_finished_%d", name, index))
	if err != nil {
		slot.destroy()
		return nil, err
	}

	slot.InFlight, err = NewFence(device, true, fmt.Sprintf("%s_in_flight_%d", name, index))
	if err != nil {
		slot.destroy()
		return nil, err
	}
	return slot, nil
}

func (s *Slot) destroy() {
	s.ImageAcquired.Destroy()
	s.RenderingFinished.Destroy()
	s.InFlight.Destroy()
}

func (s *Set) FramesInFlight() int {
	return len(s.Slots)
}

// Slot returns the slot used by the frame starting at timeline value t.
func (s *Set) Slot(t uint64) *Slot {
	return s.Slots[int((t/2)%uint64(len(s.Slots)))]
}

// HostWaitValue is the timeline value that retires the frame which last
// used t's slot. Each frame advances the timeline by two.
func (s *Set) HostWaitValue(t uint64) uint64 {
	behind := 2 * uint64(len(s.Slots)-1)
	if t < behind {
		return 0
	}
	return t - behind
}

// Renew destroys s and creates its replacement for a new swapchain. The new
// timeline starts at the value s's timeline reached, so frame values carry
// over. The device must be idle.
func (s *Set) Renew(settings Settings) (*Set, error) {
	value, err := s.Timeline.Value()
	if err != nil {
		return nil, err
	}
	if settings.FramesInFlight <= 0 {
		settings.FramesInFlight = s.FramesInFlight()
	}
	if settings.Logger == nil {
		settings.Logger = s.logger
	}
	settings.InitialValue = value

	s.Destroy()
	return New(s.device, settings)
}

// Destroy releases every object in the set. The device must be idle.
func (s *Set) Destroy() {
	for _, slot := range s.Slots {
		slot.destroy()
	}
	s.Slots = nil
	s.Timeline.Destroy()
}
