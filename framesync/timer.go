package framesync

import (
	"time"

	"github.com/loov/hrtime"
)

type Phase int

const (
	PhaseWait Phase = iota
	PhaseCompute
	PhaseAcquire
	PhaseUpdate
	PhaseGraphics
	PhasePresent
	phaseCount
)

var phaseNames = [phaseCount]string{"wait", "compute", "acquire", "update", "graphics", "present"}

func (p Phase) String() string {
	if p < 0 || p >= phaseCount {
		return "unknown"
	}
	return phaseNames[p]
}

// Timer measures the host time spent in each phase of a frame. A nil Timer
// records nothing.
type Timer struct {
	mark   time.Duration
	last   [phaseCount]time.Duration
	total  [phaseCount]time.Duration
	frames int
}

func NewTimer() *Timer {
	return &Timer{}
}

func (t *Timer) begin() {
	if t == nil {
		return
	}
	t.mark = hrtime.Now()
	t.last = [phaseCount]time.Duration{}
}

func (t *Timer) lap(p Phase) {
	if t == nil {
		return
	}
	now := hrtime.Now()
	d := now - t.mark
	t.last[p] = d
	t.total[p] += d
	t.mark = now
}

func (t *Timer) end() {
	if t == nil {
		return
	}
	t.frames++
}

func (t *Timer) Frames() int {
	return t.frames
}

func (t *Timer) Last(p Phase) time.Duration {
	return t.last[p]
}

func (t *Timer) Mean(p Phase) time.Duration {
	if t.frames == 0 {
		return 0
	}
	return t.total[p] / time.Duration(t.frames)
}
