package metrics

import "time"

// FPS reports the instantaneous frame rate from the gap between ticks.
type FPS struct {
	now  func() time.Time
	last time.Time
}

func NewFPS() *FPS {
	return &FPS{now: time.Now}
}

// Tick marks a frame and returns int(1/Δt). The first tick returns 0.
func (f *FPS) Tick() int {
	t := f.now()
	prev := f.last
	f.last = t

	if prev.IsZero() {
		return 0
	}
	dt := t.Sub(prev).Seconds()
	if dt <= 0 {
		return 0
	}
	return int(1 / dt)
}
