package filters

import (
	"context"
	"fmt"

	"camlab/internal/control"
	"camlab/internal/opencv/conversion"
	"camlab/internal/opencv/safe"
)

// Bank computes every filter output for a frame. It holds the per-stream
// state (background model and noise source) and is not shared between
// streams.
type Bank struct {
	background *BackgroundSubtractor
	noise      *SaltPepper
}

func NewBank(noise *SaltPepper) *Bank {
	if noise == nil {
		noise = NewSaltPepper(nil)
	}
	return &Bank{
		background: NewBackgroundSubtractor(),
		noise:      noise,
	}
}

func (b *Bank) Close() {
	b.background.Close()
}

// Outputs holds one 3-channel image per filter, indexed like control.Filters.
type Outputs struct {
	mats [control.FilterCount]*safe.Mat
}

// Select returns a copy of output index. The caller owns the copy.
func (o *Outputs) Select(index int) (*safe.Mat, error) {
	if err := control.ValidateFilter(index); err != nil {
		return nil, err
	}
	m := o.mats[index]
	if m == nil {
		return nil, fmt.Errorf("filter %s produced no output", control.Filters[index].Name)
	}
	return m.Clone()
}

func (o *Outputs) Close() {
	for i, m := range o.mats {
		if m != nil {
			m.Close()
			o.mats[i] = nil
		}
	}
}

// Compute runs the whole bank on frame using the noise levels in snap.
// frame must be an 8-bit BGR image and is not modified.
func (b *Bank) Compute(ctx context.Context, frame *safe.Mat, snap control.Snapshot) (*Outputs, error) {
	if err := safe.ValidateMatForOperation(frame, "filter bank"); err != nil {
		return nil, err
	}

	out := &Outputs{}
	set := func(index int, m *safe.Mat, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w", control.Filters[index].Name, err)
		}
		if m.Channels() != 3 {
			bgr, convErr := conversion.EnsureBGR(m)
			m.Close()
			if convErr != nil {
				return fmt.Errorf("%s: %w", control.Filters[index].Name, convErr)
			}
			m = bgr
		}
		out.mats[index] = m
		return nil
	}

	steps := []func() error{
		func() error { m, err := frame.Clone(); return set(0, m, err) },
		func() error { m, err := b.background.Apply(frame); return set(1, m, err) },
		func() error { m, err := EqualizeHistogram(frame); return set(2, m, err) },
		func() error { m, err := CLAHE(frame); return set(3, m, err) },
		func() error { m, err := b.noise.Apply(frame, snap.Salt, snap.Pepper); return set(4, m, err) },
		func() error { m, err := MedianBlur(out.mats[4]); return set(5, m, err) },
		func() error { m, err := BoxBlur(out.mats[4]); return set(6, m, err) },
		func() error { m, err := Canny(out.mats[5]); return set(7, m, err) },
		func() error { m, err := Sobel(out.mats[5]); return set(8, m, err) },
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			out.Close()
			return nil, ctx.Err()
		default:
		}

		if err := step(); err != nil {
			out.Close()
			return nil, err
		}
	}

	return out, nil
}
