package filters

import (
	"fmt"
	"image"
	"math/rand/v2"

	"camlab/internal/opencv/safe"
)

// NoiseCount is the number of coordinates drawn for one noise pass:
// ceil(percent * rows * cols / 100).
func NoiseCount(percent, rows, cols int) int {
	if percent <= 0 || rows <= 0 || cols <= 0 {
		return 0
	}
	return (percent*rows*cols + 99) / 100
}

// SaltPepper injects impulse noise. Coordinates are drawn uniformly with
// replacement, so the number of distinct pixels touched can be lower than
// NoiseCount.
type SaltPepper struct {
	rng *rand.Rand
}

func NewSaltPepper(rng *rand.Rand) *SaltPepper {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SaltPepper{rng: rng}
}

func (n *SaltPepper) Points(count, rows, cols int) []image.Point {
	if count <= 0 || rows <= 0 || cols <= 0 {
		return nil
	}
	points := make([]image.Point, count)
	for i := range points {
		points[i] = image.Point{X: n.rng.IntN(cols), Y: n.rng.IntN(rows)}
	}
	return points
}

// Apply returns a copy of src with saltPct% of pixels set to white and then
// pepperPct% set to black, across all channels.
func (n *SaltPepper) Apply(src *safe.Mat, saltPct, pepperPct int) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "salt and pepper"); err != nil {
		return nil, err
	}

	noisy, err := src.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone for noise: %w", err)
	}

	rows, cols := noisy.Rows(), noisy.Cols()
	passes := []struct {
		percent int
		value   uint8
	}{
		{saltPct, 255},
		{pepperPct, 0},
	}

	for _, pass := range passes {
		for _, p := range n.Points(NoiseCount(pass.percent, rows, cols), rows, cols) {
			if err := noisy.SetPixel(p.Y, p.X, pass.value); err != nil {
				noisy.Close()
				return nil, err
			}
		}
	}

	return noisy, nil
}
