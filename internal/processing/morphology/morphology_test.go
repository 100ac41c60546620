package morphology

import (
	"context"
	"image"
	"testing"

	"camlab/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// fixture is a deterministic 96x96 grayscale pattern with small bright and
// dark blobs so top-hat and black-hat both have work to do.
func fixture(t *testing.T) *safe.Mat {
	t.Helper()
	m, err := safe.NewMat(96, 96, gocv.MatTypeCV8UC1)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			v := uint8(100 + (x*3+y*5)%60)
			switch {
			case (x/12+y/12)%3 == 0 && x%12 < 4 && y%12 < 4:
				v = 250
			case (x/16)%2 == 1 && y%16 < 3:
				v = 10
			}
			require.NoError(t, m.SetPixel(y, x, v))
		}
	}
	return m
}

func reference(t *testing.T, src *safe.Mat, k int, run func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat)) []byte {
	t.Helper()
	kernel := gocv.Ones(k, k, gocv.MatTypeCV8UC1)
	defer kernel.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	run(src.GetMat(), &dst, kernel)
	return dst.ToBytes()
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "Erosion_30x30_cells.png", OutputName(Erosion, 30, "cells.png"))
	assert.Equal(t, "Imagen_original_37x37_a.jpg", OutputName(Reconstruction, 37, "a.jpg"))
	assert.Equal(t, "Dilatacion_40x40_b.jpg", OutputName(Dilation, 40, "b.jpg"))
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Erosión", Erosion.Label())
	assert.Equal(t, "Dilatación", Dilation.Label())
	assert.Equal(t, "Top_hat", TopHat.Label())
	assert.Equal(t, "Imagen_original", Reconstruction.Label())
}

func TestOperationsMatchDirectOpenCVCalls(t *testing.T) {
	src := fixture(t)

	for _, k := range KernelSizes {
		erode := reference(t, src, k, func(s gocv.Mat, d *gocv.Mat, kern gocv.Mat) {
			gocv.Erode(s, d, kern)
		})
		dilate := reference(t, src, k, func(s gocv.Mat, d *gocv.Mat, kern gocv.Mat) {
			gocv.Dilate(s, d, kern)
		})
		tophat := reference(t, src, k, func(s gocv.Mat, d *gocv.Mat, kern gocv.Mat) {
			gocv.MorphologyEx(s, d, gocv.MorphTophat, kern)
		})
		blackhat := reference(t, src, k, func(s gocv.Mat, d *gocv.Mat, kern gocv.Mat) {
			gocv.MorphologyEx(s, d, gocv.MorphBlackhat, kern)
		})

		cases := map[Operation][]byte{
			Erosion:  erode,
			Dilation: dilate,
			TopHat:   tophat,
			BlackHat: blackhat,
		}
		for op, want := range cases {
			got, err := Apply(src, op, k)
			require.NoError(t, err)
			assert.Equal(t, want, got.Bytes(), "%s %s", op, SizeTag(k))
			got.Close()
		}
	}
}

func TestReconstructionSaturates(t *testing.T) {
	src := fixture(t)
	const k = 30

	top, err := Apply(src, TopHat, k)
	require.NoError(t, err)
	defer top.Close()
	black, err := Apply(src, BlackHat, k)
	require.NoError(t, err)
	defer black.Close()

	got, err := Apply(src, Reconstruction, k)
	require.NoError(t, err)
	defer got.Close()

	s, tp, bl, g := src.Bytes(), top.Bytes(), black.Bytes(), got.Bytes()
	require.Len(t, g, len(s))
	for i := range s {
		diff := int(tp[i]) - int(bl[i])
		if diff < 0 {
			diff = 0
		}
		want := int(s[i]) + diff
		if want > 255 {
			want = 255
		}
		require.Equal(t, uint8(want), g[i], "pixel %d", i)
	}
}

func TestProcessProducesEveryCombination(t *testing.T) {
	src := fixture(t)

	results, err := Process(context.Background(), src)
	require.NoError(t, err)
	defer CloseResults(results)

	require.Len(t, results, len(KernelSizes)*len(Operations))
	seen := map[string]bool{}
	for _, r := range results {
		name := r.Name("x.png")
		assert.False(t, seen[name], "duplicate output %s", name)
		seen[name] = true
		assert.Equal(t, image.Pt(96, 96), image.Pt(r.Mat.Cols(), r.Mat.Rows()))
	}
	assert.Equal(t, src.Bytes(), results[0].Mat.Bytes(), "first result is the untouched original")
}

func TestApplyRejectsBadKernel(t *testing.T) {
	src := fixture(t)
	_, err := Apply(src, Erosion, 0)
	assert.Error(t, err)
}

func TestProcessHonoursCancellation(t *testing.T) {
	src := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Process(ctx, src)
	assert.ErrorIs(t, err, context.Canceled)
}
