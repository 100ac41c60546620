package filters

import (
	"context"
	"errors"
	"testing"

	"camlab/internal/control"
	"camlab/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func testFrame(t *testing.T, rows, cols int) *safe.Mat {
	t.Helper()
	m, err := safe.NewMat(rows, cols, gocv.MatTypeCV8UC3)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	// A bright square gives edge detectors something to find.
	for y := rows / 4; y < rows*3/4; y++ {
		for x := cols / 4; x < cols*3/4; x++ {
			require.NoError(t, m.SetPixel(y, x, 200))
		}
	}
	return m
}

func TestBankComputesNineColorOutputs(t *testing.T) {
	bank := NewBank(seeded())
	defer bank.Close()
	frame := testFrame(t, 48, 64)

	out, err := bank.Compute(context.Background(), frame, control.Snapshot{Salt: 5, Pepper: 5})
	require.NoError(t, err)
	defer out.Close()

	for i := 0; i < control.FilterCount; i++ {
		m, err := out.Select(i)
		require.NoError(t, err, control.Filters[i].Name)
		assert.Equal(t, 3, m.Channels(), control.Filters[i].Name)
		assert.Equal(t, 48, m.Rows(), control.Filters[i].Name)
		assert.Equal(t, 64, m.Cols(), control.Filters[i].Name)
		assert.Equal(t, gocv.MatTypeCV8UC3, m.Type(), control.Filters[i].Name)
		m.Close()
	}
}

func TestOriginalOutputMatchesFrame(t *testing.T) {
	bank := NewBank(seeded())
	defer bank.Close()
	frame := testFrame(t, 16, 16)

	out, err := bank.Compute(context.Background(), frame, control.Snapshot{Salt: 20, Pepper: 20})
	require.NoError(t, err)
	defer out.Close()

	original, err := out.Select(0)
	require.NoError(t, err)
	defer original.Close()

	assert.Equal(t, frame.Bytes(), original.Bytes())
}

func TestCannyFindsSquareEdges(t *testing.T) {
	frame := testFrame(t, 40, 40)

	edges, err := Canny(frame)
	require.NoError(t, err)
	defer edges.Close()

	assert.Equal(t, 1, edges.Channels())
	assert.Greater(t, gocv.CountNonZero(edges.GetMat()), 0)
}

func TestSobelIsEightBit(t *testing.T) {
	frame := testFrame(t, 40, 40)

	grad, err := Sobel(frame)
	require.NoError(t, err)
	defer grad.Close()

	assert.Equal(t, gocv.MatTypeCV8UC3, grad.Type())
}

func TestSelectOutOfRange(t *testing.T) {
	bank := NewBank(seeded())
	defer bank.Close()
	frame := testFrame(t, 8, 8)

	out, err := bank.Compute(context.Background(), frame, control.Snapshot{})
	require.NoError(t, err)
	defer out.Close()

	_, err = out.Select(control.FilterCount)
	assert.True(t, errors.Is(err, control.ErrFilterOutOfRange))
	_, err = out.Select(-1)
	assert.True(t, errors.Is(err, control.ErrFilterOutOfRange))
}

func TestComputeHonoursCancellation(t *testing.T) {
	bank := NewBank(seeded())
	defer bank.Close()
	frame := testFrame(t, 8, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bank.Compute(ctx, frame, control.Snapshot{})
	assert.ErrorIs(t, err, context.Canceled)
}
