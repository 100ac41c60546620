package conversion

import (
	"testing"

	"camlab/internal/opencv/safe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestToGrayscaleFromBGR(t *testing.T) {
	src, err := safe.NewMat(6, 8, gocv.MatTypeCV8UC3)
	require.NoError(t, err)
	defer src.Close()

	gray, err := ToGrayscale(src)
	require.NoError(t, err)
	defer gray.Close()

	assert.Equal(t, 1, gray.Channels())
	assert.Equal(t, 6, gray.Rows())
	assert.Equal(t, 8, gray.Cols())
}

func TestEnsureBGRExpandsGray(t *testing.T) {
	src, err := safe.NewMat(4, 4, gocv.MatTypeCV8UC1)
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.SetPixel(1, 2, 77))

	bgr, err := EnsureBGR(src)
	require.NoError(t, err)
	defer bgr.Close()

	assert.Equal(t, 3, bgr.Channels())
	for ch := 0; ch < 3; ch++ {
		v, err := bgr.Pixel(1, 2, ch)
		require.NoError(t, err)
		assert.Equal(t, uint8(77), v)
	}
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	src, err := safe.NewMat(16, 16, gocv.MatTypeCV8UC3)
	require.NoError(t, err)
	defer src.Close()

	data, err := Encode(src, gocv.JPEGFileExt)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2], "JPEG SOI marker")

	decoded, err := safe.Decode(data, gocv.IMReadColor)
	require.NoError(t, err)
	defer decoded.Close()
	assert.Equal(t, 16, decoded.Rows())
}

func TestExtForFilename(t *testing.T) {
	ext, err := ExtForFilename("cells.JPG")
	require.NoError(t, err)
	assert.Equal(t, gocv.JPEGFileExt, ext)

	ext, err = ExtForFilename("scan.png")
	require.NoError(t, err)
	assert.Equal(t, gocv.PNGFileExt, ext)

	_, err = ExtForFilename("notes.txt")
	assert.Error(t, err)

	_, err = ExtForFilename("noext")
	assert.Error(t, err)
}
