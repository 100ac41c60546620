package stream

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func jpegFrame(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x * 4), B: uint8(y * 4), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// sliceSource replays fixed buffers, then io.EOF.
type sliceSource struct {
	chunks [][]byte
	err    error
}

func (s *sliceSource) Open(context.Context) (Reader, error) {
	return &sliceReader{chunks: s.chunks, err: s.err}, nil
}

type sliceReader struct {
	chunks [][]byte
	err    error
	closed bool
}

func (r *sliceReader) Next() ([]byte, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		return nil, io.EOF
	}
	c := r.chunks[0]
	r.chunks = r.chunks[1:]
	return c, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}
