package filters

import (
	"fmt"
	"image"
	"sync"

	"camlab/internal/opencv/conversion"
	"camlab/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const (
	smoothingKernel = 5
	cannyLow        = 100
	cannyHigh       = 200
	sobelKernel     = 5
	claheClipLimit  = 2.0
	claheTileSize   = 8
)

// BackgroundSubtractor wraps a KNN model. The model learns across calls, so
// one instance belongs to one stream.
type BackgroundSubtractor struct {
	mu  sync.Mutex
	knn gocv.BackgroundSubtractorKNN
}

func NewBackgroundSubtractor() *BackgroundSubtractor {
	return &BackgroundSubtractor{knn: gocv.NewBackgroundSubtractorKNN()}
}

func (b *BackgroundSubtractor) Apply(frame *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(frame, "KNN background subtraction"); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	mask := gocv.NewMat()
	b.knn.Apply(frame.GetMat(), &mask)
	return safe.Wrap(mask)
}

func (b *BackgroundSubtractor) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.knn.Close()
}

// EqualizeHistogram converts to grayscale and equalizes the histogram.
func EqualizeHistogram(frame *safe.Mat) (*safe.Mat, error) {
	gray, err := conversion.ToGrayscale(frame)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	dst := gocv.NewMat()
	gocv.EqualizeHist(gray.GetMat(), &dst)
	return safe.Wrap(dst)
}

// CLAHE converts to grayscale and applies contrast-limited adaptive
// equalization with clip limit 2.0 on an 8x8 tile grid.
func CLAHE(frame *safe.Mat) (*safe.Mat, error) {
	gray, err := conversion.ToGrayscale(frame)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Point{X: claheTileSize, Y: claheTileSize})
	defer clahe.Close()

	dst := gocv.NewMat()
	clahe.Apply(gray.GetMat(), &dst)
	return safe.Wrap(dst)
}

func MedianBlur(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "median blur"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.MedianBlur(src.GetMat(), &dst, smoothingKernel)
	return safe.Wrap(dst)
}

// BoxBlur is a normalized 5x5 box filter.
func BoxBlur(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "box blur"); err != nil {
		return nil, err
	}

	dst := gocv.NewMat()
	gocv.Blur(src.GetMat(), &dst, image.Point{X: smoothingKernel, Y: smoothingKernel})
	return safe.Wrap(dst)
}

func Canny(src *safe.Mat) (*safe.Mat, error) {
	gray, err := conversion.ToGrayscale(src)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	dst := gocv.NewMat()
	gocv.Canny(gray.GetMat(), &dst, cannyLow, cannyHigh)
	return safe.Wrap(dst)
}

// Sobel takes the horizontal derivative into a signed 16-bit buffer and
// folds it back to 8-bit magnitudes so it can be shown and encoded.
func Sobel(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "sobel"); err != nil {
		return nil, err
	}

	grad := gocv.NewMat()
	defer grad.Close()
	gocv.Sobel(src.GetMat(), &grad, gocv.MatTypeCV16S, 1, 0, sobelKernel, 1, 0, gocv.BorderDefault)
	if grad.Empty() {
		return nil, fmt.Errorf("sobel produced an empty gradient")
	}

	dst := gocv.NewMat()
	gocv.ConvertScaleAbs(grad, &dst, 1, 0)
	return safe.Wrap(dst)
}
