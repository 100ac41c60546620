package conversion

import (
	"fmt"
	"path/filepath"
	"strings"

	"camlab/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// ToGrayscale converts a BGR or BGRA image to a single channel. Single
// channel input is cloned.
func ToGrayscale(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "grayscale conversion"); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	dst := gocv.NewMat()
	srcMat := src.GetMat()

	switch src.Channels() {
	case 1:
		dst.Close()
		return src.Clone()
	case 3:
		gocv.CvtColor(srcMat, &dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(srcMat, &dst, gocv.ColorBGRAToGray)
	default:
		dst.Close()
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}

	return safe.Wrap(dst)
}

// EnsureBGR returns a 3-channel copy of src, expanding grayscale input.
func EnsureBGR(src *safe.Mat) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "BGR conversion"); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	switch src.Channels() {
	case 3:
		return src.Clone()
	case 1:
		dst := gocv.NewMat()
		gocv.CvtColor(src.GetMat(), &dst, gocv.ColorGrayToBGR)
		return safe.Wrap(dst)
	case 4:
		dst := gocv.NewMat()
		gocv.CvtColor(src.GetMat(), &dst, gocv.ColorBGRAToBGR)
		return safe.Wrap(dst)
	default:
		return nil, fmt.Errorf("unsupported channel count: %d", src.Channels())
	}
}

// Encode compresses src into the format named by ext (".jpg", ".png", ...).
func Encode(src *safe.Mat, ext gocv.FileExt) ([]byte, error) {
	if err := safe.ValidateMatForOperation(src, "encode"); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(ext, src.GetMat())
	if err != nil {
		return nil, fmt.Errorf("imencode %s: %w", ext, err)
	}
	defer buf.Close()

	native := buf.GetBytes()
	if len(native) == 0 {
		return nil, fmt.Errorf("imencode %s produced no data", ext)
	}

	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}

// ExtForFilename maps a filename onto the encoder extension OpenCV would
// pick when writing it.
func ExtForFilename(name string) (gocv.FileExt, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".jpe":
		return gocv.JPEGFileExt, nil
	case ".png":
		return gocv.PNGFileExt, nil
	case ".bmp", ".dib", ".tif", ".tiff", ".webp", ".pgm", ".ppm", ".pbm":
		return gocv.FileExt(strings.ToLower(filepath.Ext(name))), nil
	default:
		return "", fmt.Errorf("unsupported image extension %q", filepath.Ext(name))
	}
}
