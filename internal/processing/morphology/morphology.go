// Package morphology runs the fixed operator bank used by the gallery:
// erosion, dilation, top-hat, black-hat and a top/black-hat reconstruction
// at three square kernel sizes.
package morphology

import (
	"context"
	"fmt"
	"image"

	"camlab/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// KernelSizes are the side lengths of the all-ones square kernels.
var KernelSizes = []int{30, 37, 40}

type Operation int

const (
	Original Operation = iota
	Erosion
	Dilation
	TopHat
	BlackHat
	Reconstruction
)

// Operations lists every output in gallery order.
var Operations = []Operation{Original, Erosion, Dilation, TopHat, BlackHat, Reconstruction}

// Prefix is the stem used in output filenames.
func (op Operation) Prefix() string {
	switch op {
	case Original:
		return "Original"
	case Erosion:
		return "Erosion"
	case Dilation:
		return "Dilatacion"
	case TopHat:
		return "Top_hat"
	case BlackHat:
		return "Black_hat"
	case Reconstruction:
		return "Imagen_original"
	default:
		return fmt.Sprintf("Operation(%d)", int(op))
	}
}

// Label is the caption shown in the gallery.
func (op Operation) Label() string {
	switch op {
	case Erosion:
		return "Erosión"
	case Dilation:
		return "Dilatación"
	default:
		return op.Prefix()
	}
}

func (op Operation) String() string {
	return op.Prefix()
}

// SizeTag renders a kernel size the way it appears in filenames, e.g. "30x30".
func SizeTag(k int) string {
	return fmt.Sprintf("%dx%d", k, k)
}

// OutputName is the deterministic filename for one output of source.
func OutputName(op Operation, k int, source string) string {
	return fmt.Sprintf("%s_%s_%s", op.Prefix(), SizeTag(k), source)
}

type Result struct {
	Operation Operation
	Kernel    int
	Mat       *safe.Mat
}

// Name is the output filename for this result.
func (r Result) Name(source string) string {
	return OutputName(r.Operation, r.Kernel, source)
}

// CloseResults releases every Mat in results.
func CloseResults(results []Result) {
	for _, r := range results {
		if r.Mat != nil {
			r.Mat.Close()
		}
	}
}

var morphTypes = map[Operation]gocv.MorphType{
	Erosion:  gocv.MorphErode,
	Dilation: gocv.MorphDilate,
	TopHat:   gocv.MorphTophat,
	BlackHat: gocv.MorphBlackhat,
}

// Apply runs a single morphological operation with a k x k all-ones kernel.
func Apply(src *safe.Mat, op Operation, k int) (*safe.Mat, error) {
	if err := safe.ValidateMatForOperation(src, "morphology "+op.Prefix()); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("kernel size must be positive, got %d", k)
	}

	switch op {
	case Original:
		return src.Clone()
	case Reconstruction:
		return reconstruct(src, k)
	}

	morphType, ok := morphTypes[op]
	if !ok {
		return nil, fmt.Errorf("unsupported operation %s", op)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: k, Y: k})
	defer kernel.Close()

	dst := gocv.NewMat()
	gocv.MorphologyEx(src.GetMat(), &dst, morphType, kernel)
	return safe.Wrap(dst)
}

// reconstruct computes src + (tophat - blackhat) with saturating arithmetic.
func reconstruct(src *safe.Mat, k int) (*safe.Mat, error) {
	top, err := Apply(src, TopHat, k)
	if err != nil {
		return nil, err
	}
	defer top.Close()

	black, err := Apply(src, BlackHat, k)
	if err != nil {
		return nil, err
	}
	defer black.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(top.GetMat(), black.GetMat(), &diff)

	dst := gocv.NewMat()
	gocv.Add(src.GetMat(), diff, &dst)
	return safe.Wrap(dst)
}

// Process runs every operation at every kernel size. Results are ordered by
// kernel size, then by Operations. The caller closes them with CloseResults.
func Process(ctx context.Context, src *safe.Mat) ([]Result, error) {
	if err := safe.ValidateMatForOperation(src, "morphology bank"); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(KernelSizes)*len(Operations))
	for _, k := range KernelSizes {
		for _, op := range Operations {
			select {
			case <-ctx.Done():
				CloseResults(results)
				return nil, ctx.Err()
			default:
			}

			m, err := Apply(src, op, k)
			if err != nil {
				CloseResults(results)
				return nil, fmt.Errorf("%s %s: %w", op, SizeTag(k), err)
			}
			results = append(results, Result{Operation: op, Kernel: k, Mat: m})
		}
	}
	return results, nil
}
