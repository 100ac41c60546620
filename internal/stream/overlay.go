package stream

import (
	"fmt"
	"image"
	"image/color"

	"camlab/internal/control"
	"camlab/internal/opencv/safe"

	"gocv.io/x/gocv"
)

var overlayColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}

// drawOverlay writes the filter label and the frame rate onto out in place.
func drawOverlay(out *safe.Mat, filter, fps int) {
	label := "?"
	if filter >= 0 && filter < control.FilterCount {
		label = control.Filters[filter].Label
	}
	gocv.PutText(out.Ptr(), label, image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, overlayColor, 2)
	gocv.PutText(out.Ptr(), fmt.Sprintf("FPS: %d", fps), image.Pt(10, 50), gocv.FontHersheySimplex, 1, overlayColor, 2)
}
