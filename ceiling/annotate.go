package ceiling

import (
	"image"

	"github.com/fogleman/gg"
)

// ANNOTATION_LINE_WIDTH is the thickness of the ceiling line in pixels.
const ANNOTATION_LINE_WIDTH = 3

// Annotate draws the estimated ceiling row across a copy of img.
func Annotate(img image.Image, est Estimate) image.Image {
	dc := gg.NewContextForImage(img)
	w := float64(dc.Width())
	row := float64(est.CeilingRow) + 0.5

	dc.SetRGB(1, 0, 0)
	if est.LowConfidence {
		dc.SetRGB(1, 0.65, 0)
		dc.SetDash(12, 6)
	}
	dc.SetLineWidth(ANNOTATION_LINE_WIDTH)
	dc.DrawLine(0, row, w, row)
	dc.Stroke()
	return dc.Image()
}
