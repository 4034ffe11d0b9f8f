package rectify

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// OrderCorners returns the corners as [bottom-left, bottom-right, top-right, top-left], image Y
// pointing down. The two corners with the smallest X are the left edge and the others the right
// edge; within each edge the larger Y is the bottom. Ties on X are broken on Y.
func OrderCorners(corners [4]r2.Point) [4]r2.Point {
	byX := corners
	sort.SliceStable(byX[:], func(i, j int) bool {
		if byX[i].X != byX[j].X {
			return byX[i].X < byX[j].X
		}
		return byX[i].Y < byX[j].Y
	})
	edge := func(a, b r2.Point) (bottom, top r2.Point) {
		if a.Y >= b.Y {
			return a, b
		}
		return b, a
	}
	bl, tl := edge(byX[0], byX[1])
	br, tr := edge(byX[2], byX[3])
	return [4]r2.Point{bl, br, tr, tl}
}

// OutputSize is the rectified size of ordered corners: the longer of each pair of opposite edges.
func OutputSize(ordered [4]r2.Point) (int, int) {
	bottom := ordered[1].Sub(ordered[0]).Norm()
	top := ordered[2].Sub(ordered[3]).Norm()
	left := ordered[3].Sub(ordered[0]).Norm()
	right := ordered[2].Sub(ordered[1]).Norm()
	return int(math.Round(math.Max(bottom, top))), int(math.Round(math.Max(left, right)))
}

// Destination is the rectangle ordered corners are mapped onto.
func Destination(width, height int) [4]r2.Point {
	w, h := float64(width-1), float64(height-1)
	return [4]r2.Point{{X: 0, Y: h}, {X: w, Y: h}, {X: w, Y: 0}, {X: 0, Y: 0}}
}

// Rectify warps the quadrilateral spanned by corners, in any order, into an upright rectangle.
func Rectify(img image.Image, corners [4]r2.Point) (*image.NRGBA, error) {
	return RectifyOrdered(img, OrderCorners(corners))
}

// RectifyOrdered is Rectify for corners already ordered [bottom-left, bottom-right, top-right,
// top-left], such as those of a projected facade whose top and bottom are known.
func RectifyOrdered(img image.Image, ordered [4]r2.Point) (*image.NRGBA, error) {
	width, height := OutputSize(ordered)
	if width <= 1 || height <= 1 {
		return nil, errors.Wrapf(ErrDegenerateQuad, "output size %dx%d", width, height)
	}
	toSource, err := ComputeHomography(Destination(width, height), ordered)
	if err != nil {
		return nil, err
	}
	return Warp(img, toSource, width, height), nil
}

// Warp fills a width x height image by sampling src at toSource(x, y) with bilinear
// interpolation. Samples outside src are opaque black.
func Warp(src image.Image, toSource *Homography, width, height int) *image.NRGBA {
	in := imaging.Clone(src)
	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p, ok := toSource.Apply(r2.Point{X: float64(x), Y: float64(y)})
			c := color.NRGBA{A: 255}
			if ok {
				c = BilinearInterpolation(in, p)
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// BilinearInterpolation samples img at a sub-pixel position, pixel centers on integers.
func BilinearInterpolation(img *image.NRGBA, p r2.Point) color.NRGBA {
	b := img.Bounds()
	x0, y0 := math.Floor(p.X), math.Floor(p.Y)
	if x0 < float64(b.Min.X-1) || y0 < float64(b.Min.Y-1) || x0 >= float64(b.Max.X) || y0 >= float64(b.Max.Y) {
		return color.NRGBA{A: 255}
	}
	fx, fy := p.X-x0, p.Y-y0
	ix, iy := int(x0), int(y0)

	var acc [4]float64
	weights := [4]float64{(1 - fx) * (1 - fy), fx * (1 - fy), (1 - fx) * fy, fx * fy}
	offsets := [4]image.Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	for i, off := range offsets {
		q := image.Pt(ix+off.X, iy+off.Y)
		c := color.NRGBA{A: 255}
		if q.In(b) {
			c = img.NRGBAAt(q.X, q.Y)
		}
		acc[0] += weights[i] * float64(c.R)
		acc[1] += weights[i] * float64(c.G)
		acc[2] += weights[i] * float64(c.B)
		acc[3] += weights[i] * float64(c.A)
	}
	clamp := func(v float64) uint8 {
		return uint8(math.Min(255, math.Max(0, math.Round(v))))
	}
	return color.NRGBA{R: clamp(acc[0]), G: clamp(acc[1]), B: clamp(acc[2]), A: clamp(acc[3])}
}
