package pipeline

import (
	"image"
	"image/color"
	"sort"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"underpass.nl/heights/facade"
	sph "underpass.nl/heights/photogrammetry"
	"underpass.nl/heights/rectify"
)

// OVERLAY_FILE is the projected facade overlay written by the project command.
const OVERLAY_FILE = "projected_facades.jpg"

// ProjectFacade projects the rectangle of f into the image of cam and returns its pixels as
// [bottom-left, bottom-right, top-right, top-left]. Corners are moved to the camera frame and
// reordered before projection so the polygon does not self-intersect. A corner on or behind the
// image plane is a degenerate projection.
func ProjectFacade(cam *sph.Camera, f facade.Facade) ([4]r2.Point, error) {
	var pixels [4]r2.Point
	var cornersCam [4]r3.Vector
	for i, corner := range f.Rectangle {
		cornersCam[i] = cam.Pose.ToCamera(corner)
	}
	ordered := sph.ReorderRectangleCorners(cornersCam)
	var world [4]r3.Vector
	for i, corner := range ordered {
		if corner.Z <= sph.EPSILON {
			return pixels, errors.Wrapf(sph.ErrDegenerateProjection, "facade corner %d is behind the camera", i)
		}
		p, err := sph.ProjectPinhole(corner, cam.Intrinsics)
		if err != nil {
			return pixels, err
		}
		if !cam.Intrinsics.Distortion.IsZero() {
			p = sph.DistortPixel(p, cam.Intrinsics)
		}
		pixels[i] = p
		for j := range cornersCam {
			if cornersCam[j] == corner {
				world[i] = f.Rectangle[j]
			}
		}
	}
	return uprightCorners(pixels, world), nil
}

// uprightCorners orders the projected corners by the world corners they come from: the two lowest
// are the bottom edge, and each top corner stays above the bottom corner it shares a vertical edge
// with. Left and right follow the image X of the bottom edge. A rectangle without two distinct
// heights is ordered in the image alone.
func uprightCorners(pixels [4]r2.Point, world [4]r3.Vector) [4]r2.Point {
	idx := []int{0, 1, 2, 3}
	sort.SliceStable(idx, func(a, b int) bool { return world[idx[a]].Z < world[idx[b]].Z })
	if world[idx[1]].Z == world[idx[2]].Z {
		return rectify.OrderCorners(pixels)
	}
	bottoms, tops := idx[:2], idx[2:]
	if pixels[bottoms[0]].X > pixels[bottoms[1]].X {
		bottoms[0], bottoms[1] = bottoms[1], bottoms[0]
	}
	plan := func(i int) r2.Point { return r2.Point{X: world[i].X, Y: world[i].Y} }
	bl, br := bottoms[0], bottoms[1]
	tl, tr := tops[0], tops[1]
	if plan(tr).Sub(plan(bl)).Norm() < plan(tl).Sub(plan(bl)).Norm() {
		tl, tr = tr, tl
	}
	return [4]r2.Point{pixels[bl], pixels[br], pixels[tr], pixels[tl]}
}

// DrawFacades outlines every polygon on a copy of img in the colour of its facade tag.
func DrawFacades(img image.Image, polygons [][4]r2.Point, colors []color.RGBA) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(4)
	for i, polygon := range polygons {
		dc.SetColor(colors[i])
		dc.MoveTo(polygon[0].X, polygon[0].Y)
		for _, p := range polygon[1:] {
			dc.LineTo(p.X, p.Y)
		}
		dc.ClosePath()
		dc.Stroke()
	}
	return dc.Image()
}
