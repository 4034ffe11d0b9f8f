package photogrammetry

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EPSILON is the smallest homogeneous scale or ray slope treated as non-zero.
const EPSILON = 1e-9

func scaleHomogeonousPoint(point mat.Vector) (mat.Vector, error) {
	w := point.AtVec(point.Len() - 1)
	if math.Abs(w) < EPSILON {
		return nil, errors.Wrapf(ErrDegenerateProjection, "homogeneous scale %v", w)
	}
	var vector mat.VecDense
	vector.ScaleVec(1/w, point)
	return &vector, nil
}

func normalizePixel(point r2.Point, intrinsics Intrinsics) (float64, float64) {
	return (point.X - intrinsics.Cx) / intrinsics.Fx, (point.Y - intrinsics.Cy) / intrinsics.Fy
}

func denormalizePixel(x, y float64, intrinsics Intrinsics) r2.Point {
	return r2.Point{X: x*intrinsics.Fx + intrinsics.Cx, Y: y*intrinsics.Fy + intrinsics.Cy}
}

// ProjectPoint maps a world point through the 3x4 projection matrix.
func ProjectPoint(position r3.Vector, projMat mat.Matrix) (r2.Point, error) {
	homogeneous := mat.NewVecDense(4, []float64{position.X, position.Y, position.Z, 1})
	var point mat.VecDense
	point.MulVec(projMat, homogeneous)

	scaled, err := scaleHomogeonousPoint(&point)
	if err != nil {
		return r2.Point{}, err
	}
	return r2.Point{X: scaled.AtVec(0), Y: scaled.AtVec(1)}, nil
}

// ProjectPinhole is the simplified division model for camera-frame points:
// (fx·x/z + cx, fy·y/z + cy).
func ProjectPinhole(point r3.Vector, intrinsics Intrinsics) (r2.Point, error) {
	if math.Abs(point.Z) < EPSILON {
		return r2.Point{}, errors.Wrapf(ErrDegenerateProjection, "camera depth %v", point.Z)
	}
	return denormalizePixel(point.X/point.Z, point.Y/point.Z, intrinsics), nil
}

// ReorderRectangleCorners returns the corners as [near-bottom, far-bottom, far-top, near-top].
// The two corners with the largest Z are "near", the other two "far"; each pair is ordered by
// ascending Y. Ties are broken on the remaining axes so the result does not depend on input order.
func ReorderRectangleCorners(corners [4]r3.Vector) [4]r3.Vector {
	byDepth := corners
	sort.Slice(byDepth[:], func(i, j int) bool {
		a, b := byDepth[i], byDepth[j]
		if a.Z != b.Z {
			return a.Z > b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	near := []r3.Vector{byDepth[0], byDepth[1]}
	far := []r3.Vector{byDepth[2], byDepth[3]}
	byHeight := func(pair []r3.Vector) {
		sort.Slice(pair, func(i, j int) bool {
			a, b := pair[i], pair[j]
			if a.Y != b.Y {
				return a.Y < b.Y
			}
			if a.X != b.X {
				return a.X < b.X
			}
			return a.Z < b.Z
		})
	}
	byHeight(near)
	byHeight(far)

	return [4]r3.Vector{near[0], far[0], far[1], near[1]}
}

// GroundFootprint intersects the rays through the four image corners with the plane Z = zGround.
// The corners are returned in pixel order (0,0), (w-1,0), (w-1,h-1), (0,h-1).
func GroundFootprint(intrinsics mat.Matrix, rotation mat.Matrix, trans mat.Vector, width, height int, zGround float64) ([4]r3.Vector, error) {
	in := Intrinsics{
		Width:  width,
		Height: height,
		Fx:     intrinsics.At(0, 0),
		Fy:     intrinsics.At(1, 1),
		Cx:     intrinsics.At(0, 2),
		Cy:     intrinsics.At(1, 2),
	}
	if err := in.CheckValid(); err != nil {
		return [4]r3.Vector{}, err
	}
	return footprint(in, rotation, trans, width, height, zGround)
}

func footprint(in Intrinsics, rotation mat.Matrix, trans mat.Vector, width, height int, zGround float64) ([4]r3.Vector, error) {
	center := CameraCenter(rotation, trans)
	cornersPx := [4]r2.Point{
		{X: 0, Y: 0},
		{X: float64(width - 1), Y: 0},
		{X: float64(width - 1), Y: float64(height - 1)},
		{X: 0, Y: float64(height - 1)},
	}

	var result [4]r3.Vector
	for i, corner := range cornersPx {
		if !in.Distortion.IsZero() {
			corner = UndistortPixel(corner, in)
		}
		x, y := normalizePixel(corner, in)

		var ray mat.VecDense
		ray.MulVec(rotation.T(), mat.NewVecDense(3, []float64{x, y, 1}))
		rayWorld := r3FromVec(&ray)
		if math.Abs(rayWorld.Z) < EPSILON {
			return [4]r3.Vector{}, errors.Wrapf(ErrRayParallelToPlane, "image corner (%v, %v)", corner.X, corner.Y)
		}

		lambda := (zGround - center.Z) / rayWorld.Z
		result[i] = center.Add(rayWorld.Mul(lambda))
	}
	return result, nil
}
