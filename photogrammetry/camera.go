package photogrammetry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RotateXAxis is the world->camera rotation about X by omega.
func RotateXAxis(omega float64) *mat.Dense {
	s, c := math.Sincos(omega)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, s,
		0, -s, c,
	})
}

// RotateYAxis is the world->camera rotation about Y by phi.
func RotateYAxis(phi float64) *mat.Dense {
	s, c := math.Sincos(phi)
	return mat.NewDense(3, 3, []float64{
		c, 0, -s,
		0, 1, 0,
		s, 0, c,
	})
}

// RotateZAxis is the world->camera rotation about Z by kappa.
func RotateZAxis(kappa float64) *mat.Dense {
	s, c := math.Sincos(kappa)
	return mat.NewDense(3, 3, []float64{
		c, s, 0,
		-s, c, 0,
		0, 0, 1,
	})
}

// RotationMatrix returns the photogrammetric world->camera rotation R = Rκ·Rφ·Rω.
// Angles are in radians. Every elemental rotation rotates the axes (not the point),
// so R maps world coordinates into the camera frame and det(R) = +1.
func RotationMatrix(omega, phi, kappa float64) *mat.Dense {
	var r mat.Dense
	r.Mul(RotateYAxis(phi), RotateXAxis(omega))
	r.Mul(RotateZAxis(kappa), &r)
	return &r
}

// IntrinsicMatrix returns the pinhole camera matrix K.
func IntrinsicMatrix(fx, fy, cx, cy float64) (*mat.Dense, error) {
	if fx <= 0 || fy <= 0 {
		return nil, newInvalidIntrinsicsError(fx, fy)
	}
	return mat.NewDense(3, 3, []float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	}), nil
}

// ExtrinsicsMatrix stacks [R | t] with t = -R·C.
func ExtrinsicsMatrix(rotation mat.Matrix, center r3.Vector) *mat.Dense {
	var t mat.VecDense
	t.MulVec(rotation, vecFromR3(center))
	t.ScaleVec(-1, &t)

	extrinsics := mat.NewDense(3, 4, nil)
	extrinsics.Slice(0, 3, 0, 3).(*mat.Dense).Copy(rotation)
	extrinsics.SetCol(3, t.RawVector().Data)
	return extrinsics
}

// ProjectionMatrix returns M = K·[R | -R·C].
func ProjectionMatrix(intrinsics mat.Matrix, rotation mat.Matrix, center r3.Vector) *mat.Dense {
	var projMat mat.Dense
	projMat.Mul(intrinsics, ExtrinsicsMatrix(rotation, center))
	return &projMat
}

// Camera bundles the calibrated parameters of one image with its derived matrices.
// K and M are recomputed by NewCamera and never edited in place.
type Camera struct {
	ImageID    string
	Pose       Pose
	Intrinsics Intrinsics
	K          *mat.Dense
	M          *mat.Dense
}

// NewCamera validates the intrinsics and derives K and M.
func NewCamera(imageID string, pose Pose, intrinsics Intrinsics) (*Camera, error) {
	k, err := IntrinsicMatrix(intrinsics.Fx, intrinsics.Fy, intrinsics.Cx, intrinsics.Cy)
	if err != nil {
		return nil, err
	}
	return &Camera{
		ImageID:    imageID,
		Pose:       pose,
		Intrinsics: intrinsics,
		K:          k,
		M:          ProjectionMatrix(k, pose.Rotation, pose.Center),
	}, nil
}

// Project maps a world point to pixel coordinates, applying lens distortion when present.
func (c *Camera) Project(point r3.Vector) (r2.Point, error) {
	pos, err := ProjectPoint(point, c.M)
	if err != nil {
		return r2.Point{}, err
	}
	if c.Intrinsics.Distortion.IsZero() {
		return pos, nil
	}
	return DistortPixel(pos, c.Intrinsics), nil
}

// Footprint returns the ground footprint of the full image on the plane Z = zGround.
func (c *Camera) Footprint(zGround float64) ([4]r3.Vector, error) {
	return footprint(c.Intrinsics, c.Pose.Rotation, c.Pose.Translation(), c.Intrinsics.Width, c.Intrinsics.Height, zGround)
}
