// Package photogrammetry builds pinhole camera models from calibrated orientation parameters
// and maps points between the world, camera and image frames.
package photogrammetry

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Distortion holds the OpenCV lens distortion coefficients (k1 k2 p1 p2 k3 k4 k5 k6).
type Distortion struct {
	K1, K2, P1, P2, K3, K4, K5, K6 float64
}

// IsZero reports whether the distortion model is the identity.
func (d Distortion) IsZero() bool {
	return d == Distortion{}
}

func (d Distortion) coefficients() [OPENCV_DISTORT_VALUES]float64 {
	return [OPENCV_DISTORT_VALUES]float64{d.K1, d.K2, d.P1, d.P2, d.K3, d.K4, d.K5, d.K6}
}

// NewDistortion fills a Distortion from up to eight coefficients in OpenCV order.
func NewDistortion(coeffs []float64) Distortion {
	all := make([]float64, OPENCV_DISTORT_VALUES)
	copy(all, coeffs)
	return Distortion{
		K1: all[0], K2: all[1], P1: all[2], P2: all[3],
		K3: all[4], K4: all[5], K5: all[6], K6: all[7],
	}
}

// Intrinsics are the pinhole parameters of one image.
type Intrinsics struct {
	Width      int
	Height     int
	Fx         float64
	Fy         float64
	Cx         float64
	Cy         float64
	Distortion Distortion
}

// CheckValid returns ErrInvalidIntrinsics when a focal length is not positive.
func (in Intrinsics) CheckValid() error {
	if in.Fx <= 0 || in.Fy <= 0 {
		return newInvalidIntrinsicsError(in.Fx, in.Fy)
	}
	return nil
}

// Pose is the exterior orientation of one image. Rotation maps world axes to camera axes.
type Pose struct {
	Center   r3.Vector
	Omega    float64
	Phi      float64
	Kappa    float64
	Rotation *mat.Dense
}

// NewPose builds a pose from a camera center and omega/phi/kappa angles in degrees.
func NewPose(center r3.Vector, omegaDeg, phiDeg, kappaDeg float64) Pose {
	omega, phi, kappa := Radians(omegaDeg), Radians(phiDeg), Radians(kappaDeg)
	return Pose{
		Center:   center,
		Omega:    omega,
		Phi:      phi,
		Kappa:    kappa,
		Rotation: RotationMatrix(omega, phi, kappa),
	}
}

// Translation returns t = -R·C.
func (p Pose) Translation() *mat.VecDense {
	var t mat.VecDense
	t.MulVec(p.Rotation, vecFromR3(p.Center))
	t.ScaleVec(-1, &t)
	return &t
}

// ToCamera expresses a world point in the camera frame: R·(X - C).
func (p Pose) ToCamera(point r3.Vector) r3.Vector {
	var res mat.VecDense
	res.MulVec(p.Rotation, vecFromR3(point.Sub(p.Center)))
	return r3FromVec(&res)
}
