package photogrammetry

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRotationMatrixOrthonormal(t *testing.T) {
	angles := []float64{-170, -90, -33.3, 0, 12.5, 45, 90, 179}
	identity := mat.NewDiagDense(3, []float64{1, 1, 1})
	for _, omega := range angles {
		for _, phi := range angles {
			for _, kappa := range angles {
				r := RotationMatrix(Radians(omega), Radians(phi), Radians(kappa))

				var rtr mat.Dense
				rtr.Mul(r.T(), r)
				test.That(t, mat.EqualApprox(&rtr, identity, 1e-9), test.ShouldBeTrue)
				test.That(t, mat.Det(r), test.ShouldAlmostEqual, 1, 1e-9)
			}
		}
	}
}

func TestRotationMatrixConvention(t *testing.T) {
	// omega = -90 turns the camera to look along +Y with image rows pointing down -Z
	r := RotationMatrix(Radians(-90), 0, 0)
	expected := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 0, -1,
		0, 1, 0,
	})
	test.That(t, mat.EqualApprox(r, expected, 1e-9), test.ShouldBeTrue)

	// a pure kappa rotation rotates the axes, so the point appears rotated the other way
	r = RotationMatrix(0, 0, Radians(90))
	var p mat.VecDense
	p.MulVec(r, mat.NewVecDense(3, []float64{1, 0, 0}))
	test.That(t, p.AtVec(0), test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, p.AtVec(1), test.ShouldAlmostEqual, -1, 1e-9)
}

func TestIntrinsicMatrix(t *testing.T) {
	k, err := IntrinsicMatrix(1000, 800, 320, 240)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.At(0, 0), test.ShouldEqual, 1000.)
	test.That(t, k.At(1, 1), test.ShouldEqual, 800.)
	test.That(t, k.At(0, 2), test.ShouldEqual, 320.)
	test.That(t, k.At(1, 2), test.ShouldEqual, 240.)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.)

	_, err = IntrinsicMatrix(0, 800, 320, 240)
	test.That(t, errors.Is(err, ErrInvalidIntrinsics), test.ShouldBeTrue)
	_, err = IntrinsicMatrix(1000, -1, 320, 240)
	test.That(t, errors.Is(err, ErrInvalidIntrinsics), test.ShouldBeTrue)
}

func TestProjectionMatrixIdentityPose(t *testing.T) {
	k, err := IntrinsicMatrix(1000, 800, 320, 240)
	test.That(t, err, test.ShouldBeNil)
	m := ProjectionMatrix(k, mat.NewDiagDense(3, []float64{1, 1, 1}), r3.Vector{})

	pos, err := ProjectPoint(r3.Vector{X: 1, Y: 2, Z: 10}, m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.X, test.ShouldAlmostEqual, 1000*1./10+320, 1e-9)
	test.That(t, pos.Y, test.ShouldAlmostEqual, 800*2./10+240, 1e-9)

	pinhole, err := ProjectPinhole(r3.Vector{X: 1, Y: 2, Z: 10}, Intrinsics{Fx: 1000, Fy: 800, Cx: 320, Cy: 240})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pinhole.X, test.ShouldAlmostEqual, pos.X, 1e-9)
	test.That(t, pinhole.Y, test.ShouldAlmostEqual, pos.Y, 1e-9)
}

func TestProjectionMatchesCameraFrame(t *testing.T) {
	pose := NewPose(r3.Vector{X: 85000, Y: 446000, Z: 300}, 42, -3.5, 91)
	intrinsics := Intrinsics{Width: 4000, Height: 3000, Fx: 3500, Fy: 3500, Cx: 2000, Cy: 1500}
	cam, err := NewCamera("img", pose, intrinsics)
	test.That(t, err, test.ShouldBeNil)

	world := r3.Vector{X: 85010, Y: 446200, Z: 5}
	viaMatrix, err := cam.Project(world)
	test.That(t, err, test.ShouldBeNil)
	viaPinhole, err := ProjectPinhole(pose.ToCamera(world), intrinsics)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, viaMatrix.X, test.ShouldAlmostEqual, viaPinhole.X, 1e-6)
	test.That(t, viaMatrix.Y, test.ShouldAlmostEqual, viaPinhole.Y, 1e-6)

	center := CameraCenter(pose.Rotation, pose.Translation())
	test.That(t, center.Distance(pose.Center), test.ShouldBeLessThan, 1e-6)
}

func TestProjectDegenerate(t *testing.T) {
	k, err := IntrinsicMatrix(1000, 1000, 0, 0)
	test.That(t, err, test.ShouldBeNil)
	m := ProjectionMatrix(k, mat.NewDiagDense(3, []float64{1, 1, 1}), r3.Vector{})

	_, err = ProjectPoint(r3.Vector{X: 3, Y: 4, Z: 0}, m)
	test.That(t, errors.Is(err, ErrDegenerateProjection), test.ShouldBeTrue)

	_, err = ProjectPinhole(r3.Vector{X: 3, Y: 4, Z: 1e-12}, Intrinsics{Fx: 1, Fy: 1})
	test.That(t, errors.Is(err, ErrDegenerateProjection), test.ShouldBeTrue)
}

func TestNewCameraRejectsInvalidIntrinsics(t *testing.T) {
	_, err := NewCamera("img", NewPose(r3.Vector{}, 0, 0, 0), Intrinsics{Fx: -5, Fy: 100})
	test.That(t, errors.Is(err, ErrInvalidIntrinsics), test.ShouldBeTrue)
}

func TestDistortionRoundTrip(t *testing.T) {
	intrinsics := Intrinsics{
		Width: 1400, Height: 1000, Fx: 1200, Fy: 1180, Cx: 700, Cy: 500,
		Distortion: NewDistortion([]float64{-0.1, 0.01, 0.001, -0.0005, 0.002}),
	}
	for _, p := range []r2.Point{{X: 700, Y: 500}, {X: 100, Y: 80}, {X: 1300, Y: 950}, {X: 950, Y: 120}} {
		distorted := DistortPixel(p, intrinsics)
		back := UndistortPixel(distorted, intrinsics)
		test.That(t, back.X, test.ShouldAlmostEqual, p.X, 1e-3)
		test.That(t, back.Y, test.ShouldAlmostEqual, p.Y, 1e-3)
	}

	center := DistortPixel(r2.Point{X: 700, Y: 500}, intrinsics)
	test.That(t, center.X, test.ShouldAlmostEqual, 700, 1e-9)
	test.That(t, center.Y, test.ShouldAlmostEqual, 500, 1e-9)

	test.That(t, Distortion{}.IsZero(), test.ShouldBeTrue)
	test.That(t, intrinsics.Distortion.IsZero(), test.ShouldBeFalse)
}

func TestDegreesRoundTrip(t *testing.T) {
	test.That(t, Radians(180), test.ShouldAlmostEqual, math.Pi, 1e-9)
	test.That(t, Degrees(Radians(33.25)), test.ShouldAlmostEqual, 33.25, 1e-6)
}
