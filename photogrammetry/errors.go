package photogrammetry

import "github.com/pkg/errors"

var (
	// ErrInvalidIntrinsics is returned when a focal length is zero or negative.
	ErrInvalidIntrinsics = errors.New("invalid camera intrinsics")

	// ErrDegenerateProjection is returned when a point lies on the camera plane.
	ErrDegenerateProjection = errors.New("degenerate projection")

	// ErrRayParallelToPlane is returned when a viewing ray never meets the ground plane.
	ErrRayParallelToPlane = errors.New("ray parallel to ground plane")
)

func newInvalidIntrinsicsError(fx, fy float64) error {
	return errors.Wrapf(ErrInvalidIntrinsics, "focal lengths must be positive (fx=%v, fy=%v)", fx, fy)
}
