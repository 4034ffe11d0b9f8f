package photogrammetry

import (
	"math"

	"github.com/golang/geo/r2"
)

const OPENCV_DISTORT_VALUES = 8
const MAX_ITER = 100

// UndistortPixel removes lens distortion from a pixel with fixed-point iteration.
func UndistortPixel(point r2.Point, intrinsics Intrinsics) r2.Point {
	k := intrinsics.Distortion.coefficients()
	k1, k2, p1, p2, k3, k4, k5, k6 := k[0], k[1], k[2], k[3], k[4], k[5], k[6], k[7]

	x, y := normalizePixel(point, intrinsics)
	x0 := x
	y0 := y

	for iter := 0; iter < MAX_ITER; iter++ {
		rsq := math.Pow(x, 2) + math.Pow(y, 2)
		k_inv := (1 + k4*rsq + k5*math.Pow(rsq, 2) + k6*math.Pow(rsq, 3)) / (1 + k1*rsq + k2*math.Pow(rsq, 2) + k3*math.Pow(rsq, 3))
		delta_x := 2*p1*x*y + p2*(rsq+2*math.Pow(x, 2))
		delta_y := p1*(rsq+2*math.Pow(y, 2)) + 2*p2*x*y
		xant := x
		yant := y
		x = (x0 - delta_x) * k_inv
		y = (y0 - delta_y) * k_inv
		e := math.Pow((xant-x), 2) + math.Pow((yant-y), 2)
		if e == 0 {
			break
		}
	}
	return denormalizePixel(x, y, intrinsics)
}

// DistortPixel applies the rational radial + tangential model to an ideal pixel.
func DistortPixel(point r2.Point, intrinsics Intrinsics) r2.Point {
	k := intrinsics.Distortion.coefficients()
	k1, k2, p1, p2, k3, k4, k5, k6 := k[0], k[1], k[2], k[3], k[4], k[5], k[6], k[7]

	x_u, y_u := normalizePixel(point, intrinsics)

	rsq := math.Pow(x_u, 2) + math.Pow(y_u, 2)
	radial := (1 + k1*rsq + k2*math.Pow(rsq, 2) + k3*math.Pow(rsq, 3)) / (1 + k4*rsq + k5*math.Pow(rsq, 2) + k6*math.Pow(rsq, 3))
	x := x_u*radial + 2*p1*x_u*y_u + p2*(rsq+2*math.Pow(x_u, 2))
	y := y_u*radial + 2*p2*x_u*y_u + p1*(rsq+2*math.Pow(y_u, 2))

	return denormalizePixel(x, y, intrinsics)
}
