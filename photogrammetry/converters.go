package photogrammetry

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Radians converts an angle in degrees, as stored in the parameter files.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Degrees converts an angle back to degrees for reports and logs.
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// MatrixString lays m out on indented rows, dropping the padding of narrow columns.
func MatrixString(m mat.Matrix) string {
	return fmt.Sprintf("%v", mat.Formatted(m, mat.Prefix("    "), mat.Squeeze()))
}

// CameraCenter recovers C = -Rᵀ·t from an extrinsic rotation and translation.
func CameraCenter(rotation mat.Matrix, trans mat.Vector) r3.Vector {
	var coordinates mat.VecDense
	coordinates.MulVec(rotation.T(), trans)
	coordinates.ScaleVec(-1, &coordinates)
	return r3FromVec(&coordinates)
}

func vecFromR3(v r3.Vector) *mat.VecDense {
	return mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
}

func r3FromVec(v mat.Vector) r3.Vector {
	return r3.Vector{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)}
}
