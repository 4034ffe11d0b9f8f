// Package rectify warps a projected facade quadrilateral into a fronto-parallel image.
package rectify

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateQuad is returned when four corners do not span an area.
var ErrDegenerateQuad = errors.New("degenerate quadrilateral")

// SINGULAR_RATIO is the smallest ratio of the lowest to the highest singular value of the DLT
// system accepted as a unique homography.
const SINGULAR_RATIO = 1e-10

// Homography is a 3x3 plane to plane transform. Indices are [row][column].
type Homography [3][3]float64

// At implements mat.Matrix.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Dims implements mat.Matrix.
func (h *Homography) Dims() (int, int) {
	return 3, 3
}

// T implements mat.Matrix.
func (h *Homography) T() mat.Matrix {
	return mat.Transpose{Matrix: h}
}

// Apply maps pt through the homography. ok is false when pt maps to infinity.
func (h *Homography) Apply(pt r2.Point) (r2.Point, bool) {
	x := h[0][0]*pt.X + h[0][1]*pt.Y + h[0][2]
	y := h[1][0]*pt.X + h[1][1]*pt.Y + h[1][2]
	w := h[2][0]*pt.X + h[2][1]*pt.Y + h[2][2]
	if math.Abs(w) < 1e-12 {
		return r2.Point{}, false
	}
	return r2.Point{X: x / w, Y: y / w}, true
}

// Inverse returns the homography mapping back.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.DenseCopyOf(h)); err != nil {
		return nil, errors.Wrap(ErrDegenerateQuad, err.Error())
	}
	return homographyFrom(&inv), nil
}

func homographyFrom(m mat.Matrix) *Homography {
	var h Homography
	scale := m.At(2, 2)
	if scale == 0 {
		scale = 1
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r][c] = m.At(r, c) / scale
		}
	}
	return &h
}

// normalization moves the centroid of the points to the origin and scales their mean
// distance to sqrt(2).
func normalization(points [4]r2.Point) *mat.Dense {
	var centroid r2.Point
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(0.25)
	var spread float64
	for _, p := range points {
		spread += p.Sub(centroid).Norm()
	}
	spread /= 4
	if spread == 0 {
		spread = 1
	}
	s := math.Sqrt2 / spread
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * centroid.X,
		0, s, -s * centroid.Y,
		0, 0, 1,
	})
}

func transformPoint(t mat.Matrix, p r2.Point) r2.Point {
	return r2.Point{
		X: t.At(0, 0)*p.X + t.At(0, 1)*p.Y + t.At(0, 2),
		Y: t.At(1, 0)*p.X + t.At(1, 1)*p.Y + t.At(1, 2),
	}
}

// ComputeHomography solves the normalized direct linear transform for the homography taking
// each src corner to the matching dst corner.
func ComputeHomography(src, dst [4]r2.Point) (*Homography, error) {
	tSrc := normalization(src)
	tDst := normalization(dst)

	A := mat.NewDense(8, 9, nil)
	for i := range src {
		p := transformPoint(tSrc, src[i])
		q := transformPoint(tDst, dst[i])
		A.SetRow(2*i, []float64{p.X, p.Y, 1, 0, 0, 0, -q.X * p.X, -q.X * p.Y, -q.X})
		A.SetRow(2*i+1, []float64{0, 0, 0, p.X, p.Y, 1, -q.Y * p.X, -q.Y * p.Y, -q.Y})
	}

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return nil, errors.Wrap(ErrDegenerateQuad, "failed to factorize the correspondence system")
	}
	values := svd.Values(nil)
	if values[0] == 0 || values[len(values)-1]/values[0] < SINGULAR_RATIO {
		return nil, errors.Wrap(ErrDegenerateQuad, "corners are collinear")
	}
	var v mat.Dense
	svd.VTo(&v)
	hn := mat.NewDense(3, 3, mat.Col(nil, 8, &v))

	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(ErrDegenerateQuad, err.Error())
	}
	var h mat.Dense
	h.Product(&tDstInv, hn, tSrc)
	if math.Abs(h.At(2, 2)) < 1e-12 {
		return nil, errors.Wrap(ErrDegenerateQuad, "homography sends the origin to infinity")
	}
	return homographyFrom(&h), nil
}
