//go:build gocv

package ceiling

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCVSegmenterName is the OpenCV backed segmenter, available with -tags gocv.
const OpenCVSegmenterName = "opencv"

func init() {
	RegisterSegmenter(OpenCVSegmenterName, func(cfg Config) Segmenter {
		return &opencvSegmenter{cfg: cfg}
	})
}

type opencvSegmenter struct {
	cfg Config
}

// gaussianKernelSize matches the kernel OpenCV derives from sigma for 8 bit images.
func gaussianKernelSize(sigma float64) int {
	size := int(sigma*6+1) | 1
	return max(size, 3)
}

func (s *opencvSegmenter) Segment(img image.Image) (*Labels, []Component, error) {
	if img.Bounds().Empty() {
		return nil, nil, ErrEmptyImage
	}
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, nil, errors.Wrap(err, "converting facade to an OpenCV matrix")
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)
	if s.cfg.BlurSigma > 0 {
		k := gaussianKernelSize(s.cfg.BlurSigma)
		gocv.GaussianBlur(gray, &gray, image.Pt(k, k), s.cfg.BlurSigma, s.cfg.BlurSigma, gocv.BorderDefault)
	}

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(s.cfg.CannyLow), float32(s.cfg.CannyHigh))

	if s.cfg.CloseKernel > 1 {
		kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(s.cfg.CloseKernel, s.cfg.CloseKernel))
		defer kernel.Close()
		gocv.MorphologyEx(edges, &edges, gocv.MorphClose, kernel)
	}
	if s.cfg.EdgeSmoothing > 0 {
		k := gaussianKernelSize(s.cfg.EdgeSmoothing)
		gocv.GaussianBlur(edges, &edges, image.Pt(k, k), s.cfg.EdgeSmoothing, s.cfg.EdgeSmoothing, gocv.BorderDefault)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(edges, &thresh, 0, 255, gocv.ThresholdBinaryInv+gocv.ThresholdOtsu)

	labelsMat := gocv.NewMat()
	defer labelsMat.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()
	n := gocv.ConnectedComponentsWithStatsWithParams(thresh, &labelsMat, &stats, &centroids,
		4, gocv.MatTypeCV32S, gocv.CCL_DEFAULT)

	labels := &Labels{Width: thresh.Cols(), Height: thresh.Rows(), Data: make([]int32, thresh.Cols()*thresh.Rows())}
	for y := 0; y < labels.Height; y++ {
		for x := 0; x < labels.Width; x++ {
			labels.Data[y*labels.Width+x] = labelsMat.GetIntAt(y, x)
		}
	}

	// label 0 is the edge pixels
	components := make([]Component, 0, max(n-1, 0))
	for i := 1; i < n; i++ {
		components = append(components, Component{
			Label:     i,
			Left:      int(stats.GetIntAt(i, int(gocv.CC_STAT_LEFT))),
			Top:       int(stats.GetIntAt(i, int(gocv.CC_STAT_TOP))),
			Width:     int(stats.GetIntAt(i, int(gocv.CC_STAT_WIDTH))),
			Height:    int(stats.GetIntAt(i, int(gocv.CC_STAT_HEIGHT))),
			Area:      int(stats.GetIntAt(i, int(gocv.CC_STAT_AREA))),
			CentroidX: centroids.GetDoubleAt(i, 0),
			CentroidY: centroids.GetDoubleAt(i, 1),
		})
	}
	return labels, components, nil
}
