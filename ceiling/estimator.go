// Package ceiling estimates the clearance of an underpass from a rectified facade image whose
// rows span the facade from the ground (last row) to its mesh height (first row).
package ceiling

import (
	"context"
	"image"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	MethodEdges = "edges"
	MethodDepth = "depth"
)

// Estimate is the ceiling found in one rectified facade.
type Estimate struct {
	Method        string
	FacadeHeight  float64
	ImageHeight   int
	CeilingRow    int
	CeilingHeight float64
	Component     Component
	// LowConfidence is set when the component was picked without passing the candidate filter,
	// or when the depth map had no distinct surfaces.
	LowConfidence bool
	// Warning carries ErrNoCandidateComponent or ErrDegenerateDepth for low confidence estimates.
	Warning error

	Labels     *Labels
	Components []Component
}

// CeilingHeight converts a row of the rectified image into meters above the ground.
func CeilingHeight(facadeHeight float64, row, imageHeight int) float64 {
	return facadeHeight * (1 - float64(row)/float64(imageHeight))
}

func checkFacadeHeight(facadeHeight float64) error {
	if facadeHeight <= 0 || math.IsNaN(facadeHeight) || math.IsInf(facadeHeight, 0) {
		return errors.Wrapf(ErrInvalidFacadeHeight, "%v m", facadeHeight)
	}
	return nil
}

// MinHeightPixels converts the minimum clearance in meters into rows of the rectified image.
func MinHeightPixels(imageHeight int, minHeightMeters, facadeHeight float64) int {
	return int(float64(imageHeight) * (minHeightMeters / facadeHeight))
}

// IsCandidate reports whether c can be the opening below the ceiling: it starts below the top
// margin, is tall enough, reaches the ground and is mostly filled.
func IsCandidate(c Component, imageHeight, minHeightPx int, cfg Config) bool {
	return c.Top >= cfg.TopMargin &&
		c.Height >= minHeightPx &&
		c.Bottom() >= imageHeight-cfg.GroundMargin &&
		c.Solidity() >= cfg.MinSolidity
}

// MostCentered returns the component whose centroid is closest to centerX.
// Ties go to the lowest label.
func MostCentered(components []Component, centerX float64) (Component, bool) {
	if len(components) == 0 {
		return Component{}, false
	}
	best := components[0]
	for _, c := range components[1:] {
		d, bestD := math.Abs(c.CentroidX-centerX), math.Abs(best.CentroidX-centerX)
		if d < bestD || (d == bestD && c.Label < best.Label) {
			best = c
		}
	}
	return best, true
}

// SelectComponent filters the components and disambiguates by horizontal centrality. When no
// component passes the filter every component competes and lowConfidence is set.
func SelectComponent(components []Component, width, height int, facadeHeight float64, cfg Config) (Component, bool, error) {
	if err := checkFacadeHeight(facadeHeight); err != nil {
		return Component{}, false, err
	}
	minHeightPx := MinHeightPixels(height, cfg.MinHeightMeters, facadeHeight)

	candidates := make([]Component, 0, len(components))
	for _, c := range components {
		if IsCandidate(c, height, minHeightPx, cfg) {
			candidates = append(candidates, c)
		}
	}

	centerX := float64(width) / 2
	if best, ok := MostCentered(candidates, centerX); ok {
		return best, false, nil
	}
	if best, ok := MostCentered(components, centerX); ok {
		return best, true, nil
	}
	return Component{}, true, errors.Wrap(ErrNoCandidateComponent, "image has no regions")
}

// Estimator is the edge/connected-component ceiling estimator. It is stateless across calls
// and safe for concurrent use.
type Estimator struct {
	cfg       Config
	segmenter Segmenter
	logger    *zap.SugaredLogger
}

// NewEstimator builds an estimator with the segmenter named in cfg.
func NewEstimator(cfg Config, logger *zap.SugaredLogger) (*Estimator, error) {
	segmenter, err := NewSegmenter(cfg)
	if err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg, segmenter: segmenter, logger: logger}, nil
}

// Method names the estimator in output records.
func (e *Estimator) Method() string {
	return MethodEdges
}

// Estimate finds the ceiling row of img and converts it with facadeHeight (meters).
func (e *Estimator) Estimate(img image.Image, facadeHeight float64) (Estimate, error) {
	if err := checkFacadeHeight(facadeHeight); err != nil {
		return Estimate{}, err
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return Estimate{}, ErrEmptyImage
	}

	labels, components, err := e.segmenter.Segment(img)
	if err != nil {
		return Estimate{}, err
	}
	best, lowConfidence, err := SelectComponent(components, bounds.Dx(), bounds.Dy(), facadeHeight, e.cfg)
	if err != nil {
		return Estimate{}, err
	}

	est := Estimate{
		Method:        MethodEdges,
		FacadeHeight:  facadeHeight,
		ImageHeight:   bounds.Dy(),
		CeilingRow:    best.Top,
		CeilingHeight: CeilingHeight(facadeHeight, best.Top, bounds.Dy()),
		Component:     best,
		LowConfidence: lowConfidence,
		Labels:        labels,
		Components:    components,
	}
	if lowConfidence {
		est.Warning = ErrNoCandidateComponent
		e.logger.Debugw("no candidate component, using the most centered region",
			"components", len(components), "ceiling_row", est.CeilingRow)
	}
	return est, nil
}

// EstimateHeight adapts Estimate to the context aware interface shared with the depth estimator.
func (e *Estimator) EstimateHeight(ctx context.Context, _ string, img image.Image, facadeHeight float64) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	return e.Estimate(img, facadeHeight)
}
