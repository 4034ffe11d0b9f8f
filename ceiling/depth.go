package ceiling

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"golang.org/x/sync/semaphore"
)

// DepthInferer produces a per pixel depth map (rows x cols of img) for a rectified facade.
// Larger values are closer to the camera, as returned by relative monocular depth models.
type DepthInferer interface {
	Infer(ctx context.Context, key string, img image.Image) (*mat.Dense, error)
}

// depthSample is a depth value used with the kmeans clustering functions. Samples are
// clustered on their depth only.
type depthSample struct {
	d float64
}

func (s depthSample) Coordinates() clusters.Coordinates {
	return clusters.Coordinates{s.d}
}

func (s depthSample) Distance(p clusters.Coordinates) float64 {
	return math.Abs(s.d - p[0])
}

func inertia(cc clusters.Clusters) float64 {
	var sum float64
	for _, c := range cc {
		for _, o := range c.Observations {
			d := o.Distance(c.Center)
			sum += d * d
		}
	}
	return sum
}

// ClusterDepths fits cfg.Clusters depth surfaces to a sample of the map, keeping the restart
// with the lowest inertia, and returns the cluster centers in ascending order of depth value.
func ClusterDepths(depth *mat.Dense, cfg DepthConfig) ([]float64, error) {
	rows, cols := depth.Dims()
	n := rows * cols
	if n == 0 {
		return nil, ErrEmptyImage
	}
	stride := 1
	if cfg.MaxSamples > 0 && n > cfg.MaxSamples {
		stride = (n + cfg.MaxSamples - 1) / cfg.MaxSamples
	}
	var dataset clusters.Observations
	for i := 0; i < n; i += stride {
		dataset = append(dataset, depthSample{d: depth.At(i/cols, i%cols)})
	}

	k := min(cfg.Clusters, len(dataset))
	if k < 1 {
		return nil, errors.Errorf("cannot cluster into %d surfaces", cfg.Clusters)
	}
	km, err := kmeans.NewWithOptions(cfg.DeltaThreshold, nil)
	if err != nil {
		return nil, err
	}

	var best clusters.Clusters
	bestInertia := math.Inf(1)
	for attempt := 0; attempt < max(cfg.Attempts, 1); attempt++ {
		partition, err := km.Partition(dataset, k)
		if err != nil {
			return nil, errors.Wrap(err, "clustering depth")
		}
		if in := inertia(partition); in < bestInertia {
			best, bestInertia = partition, in
		}
	}

	centers := make([]float64, 0, len(best))
	for _, c := range best {
		if len(c.Observations) == 0 {
			continue
		}
		centers = append(centers, c.Center[0])
	}
	sort.Float64s(centers)
	return centers, nil
}

// FarthestSurfaceMask marks the pixels whose nearest cluster center is the smallest one.
func FarthestSurfaceMask(depth *mat.Dense, centers []float64) *image.Gray {
	rows, cols := depth.Dims()
	mask := image.NewGray(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			d := depth.At(r, c)
			nearest, bestDist := 0, math.Inf(1)
			for i, center := range centers {
				if dist := math.Abs(d - center); dist < bestDist {
					nearest, bestDist = i, dist
				}
			}
			if nearest == 0 {
				mask.Pix[r*mask.Stride+c] = 255
			}
		}
	}
	return mask
}

// MostGrounded returns the component reaching lowest in the image. Ties go to the lowest label.
func MostGrounded(components []Component) (Component, bool) {
	if len(components) == 0 {
		return Component{}, false
	}
	best := components[0]
	for _, c := range components[1:] {
		if c.Bottom() > best.Bottom() {
			best = c
		}
	}
	return best, true
}

// surfaceTolerance is the relative gap below which two cluster centers are the same surface.
const surfaceTolerance = 1e-6

// DistinctSurfaces counts the ascending centers that differ from the previous one by more than
// surfaceTolerance.
func DistinctSurfaces(centers []float64) int {
	n := 0
	for i, c := range centers {
		if i == 0 || c-centers[i-1] > surfaceTolerance*math.Max(1, math.Abs(c)) {
			n++
		}
	}
	return n
}

// CeilingFromDepth clusters the depth map, keeps the farthest surface and returns the most
// grounded 8-connected region of it. Its first row is the ceiling.
func CeilingFromDepth(depth *mat.Dense, cfg DepthConfig) (Component, *Labels, []Component, error) {
	centers, err := ClusterDepths(depth, cfg)
	if err != nil {
		return Component{}, nil, nil, err
	}
	return CeilingFromCenters(depth, centers)
}

// CeilingFromCenters is CeilingFromDepth with the cluster centers already fitted.
func CeilingFromCenters(depth *mat.Dense, centers []float64) (Component, *Labels, []Component, error) {
	labels, components := ConnectedComponents(FarthestSurfaceMask(depth, centers), 8)
	best, ok := MostGrounded(components)
	if !ok {
		return Component{}, nil, nil, errors.Wrap(ErrNoCandidateComponent, "farthest depth surface is empty")
	}
	return best, labels, components, nil
}

// DepthResult is the outcome of one inference.
type DepthResult struct {
	Depth *mat.Dense
	Err   error
}

// DepthPool runs depth inference with bounded concurrency.
type DepthPool struct {
	inferer DepthInferer
	sem     *semaphore.Weighted
	logger  *zap.SugaredLogger
}

// NewDepthPool allows workers concurrent inferences.
func NewDepthPool(inferer DepthInferer, workers int, logger *zap.SugaredLogger) *DepthPool {
	return &DepthPool{
		inferer: inferer,
		sem:     semaphore.NewWeighted(int64(max(workers, 1))),
		logger:  logger,
	}
}

// Submit starts an inference and returns a channel that yields exactly one result.
// A panicking inferer is reported as an error for this item only.
func (p *DepthPool) Submit(ctx context.Context, key string, img image.Image) <-chan DepthResult {
	out := make(chan DepthResult, 1)
	go func() {
		defer close(out)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			out <- DepthResult{Err: err}
			return
		}
		defer p.sem.Release(1)

		out <- p.infer(ctx, key, img)
	}()
	return out
}

func (p *DepthPool) infer(ctx context.Context, key string, img image.Image) (res DepthResult) {
	defer func() {
		if r := recover(); r != nil {
			res = DepthResult{Err: errors.Errorf("depth inference for %s panicked: %v", key, r)}
		}
	}()
	depth, err := p.inferer.Infer(ctx, key, img)
	if err != nil {
		p.logger.Debugw("depth inference failed", "key", key, "error", err)
		return DepthResult{Err: err}
	}
	return DepthResult{Depth: depth}
}

// DepthEstimator is the depth-clustering ceiling estimator.
type DepthEstimator struct {
	cfg    DepthConfig
	pool   *DepthPool
	logger *zap.SugaredLogger
}

// NewDepthEstimator runs inferences through a pool sized by cfg.Workers.
func NewDepthEstimator(cfg DepthConfig, inferer DepthInferer, logger *zap.SugaredLogger) *DepthEstimator {
	return &DepthEstimator{
		cfg:    cfg,
		pool:   NewDepthPool(inferer, cfg.Workers, logger),
		logger: logger,
	}
}

// Method names the estimator in output records.
func (d *DepthEstimator) Method() string {
	return MethodDepth
}

// EstimateHeight infers the depth of img and converts its ceiling row with facadeHeight.
func (d *DepthEstimator) EstimateHeight(ctx context.Context, key string, img image.Image, facadeHeight float64) (Estimate, error) {
	if err := checkFacadeHeight(facadeHeight); err != nil {
		return Estimate{}, err
	}

	var res DepthResult
	select {
	case res = <-d.pool.Submit(ctx, key, img):
	case <-ctx.Done():
		return Estimate{}, ctx.Err()
	}
	if res.Err != nil {
		return Estimate{}, errors.Wrapf(res.Err, "depth for %s", key)
	}

	rows, cols := res.Depth.Dims()
	if bounds := img.Bounds(); rows != bounds.Dy() || cols != bounds.Dx() {
		return Estimate{}, errors.Errorf("depth map is %dx%d, image is %dx%d", cols, rows, bounds.Dx(), bounds.Dy())
	}
	centers, err := ClusterDepths(res.Depth, d.cfg)
	if err != nil {
		return Estimate{}, err
	}
	best, labels, components, err := CeilingFromCenters(res.Depth, centers)
	if err != nil {
		return Estimate{}, err
	}
	est := Estimate{
		Method:        MethodDepth,
		FacadeHeight:  facadeHeight,
		ImageHeight:   rows,
		CeilingRow:    best.Top,
		CeilingHeight: CeilingHeight(facadeHeight, best.Top, rows),
		Component:     best,
		Labels:        labels,
		Components:    components,
	}
	// a flat map, or clusters sharing a center, has no separable far surface
	if surfaces := DistinctSurfaces(centers); surfaces < 2 || surfaces < len(centers) {
		est.LowConfidence = true
		est.Warning = ErrDegenerateDepth
		d.logger.Debugw("depth clusters are not distinct surfaces", "key", key,
			"surfaces", surfaces, "clusters", len(centers), "ceiling_row", est.CeilingRow)
	}
	return est, nil
}
