package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"underpass.nl/heights/ceiling"
	"underpass.nl/heights/config"
	"underpass.nl/heights/facade"
	"underpass.nl/heights/imports"
	sph "underpass.nl/heights/photogrammetry"
	"underpass.nl/heights/rectify"
	"underpass.nl/heights/sink"
)

// HeightEstimator turns a rectified facade of known height into a ceiling estimate.
type HeightEstimator interface {
	EstimateHeight(ctx context.Context, key string, img image.Image, facadeHeight float64) (ceiling.Estimate, error)
	Method() string
}

// NewHeightEstimator builds the estimator named by cfg.Estimator.
func NewHeightEstimator(cfg config.Config, logger *zap.SugaredLogger) (HeightEstimator, error) {
	switch cfg.Estimator {
	case ceiling.MethodDepth:
		inferer := imports.DepthFileInferer{Dir: cfg.DepthDir}
		return ceiling.NewDepthEstimator(cfg.Depth, inferer, logger.Named("depth")), nil
	case ceiling.MethodEdges, "":
		return ceiling.NewEstimator(cfg.Ceiling, logger.Named("edges"))
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown estimator %q", cfg.Estimator)
	}
}

// Item is one facade seen from one image.
type Item struct {
	ImageID string
	Facade  facade.Facade
}

// Key names the item in depth lookups and artifact paths: <imageId>/facade_<n>.
func (it Item) Key() string {
	return fmt.Sprintf("%s/facade_%d", it.ImageID, it.Facade.Index)
}

// Result is the outcome of one item. Err is set when no estimate could be made.
type Result struct {
	Item
	Estimate  ceiling.Estimate
	Err       error
	Artifacts []string
	Elapsed   time.Duration
}

// Record flattens the result for the sinks.
func (r Result) Record(runID, method string) sink.Record {
	rec := sink.Record{
		RunID:         runID,
		FacadeID:      r.Facade.ID(r.ImageID),
		ImageID:       r.ImageID,
		FacadeIndex:   r.Facade.Index,
		FacadeHeight:  r.Facade.Height,
		CeilingRow:    r.Estimate.CeilingRow,
		CeilingHeight: r.Estimate.CeilingHeight,
		LowConfidence: r.Estimate.LowConfidence,
		Estimator:     method,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
		rec.LowConfidence = errors.Is(r.Err, ceiling.ErrInvalidFacadeHeight)
	}
	return rec
}

// Runner processes items with a bounded number of workers.
type Runner struct {
	cfg       config.Config
	inputs    *Inputs
	estimator HeightEstimator
	sink      sink.Sink
	runID     string
	outDir    string
	logger    *zap.SugaredLogger

	// OnResult, when set, is called as soon as each item finishes. It must be safe for
	// concurrent use.
	OnResult func(Result)

	sources sync.Map // image id -> func() (sourceImage, error)
}

// NewRunner writes artifacts under <OutputDir>/<runID>. out may be nil.
func NewRunner(cfg config.Config, inputs *Inputs, estimator HeightEstimator, out sink.Sink, runID string, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		cfg:       cfg,
		inputs:    inputs,
		estimator: estimator,
		sink:      out,
		runID:     runID,
		outDir:    filepath.Join(cfg.OutputDir, runID),
		logger:    logger,
	}
}

// OutputDir is where the artifacts of this run are written.
func (r *Runner) OutputDir() string {
	return r.outDir
}

// Items pairs every image with every facade. Images without a photograph are skipped.
func (r *Runner) Items(imageIDs []string) []Item {
	if len(imageIDs) == 0 {
		imageIDs = r.inputs.Cameras.ImageIDs()
	}
	var items []Item
	for _, id := range lo.Uniq(imageIDs) {
		if _, ok := r.inputs.ImagePath(id); !ok {
			r.logger.Debugw("no photograph for image", "image_id", id)
			continue
		}
		for _, f := range r.inputs.Facades {
			items = append(items, Item{ImageID: id, Facade: f})
		}
	}
	return items
}

// Run estimates every item within the batch timeout. Per item failures never stop the batch:
// they are kept in their Result and also returned combined. Results are sorted by image id
// and facade index.
func (r *Runner) Run(ctx context.Context, imageIDs []string) ([]Result, error) {
	if r.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.BatchTimeout)
		defer cancel()
	}

	items := r.Items(imageIDs)
	r.logger.Infow("starting batch", "run_id", r.runID, "items", len(items), "workers", r.cfg.Workers,
		"estimator", r.estimator.Method())

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(items))
		errs    error
	)
	g := new(errgroup.Group)
	g.SetLimit(max(r.cfg.Workers, 1))
	for _, item := range items {
		item := item
		g.Go(func() error {
			res := r.process(ctx, item)
			r.emit(res)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			if res.Err != nil {
				errs = multierr.Append(errs, errors.Wrap(res.Err, item.Key()))
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		if results[i].ImageID != results[j].ImageID {
			return results[i].ImageID < results[j].ImageID
		}
		return results[i].Facade.Index < results[j].Facade.Index
	})
	return results, errs
}

func (r *Runner) emit(res Result) {
	if res.Err != nil {
		r.logger.Warnw("facade skipped", "image_id", res.ImageID, "facade_id", res.Facade.ID(res.ImageID), "error", res.Err)
	} else if res.Estimate.LowConfidence {
		r.logger.Infow("low confidence estimate", "image_id", res.ImageID, "facade_id", res.Facade.ID(res.ImageID),
			"warning", res.Estimate.Warning)
	}
	if r.sink != nil {
		if err := r.sink.Write(res.Record(r.runID, r.estimator.Method())); err != nil {
			r.logger.Warnw("cannot write record", "image_id", res.ImageID, "facade_id", res.Facade.ID(res.ImageID), "error", err)
		}
	}
	if r.OnResult != nil {
		r.OnResult(res)
	}
}

// source returns the camera and decoded photograph of an image, loading them once.
func (r *Runner) source(imageID string) (*sph.Camera, image.Image, error) {
	load, _ := r.sources.LoadOrStore(imageID, sync.OnceValues(func() (sourceImage, error) {
		row, err := r.inputs.Cameras.Lookup(imageID)
		if err != nil {
			return sourceImage{}, err
		}
		cam, err := row.Camera()
		if err != nil {
			return sourceImage{}, err
		}
		path, _ := r.inputs.ImagePath(imageID)
		img, err := imports.ReadImage(path)
		if err != nil {
			return sourceImage{}, err
		}
		if size := img.Bounds().Size(); size.X != cam.Intrinsics.Width || size.Y != cam.Intrinsics.Height {
			r.logger.Warnw("photograph size differs from its camera parameters", "image_id", imageID,
				"width", size.X, "height", size.Y, "camera_width", cam.Intrinsics.Width, "camera_height", cam.Intrinsics.Height)
		}
		r.logger.Debugw("camera loaded", "image_id", imageID,
			"omega_deg", sph.Degrees(cam.Pose.Omega), "phi_deg", sph.Degrees(cam.Pose.Phi), "kappa_deg", sph.Degrees(cam.Pose.Kappa),
			"projection", sph.MatrixString(cam.M))
		return sourceImage{cam: cam, img: img}, nil
	}))
	src, err := load.(func() (sourceImage, error))()
	return src.cam, src.img, err
}

type sourceImage struct {
	cam *sph.Camera
	img image.Image
}

func (r *Runner) process(ctx context.Context, item Item) (res Result) {
	res.Item = item
	start := time.Now()
	defer func() { res.Elapsed = time.Since(start) }()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	cam, img, err := r.source(item.ImageID)
	if err != nil {
		res.Err = err
		return res
	}
	corners, err := ProjectFacade(cam, item.Facade)
	if err != nil {
		res.Err = err
		return res
	}
	rectified, err := rectify.RectifyOrdered(img, corners)
	if err != nil {
		res.Err = err
		return res
	}
	base := filepath.Join(r.outDir, filepath.FromSlash(item.Key()))
	if err := imports.WritePNG(base+"_rectified.png", rectified); err != nil {
		r.logger.Warnw("cannot write rectified facade", "image_id", item.ImageID, "error", err)
	} else {
		res.Artifacts = append(res.Artifacts, base+"_rectified.png")
	}

	est, err := r.estimator.EstimateHeight(ctx, item.Key(), rectified, item.Facade.Height)
	if err != nil {
		res.Err = err
		return res
	}
	res.Estimate = est
	res.Artifacts = append(res.Artifacts, r.writeArtifacts(base, rectified, est)...)
	return res
}

func (r *Runner) writeArtifacts(base string, rectified image.Image, est ceiling.Estimate) []string {
	var written []string
	if err := imports.WriteJPEG(base+"_estimated.jpg", ceiling.Annotate(rectified, est)); err != nil {
		r.logger.Warnw("cannot write annotated facade", "path", base+"_estimated.jpg", "error", err)
	} else {
		written = append(written, base+"_estimated.jpg")
	}
	if r.cfg.SaveDebug && est.Labels != nil {
		path := base + "_components.png"
		if err := imports.WritePNG(path, est.Labels.FalseColor(len(est.Components))); err != nil {
			r.logger.Warnw("cannot write component labels", "path", path, "error", err)
		} else {
			written = append(written, path)
		}
	}
	return written
}
