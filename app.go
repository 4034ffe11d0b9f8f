package main

import (
	"context"
	"image/color"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"underpass.nl/heights/config"
	"underpass.nl/heights/imports"
	"underpass.nl/heights/pipeline"
	"underpass.nl/heights/sink"
)

// App runs the commands against one configuration.
type App struct {
	cfg    config.Config
	logger *zap.SugaredLogger
}

// NewApp binds the commands to cfg. Each command validates the inputs it reads.
func NewApp(cfg config.Config, logger *zap.SugaredLogger) *App {
	return &App{cfg: cfg, logger: logger}
}

// openSink writes records to the run directory and, when a broker is configured, to Kafka.
func (a *App) openSink(runDir string) (sink.Sink, error) {
	files, err := sink.NewFileSink(runDir)
	if err != nil {
		return nil, err
	}
	if !a.cfg.Kafka.Enabled() {
		return files, nil
	}
	producer, err := sink.NewKafkaSink(a.cfg.Kafka, a.logger.Named("kafka"))
	if err != nil {
		return nil, multierr.Append(err, files.Close())
	}
	return sink.Multi(files, producer), nil
}

// Heights estimates the clearance of every facade seen in imageIDs, or in every image of the
// parameter file when imageIDs is empty. Facade failures are reported, not returned.
func (a *App) Heights(ctx context.Context, imageIDs []string) (*RunReport, error) {
	needs := []config.Input{config.InputMesh, config.InputParams, config.InputImages, config.InputDepth}
	if err := a.cfg.Validate(needs...); err != nil {
		return nil, err
	}
	estimator, err := pipeline.NewHeightEstimator(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	inputs, err := pipeline.LoadInputs(a.cfg, a.logger, needs...)
	if err != nil {
		return nil, err
	}

	runID := sink.NewRunID()
	runDir := filepath.Join(a.cfg.OutputDir, runID)
	out, err := a.openSink(runDir)
	if err != nil {
		return nil, err
	}
	runner := pipeline.NewRunner(a.cfg, inputs, estimator, out, runID, a.logger.With("run_id", runID))
	results, runErr := runner.Run(ctx, imageIDs)
	if err := out.Close(); err != nil {
		a.logger.Warnw("cannot close record sinks", "error", err)
	}

	records := make([]sink.Record, 0, len(results))
	report := &RunReport{
		RunID:     runID,
		Estimator: estimator.Method(),
		OutputDir: runner.OutputDir(),
		Items:     len(results),
	}
	for _, res := range results {
		rec := res.Record(runID, estimator.Method())
		records = append(records, rec)
		if !rec.OK() {
			if report.Failed == nil {
				report.Failed = map[string]string{}
			}
			report.Failed[rec.FacadeID] = rec.Error
		}
	}
	report.Summary = sink.Summarize(records)
	a.logger.Infow("batch finished", "run_id", runID, "items", report.Items, "failed", report.Summary.Failed,
		"low_confidence", report.Summary.LowConfidence, "median_m", report.Summary.Median)

	if runErr != nil && errors.Is(runErr, context.DeadlineExceeded) {
		return report, errors.Wrap(runErr, "batch timed out")
	}
	return report, nil
}

// Footprints writes the ground footprint of every image as GeoJSON.
func (a *App) Footprints() (*FootprintReport, error) {
	if err := a.cfg.Validate(config.InputParams); err != nil {
		return nil, err
	}
	inputs, err := pipeline.LoadInputs(a.cfg, a.logger, config.InputParams)
	if err != nil {
		return nil, err
	}
	features, err := pipeline.Footprints(inputs.Cameras, a.cfg.GroundZ, a.logger)
	if err != nil {
		a.logger.Warnw("some footprints were not computed", "error", err)
	}
	path := filepath.Join(a.cfg.OutputDir, sink.FOOTPRINTS_FILE)
	if err := sink.WriteFootprints(path, features); err != nil {
		return nil, err
	}
	return &FootprintReport{Path: path, Images: len(inputs.Cameras.Rows), Features: len(features)}, nil
}

// Project outlines every facade visible in one image, in the colour of its mesh group.
func (a *App) Project(imageID string) (*ProjectReport, error) {
	needs := []config.Input{config.InputMesh, config.InputParams, config.InputImages}
	if err := a.cfg.Validate(needs...); err != nil {
		return nil, err
	}
	inputs, err := pipeline.LoadInputs(a.cfg, a.logger, needs...)
	if err != nil {
		return nil, err
	}
	row, err := inputs.Cameras.Lookup(imageID)
	if err != nil {
		return nil, err
	}
	cam, err := row.Camera()
	if err != nil {
		return nil, err
	}
	path, ok := inputs.ImagePath(imageID)
	if !ok {
		return nil, errors.Wrapf(imports.ErrUnknownImageID, "no photograph of %s in %s", imageID, a.cfg.ImagesDir)
	}
	img, err := imports.ReadImage(path)
	if err != nil {
		return nil, err
	}

	report := &ProjectReport{
		ImageID: imageID,
		Size:    Size{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()},
	}
	var (
		polygons [][4]r2.Point
		colors   []color.RGBA
	)
	for _, f := range inputs.Facades {
		polygon, err := pipeline.ProjectFacade(cam, f)
		if err != nil {
			a.logger.Debugw("facade not projected", "facade_id", f.ID(imageID), "error", err)
			report.Skipped = append(report.Skipped, f.ID(imageID))
			continue
		}
		polygons = append(polygons, polygon)
		colors = append(colors, f.Color)
	}
	report.Drawn = len(polygons)
	report.Path = filepath.Join(a.cfg.OutputDir, imageID, pipeline.OVERLAY_FILE)
	if err := imports.WriteJPEG(report.Path, pipeline.DrawFacades(img, polygons, colors)); err != nil {
		return nil, err
	}
	return report, nil
}
