// Package main is the underpass height command line.
package main

import (
	"encoding/json"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"underpass.nl/heights/config"
	"underpass.nl/heights/logging"
)

const (
	// Flags.
	flagEnvFile             = "env-file"
	flagDebug               = "debug"
	flagMesh                = "mesh"
	flagParams              = "params"
	flagMetashapeIntrinsics = "metashape-intrinsics"
	flagImages              = "images"
	flagDepth               = "depth"
	flagOutput              = "output"
	flagEstimator           = "estimator"
	flagSegmenter           = "segmenter"
	flagWorkers             = "workers"
	flagTimeout             = "timeout"
	flagSaveDebug           = "save-debug"
	flagMinFacadeArea       = "min-facade-area"
	flagMinClearance        = "min-clearance"
	flagGroundZ             = "ground-z"
	flagKafkaBrokers        = "kafka-brokers"
	flagKafkaTopic          = "kafka-topic"
)

func main() {
	app := &cli.App{
		Name:  "heights",
		Usage: "estimate underpass clearances from a facade mesh and oblique photographs",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  flagEnvFile,
				Usage: "dotenv files with UNDERPASS_* settings, read before the flags",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log at debug level",
			},
			&cli.StringFlag{
				Name:      flagMesh,
				Usage:     "colour coded OFF mesh of the facades",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:      flagParams,
				Usage:     "camera parameter table, or a Metashape export with --metashape-intrinsics",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:      flagMetashapeIntrinsics,
				Usage:     "OpenCV calibration XML shared by a Metashape camera export",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:  flagImages,
				Usage: "directory of the photographs, named after their image ids",
			},
			&cli.StringFlag{
				Name:  flagOutput,
				Usage: "directory receiving runs, footprints and overlays",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "heights",
				Usage:     "estimate the clearance below every facade seen in the given images",
				ArgsUsage: "[image id...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagEstimator,
						Usage: "ceiling estimator, edges or depth",
					},
					&cli.StringFlag{
						Name:  flagSegmenter,
						Usage: "segmenter of the edges estimator, native or opencv",
					},
					&cli.StringFlag{
						Name:  flagDepth,
						Usage: "directory of <image id>/facade_<n>_depth.png maps for the depth estimator",
					},
					&cli.IntFlag{
						Name:  flagWorkers,
						Usage: "facades processed concurrently",
					},
					&cli.DurationFlag{
						Name:  flagTimeout,
						Usage: "time budget of the whole batch",
					},
					&cli.BoolFlag{
						Name:  flagSaveDebug,
						Usage: "also write the component labels of every facade",
					},
					&cli.Float64Flag{
						Name:  flagMinFacadeArea,
						Usage: "smallest facade area in square meters",
					},
					&cli.Float64Flag{
						Name:  flagMinClearance,
						Usage: "smallest clearance in meters an opening may have",
					},
					&cli.StringFlag{
						Name:  flagKafkaBrokers,
						Usage: "bootstrap servers receiving the height records",
					},
					&cli.StringFlag{
						Name:  flagKafkaTopic,
						Usage: "topic of the height records",
					},
				},
				Action: HeightsAction,
			},
			{
				Name:  "footprints",
				Usage: "write the ground footprint of every image as GeoJSON",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagGroundZ,
						Usage: "elevation of the ground plane",
					},
				},
				Action: FootprintsAction,
			},
			{
				Name:      "project",
				Usage:     "outline the facades of the mesh on one photograph",
				ArgsUsage: "<image id>",
				Action:    ProjectAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(c *cli.Context) *zap.SugaredLogger {
	if c.Bool(flagDebug) {
		return logging.NewDebugLogger("heights")
	}
	return logging.NewLogger("heights")
}

// loadConfig reads the dotenv files and environment, then applies the flags that were set.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.FromEnv(c.StringSlice(flagEnvFile)...)
	if err != nil {
		return cfg, err
	}
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setFloat := func(name string, dst *float64) {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	setString(flagMesh, &cfg.MeshPath)
	setString(flagParams, &cfg.ParamsPath)
	setString(flagMetashapeIntrinsics, &cfg.MetashapeIntrinsicsPath)
	setString(flagImages, &cfg.ImagesDir)
	setString(flagDepth, &cfg.DepthDir)
	setString(flagOutput, &cfg.OutputDir)
	setString(flagEstimator, &cfg.Estimator)
	setString(flagSegmenter, &cfg.Ceiling.Segmenter)
	setString(flagKafkaBrokers, &cfg.Kafka.BootstrapServers)
	setString(flagKafkaTopic, &cfg.Kafka.Topic)
	setFloat(flagMinFacadeArea, &cfg.MinFacadeArea)
	setFloat(flagMinClearance, &cfg.Ceiling.MinHeightMeters)
	setFloat(flagGroundZ, &cfg.GroundZ)
	if c.IsSet(flagWorkers) {
		cfg.Workers = c.Int(flagWorkers)
	}
	if c.IsSet(flagTimeout) {
		cfg.BatchTimeout = c.Duration(flagTimeout)
	}
	if c.IsSet(flagSaveDebug) {
		cfg.SaveDebug = c.Bool(flagSaveDebug)
	}
	return cfg, nil
}

func newApp(c *cli.Context) (*App, *zap.SugaredLogger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(c)
	return NewApp(cfg, logger), logger, nil
}

func printJSON(c *cli.Context, v interface{}) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// HeightsAction runs a batch over the images named as arguments, or over all of them.
func HeightsAction(c *cli.Context) error {
	app, logger, err := newApp(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	report, err := app.Heights(c.Context, c.Args().Slice())
	if err != nil {
		return err
	}
	return printJSON(c, report)
}

// FootprintsAction writes footprints.geojson to the output directory.
func FootprintsAction(c *cli.Context) error {
	app, logger, err := newApp(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	report, err := app.Footprints()
	if err != nil {
		return err
	}
	return printJSON(c, report)
}

// ProjectAction draws the facade overlay of a single image.
func ProjectAction(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.Errorf("project takes exactly one image id, got %d", c.Args().Len())
	}
	app, logger, err := newApp(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	report, err := app.Project(c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(c, report)
}
