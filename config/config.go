// Package config holds the settings of a height estimation run.
package config

import (
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"underpass.nl/heights/ceiling"
	"underpass.nl/heights/facade"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Input names a file or directory a command reads.
type Input int

const (
	InputMesh Input = iota
	InputParams
	InputImages
	InputDepth
)

// Config is passed explicitly to every component of a run.
type Config struct {
	MeshPath   string
	ParamsPath string
	// MetashapeIntrinsicsPath switches ParamsPath to a Metashape camera export sharing these intrinsics.
	MetashapeIntrinsicsPath string
	ImagesDir               string
	DepthDir                string
	OutputDir               string

	MinFacadeArea     float64
	WallNormalEpsilon float64
	GroundZ           float64

	Estimator string
	Ceiling   ceiling.Config
	Depth     ceiling.DepthConfig

	Workers      int
	BatchTimeout time.Duration
	SaveDebug    bool

	Kafka KafkaConfig
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		OutputDir:         "output",
		MinFacadeArea:     facade.MIN_FACADE_AREA,
		WallNormalEpsilon: facade.WALL_NORMAL_EPSILON,
		Estimator:         ceiling.MethodEdges,
		Ceiling:           ceiling.DefaultConfig(),
		Depth:             ceiling.DefaultDepthConfig(),
		Workers:           runtime.NumCPU(),
		BatchTimeout:      time.Hour,
		Kafka:             DefaultKafkaConfig(),
	}
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidConfig, format, args...)
}

// Validate reports every missing input among needs and every out of range setting.
func (c Config) Validate(needs ...Input) error {
	var err error
	for _, need := range needs {
		switch need {
		case InputMesh:
			if c.MeshPath == "" {
				err = multierr.Append(err, invalid("mesh path is required"))
			}
		case InputParams:
			if c.ParamsPath == "" {
				err = multierr.Append(err, invalid("camera parameters path is required"))
			}
		case InputImages:
			if c.ImagesDir == "" {
				err = multierr.Append(err, invalid("images directory is required"))
			}
		case InputDepth:
			if c.Estimator == ceiling.MethodDepth && c.DepthDir == "" {
				err = multierr.Append(err, invalid("depth directory is required by the depth estimator"))
			}
		}
	}

	if c.Estimator != ceiling.MethodEdges && c.Estimator != ceiling.MethodDepth {
		err = multierr.Append(err, invalid("unknown estimator %q", c.Estimator))
	}
	if c.MinFacadeArea < 0 {
		err = multierr.Append(err, invalid("minimum facade area %v is negative", c.MinFacadeArea))
	}
	if c.WallNormalEpsilon < 0 || c.WallNormalEpsilon >= 1 {
		err = multierr.Append(err, invalid("wall normal epsilon %v is outside [0, 1)", c.WallNormalEpsilon))
	}
	if c.Workers < 1 {
		err = multierr.Append(err, invalid("workers must be at least 1, got %d", c.Workers))
	}
	if c.BatchTimeout < 0 {
		err = multierr.Append(err, invalid("batch timeout %v is negative", c.BatchTimeout))
	}
	if c.Ceiling.CannyLow > c.Ceiling.CannyHigh {
		err = multierr.Append(err, invalid("canny low threshold %v exceeds high %v", c.Ceiling.CannyLow, c.Ceiling.CannyHigh))
	}
	if c.Ceiling.MinSolidity < 0 || c.Ceiling.MinSolidity > 1 {
		err = multierr.Append(err, invalid("minimum solidity %v is outside [0, 1]", c.Ceiling.MinSolidity))
	}
	if c.Ceiling.MinHeightMeters < 0 {
		err = multierr.Append(err, invalid("minimum clearance %v is negative", c.Ceiling.MinHeightMeters))
	}
	if c.Depth.Clusters < 1 {
		err = multierr.Append(err, invalid("depth clusters must be at least 1, got %d", c.Depth.Clusters))
	}
	if c.Depth.DeltaThreshold <= 0 || c.Depth.DeltaThreshold >= 1 {
		err = multierr.Append(err, invalid("depth delta threshold %v is outside (0, 1)", c.Depth.DeltaThreshold))
	}
	return err
}
