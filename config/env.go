package config

import (
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ENV_PREFIX starts every environment variable read by FromEnv.
const ENV_PREFIX = "UNDERPASS_"

// FromEnv loads the given .env files (".env" when none is given; missing files are ignored)
// and overlays UNDERPASS_* variables on the defaults. Malformed values are all reported.
func FromEnv(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "cannot load .env file")
	}

	cfg := DefaultConfig()
	env := &envReader{}

	cfg.MeshPath = env.String("MESH", cfg.MeshPath)
	cfg.ParamsPath = env.String("PARAMS", cfg.ParamsPath)
	cfg.MetashapeIntrinsicsPath = env.String("METASHAPE_INTRINSICS", cfg.MetashapeIntrinsicsPath)
	cfg.ImagesDir = env.String("IMAGES", cfg.ImagesDir)
	cfg.DepthDir = env.String("DEPTH", cfg.DepthDir)
	cfg.OutputDir = env.String("OUTPUT", cfg.OutputDir)

	cfg.MinFacadeArea = env.Float("MIN_FACADE_AREA", cfg.MinFacadeArea)
	cfg.WallNormalEpsilon = env.Float("WALL_NORMAL_EPSILON", cfg.WallNormalEpsilon)
	cfg.GroundZ = env.Float("GROUND_Z", cfg.GroundZ)

	cfg.Estimator = env.String("ESTIMATOR", cfg.Estimator)
	cfg.Ceiling.Segmenter = env.String("SEGMENTER", cfg.Ceiling.Segmenter)
	cfg.Ceiling.BlurSigma = env.Float("BLUR_SIGMA", cfg.Ceiling.BlurSigma)
	cfg.Ceiling.CannyLow = env.Float("CANNY_LOW", cfg.Ceiling.CannyLow)
	cfg.Ceiling.CannyHigh = env.Float("CANNY_HIGH", cfg.Ceiling.CannyHigh)
	cfg.Ceiling.CloseKernel = env.Int("CLOSE_KERNEL", cfg.Ceiling.CloseKernel)
	cfg.Ceiling.EdgeSmoothing = env.Float("EDGE_SMOOTHING", cfg.Ceiling.EdgeSmoothing)
	cfg.Ceiling.TopMargin = env.Int("TOP_MARGIN", cfg.Ceiling.TopMargin)
	cfg.Ceiling.GroundMargin = env.Int("GROUND_MARGIN", cfg.Ceiling.GroundMargin)
	cfg.Ceiling.MinHeightMeters = env.Float("MIN_CLEARANCE", cfg.Ceiling.MinHeightMeters)
	cfg.Ceiling.MinSolidity = env.Float("MIN_SOLIDITY", cfg.Ceiling.MinSolidity)

	cfg.Depth.Clusters = env.Int("DEPTH_CLUSTERS", cfg.Depth.Clusters)
	cfg.Depth.Attempts = env.Int("DEPTH_ATTEMPTS", cfg.Depth.Attempts)
	cfg.Depth.DeltaThreshold = env.Float("DEPTH_DELTA_THRESHOLD", cfg.Depth.DeltaThreshold)
	cfg.Depth.MaxSamples = env.Int("DEPTH_MAX_SAMPLES", cfg.Depth.MaxSamples)
	cfg.Depth.Workers = env.Int("DEPTH_WORKERS", cfg.Depth.Workers)

	cfg.Workers = env.Int("WORKERS", cfg.Workers)
	cfg.BatchTimeout = env.Duration("BATCH_TIMEOUT", cfg.BatchTimeout)
	cfg.SaveDebug = env.Bool("SAVE_DEBUG", cfg.SaveDebug)

	cfg.Kafka.BootstrapServers = env.String("KAFKA_BOOTSTRAP_SERVERS", cfg.Kafka.BootstrapServers)
	cfg.Kafka.SecurityProtocol = env.String("KAFKA_SECURITY_PROTOCOL", cfg.Kafka.SecurityProtocol)
	cfg.Kafka.SASLMechanism = env.String("KAFKA_SASL_MECHANISM", cfg.Kafka.SASLMechanism)
	cfg.Kafka.SASLUsername = env.String("KAFKA_SASL_USERNAME", cfg.Kafka.SASLUsername)
	cfg.Kafka.SASLPassword = env.String("KAFKA_SASL_PASSWORD", cfg.Kafka.SASLPassword)
	cfg.Kafka.Topic = env.String("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.CompressionType = env.String("KAFKA_COMPRESSION_TYPE", cfg.Kafka.CompressionType)
	cfg.Kafka.Acks = env.String("KAFKA_ACKS", cfg.Kafka.Acks)
	cfg.Kafka.LingerMS = env.Int("KAFKA_LINGER_MS", cfg.Kafka.LingerMS)
	cfg.Kafka.FlushTimeout = env.Duration("KAFKA_FLUSH_TIMEOUT", cfg.Kafka.FlushTimeout)

	return cfg, env.err
}

// envReader reads prefixed variables, keeping the default and recording an error on bad values.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(ENV_PREFIX + key)
	return value, ok && value != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.err = multierr.Append(e.err, errors.Wrapf(ErrInvalidConfig, "%s%s=%q: %v", ENV_PREFIX, key, value, err))
}

func (e *envReader) String(key, defaultValue string) string {
	if value, ok := e.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (e *envReader) Int(key string, defaultValue int) int {
	value, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return parsed
}

func (e *envReader) Float(key string, defaultValue float64) float64 {
	value, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return parsed
}

func (e *envReader) Bool(key string, defaultValue bool) bool {
	value, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return parsed
}

func (e *envReader) Duration(key string, defaultValue time.Duration) time.Duration {
	value, ok := e.lookup(key)
	if !ok {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		e.fail(key, value, err)
		return defaultValue
	}
	return parsed
}
