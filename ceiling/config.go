package ceiling

import "runtime"

// Config holds the thresholds of the edge/connected-component estimator.
type Config struct {
	Segmenter       string  // registered segmenter name, "native" or "opencv"
	BlurSigma       float64 // gaussian blur applied to the grayscale facade
	CannyLow        float64 // hysteresis low threshold on the L1 gradient magnitude
	CannyHigh       float64 // hysteresis high threshold on the L1 gradient magnitude
	CloseKernel     int     // side of the square structuring element used for closing
	EdgeSmoothing   float64 // blur of the closed edge map before Otsu; 0 = off
	TopMargin       int     // candidates must start at least this many rows below the top
	GroundMargin    int     // candidates must end within this many rows of the bottom
	MinHeightMeters float64 // smallest clearance a candidate may represent
	MinSolidity     float64 // area / bounding box area
}

// DepthConfig holds the parameters of the depth-clustering estimator.
type DepthConfig struct {
	Clusters       int     // number of depth surfaces
	Attempts       int     // k-means restarts, the lowest inertia wins
	DeltaThreshold float64 // stop when fewer than this fraction of samples change cluster
	MaxSamples     int     // depth values used to fit the cluster centers
	Workers        int     // concurrent depth inferences
}

// DefaultConfig returns a Config with the thresholds the estimator was tuned with.
func DefaultConfig() Config {
	return Config{
		Segmenter:       NativeSegmenterName,
		BlurSigma:       0.8,
		CannyLow:        30,
		CannyHigh:       100,
		CloseKernel:     3,
		EdgeSmoothing:   0,
		TopMargin:       50,
		GroundMargin:    50,
		MinHeightMeters: 2,
		MinSolidity:     0.6,
	}
}

// DefaultDepthConfig returns a DepthConfig with sensible defaults.
func DefaultDepthConfig() DepthConfig {
	return DepthConfig{
		Clusters:       3,
		Attempts:       10,
		DeltaThreshold: 0.01,
		MaxSamples:     20000,
		Workers:        runtime.NumCPU(),
	}
}
