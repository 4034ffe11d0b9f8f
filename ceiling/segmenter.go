package ceiling

import (
	"image"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// NativeSegmenterName is the pure Go segmenter, always available.
const NativeSegmenterName = "native"

// Segmenter turns a rectified facade into labelled regions enclosed by closed edges.
type Segmenter interface {
	Segment(img image.Image) (*Labels, []Component, error)
}

// SegmenterFactory builds a segmenter from the estimator thresholds.
type SegmenterFactory func(cfg Config) Segmenter

var (
	segmentersMu sync.RWMutex
	segmenters   = map[string]SegmenterFactory{}
)

// RegisterSegmenter makes a segmenter available under name.
func RegisterSegmenter(name string, factory SegmenterFactory) {
	segmentersMu.Lock()
	defer segmentersMu.Unlock()
	segmenters[name] = factory
}

// Segmenters lists the registered segmenter names.
func Segmenters() []string {
	segmentersMu.RLock()
	defer segmentersMu.RUnlock()
	names := lo.Keys(segmenters)
	sort.Strings(names)
	return names
}

// NewSegmenter returns the segmenter registered under cfg.Segmenter.
func NewSegmenter(cfg Config) (Segmenter, error) {
	name := cfg.Segmenter
	if name == "" {
		name = NativeSegmenterName
	}
	segmentersMu.RLock()
	factory, ok := segmenters[name]
	segmentersMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSegmenter, "%q (have %v)", name, Segmenters())
	}
	return factory(cfg), nil
}

func init() {
	RegisterSegmenter(NativeSegmenterName, func(cfg Config) Segmenter {
		return &nativeSegmenter{cfg: cfg}
	})
}

type nativeSegmenter struct {
	cfg Config
}

// Segment runs grayscale, blur, Canny, closing, inverted Otsu and 4-connected labelling.
func (s *nativeSegmenter) Segment(img image.Image) (*Labels, []Component, error) {
	if img.Bounds().Empty() {
		return nil, nil, ErrEmptyImage
	}
	gray := Grayscale(img, s.cfg.BlurSigma)
	edges := Canny(gray, s.cfg.CannyLow, s.cfg.CannyHigh)
	closed := smoothGray(Close(edges, s.cfg.CloseKernel), s.cfg.EdgeSmoothing)
	regions := BinarizeInv(closed, OtsuThreshold(closed))
	labels, components := ConnectedComponents(regions, 4)
	return labels, components, nil
}
