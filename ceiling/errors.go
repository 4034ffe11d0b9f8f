package ceiling

import "github.com/pkg/errors"

var (
	// ErrInvalidFacadeHeight is returned when the mesh height of a facade is zero or negative.
	ErrInvalidFacadeHeight = errors.New("invalid facade height")

	// ErrNoCandidateComponent is reported when no component passes the candidate filter.
	// The estimate then falls back to all components and is marked low confidence.
	ErrNoCandidateComponent = errors.New("no candidate ceiling component")

	// ErrDegenerateDepth is reported when the depth map does not separate into distinct surfaces.
	// The estimate is then marked low confidence.
	ErrDegenerateDepth = errors.New("depth map has no distinct surfaces")

	// ErrEmptyImage is returned for an image without pixels.
	ErrEmptyImage = errors.New("empty image")

	// ErrUnknownSegmenter is returned when no segmenter is registered under a name.
	ErrUnknownSegmenter = errors.New("unknown segmenter")
)
