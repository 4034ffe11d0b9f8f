// Package imports reads the inputs of a height run: the facade mesh, the camera parameter
// table, source photographs and precomputed depth maps.
package imports

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInputFormat marks a malformed mesh or parameter row. Such rows are skipped.
	ErrInputFormat = errors.New("malformed input row")

	// ErrUnknownImageID is returned when no camera row matches an image id.
	ErrUnknownImageID = errors.New("unknown image id")
)

func newInputFormatError(path string, line int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrInputFormat, "%s:%d: %s", path, line, fmt.Sprintf(format, args...))
}
