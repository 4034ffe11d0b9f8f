package imports

import (
	"context"
	"image"
	"image/color"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DepthFileInferer serves depth maps computed offline by a monocular depth model.
// The map for key `<imageId>/facade_<n>` is read from `<Dir>/<imageId>/facade_<n>_depth.png`
// as 16 bit grayscale.
type DepthFileInferer struct {
	Dir string
}

// Path returns the depth map file of a key.
func (d DepthFileInferer) Path(key string) string {
	return filepath.Join(d.Dir, filepath.FromSlash(key)+"_depth.png")
}

// Infer loads the depth map of key, resampled to the bounds of img when sizes differ.
func (d DepthFileInferer) Infer(ctx context.Context, key string, img image.Image) (*mat.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	depthImg, err := imaging.Open(d.Path(key))
	if err != nil {
		return nil, errors.Wrapf(err, "depth map for %s", key)
	}
	return DepthFromImage(depthImg, img.Bounds().Dx(), img.Bounds().Dy()), nil
}

// DepthFromImage converts a grayscale depth image to a rows x cols matrix with nearest
// neighbour sampling.
func DepthFromImage(depthImg image.Image, width, height int) *mat.Dense {
	src := depthImg.Bounds()
	depth := mat.NewDense(height, width, nil)
	for row := 0; row < height; row++ {
		sy := src.Min.Y + row*src.Dy()/height
		for col := 0; col < width; col++ {
			sx := src.Min.X + col*src.Dx()/width
			g := color.Gray16Model.Convert(depthImg.At(sx, sy)).(color.Gray16)
			depth.Set(row, col, float64(g.Y))
		}
	}
	return depth
}
