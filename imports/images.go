package imports

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/h2non/bimg"
	"github.com/pkg/errors"
)

var ACCEPTABLE_IMAGES_EXT = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

const JPEG_QUALITY = 90

// ReadChildImages maps the image id (file name without extension) of every photograph
// directly inside dir to its file name.
func ReadChildImages(dir string) (map[string]string, error) {
	toRet := make(map[string]string)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "cannot list images")
	}

	for _, v := range entries {
		if v.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(v.Name()))
		if ACCEPTABLE_IMAGES_EXT[ext] {
			toRet[strings.TrimSuffix(filepath.Base(v.Name()), filepath.Ext(v.Name()))] = v.Name()
		}
	}
	return toRet, nil
}

// ReadImage decodes a photograph. Formats the standard decoders do not know (TIFF from
// aerial cameras) are converted to PNG by libvips first.
func ReadImage(path string) (image.Image, error) {
	buffer, err := bimg.Read(path)
	if err != nil {
		return nil, err
	}
	switch bimg.DetermineImageType(buffer) {
	case bimg.JPEG, bimg.PNG:
	default:
		buffer, err = bimg.NewImage(buffer).Convert(bimg.PNG)
		if err != nil {
			return nil, errors.Wrapf(err, "converting %s", path)
		}
	}
	img, _, err := image.Decode(bytes.NewReader(buffer))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return img, nil
}

// WriteJPEG encodes img and lets libvips compress it.
func WriteJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return err
	}
	compressed, err := bimg.NewImage(buf.Bytes()).Process(bimg.Options{Type: bimg.JPEG, Quality: JPEG_QUALITY})
	if err != nil {
		return errors.Wrapf(err, "compressing %s", path)
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return bimg.Write(path, compressed)
}

// WritePNG stores img losslessly.
func WritePNG(path string, img image.Image) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return imaging.Save(img, path)
}

func ensureDir(dir string) error {
	dirExists, err := exists(dir)
	if err != nil {
		return err
	}
	if dirExists {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
