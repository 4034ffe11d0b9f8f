package pipeline

import (
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"underpass.nl/heights/imports"
	"underpass.nl/heights/sink"
)

// Footprints computes the ground footprint on Z = groundZ of every image of the table.
// Images whose footprint cannot be computed are logged and left out; their errors are returned
// combined alongside the features of the others.
func Footprints(cameras *imports.CameraTable, groundZ float64, logger *zap.SugaredLogger) ([]*geojson.Feature, error) {
	var (
		features []*geojson.Feature
		errs     error
	)
	for _, id := range cameras.ImageIDs() {
		corners, err := imageFootprint(cameras, id, groundZ)
		if err == nil {
			features = append(features, sink.FootprintFeature(id, corners))
			continue
		}
		logger.Warnw("no footprint", "image_id", id, "error", err)
		errs = multierr.Append(errs, errors.Wrap(err, id))
	}
	return features, errs
}

func imageFootprint(cameras *imports.CameraTable, imageID string, groundZ float64) ([4]r3.Vector, error) {
	row, err := cameras.Lookup(imageID)
	if err != nil {
		return [4]r3.Vector{}, err
	}
	cam, err := row.Camera()
	if err != nil {
		return [4]r3.Vector{}, err
	}
	return cam.Footprint(groundZ)
}
