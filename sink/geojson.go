package sink

import (
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/pkg/errors"
)

const FOOTPRINTS_FILE = "footprints.geojson"

// FootprintFeature is the closed ground polygon seen by one image.
func FootprintFeature(imageID string, corners [4]r3.Vector) *geojson.Feature {
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		ring = append(ring, orb.Point{c.X, c.Y})
	}
	ring = append(ring, ring[0])
	if ring.Orientation() == orb.CW {
		ring.Reverse()
	}

	polygon := orb.Polygon{ring}
	feature := geojson.NewFeature(polygon)
	feature.Properties["image_id"] = imageID
	feature.Properties["ground_z"] = corners[0].Z
	feature.Properties["area_m2"] = planar.Area(polygon)
	return feature
}

// WriteFootprints writes the features as one FeatureCollection.
func WriteFootprints(path string, features []*geojson.Feature) error {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "cannot encode footprints")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadFootprints loads a FeatureCollection written by WriteFootprints.
func ReadFootprints(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return geojson.UnmarshalFeatureCollection(data)
}
