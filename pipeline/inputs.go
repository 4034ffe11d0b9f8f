// Package pipeline drives a batch: facades of one mesh, seen from many calibrated images.
package pipeline

import (
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"underpass.nl/heights/config"
	"underpass.nl/heights/facade"
	"underpass.nl/heights/imports"
)

// Inputs are loaded once per batch and only read afterwards, so workers share them unlocked.
type Inputs struct {
	Mesh    *imports.Mesh
	Cameras *imports.CameraTable
	Facades []facade.Facade
	// Images maps image ids (file names without extension) to file paths.
	Images map[string]string
}

// ReadCameras loads the plain parameter table, or a Metashape export when intrinsics are given.
func ReadCameras(cfg config.Config) (*imports.CameraTable, error) {
	if cfg.MetashapeIntrinsicsPath != "" {
		return imports.ReadMetashapeCameras(cfg.MetashapeIntrinsicsPath, cfg.ParamsPath)
	}
	return imports.ReadCameraTable(cfg.ParamsPath)
}

// LoadInputs reads what the needs ask for. Failing to open any of them is fatal for the run.
func LoadInputs(cfg config.Config, logger *zap.SugaredLogger, needs ...config.Input) (*Inputs, error) {
	in := &Inputs{Images: map[string]string{}}
	for _, need := range needs {
		switch need {
		case config.InputMesh:
			mesh, err := imports.ReadMesh(cfg.MeshPath)
			if err != nil {
				return nil, err
			}
			for _, skipped := range mesh.Skipped {
				logger.Debugw("skipped mesh row", "error", skipped)
			}
			in.Mesh = mesh
			in.Facades = facade.NewExtractor(cfg.MinFacadeArea, cfg.WallNormalEpsilon, logger).Extract(mesh)
			logger.Infow("mesh loaded", "vertices", len(mesh.Vertices), "faces", len(mesh.Faces),
				"skipped", len(mesh.Skipped), "facades", len(in.Facades))
		case config.InputParams:
			cameras, err := ReadCameras(cfg)
			if err != nil {
				return nil, err
			}
			for _, skipped := range cameras.Skipped {
				logger.Debugw("skipped camera row", "error", skipped)
			}
			in.Cameras = cameras
			logger.Infow("camera parameters loaded", "images", len(cameras.Rows), "skipped", len(cameras.Skipped))
		case config.InputImages:
			images, err := imports.ReadChildImages(cfg.ImagesDir)
			if err != nil {
				return nil, err
			}
			for id, name := range images {
				in.Images[id] = filepath.Join(cfg.ImagesDir, name)
			}
		}
	}
	return in, nil
}

// ImagePath finds the photograph of an image id, which may carry its file extension.
func (in *Inputs) ImagePath(imageID string) (string, bool) {
	if path, ok := in.Images[imageID]; ok {
		return path, true
	}
	path, ok := in.Images[strings.TrimSuffix(imageID, filepath.Ext(imageID))]
	return path, ok
}
