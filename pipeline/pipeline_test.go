package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/test"

	"underpass.nl/heights/config"
	"underpass.nl/heights/facade"
	"underpass.nl/heights/imports"
	sph "underpass.nl/heights/photogrammetry"
	"underpass.nl/heights/rectify"
	"underpass.nl/heights/sink"
	"underpass.nl/heights/testutils"
)

// a 4 x 5 m wall on y = 0 and a roof triangle that is not a facade
const wallMesh = `OFF
5 3 0
0 0 0
4 0 0
4 0 5
0 0 5
2 3 5
3 0 1 2 200 30 30
3 0 2 3 200 30 30
3 3 2 4 90 90 90
`

// IMG_01 faces the wall from 10 m south, IMG_02 stands 10 m north of it looking away.
const cameraParams = `imageId width height x y z omega phi kappa fx fy cx cy
IMG_01 1000 1000 2 -10 2.5 -90 0 0 1000 1000 500 500
IMG_02 1000 1000 2 10 2.5 -90 0 0 1000 1000 500 500
IMG_03 1000 1000 2 -10 2.5 -90 0 0 1000 1000 500 500
`

var (
	sky     = color.RGBA{230, 230, 240, 255}
	wall    = color.RGBA{200, 200, 200, 255}
	opening = color.RGBA{40, 40, 40, 255}
)

// photo renders what IMG_01 sees: the wall spans u in [300, 700] and v in [250, 750], the
// opening x in [1.5, 2.5], z in [0, 3.5] spans u in [450, 550] and v in [400, 750].
func photo() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 1000, 1000))
	draw.Draw(img, img.Bounds(), &image.Uniform{sky}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(300, 250, 700, 750), &image.Uniform{wall}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(450, 400, 550, 750), &image.Uniform{opening}, image.Point{}, draw.Src)
	return img
}

func writeScene(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.MeshPath = filepath.Join(dir, "mesh.off")
	cfg.ParamsPath = filepath.Join(dir, "params.txt")
	cfg.ImagesDir = filepath.Join(dir, "images")
	cfg.OutputDir = filepath.Join(dir, "output")
	cfg.Workers = 2
	cfg.SaveDebug = true

	test.That(t, os.WriteFile(cfg.MeshPath, []byte(wallMesh), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(cfg.ParamsPath, []byte(cameraParams), 0o600), test.ShouldBeNil)
	for _, id := range []string{"IMG_01", "IMG_02"} {
		test.That(t, imports.WritePNG(filepath.Join(cfg.ImagesDir, id+".png"), photo()), test.ShouldBeNil)
	}
	return cfg
}

func loadScene(t *testing.T, cfg config.Config) *Inputs {
	t.Helper()
	inputs, err := LoadInputs(cfg, testutils.NewTestLogger(t), config.InputMesh, config.InputParams, config.InputImages)
	test.That(t, err, test.ShouldBeNil)
	return inputs
}

func TestLoadInputs(t *testing.T) {
	inputs := loadScene(t, writeScene(t))
	test.That(t, len(inputs.Mesh.Faces), test.ShouldEqual, 3)
	test.That(t, len(inputs.Cameras.Rows), test.ShouldEqual, 3)
	test.That(t, len(inputs.Facades), test.ShouldEqual, 1)
	test.That(t, inputs.Facades[0].Height, test.ShouldEqual, 5.)
	test.That(t, inputs.Facades[0].Area, test.ShouldAlmostEqual, 20, 1e-9)

	path, ok := inputs.ImagePath("IMG_01")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, filepath.Base(path), test.ShouldEqual, "IMG_01.png")
	_, ok = inputs.ImagePath("IMG_01.JPG")
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = inputs.ImagePath("IMG_03")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestLoadInputsMissingMesh(t *testing.T) {
	cfg := writeScene(t)
	cfg.MeshPath = filepath.Join(t.TempDir(), "missing.off")
	_, err := LoadInputs(cfg, testutils.NewTestLogger(t), config.InputMesh)
	test.That(t, err, test.ShouldNotBeNil)
}

func testCamera(t *testing.T, center r3.Vector) *sph.Camera {
	t.Helper()
	pose := sph.NewPose(center, -90, 0, 0)
	cam, err := sph.NewCamera("test", pose, sph.Intrinsics{Width: 1000, Height: 1000, Fx: 1000, Fy: 1000, Cx: 500, Cy: 500})
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func wallFacade() facade.Facade {
	return facade.Facade{
		Color: color.RGBA{200, 30, 30, 255},
		Rectangle: [4]r3.Vector{
			{X: 4, Y: 0, Z: 5}, {X: 4, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 0}, {X: 0, Y: 0, Z: 5},
		},
		Height: 5,
	}
}

func TestProjectFacade(t *testing.T) {
	pixels, err := ProjectFacade(testCamera(t, r3.Vector{X: 2, Y: -10, Z: 2.5}), wallFacade())
	test.That(t, err, test.ShouldBeNil)

	expected := [4]r2.Point{{X: 300, Y: 750}, {X: 700, Y: 750}, {X: 700, Y: 250}, {X: 300, Y: 250}}
	for i, want := range expected {
		test.That(t, pixels[i].X, test.ShouldAlmostEqual, want.X, 1e-6)
		test.That(t, pixels[i].Y, test.ShouldAlmostEqual, want.Y, 1e-6)
	}

	_, err = ProjectFacade(testCamera(t, r3.Vector{X: 2, Y: 10, Z: 2.5}), wallFacade())
	test.That(t, errors.Is(err, sph.ErrDegenerateProjection), test.ShouldBeTrue)
}

func TestProjectFacadePitched(t *testing.T) {
	// looking 45 degrees down at the wall from 10 m south and 12 m up: the top edge is nearer to
	// the camera than the bottom one
	pose := sph.NewPose(r3.Vector{X: 2, Y: -10, Z: 12}, -135, 0, 0)
	cam, err := sph.NewCamera("pitched", pose, sph.Intrinsics{Width: 1000, Height: 1000, Fx: 1000, Fy: 1000, Cx: 500, Cy: 500})
	test.That(t, err, test.ShouldBeNil)

	f := wallFacade()
	top, bottom := cam.Pose.ToCamera(f.Rectangle[0]), cam.Pose.ToCamera(f.Rectangle[1])
	test.That(t, top.Z, test.ShouldBeLessThan, bottom.Z)

	pixels, err := ProjectFacade(cam, f)
	test.That(t, err, test.ShouldBeNil)
	expected := [4]r2.Point{
		{X: 500 - 2000*math.Sqrt2/22, Y: 500 + 2000/22.},
		{X: 500 + 2000*math.Sqrt2/22, Y: 500 + 2000/22.},
		{X: 500 + 2000*math.Sqrt2/17, Y: 500 - 3000/17.},
		{X: 500 - 2000*math.Sqrt2/17, Y: 500 - 3000/17.},
	}
	for i, want := range expected {
		test.That(t, pixels[i].X, test.ShouldAlmostEqual, want.X, 1e-6)
		test.That(t, pixels[i].Y, test.ShouldAlmostEqual, want.Y, 1e-6)
	}

	// the rectified wall keeps its vertical edges vertical and its bottom down
	img := image.NewNRGBA(image.Rect(0, 0, 1000, 1000))
	draw.Draw(img, image.Rect(0, 500, 1000, 1000), &image.Uniform{opening}, image.Point{}, draw.Src)
	rectified, err := rectify.RectifyOrdered(img, pixels)
	test.That(t, err, test.ShouldBeNil)
	w, h := rectify.OutputSize(pixels)
	test.That(t, rectified.Bounds().Dx(), test.ShouldEqual, w)
	test.That(t, h, test.ShouldEqual, int(math.Round(pixels[0].Sub(pixels[3]).Norm())))
	test.That(t, rectified.NRGBAAt(w/2, h-2).A, test.ShouldEqual, uint8(255))
	test.That(t, rectified.NRGBAAt(w/2, h-2).R, test.ShouldEqual, opening.R)
	test.That(t, rectified.NRGBAAt(w/2, 1).R, test.ShouldEqual, uint8(0))
}

func TestProjectFacadeRolled(t *testing.T) {
	// a camera rolled by 90 degrees sees the wall lying on its side
	pose := sph.NewPose(r3.Vector{X: 2, Y: -10, Z: 2.5}, -90, 0, 90)
	cam, err := sph.NewCamera("rolled", pose, sph.Intrinsics{Width: 1000, Height: 1000, Fx: 1000, Fy: 1000, Cx: 500, Cy: 500})
	test.That(t, err, test.ShouldBeNil)

	pixels, err := ProjectFacade(cam, wallFacade())
	test.That(t, err, test.ShouldBeNil)
	// the vertical edges are horizontal in the image, so the height still follows them
	left := pixels[3].Sub(pixels[0])
	test.That(t, math.Abs(left.Y), test.ShouldBeLessThan, 1e-6)
	test.That(t, left.Norm(), test.ShouldAlmostEqual, 500, 1e-6)
	_, h := rectify.OutputSize(pixels)
	test.That(t, h, test.ShouldEqual, 500)
}

func TestDrawFacades(t *testing.T) {
	polygon := [4]r2.Point{{X: 300, Y: 250}, {X: 700, Y: 250}, {X: 700, Y: 750}, {X: 300, Y: 750}}
	red := color.RGBA{255, 0, 0, 255}
	out := DrawFacades(photo(), [][4]r2.Point{polygon}, []color.RGBA{red})
	test.That(t, out.Bounds(), test.ShouldResemble, image.Rect(0, 0, 1000, 1000))

	r, g, b, _ := out.At(500, 250).RGBA()
	test.That(t, r>>8, test.ShouldEqual, 255)
	test.That(t, g>>8, test.ShouldEqual, 0)
	test.That(t, b>>8, test.ShouldEqual, 0)

	r, g, b, _ = out.At(500, 500).RGBA()
	test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{200, 200, 200})
}

func TestFootprints(t *testing.T) {
	table, err := imports.ParseCameraTable(strings.NewReader(
		"nadir 1000 1000 0 0 100 180 0 0 1000 1000 500 500\n"+
			"invalid 1000 1000 0 0 100 180 0 0 0 1000 500 500\n"), "params.txt")
	test.That(t, err, test.ShouldBeNil)
	features, err := Footprints(table, 0, testutils.NewTestLogger(t))
	test.That(t, errors.Is(err, sph.ErrInvalidIntrinsics), test.ShouldBeTrue)
	test.That(t, len(features), test.ShouldEqual, 1)
	test.That(t, features[0].Properties.MustString("image_id"), test.ShouldEqual, "nadir")
	ring := features[0].Geometry.(orb.Polygon)[0]
	test.That(t, ring.Closed(), test.ShouldBeTrue)
	// 999 px at f = 1000 from 100 m cover 99.9 m on the ground
	test.That(t, features[0].Properties["area_m2"], test.ShouldAlmostEqual, 99.9*99.9, 1e-6)
}

func TestItems(t *testing.T) {
	cfg := writeScene(t)
	inputs := loadScene(t, cfg)
	estimator, err := NewHeightEstimator(cfg, testutils.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	runner := NewRunner(cfg, inputs, estimator, nil, "run", testutils.NewTestLogger(t))

	items := runner.Items(nil)
	// IMG_03 has no photograph
	test.That(t, len(items), test.ShouldEqual, 2)
	test.That(t, items[0].Key(), test.ShouldEqual, "IMG_01/facade_0")

	items = runner.Items([]string{"IMG_02", "IMG_02"})
	test.That(t, len(items), test.ShouldEqual, 1)
	test.That(t, runner.OutputDir(), test.ShouldEqual, filepath.Join(cfg.OutputDir, "run"))
}

func TestNewHeightEstimator(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Estimator = "depth"
	estimator, err := NewHeightEstimator(cfg, testutils.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, estimator.Method(), test.ShouldEqual, "depth")

	cfg.Estimator = "lidar"
	_, err = NewHeightEstimator(cfg, testutils.NewTestLogger(t))
	test.That(t, errors.Is(err, config.ErrInvalidConfig), test.ShouldBeTrue)
}

func TestRun(t *testing.T) {
	cfg := writeScene(t)
	inputs := loadScene(t, cfg)
	logger, logs := testutils.NewObservedTestLogger(t)
	estimator, err := NewHeightEstimator(cfg, logger)
	test.That(t, err, test.ShouldBeNil)

	runID := sink.NewRunID()
	out, err := sink.NewFileSink(filepath.Join(cfg.OutputDir, runID))
	test.That(t, err, test.ShouldBeNil)
	runner := NewRunner(cfg, inputs, estimator, out, runID, logger)
	var seen atomic.Int32
	runner.OnResult = func(Result) { seen.Add(1) }

	results, err := runner.Run(context.Background(), nil)
	test.That(t, out.Close(), test.ShouldBeNil)
	// IMG_02 looks away from the wall
	test.That(t, errors.Is(err, sph.ErrDegenerateProjection), test.ShouldBeTrue)
	test.That(t, seen.Load(), test.ShouldEqual, 2)
	test.That(t, len(results), test.ShouldEqual, 2)

	ok := results[0]
	test.That(t, ok.ImageID, test.ShouldEqual, "IMG_01")
	test.That(t, ok.Err, test.ShouldBeNil)
	test.That(t, ok.Estimate.LowConfidence, test.ShouldBeFalse)
	test.That(t, ok.Estimate.CeilingHeight, test.ShouldAlmostEqual, 3.5, 0.15)
	test.That(t, len(ok.Artifacts), test.ShouldEqual, 3)
	for _, path := range ok.Artifacts {
		_, statErr := os.Stat(path)
		test.That(t, statErr, test.ShouldBeNil)
	}

	loaded := logs.FilterMessage("camera loaded").FilterField(zap.String("image_id", "IMG_01")).All()
	test.That(t, len(loaded), test.ShouldEqual, 1)
	test.That(t, loaded[0].ContextMap()["omega_deg"], test.ShouldAlmostEqual, -90, 1e-9)
	test.That(t, loaded[0].ContextMap()["kappa_deg"], test.ShouldAlmostEqual, 0, 1e-9)

	failed := results[1]
	test.That(t, failed.ImageID, test.ShouldEqual, "IMG_02")
	test.That(t, errors.Is(failed.Err, sph.ErrDegenerateProjection), test.ShouldBeTrue)

	records, err := sink.ReadJSONL(filepath.Join(cfg.OutputDir, runID, sink.JSONL_FILE))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 2)
	summary := sink.Summarize(records)
	test.That(t, summary.Failed, test.ShouldEqual, 1)
	test.That(t, summary.Median, test.ShouldAlmostEqual, 3.5, 0.15)
}

func TestRunCancelled(t *testing.T) {
	cfg := writeScene(t)
	inputs := loadScene(t, cfg)
	estimator, err := NewHeightEstimator(cfg, testutils.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	runner := NewRunner(cfg, inputs, estimator, nil, "cancelled", testutils.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := runner.Run(ctx, []string{"IMG_01"})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	test.That(t, len(results), test.ShouldEqual, 1)
	test.That(t, results[0].Record("cancelled", estimator.Method()).OK(), test.ShouldBeFalse)
}
