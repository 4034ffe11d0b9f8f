package imports

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

const cameraTable = `imageId width height x y z omega phi kappa fx fy cx cy
# oblique, camera looking north
402_0030_00131593 1000 1000 2 -10 2.5 -90 0 0 1000 1000 500 500
402_0030_00131594 1000 1000 2 -10 2.5 -90 0 0 1000 1000 500 500 -0.05 0.01 0.001 0.002 0.0
broken 1000 1000 2 -10
bad_value 1000 1000 2 -10 2.5 -90 0 zero 1000 1000 500 500

402_0030_00131595,4000,3000,85000.5,446000.25,310,44.9,0.2,-90.1,13000,13000,2000,1500
`

func TestParseCameraTable(t *testing.T) {
	table, err := ParseCameraTable(strings.NewReader(cameraTable), "params.txt")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(table.Rows), test.ShouldEqual, 3)
	test.That(t, len(table.Skipped), test.ShouldEqual, 2)
	for _, skipped := range table.Skipped {
		test.That(t, errors.Is(skipped, ErrInputFormat), test.ShouldBeTrue)
	}
	test.That(t, table.ImageIDs(), test.ShouldResemble, []string{"402_0030_00131593", "402_0030_00131594", "402_0030_00131595"})

	row, err := table.Lookup("402_0030_00131594")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, row.Width, test.ShouldEqual, 1000)
	test.That(t, row.Center, test.ShouldResemble, r3.Vector{X: 2, Y: -10, Z: 2.5})
	test.That(t, row.Omega, test.ShouldEqual, -90.)
	test.That(t, row.Distortion, test.ShouldResemble, []float64{-0.05, 0.01, 0.001, 0.002, 0})
	test.That(t, row.Intrinsics().Distortion.K1, test.ShouldEqual, -0.05)

	row, err = table.Lookup("402_0030_00131595")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, row.Center.X, test.ShouldEqual, 85000.5)
	test.That(t, row.Cy, test.ShouldEqual, 1500.)
	test.That(t, row.Intrinsics().Distortion.IsZero(), test.ShouldBeTrue)

	_, err = table.Lookup("402_0030_99999999")
	test.That(t, errors.Is(err, ErrUnknownImageID), test.ShouldBeTrue)
}

func TestCameraRowProjects(t *testing.T) {
	table, err := ParseCameraTable(strings.NewReader(cameraTable), "params.txt")
	test.That(t, err, test.ShouldBeNil)
	row, err := table.Lookup("402_0030_00131593")
	test.That(t, err, test.ShouldBeNil)

	cam, err := row.Camera()
	test.That(t, err, test.ShouldBeNil)

	// the point straight ahead of the camera lands on the principal point
	pos, err := cam.Project(r3.Vector{X: 2, Y: 0, Z: 2.5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.X, test.ShouldAlmostEqual, 500, 1e-6)
	test.That(t, pos.Y, test.ShouldAlmostEqual, 500, 1e-6)

	// higher in the world is higher in the image
	top, err := cam.Project(r3.Vector{X: 2, Y: 0, Z: 5})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, top.Y, test.ShouldAlmostEqual, 250, 1e-6)
}

func TestCameraRowInvalidIntrinsics(t *testing.T) {
	table, err := ParseCameraTable(strings.NewReader("img 10 10 0 0 0 0 0 0 0 100 5 5\n"), "params.txt")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(table.Rows), test.ShouldEqual, 1)
	_, err = table.Rows[0].Camera()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "img")
}

func TestReadCameraTableMissingFile(t *testing.T) {
	_, err := ReadCameraTable(filepath.Join(t.TempDir(), "nope.txt"))
	test.That(t, err, test.ShouldNotBeNil)
}

const wallMesh = `OFF
4 2 0
0 0 0
4 0 0
4 0 5
0,0,5
3 0 1 2 200 30 30
3 0 2 3 200 30 30
3 0 2 9 200 30 30
3 0 1 2 200 30
4 0 1 2 3 10 10 10
`

func TestParseMesh(t *testing.T) {
	mesh, err := ParseMesh(strings.NewReader(wallMesh), "wall.off")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(mesh.Vertices), test.ShouldEqual, 4)
	test.That(t, mesh.Vertices[3], test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 5})
	test.That(t, len(mesh.Faces), test.ShouldEqual, 2)
	test.That(t, mesh.Faces[1].Indices, test.ShouldResemble, [3]int{0, 2, 3})
	test.That(t, mesh.Faces[0].Color, test.ShouldResemble, color.RGBA{R: 200, G: 30, B: 30, A: 255})
	test.That(t, len(mesh.Colors()), test.ShouldEqual, 2)

	// out of range index, short face row, quad face
	test.That(t, len(mesh.Skipped), test.ShouldEqual, 3)
	for _, skipped := range mesh.Skipped {
		test.That(t, errors.Is(skipped, ErrInputFormat), test.ShouldBeTrue)
	}
}

func TestReadMeshFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wall.off")
	test.That(t, os.WriteFile(path, []byte(wallMesh), 0o600), test.ShouldBeNil)

	vertices, err := ReadVertices(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(vertices), test.ShouldEqual, 4)

	faces, colors, err := ReadFaces(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(faces), test.ShouldEqual, 2)
	test.That(t, len(colors), test.ShouldEqual, 2)

	_, err = ReadMesh(filepath.Join(t.TempDir(), "missing.off"))
	test.That(t, err, test.ShouldNotBeNil)
}

const intrinsicsXML = `<?xml version="1.0"?>
<opencv_storage>
<image_Width>4000</image_Width>
<image_Height>3000</image_Height>
<Camera_Matrix type_id="opencv-matrix">
  <rows>3</rows>
  <cols>3</cols>
  <dt>d</dt>
  <data>
    3500. 0. 2010. 0. 3490. 1495. 0. 0. 1.</data></Camera_Matrix>
<Distortion_Coefficients type_id="opencv-matrix">
  <rows>5</rows>
  <cols>1</cols>
  <dt>d</dt>
  <data>
    -0.01 0.002 0. 0. 0.</data></Distortion_Coefficients>
</opencv_storage>
`

const metashapeCameras = "# Label\tX\tY\tZ\tOmega\tPhi\tKappa\tr11\tr12\tr13\tr21\tr22\tr23\tr31\tr32\tr33\n" +
	"IMG_0001.JPG\t10\t20\t30\t0\t0\t0\t1\t0\t0\t0\t1\t0\t0\t0\t1\n" +
	"IMG_0002.JPG\t10\t20\n"

func TestReadMetashapeCameras(t *testing.T) {
	dir := t.TempDir()
	xmlPath := filepath.Join(dir, "calibration.xml")
	tsvPath := filepath.Join(dir, "cameras.txt")
	test.That(t, os.WriteFile(xmlPath, []byte(intrinsicsXML), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(tsvPath, []byte(metashapeCameras), 0o600), test.ShouldBeNil)

	intrinsics, err := ReadIntrinsicMetashape(xmlPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intrinsics.Width, test.ShouldEqual, 4000)
	test.That(t, intrinsics.Fy, test.ShouldEqual, 3490.)
	test.That(t, intrinsics.Cx, test.ShouldEqual, 2010.)
	test.That(t, intrinsics.Distortion.K1, test.ShouldEqual, -0.01)

	table, err := ReadMetashapeCameras(xmlPath, tsvPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(table.Rows), test.ShouldEqual, 1)
	test.That(t, len(table.Skipped), test.ShouldEqual, 1)

	row, err := table.Lookup("IMG_0001")
	test.That(t, err, test.ShouldBeNil)
	pose := row.Pose()
	// identity export flipped to a camera looking down
	test.That(t, pose.Rotation.At(1, 1), test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, pose.Rotation.At(2, 2), test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, pose.ToCamera(r3.Vector{X: 10, Y: 20, Z: 0}).Z, test.ShouldAlmostEqual, 30, 1e-9)
}

func TestReadChildImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.TIF", "notes.txt"} {
		test.That(t, os.WriteFile(filepath.Join(dir, name), []byte{}, 0o600), test.ShouldBeNil)
	}
	test.That(t, os.Mkdir(filepath.Join(dir, "c.png"), 0o700), test.ShouldBeNil)

	images, err := ReadChildImages(dir)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, images, test.ShouldResemble, map[string]string{"a": "a.jpg", "b": "b.TIF"})
}

func TestDepthFileInferer(t *testing.T) {
	dir := t.TempDir()
	depth := image.NewGray16(image.Rect(0, 0, 2, 2))
	depth.SetGray16(0, 0, color.Gray16{Y: 100})
	depth.SetGray16(1, 0, color.Gray16{Y: 200})
	depth.SetGray16(0, 1, color.Gray16{Y: 300})
	depth.SetGray16(1, 1, color.Gray16{Y: 60000})

	inferer := DepthFileInferer{Dir: dir}
	path := inferer.Path("img/facade_0")
	test.That(t, path, test.ShouldEqual, filepath.Join(dir, "img", "facade_0_depth.png"))
	test.That(t, os.MkdirAll(filepath.Dir(path), 0o700), test.ShouldBeNil)
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, depth), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	target := image.NewRGBA(image.Rect(0, 0, 4, 4))
	m, err := inferer.Infer(context.Background(), "img/facade_0", target)
	test.That(t, err, test.ShouldBeNil)
	rows, cols := m.Dims()
	test.That(t, rows, test.ShouldEqual, 4)
	test.That(t, cols, test.ShouldEqual, 4)
	test.That(t, m.At(0, 0), test.ShouldEqual, 100.)
	test.That(t, m.At(0, 3), test.ShouldEqual, 200.)
	test.That(t, m.At(3, 0), test.ShouldEqual, 300.)
	test.That(t, m.At(3, 3), test.ShouldEqual, 60000.)

	_, err = inferer.Infer(context.Background(), "img/facade_9", target)
	test.That(t, err, test.ShouldNotBeNil)
}
