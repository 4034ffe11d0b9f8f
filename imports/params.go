package imports

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	sph "underpass.nl/heights/photogrammetry"
)

// CAMERA_FIELDS is the number of mandatory fields of a camera row:
// imageId width height x y z omega phi kappa fx fy cx cy.
const CAMERA_FIELDS = 13

var fieldSeparator = regexp.MustCompile(`[,\s]+`)

func splitFields(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return fieldSeparator.Split(line, -1)
}

// CameraRow is one calibrated image. Angles are in degrees.
type CameraRow struct {
	ImageID    string
	Width      int
	Height     int
	Center     r3.Vector
	Omega      float64
	Phi        float64
	Kappa      float64
	Fx         float64
	Fy         float64
	Cx         float64
	Cy         float64
	Distortion []float64

	// Rotation overrides the omega/phi/kappa rotation when the source exports the matrix itself.
	Rotation *mat.Dense
}

// Pose returns the exterior orientation of the row.
func (row CameraRow) Pose() sph.Pose {
	if row.Rotation == nil {
		return sph.NewPose(row.Center, row.Omega, row.Phi, row.Kappa)
	}
	return sph.Pose{
		Center:   row.Center,
		Omega:    sph.Radians(row.Omega),
		Phi:      sph.Radians(row.Phi),
		Kappa:    sph.Radians(row.Kappa),
		Rotation: mat.DenseCopyOf(row.Rotation),
	}
}

// Intrinsics returns the interior orientation of the row.
func (row CameraRow) Intrinsics() sph.Intrinsics {
	return sph.Intrinsics{
		Width:      row.Width,
		Height:     row.Height,
		Fx:         row.Fx,
		Fy:         row.Fy,
		Cx:         row.Cx,
		Cy:         row.Cy,
		Distortion: sph.NewDistortion(row.Distortion),
	}
}

// Camera builds the projection model of the row.
func (row CameraRow) Camera() (*sph.Camera, error) {
	cam, err := sph.NewCamera(row.ImageID, row.Pose(), row.Intrinsics())
	if err != nil {
		return nil, errors.Wrapf(err, "image %s", row.ImageID)
	}
	return cam, nil
}

// CameraTable holds every row of a parameter file in file order.
type CameraTable struct {
	Rows []CameraRow
	// Skipped lists the malformed rows that were ignored while reading.
	Skipped []error
}

// Lookup returns the first row whose image id matches exactly.
func (t *CameraTable) Lookup(imageID string) (CameraRow, error) {
	for _, row := range t.Rows {
		if row.ImageID == imageID {
			return row, nil
		}
	}
	return CameraRow{}, errors.Wrapf(ErrUnknownImageID, "%q", imageID)
}

// ImageIDs returns the image ids in file order without duplicates.
func (t *CameraTable) ImageIDs() []string {
	seen := make(map[string]bool, len(t.Rows))
	ids := make([]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		if seen[row.ImageID] {
			continue
		}
		seen[row.ImageID] = true
		ids = append(ids, row.ImageID)
	}
	return ids
}

// ReadCameraTable loads a parameter table. Only a failure to open the file is an error.
func ReadCameraTable(path string) (*CameraTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open camera parameter table")
	}
	defer f.Close()
	return ParseCameraTable(f, path)
}

// ParseCameraTable reads rows of the form
//
//	imageId width height x y z omega phi kappa fx fy cx cy [k1 k2 p1 p2 k3 [k4 k5 k6]]
//
// separated by whitespace or commas. A leading header line and '#' comments are ignored.
func ParseCameraTable(r io.Reader, name string) (*CameraTable, error) {
	table := &CameraTable{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	first := true
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}
		if first {
			first = false
			if len(fields) > 1 {
				if _, err := strconv.ParseFloat(fields[1], 64); err != nil {
					continue
				}
			}
		}

		row, err := parseCameraRow(fields)
		if err != nil {
			table.Skipped = append(table.Skipped, newInputFormatError(name, lineNo, "%v", err))
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}
	return table, nil
}

func parseCameraRow(fields []string) (CameraRow, error) {
	if len(fields) < CAMERA_FIELDS {
		return CameraRow{}, errors.Errorf("expected at least %d fields, got %d", CAMERA_FIELDS, len(fields))
	}
	values := make([]float64, len(fields)-1)
	for i, field := range fields[1:] {
		val, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return CameraRow{}, errors.Errorf("field %d: %q is not a number", i+2, field)
		}
		values[i] = val
	}

	row := CameraRow{
		ImageID: fields[0],
		Width:   int(values[0]),
		Height:  int(values[1]),
		Center:  r3.Vector{X: values[2], Y: values[3], Z: values[4]},
		Omega:   values[5],
		Phi:     values[6],
		Kappa:   values[7],
		Fx:      values[8],
		Fy:      values[9],
		Cx:      values[10],
		Cy:      values[11],
	}
	if extra := values[CAMERA_FIELDS-1:]; len(extra) > 0 {
		if len(extra) > sph.OPENCV_DISTORT_VALUES {
			return CameraRow{}, errors.Errorf("%d distortion coefficients, at most %d allowed", len(extra), sph.OPENCV_DISTORT_VALUES)
		}
		row.Distortion = extra
	}
	return row, nil
}
