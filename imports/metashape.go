package imports

import (
	"encoding/csv"
	"encoding/xml"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	sph "underpass.nl/heights/photogrammetry"
)

// METASHAPE_FIELDS is Label X Y Z Omega Phi Kappa r11 .. r33.
const METASHAPE_FIELDS = 16

type opencvMatrix struct {
	Rows int    `xml:"rows"`
	Cols int    `xml:"cols"`
	Data string `xml:"data"`
}

// IntrinsicsXML is the OpenCV calibration file exported by Metashape.
type IntrinsicsXML struct {
	XMLName                 xml.Name     `xml:"opencv_storage"`
	Image_Width             int          `xml:"image_Width"`
	Image_Height            int          `xml:"image_Height"`
	Camera_Matrix           opencvMatrix `xml:"Camera_Matrix"`
	Distortion_Coefficients opencvMatrix `xml:"Distortion_Coefficients"`
}

func parseMatrixData(data string) ([]float64, error) {
	fields := strings.Fields(data)
	values := make([]float64, len(fields))
	for index := range fields {
		val, err := strconv.ParseFloat(fields[index], 64)
		if err != nil {
			return nil, errors.Wrapf(ErrInputFormat, "matrix value %q", fields[index])
		}
		values[index] = val
	}
	return values, nil
}

// ReadIntrinsicMetashape reads the shared interior orientation of a Metashape chunk.
func ReadIntrinsicMetashape(file string) (*sph.Intrinsics, error) {
	xmlFile, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open intrinsics file")
	}
	defer xmlFile.Close()

	byteValue, err := io.ReadAll(xmlFile)
	if err != nil {
		return nil, err
	}
	var intrinsicFile IntrinsicsXML
	if err := xml.Unmarshal(byteValue, &intrinsicFile); err != nil {
		return nil, errors.Wrapf(ErrInputFormat, "%s: %v", file, err)
	}

	cameraData, err := parseMatrixData(intrinsicFile.Camera_Matrix.Data)
	if err != nil {
		return nil, err
	}
	if len(cameraData) != 9 {
		return nil, errors.Wrapf(ErrInputFormat, "%s: camera matrix has %d values", file, len(cameraData))
	}
	distortionData, err := parseMatrixData(intrinsicFile.Distortion_Coefficients.Data)
	if err != nil {
		return nil, err
	}

	intrinsics := &sph.Intrinsics{
		Width:      intrinsicFile.Image_Width,
		Height:     intrinsicFile.Image_Height,
		Fx:         cameraData[0],
		Fy:         cameraData[4],
		Cx:         cameraData[2],
		Cy:         cameraData[5],
		Distortion: sph.NewDistortion(distortionData),
	}
	return intrinsics, intrinsics.CheckValid()
}

// ReadMetashapeCameras combines a Metashape intrinsics XML with its tab separated camera
// export into a CameraTable. Metashape cameras look down their -Z axis, so every rotation
// is flipped about X to match the pinhole frame used for projection.
func ReadMetashapeCameras(intrinsicsFile, extrinsicsFile string) (*CameraTable, error) {
	intrinsics, err := ReadIntrinsicMetashape(intrinsicsFile)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(extrinsicsFile)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open extrinsics file")
	}
	defer f.Close()

	csvReader := csv.NewReader(f)
	csvReader.Comma = '\t'
	csvReader.Comment = '#'
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	table := &CameraTable{}
	coeffs := []float64{
		intrinsics.Distortion.K1, intrinsics.Distortion.K2, intrinsics.Distortion.P1, intrinsics.Distortion.P2,
		intrinsics.Distortion.K3, intrinsics.Distortion.K4, intrinsics.Distortion.K5, intrinsics.Distortion.K6,
	}
	for line := 1; ; line++ {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			table.Skipped = append(table.Skipped, newInputFormatError(extrinsicsFile, line, "%v", err))
			continue
		}
		if len(record) < METASHAPE_FIELDS {
			table.Skipped = append(table.Skipped, newInputFormatError(extrinsicsFile, line, "expected %d fields, got %d", METASHAPE_FIELDS, len(record)))
			continue
		}

		values := make([]float64, METASHAPE_FIELDS-1)
		var parseErr error
		for i := range values {
			values[i], parseErr = strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if parseErr != nil {
				break
			}
		}
		if parseErr != nil {
			table.Skipped = append(table.Skipped, newInputFormatError(extrinsicsFile, line, "%v", parseErr))
			continue
		}

		rotMat := mat.NewDense(3, 3, values[6:15])
		rotMat.Mul(sph.RotateXAxis(math.Pi), rotMat)

		label := record[0]
		table.Rows = append(table.Rows, CameraRow{
			ImageID:    strings.TrimSuffix(label, filepath.Ext(label)),
			Width:      intrinsics.Width,
			Height:     intrinsics.Height,
			Center:     r3.Vector{X: values[0], Y: values[1], Z: values[2]},
			Omega:      values[3],
			Phi:        values[4],
			Kappa:      values[5],
			Fx:         intrinsics.Fx,
			Fy:         intrinsics.Fy,
			Cx:         intrinsics.Cx,
			Cy:         intrinsics.Cy,
			Distortion: coeffs,
			Rotation:   rotMat,
		})
	}
	return table, nil
}
