package imports

import (
	"bufio"
	"image/color"
	"io"
	"os"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

const (
	// MESH_HEADER_LINES are skipped before the first vertex (format tag and element counts).
	MESH_HEADER_LINES = 2
	VERTEX_FIELDS     = 3
	FACE_FIELDS       = 7
)

// Face is a triangle of vertex indices. Faces sharing a Color belong to one facade.
type Face struct {
	Indices [3]int
	Color   color.RGBA
}

// Mesh is the read-only facade mesh of a run.
type Mesh struct {
	Vertices []r3.Vector
	Faces    []Face
	// Skipped lists the malformed rows that were ignored while reading.
	Skipped []error
}

// Colors returns the color tag of every face, parallel to Faces.
func (m *Mesh) Colors() []color.RGBA {
	colors := make([]color.RGBA, len(m.Faces))
	for i, face := range m.Faces {
		colors[i] = face.Color
	}
	return colors
}

// ReadMesh loads vertices and faces from an OFF-like text mesh.
func ReadMesh(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open mesh")
	}
	defer f.Close()
	return ParseMesh(f, path)
}

// ReadVertices returns only the vertices of a mesh file.
func ReadVertices(path string) ([]r3.Vector, error) {
	mesh, err := ReadMesh(path)
	if err != nil {
		return nil, err
	}
	return mesh.Vertices, nil
}

// ReadFaces returns the faces of a mesh file and their parallel colors.
func ReadFaces(path string) ([]Face, []color.RGBA, error) {
	mesh, err := ReadMesh(path)
	if err != nil {
		return nil, nil, err
	}
	return mesh.Faces, mesh.Colors(), nil
}

// ParseMesh reads a mesh where, after the header lines, rows of 3 numbers are vertices and
// rows of 7 integers `n i0 i1 i2 r g b` are triangles. Anything else is skipped, as are faces
// pointing at vertices that do not exist.
func ParseMesh(r io.Reader, name string) (*Mesh, error) {
	mesh := &Mesh{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	faceLines := []int{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= MESH_HEADER_LINES {
			continue
		}
		fields := splitFields(scanner.Text())
		switch len(fields) {
		case 0:
			continue
		case VERTEX_FIELDS:
			vertex, err := parseVertex(fields)
			if err != nil {
				mesh.Skipped = append(mesh.Skipped, newInputFormatError(name, lineNo, "%v", err))
				continue
			}
			mesh.Vertices = append(mesh.Vertices, vertex)
		case FACE_FIELDS:
			face, err := parseFace(fields)
			if err != nil {
				mesh.Skipped = append(mesh.Skipped, newInputFormatError(name, lineNo, "%v", err))
				continue
			}
			mesh.Faces = append(mesh.Faces, face)
			faceLines = append(faceLines, lineNo)
		default:
			mesh.Skipped = append(mesh.Skipped, newInputFormatError(name, lineNo, "unexpected field count %d", len(fields)))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", name)
	}

	valid := mesh.Faces[:0]
	for i, face := range mesh.Faces {
		if idx, ok := outOfRange(face, len(mesh.Vertices)); ok {
			mesh.Skipped = append(mesh.Skipped, newInputFormatError(name, faceLines[i], "vertex index %d out of range", idx))
			continue
		}
		valid = append(valid, face)
	}
	mesh.Faces = valid
	return mesh, nil
}

func parseVertex(fields []string) (r3.Vector, error) {
	var coords [VERTEX_FIELDS]float64
	for i, field := range fields {
		val, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return r3.Vector{}, errors.Errorf("vertex coordinate %q", field)
		}
		coords[i] = val
	}
	return r3.Vector{X: coords[0], Y: coords[1], Z: coords[2]}, nil
}

func parseFace(fields []string) (Face, error) {
	var values [FACE_FIELDS]int
	for i, field := range fields {
		val, err := strconv.Atoi(field)
		if err != nil {
			return Face{}, errors.Errorf("face field %q", field)
		}
		values[i] = val
	}
	if values[0] != 3 {
		return Face{}, errors.Errorf("only triangles are supported, got %d vertices", values[0])
	}
	for _, c := range values[4:] {
		if c < 0 || c > 255 {
			return Face{}, errors.Errorf("color component %d", c)
		}
	}
	return Face{
		Indices: [3]int{values[1], values[2], values[3]},
		Color:   color.RGBA{R: uint8(values[4]), G: uint8(values[5]), B: uint8(values[6]), A: 255},
	}, nil
}

func outOfRange(face Face, vertices int) (int, bool) {
	for _, idx := range face.Indices {
		if idx < 0 || idx >= vertices {
			return idx, true
		}
	}
	return 0, false
}
