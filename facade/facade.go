// Package facade extracts planar wall facades from a colour tagged building mesh.
package facade

import (
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"underpass.nl/heights/imports"
)

const (
	// MIN_FACADE_AREA is the total triangle area, in square metres, a facade must exceed.
	MIN_FACADE_AREA = 5.0
	// WALL_NORMAL_EPSILON bounds the vertical component of a wall's unit normal.
	WALL_NORMAL_EPSILON = 1e-6
)

var background = color.RGBA{0, 0, 0, 255}

// Group is the set of faces carrying one colour tag.
type Group struct {
	Color color.RGBA
	Faces []imports.Face
}

// Facade is an accepted group reduced to its bounding rectangle.
type Facade struct {
	// Index is the position of the facade in extraction order, used in artifact names.
	Index int
	Color color.RGBA
	Faces []imports.Face
	// Rectangle is [max, max with min Z, min, min with max Z].
	Rectangle [4]r3.Vector
	Height    float64
	Area      float64
}

// Tag is the facade colour as #rrggbb.
func (f Facade) Tag() string {
	c, _ := colorful.MakeColor(f.Color)
	return c.Hex()
}

// ID names the facade as seen from one image.
func (f Facade) ID(imageID string) string {
	return imageID + "/" + f.Tag()
}

func faceNormal(face imports.Face, vertices []r3.Vector) r3.Vector {
	v0 := vertices[face.Indices[0]]
	u := vertices[face.Indices[1]].Sub(v0)
	v := vertices[face.Indices[2]].Sub(v0)
	return u.Cross(v)
}

// TriangleArea is half the norm of the cross product of two edges.
func TriangleArea(face imports.Face, vertices []r3.Vector) float64 {
	return faceNormal(face, vertices).Norm() / 2
}

// IsWallFace reports whether the unit normal of the face is horizontal within eps.
// Faces without a normal (collinear vertices) are not walls.
func IsWallFace(face imports.Face, vertices []r3.Vector, eps float64) bool {
	normal := faceNormal(face, vertices)
	norm := normal.Norm()
	if norm == 0 {
		return false
	}
	return math.Abs(normal.Z/norm) <= eps
}

// WallFaces keeps the faces classified as walls.
func WallFaces(faces []imports.Face, vertices []r3.Vector, eps float64) []imports.Face {
	return lo.Filter(faces, func(face imports.Face, _ int) bool {
		return IsWallFace(face, vertices, eps)
	})
}

func colorLess(a, b color.RGBA) bool {
	if a.R != b.R {
		return a.R < b.R
	}
	if a.G != b.G {
		return a.G < b.G
	}
	return a.B < b.B
}

// GroupFacesByColor groups faces with identical RGB tags, in ascending colour order.
// The black group is background and dropped.
func GroupFacesByColor(faces []imports.Face) []Group {
	byColor := lo.GroupBy(faces, func(face imports.Face) color.RGBA {
		return color.RGBA{face.Color.R, face.Color.G, face.Color.B, 255}
	})
	delete(byColor, background)

	colors := lo.Keys(byColor)
	sort.Slice(colors, func(i, j int) bool { return colorLess(colors[i], colors[j]) })
	return lo.Map(colors, func(c color.RGBA, _ int) Group {
		return Group{Color: c, Faces: byColor[c]}
	})
}

// GroupArea sums the triangle areas of the group.
func GroupArea(group Group, vertices []r3.Vector) float64 {
	return lo.SumBy(group.Faces, func(face imports.Face) float64 {
		return TriangleArea(face, vertices)
	})
}

// FilterByArea splits groups into those whose area exceeds minArea and the rest.
func FilterByArea(groups []Group, vertices []r3.Vector, minArea float64) (accepted, rejected []Group) {
	for _, group := range groups {
		if GroupArea(group, vertices) > minArea {
			accepted = append(accepted, group)
		} else {
			rejected = append(rejected, group)
		}
	}
	return accepted, rejected
}

// BoundingRectangle spans the group's axis aligned extremes as
// [max, (max.X, max.Y, min.Z), min, (min.X, min.Y, max.Z)].
//
// A wall running with decreasing Y as X grows has neither extreme corner on the mesh; the Y
// values of the extremes are then swapped so the rectangle follows the wall diagonal. Membership
// is exact coordinate equality.
func BoundingRectangle(group Group, vertices []r3.Vector) [4]r3.Vector {
	high := r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	low := r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	for _, face := range group.Faces {
		for _, i := range face.Indices {
			v := vertices[i]
			high = r3.Vector{X: math.Max(high.X, v.X), Y: math.Max(high.Y, v.Y), Z: math.Max(high.Z, v.Z)}
			low = r3.Vector{X: math.Min(low.X, v.X), Y: math.Min(low.Y, v.Y), Z: math.Min(low.Z, v.Z)}
		}
	}

	onMesh := false
	for _, face := range group.Faces {
		for _, i := range face.Indices {
			if vertices[i] == high || vertices[i] == low {
				onMesh = true
			}
		}
	}
	if !onMesh {
		high.Y, low.Y = low.Y, high.Y
	}

	return [4]r3.Vector{
		high,
		{X: high.X, Y: high.Y, Z: low.Z},
		low,
		{X: low.X, Y: low.Y, Z: high.Z},
	}
}

// Height is the vertical extent of a bounding rectangle.
func Height(rect [4]r3.Vector) float64 {
	return rect[0].Z - rect[2].Z
}

// Extractor turns a mesh into facades.
type Extractor struct {
	MinArea     float64
	WallEpsilon float64
	logger      *zap.SugaredLogger
}

// NewExtractor uses the package defaults when minArea or wallEpsilon is negative.
func NewExtractor(minArea, wallEpsilon float64, logger *zap.SugaredLogger) *Extractor {
	if minArea < 0 {
		minArea = MIN_FACADE_AREA
	}
	if wallEpsilon < 0 {
		wallEpsilon = WALL_NORMAL_EPSILON
	}
	return &Extractor{MinArea: minArea, WallEpsilon: wallEpsilon, logger: logger}
}

// Extract filters the wall faces, groups them by colour and keeps the groups larger than MinArea.
func (e *Extractor) Extract(mesh *imports.Mesh) []Facade {
	walls := WallFaces(mesh.Faces, mesh.Vertices, e.WallEpsilon)
	groups := GroupFacesByColor(walls)
	accepted, rejected := FilterByArea(groups, mesh.Vertices, e.MinArea)
	e.logger.Debugw("facade groups",
		"faces", len(mesh.Faces), "walls", len(walls), "accepted", len(accepted), "rejected", len(rejected))

	facades := make([]Facade, 0, len(accepted))
	for i, group := range accepted {
		rect := BoundingRectangle(group, mesh.Vertices)
		facades = append(facades, Facade{
			Index:     i,
			Color:     group.Color,
			Faces:     group.Faces,
			Rectangle: rect,
			Height:    Height(rect),
			Area:      GroupArea(group, mesh.Vertices),
		})
	}
	return facades
}
