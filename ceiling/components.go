package ceiling

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Component is one connected region of a binary mask.
type Component struct {
	Label     int
	Top       int
	Left      int
	Width     int
	Height    int
	Area      int
	CentroidX float64
	CentroidY float64
}

// Bottom is the first row below the component.
func (c Component) Bottom() int {
	return c.Top + c.Height
}

// Solidity is the fraction of the bounding box covered by the component.
func (c Component) Solidity() float64 {
	if c.Width == 0 || c.Height == 0 {
		return 0
	}
	return float64(c.Area) / float64(c.Width*c.Height)
}

// Labels is a per-pixel label image. Label 0 is the background.
type Labels struct {
	Width  int
	Height int
	Data   []int32
}

// At returns the label at (x, y).
func (l *Labels) At(x, y int) int {
	return int(l.Data[y*l.Width+x])
}

var (
	fourNeighbours  = []image.Point{{0, -1}, {-1, 0}, {1, 0}, {0, 1}}
	eightNeighbours = []image.Point{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}
)

// ConnectedComponents labels the non-zero pixels of mask with 4 or 8 connectivity.
// Labels are numbered from 1 in raster order of each component's first pixel.
func ConnectedComponents(mask *image.Gray, connectivity int) (*Labels, []Component) {
	bounds := mask.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	labels := &Labels{Width: w, Height: h, Data: make([]int32, w*h)}

	neighbours := fourNeighbours
	if connectivity == 8 {
		neighbours = eightNeighbours
	}
	foreground := func(x, y int) bool {
		return mask.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y != 0
	}

	var components []Component
	stack := []image.Point{}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if labels.Data[y*w+x] != 0 || !foreground(x, y) {
				continue
			}
			label := len(components) + 1
			minX, minY, maxX, maxY := x, y, x, y
			area, sumX, sumY := 0, 0, 0

			labels.Data[y*w+x] = int32(label)
			stack = append(stack[:0], image.Point{x, y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				area++
				sumX += p.X
				sumY += p.Y
				minX, maxX = min(minX, p.X), max(maxX, p.X)
				minY, maxY = min(minY, p.Y), max(maxY, p.Y)

				for _, d := range neighbours {
					q := p.Add(d)
					if q.X < 0 || q.Y < 0 || q.X >= w || q.Y >= h {
						continue
					}
					if labels.Data[q.Y*w+q.X] != 0 || !foreground(q.X, q.Y) {
						continue
					}
					labels.Data[q.Y*w+q.X] = int32(label)
					stack = append(stack, q)
				}
			}

			components = append(components, Component{
				Label:     label,
				Top:       minY,
				Left:      minX,
				Width:     maxX - minX + 1,
				Height:    maxY - minY + 1,
				Area:      area,
				CentroidX: float64(sumX) / float64(area),
				CentroidY: float64(sumY) / float64(area),
			})
		}
	}
	return labels, components
}

// Mask returns a binary image where only the given label is set.
func (l *Labels) Mask(label int) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, l.Width, l.Height))
	for i, v := range l.Data {
		if int(v) == label {
			mask.Pix[i] = 255
		}
	}
	return mask
}

// FalseColor paints every label with its own palette color and the background black.
func (l *Labels) FalseColor(count int) *image.RGBA {
	palette := colorful.FastHappyPalette(max(count, 1))
	img := image.NewRGBA(image.Rect(0, 0, l.Width, l.Height))
	for i, v := range l.Data {
		c := color.RGBA{A: 255}
		if v > 0 && int(v) <= len(palette) {
			r, g, b := palette[v-1].RGB255()
			c = color.RGBA{R: r, G: g, B: b, A: 255}
		}
		img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = c.R, c.G, c.B, c.A
	}
	return img
}
