package ceiling

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Grayscale converts img to an 8 bit single channel image, blurred with sigma when positive.
func Grayscale(img image.Image, sigma float64) *image.Gray {
	nrgba := imaging.Grayscale(img)
	if sigma > 0 {
		nrgba = imaging.Blur(nrgba, sigma)
	}
	bounds := nrgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = nrgba.Pix[y*nrgba.Stride+x*4]
		}
	}
	return gray
}

func smoothGray(gray *image.Gray, sigma float64) *image.Gray {
	if sigma <= 0 {
		return gray
	}
	return Grayscale(gray, sigma)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// sobel returns the horizontal and vertical derivatives of gray with replicated borders.
func sobel(gray *image.Gray) ([]float64, []float64) {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	at := func(x, y int) float64 {
		return float64(gray.Pix[clamp(y, 0, h-1)*gray.Stride+clamp(x, 0, w-1)])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx[y*w+x] = -at(x-1, y-1) + at(x+1, y-1) -
				2*at(x-1, y) + 2*at(x+1, y) -
				at(x-1, y+1) + at(x+1, y+1)
			gy[y*w+x] = -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
		}
	}
	return gx, gy
}

// Canny detects thin edges on gray. The gradient magnitude is |gx| + |gy|; pixels above high
// seed edges that grow through 8-connected pixels above low.
func Canny(gray *image.Gray, low, high float64) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	gx, gy := sobel(gray)
	mag := make([]float64, w*h)
	for i := range mag {
		mag[i] = math.Abs(gx[i]) + math.Abs(gy[i])
	}
	magAt := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	// non maximum suppression along the quantized gradient direction
	const tan22 = 0.4142135623730951
	const (
		none = iota
		weak
		strong
	)
	state := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(gx[i]), math.Abs(gy[i])
			var prev, next float64
			switch {
			case ay <= ax*tan22:
				prev, next = magAt(x-1, y), magAt(x+1, y)
			case ay > ax/tan22:
				prev, next = magAt(x, y-1), magAt(x, y+1)
			case (gx[i] > 0) == (gy[i] > 0):
				prev, next = magAt(x-1, y-1), magAt(x+1, y+1)
			default:
				prev, next = magAt(x+1, y-1), magAt(x-1, y+1)
			}
			if m > prev && m >= next {
				if m > high {
					state[i] = strong
				} else {
					state[i] = weak
				}
			}
		}
	}

	// hysteresis
	edges := image.NewGray(image.Rect(0, 0, w, h))
	stack := []int{}
	for i, s := range state {
		if s == strong {
			edges.Pix[i] = 255
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for _, d := range eightNeighbours {
			nx, ny := x+d.X, y+d.Y
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				continue
			}
			j := ny*w + nx
			if state[j] == weak && edges.Pix[j] == 0 {
				edges.Pix[j] = 255
				stack = append(stack, j)
			}
		}
	}
	return edges
}

func morph(bin *image.Gray, size int, dilate bool) *image.Gray {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	r := size / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			if dilate {
				v = 0
			}
			for dy := -r; dy <= size-1-r; dy++ {
				for dx := -r; dx <= size-1-r; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					p := bin.Pix[ny*bin.Stride+nx]
					if dilate {
						v = max(v, p)
					} else {
						v = min(v, p)
					}
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

// Close bridges gaps in a binary edge map with a size x size rectangle.
func Close(bin *image.Gray, size int) *image.Gray {
	if size <= 1 {
		return bin
	}
	return morph(morph(bin, size, true), size, false)
}

// OtsuThreshold returns the level that maximizes the between-class variance of gray.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]float64
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, p := range gray.Pix[y*gray.Stride : y*gray.Stride+w] {
			hist[p]++
		}
	}
	total := float64(w * h)
	var sum float64
	for i, c := range hist {
		sum += float64(i) * c
	}

	var sumB, weightB, best float64
	threshold := 0
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}
		sumB += float64(t) * hist[t]
		meanB := sumB / weightB
		meanF := (sum - sumB) / weightF
		between := weightB * weightF * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			threshold = t
		}
	}
	return uint8(threshold)
}

// BinarizeInv sets pixels at or below t to 255 and the rest to 0.
func BinarizeInv(gray *image.Gray, t uint8) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray.Pix[y*gray.Stride+x] <= t {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}
