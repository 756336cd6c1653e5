package imaging

import (
	"image"
	"math"
)

// mask is a binary foreground map, true = ink.
type mask struct {
	w, h int
	px   []bool
}

func newMask(w, h int) mask {
	return mask{w: w, h: h, px: make([]bool, w*h)}
}

func (m mask) at(x, y int) bool { return m.px[y*m.w+x] }

// render draws ink as 0 and background as 255.
func (m mask) render() *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.w, m.h))
	for i, on := range m.px {
		if on {
			out.Pix[i] = 0
		} else {
			out.Pix[i] = 255
		}
	}
	return out
}

// 2x2 structuring element anchored at its bottom-right cell: a pixel looks
// at itself and its left, upper and upper-left neighbours. Neighbours outside
// the image are ignored.
func (m mask) morph(want bool) mask {
	out := newMask(m.w, m.h)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			hit := !want
			for dy := -1; dy <= 0 && hit != want; dy++ {
				for dx := -1; dx <= 0; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 {
						continue
					}
					if m.at(nx, ny) == want {
						hit = want
						break
					}
				}
			}
			out.px[y*m.w+x] = hit
		}
	}
	return out
}

func (m mask) dilate() mask { return m.morph(true) }
func (m mask) erode() mask  { return m.morph(false) }

// thresholdFixed marks pixels at or below t as ink.
func thresholdFixed(g *image.Gray, t uint8) mask {
	b := g.Bounds()
	m := newMask(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+m.w]
		for x, v := range row {
			m.px[y*m.w+x] = v <= t
		}
	}
	return m
}

// thresholdAdaptive marks a pixel as ink when it is at least c below its
// local (rounded) mean.
func thresholdAdaptive(g *image.Gray, local *image.Gray, c int) mask {
	b := g.Bounds()
	m := newMask(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			v := int(g.Pix[y*g.Stride+x])
			mean := int(local.Pix[y*local.Stride+x])
			m.px[y*m.w+x] = v <= mean-c
		}
	}
	return m
}

// otsuThreshold returns the global threshold that maximizes between-class
// variance of the histogram.
func otsuThreshold(g *image.Gray) uint8 {
	var hist [256]int
	b := g.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for _, v := range g.Pix[y*g.Stride : y*g.Stride+b.Dx()] {
			hist[v]++
		}
	}
	total := b.Dx() * b.Dy()

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, wB float64
		best     float64 = -1
		t        uint8
	)
	for i := 0; i < 256; i++ {
		wB += float64(hist[i])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * hist[i])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			t = uint8(i)
		}
	}
	return t
}

// boxBlur is a k x k mean filter with replicated borders.
func boxBlur(g *image.Gray, k int) *image.Gray {
	kernel := make([]float64, k)
	for i := range kernel {
		kernel[i] = 1 / float64(k)
	}
	return separable(g, kernel)
}

// gaussianBlur is a k x k gaussian filter with replicated borders; sigma is
// derived from k.
func gaussianBlur(g *image.Gray, k int) *image.Gray {
	sigma := 0.3*(float64(k-1)*0.5-1) + 0.8
	kernel := make([]float64, k)
	var sum float64
	for i := range kernel {
		x := float64(i - k/2)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return separable(g, kernel)
}

func separable(g *image.Gray, kernel []float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	r := len(kernel) / 2

	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v > hi {
			return hi
		}
		return v
	}

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range kernel {
				acc += kv * float64(g.Pix[y*g.Stride+clamp(x+i-r, w-1)])
			}
			tmp[y*w+x] = acc
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range kernel {
				acc += kv * tmp[clamp(y+i-r, h-1)*w+x]
			}
			out.Pix[y*out.Stride+x] = saturate(acc)
		}
	}
	return out
}
