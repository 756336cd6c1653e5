package imaging

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"vpsrenew/internal/logging"
)

// Variant method ids, in attempt order.
const (
	MethodOtsu             = "otsu"
	MethodAdaptiveMean     = "adaptive_mean"
	MethodAdaptiveGaussian = "adaptive_gaussian"
	MethodFixed120         = "fixed_120"
	MethodFixed150         = "fixed_150"
)

// Pipeline constants.
const (
	DefaultScale = 3

	bandLow  = 150
	bandHigh = 250

	contrastAlpha = 2.5
	contrastBeta  = 0.0

	adaptiveBlock = 15
	adaptiveC     = 4
)

// Variant is one binarized rendering of the region: dark ink (0) on white
// (255), regardless of the strategy that produced it.
type Variant struct {
	Method string
	Image  *image.Gray
}

// Options tunes the pipeline. The zero value uses the defaults.
type Options struct {
	Scale int // integer upscale, values below 2 mean DefaultScale
}

// Result is the output of Normalize.
type Result struct {
	Variants []Variant
	// Original is the unprocessed crop, for backends that do their own vision.
	Original image.Image
	// Box is the region actually used; Substituted is true when it differs
	// from the caller's box because that one was degenerate.
	Box         Box
	Substituted bool
}

// Normalize decodes the frame, crops it and derives every binarized variant.
// The output depends only on region and opts.
func Normalize(region CapturedRegion, opts Options) (*Result, error) {
	log := logging.Get(logging.CategoryNormalize)

	src, err := decode(region.Frame)
	if err != nil {
		return nil, err
	}

	rect, substituted := effectiveRect(region.Box, src.Bounds())
	if substituted {
		log.Warn("bounding box %+v unusable for %dx%d frame, using %v", region.Box, src.Bounds().Dx(), src.Bounds().Dy(), rect)
	}
	original := crop(src, rect)

	scale := opts.Scale
	if scale < 2 {
		scale = DefaultScale
	}
	enhanced := enhance(upscale(original, scale))

	variants := []Variant{
		{Method: MethodOtsu, Image: finish(thresholdFixed(enhanced, otsuThreshold(enhanced)))},
		{Method: MethodAdaptiveMean, Image: finish(thresholdAdaptive(enhanced, boxBlur(enhanced, adaptiveBlock), adaptiveC))},
		{Method: MethodAdaptiveGaussian, Image: finish(thresholdAdaptive(enhanced, gaussianBlur(enhanced, adaptiveBlock), adaptiveC))},
		{Method: MethodFixed120, Image: finish(thresholdFixed(enhanced, 120))},
		{Method: MethodFixed150, Image: finish(thresholdFixed(enhanced, 150))},
	}
	log.Debug("normalized %dx%d region at x%d into %d variants", rect.Dx(), rect.Dy(), scale, len(variants))

	return &Result{
		Variants:    variants,
		Original:    original,
		Box:         boxFromRect(rect),
		Substituted: substituted,
	}, nil
}

func upscale(src image.Image, scale int) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// enhance converts to luma, flattens the decorative noise band to white and
// amplifies contrast.
func enhance(src *image.RGBA) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := luma(src.RGBAAt(x, y))
			if v >= bandLow && v <= bandHigh {
				v = 255
			}
			out.SetGray(x, y, color.Gray{Y: saturate(contrastAlpha*float64(v) + contrastBeta)})
		}
	}
	return out
}

// luma uses BT.601 weights over the pixel composited onto white.
func luma(c color.RGBA) uint8 {
	bg := 255 - int(c.A)
	r := int(c.R) + bg
	g := int(c.G) + bg
	bl := int(c.B) + bg
	return saturate(0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl))
}

func saturate(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// finish runs close, open and one dilation over the ink mask, then renders it
// as dark ink on white.
func finish(ink mask) *image.Gray {
	ink = ink.dilate().erode() // close
	ink = ink.erode().dilate() // open
	ink = ink.dilate()
	return ink.render()
}
