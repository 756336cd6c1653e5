package imaging

import (
	"bytes"
	"errors"
	"image"
	"testing"

	"github.com/fogleman/gg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// renderFrame draws a white frame with a 3px gray noise line across row 10
// and a solid black block at (10,2)-(20,8).
func renderFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	dc := gg.NewContext(w, h)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB255(200, 200, 200)
	dc.DrawRectangle(0, 10, float64(w), 3)
	dc.Fill()
	dc.SetRGB(0, 0, 0)
	dc.DrawRectangle(10, 2, 10, 6)
	dc.Fill()

	var buf bytes.Buffer
	require.NoError(t, dc.EncodePNG(&buf))
	return buf.Bytes()
}

func TestNormalizeVariants(t *testing.T) {
	frame := renderFrame(t, 60, 20)
	res, err := Normalize(CapturedRegion{Frame: frame, Box: Box{Width: 60, Height: 20}}, Options{})
	require.NoError(t, err)

	assert.False(t, res.Substituted)
	assert.Equal(t, Box{Width: 60, Height: 20}, res.Box)
	assert.Equal(t, image.Rect(0, 0, 60, 20), res.Original.Bounds())

	var methods []string
	for _, v := range res.Variants {
		methods = append(methods, v.Method)
		assert.Equal(t, image.Rect(0, 0, 180, 60), v.Image.Bounds(), v.Method)
		for _, p := range v.Image.Pix {
			if p != 0 && p != 255 {
				t.Fatalf("%s: pixel value %d is not binary", v.Method, p)
			}
		}
	}
	assert.Equal(t, []string{"otsu", "adaptive_mean", "adaptive_gaussian", "fixed_120", "fixed_150"}, methods)
}

func TestNormalizeSuppressesNoiseBandAndKeepsInk(t *testing.T) {
	frame := renderFrame(t, 60, 20)
	res, err := Normalize(CapturedRegion{Frame: frame, Box: Box{Width: 60, Height: 20}}, Options{})
	require.NoError(t, err)

	for _, v := range res.Variants {
		// (151,34) samples the middle of the gray line exactly
		assert.Equal(t, uint8(255), v.Image.GrayAt(151, 34).Y, "%s: noise line should be background", v.Method)
	}
	for _, v := range res.Variants {
		if v.Method == MethodOtsu || v.Method == MethodFixed120 || v.Method == MethodFixed150 {
			assert.Equal(t, uint8(0), v.Image.GrayAt(46, 16).Y, "%s: block interior should be ink", v.Method)
		}
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	frame := renderFrame(t, 60, 20)
	region := CapturedRegion{Frame: frame, Box: Box{X: 5, Y: 1, Width: 40, Height: 15}}

	a, err := Normalize(region, Options{})
	require.NoError(t, err)
	b, err := Normalize(region, Options{})
	require.NoError(t, err)

	require.Len(t, b.Variants, len(a.Variants))
	for i := range a.Variants {
		assert.Equal(t, a.Variants[i].Image.Pix, b.Variants[i].Image.Pix, a.Variants[i].Method)
	}
}

func TestNormalizeScaleOption(t *testing.T) {
	frame := renderFrame(t, 60, 20)
	res, err := Normalize(CapturedRegion{Frame: frame, Box: Box{Width: 60, Height: 20}}, Options{Scale: 2})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 120, 40), res.Variants[0].Image.Bounds())

	res, err = Normalize(CapturedRegion{Frame: frame, Box: Box{Width: 60, Height: 20}}, Options{Scale: 1})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 180, 60), res.Variants[0].Image.Bounds())
}

func TestNormalizeDegenerateBox(t *testing.T) {
	frame := renderFrame(t, 800, 600)

	tests := []struct {
		name string
		box  Box
	}{
		{"zero area", Box{X: 10, Y: 10}},
		{"negative width", Box{X: 10, Y: 10, Width: -5, Height: 20}},
		{"outside frame", Box{X: 900, Y: 700, Width: 50, Height: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Normalize(CapturedRegion{Frame: frame, Box: tt.box}, Options{})
			require.NoError(t, err)
			assert.True(t, res.Substituted)
			assert.Equal(t, Box{X: 250, Y: 260, Width: 300, Height: 80}, res.Box)
			assert.NotEmpty(t, res.Variants)
		})
	}
}

func TestNormalizeDegenerateBoxSmallFrame(t *testing.T) {
	frame := renderFrame(t, 100, 50)
	res, err := Normalize(CapturedRegion{Frame: frame}, Options{})
	require.NoError(t, err)
	assert.True(t, res.Substituted)
	assert.Equal(t, Box{Width: 100, Height: 50}, res.Box)
}

func TestNormalizeClampsPartialBox(t *testing.T) {
	frame := renderFrame(t, 60, 20)
	res, err := Normalize(CapturedRegion{Frame: frame, Box: Box{X: 50, Y: 10, Width: 40, Height: 40}}, Options{})
	require.NoError(t, err)
	assert.False(t, res.Substituted)
	assert.Equal(t, Box{X: 50, Y: 10, Width: 10, Height: 10}, res.Box)
}

func TestNormalizeDecodeError(t *testing.T) {
	for _, frame := range [][]byte{nil, []byte("definitely not an image")} {
		_, err := Normalize(CapturedRegion{Frame: frame, Box: Box{Width: 10, Height: 10}}, Options{})
		var decErr *DecodeError
		require.True(t, errors.As(err, &decErr), "got %v", err)
	}
}

func TestFullFrame(t *testing.T) {
	frame := renderFrame(t, 60, 20)
	region, err := FullFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, Box{Width: 60, Height: 20}, region.Box)

	_, err = FullFrame([]byte("nope"))
	var decErr *DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestFinishRemovesSpeckKeepsStrokes(t *testing.T) {
	m := newMask(12, 12)
	m.px[2*12+2] = true // isolated speck
	for y := 6; y < 10; y++ {
		for x := 6; x < 10; x++ {
			m.px[y*12+x] = true
		}
	}

	out := finish(m)
	assert.Equal(t, uint8(255), out.GrayAt(2, 2).Y)
	assert.Equal(t, uint8(255), out.GrayAt(3, 3).Y)
	assert.Equal(t, uint8(0), out.GrayAt(8, 8).Y)
}

func TestOtsuThresholdSeparatesModes(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range g.Pix {
		if i%2 == 0 {
			g.Pix[i] = 30
		} else {
			g.Pix[i] = 220
		}
	}
	th := otsuThreshold(g)
	assert.GreaterOrEqual(t, th, uint8(30))
	assert.Less(t, th, uint8(220))
}
