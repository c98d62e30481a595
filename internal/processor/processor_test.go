package processor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func near(a, b uint32) bool {
	if a > b {
		a, b = b, a
	}
	return b-a <= 0x0800
}

func TestTransform_ShrinksToMaxEdge(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 400, 200, 150, 75},
		{"portrait", 300, 600, 75, 150},
		{"square", 1000, 1000, 150, 150},
		{"one edge over", 151, 20, 150, 19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := encodePNG(t, solid(tt.w, tt.h, color.NRGBA{R: 10, G: 120, B: 200, A: 255}))

			out, err := Transform(src, DefaultOptions())
			require.NoError(t, err)

			b := decodeJPEG(t, out).Bounds()
			assert.Equal(t, tt.wantW, b.Dx())
			assert.Equal(t, tt.wantH, b.Dy())
			assert.LessOrEqual(t, max(b.Dx(), b.Dy()), DefaultMaxEdge)
		})
	}
}

func TestTransform_DoesNotUpscale(t *testing.T) {
	src := encodePNG(t, solid(100, 60, color.NRGBA{R: 200, A: 255}))

	out, err := Transform(src, DefaultOptions())
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 100, b.Dx())
	assert.Equal(t, 60, b.Dy())
}

func TestTransform_FlattensTransparencyOntoWhite(t *testing.T) {
	img := solid(40, 40, color.NRGBA{R: 255, A: 0})
	// Left half is opaque black, right half fully transparent red.
	for y := 0; y < 40; y++ {
		for x := 0; x < 20; x++ {
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}

	out, err := Transform(encodePNG(t, img), DefaultOptions())
	require.NoError(t, err)

	dec := decodeJPEG(t, out)
	_, _, _, a := dec.At(30, 20).RGBA()
	assert.Equal(t, uint32(0xffff), a)

	r, g, b, _ := dec.At(35, 20).RGBA()
	assert.True(t, near(r, 0xffff) && near(g, 0xffff) && near(b, 0xffff), "transparent area should be white, got %x %x %x", r, g, b)

	r, g, b, _ = dec.At(5, 20).RGBA()
	assert.True(t, near(r, 0) && near(g, 0) && near(b, 0), "opaque area should keep its colour, got %x %x %x", r, g, b)
}

func TestTransform_HalfTransparentBlendsWithWhite(t *testing.T) {
	src := encodePNG(t, solid(10, 10, color.NRGBA{A: 128}))

	out, err := Transform(src, DefaultOptions())
	require.NoError(t, err)

	r, _, _, _ := decodeJPEG(t, out).At(5, 5).RGBA()
	// 50% black over white is mid grey.
	assert.InDelta(t, 0x7f7f, float64(r), 0x0c00)
}

func TestTransform_PalettedTransparency(t *testing.T) {
	pal := color.Palette{color.NRGBA{A: 0}, color.NRGBA{G: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, 300, 300), pal)
	buf := new(bytes.Buffer)
	require.NoError(t, gif.Encode(buf, img, nil))

	out, err := Transform(buf.Bytes(), DefaultOptions())
	require.NoError(t, err)

	dec := decodeJPEG(t, out)
	assert.Equal(t, 150, dec.Bounds().Dx())
	r, g, b, _ := dec.At(75, 75).RGBA()
	assert.True(t, near(r, 0xffff) && near(g, 0xffff) && near(b, 0xffff))
}

func TestTransform_Deterministic(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 500, 320))
	for y := 0; y < 320; y++ {
		for x := 0; x < 500; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: uint8(x + y)})
		}
	}
	src := encodePNG(t, img)

	first, err := Transform(src, DefaultOptions())
	require.NoError(t, err)
	second, err := Transform(src, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestTransform_AcceptsJPEG(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, solid(320, 240, color.NRGBA{B: 255, A: 255}), nil))

	out, err := Transform(buf.Bytes(), DefaultOptions())
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 150, b.Dx())
	assert.Equal(t, 112, b.Dy())
}

func TestTransform_DecodeError(t *testing.T) {
	_, err := Transform([]byte("definitely not an image"), DefaultOptions())
	require.Error(t, err)

	var decErr *DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestTransform_TruncatedInput(t *testing.T) {
	src := encodePNG(t, solid(64, 64, color.NRGBA{R: 1, A: 255}))

	_, err := Transform(src[:len(src)/2], DefaultOptions())

	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())
	assert.ErrorIs(t, Options{MaxEdge: 0, Quality: 85}.Validate(), ErrInvalidOptions)
	assert.ErrorIs(t, Options{MaxEdge: 150, Quality: 0}.Validate(), ErrInvalidOptions)
	assert.ErrorIs(t, Options{MaxEdge: 150, Quality: 101}.Validate(), ErrInvalidOptions)

	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestProcessor_UsesOptions(t *testing.T) {
	p, err := New(Options{MaxEdge: 32, Quality: 70})
	require.NoError(t, err)

	out, err := p.Transform(encodePNG(t, solid(64, 16, color.NRGBA{G: 90, A: 255})))
	require.NoError(t, err)

	b := decodeJPEG(t, out).Bounds()
	assert.Equal(t, 32, b.Dx())
	assert.Equal(t, 8, b.Dy())
}
