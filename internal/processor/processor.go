package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode
)

const (
	// DefaultMaxEdge is the longest edge of a preview in pixels.
	DefaultMaxEdge = 150
	// DefaultQuality is the JPEG quality used for previews.
	DefaultQuality = 85

	// maxSourcePixels caps the decoded size of an original.
	maxSourcePixels = 100_000_000
)

// ErrInvalidOptions is returned when Options are out of range.
var ErrInvalidOptions = errors.New("invalid transform options")

// Options controls preview generation.
type Options struct {
	MaxEdge int // neither output dimension exceeds this
	Quality int // JPEG quality, 1..100
}

// DefaultOptions returns the baseline preview options.
func DefaultOptions() Options {
	return Options{MaxEdge: DefaultMaxEdge, Quality: DefaultQuality}
}

// Validate checks that the options can be used for encoding.
func (o Options) Validate() error {
	if o.MaxEdge < 1 {
		return fmt.Errorf("%w: max edge %d", ErrInvalidOptions, o.MaxEdge)
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("%w: quality %d", ErrInvalidOptions, o.Quality)
	}
	return nil
}

// DecodeError reports input bytes that are not a supported raster image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Processor turns original image bytes into bounded JPEG previews.
// It holds no state and is safe for concurrent use.
type Processor struct {
	opts Options
}

// New creates a new Processor with the given options.
func New(opts Options) (*Processor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Processor{opts: opts}, nil
}

// Transform produces a preview with the processor's options.
func (p *Processor) Transform(data []byte) ([]byte, error) {
	return Transform(data, p.opts)
}

// Transform decodes data, shrinks it to fit opts.MaxEdge, flattens any
// transparency onto white and encodes the result as JPEG.
//
// The same input and options always produce the same bytes for a given
// version of the image libraries.
func Transform(data []byte, opts Options) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	// Check the header before allocating the full raster.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, &DecodeError{Err: fmt.Errorf("unsupported dimensions %dx%d", cfg.Width, cfg.Height)}
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	// Fit never upscales: smaller images come back as a plain copy.
	img := image.Image(imaging.Fit(src, opts.MaxEdge, opts.MaxEdge, imaging.Lanczos))

	if !isOpaque(img) {
		img = flatten(img, color.White)
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	return buf.Bytes(), nil
}

// isOpaque reports whether every pixel of img is fully opaque.
func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}

// flatten draws img over an opaque background of the same size, using the
// image alpha as the blend weight.
func flatten(img image.Image, bg color.Color) image.Image {
	b := img.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.SetColor(bg)
	dc.Clear()
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return dc.Image()
}
