// Package sampler turns live video frames into bounded, compressed stills
// for the model, rejecting frames from a covered or failed camera.
package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxWidth  = 1024
	DefaultQuality   = 85
	DefaultThreshold = 5.0
	DefaultStride    = 40
)

// ErrBlankFrame means the sampled brightness was below the near-black
// threshold. Callers skip the cycle.
var ErrBlankFrame = errors.New("sampler: blank frame")

// FrameSource yields the current video frame.
type FrameSource interface {
	Frame(ctx context.Context) (image.Image, error)
}

// Sampler captures, downscales, checks and encodes frames.
type Sampler struct {
	src       FrameSource
	maxWidth  int
	quality   int
	threshold float64
	stride    int
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithMaxWidth bounds the encoded width. Aspect ratio is preserved.
func WithMaxWidth(w int) Option {
	return func(s *Sampler) {
		if w > 0 {
			s.maxWidth = w
		}
	}
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(s *Sampler) {
		if q > 0 && q <= 100 {
			s.quality = q
		}
	}
}

// WithThreshold sets the average channel value below which a frame is blank.
func WithThreshold(v float64) Option {
	return func(s *Sampler) {
		s.threshold = v
	}
}

// New creates a Sampler reading from src.
func New(src FrameSource, opts ...Option) *Sampler {
	s := &Sampler{
		src:       src,
		maxWidth:  DefaultMaxWidth,
		quality:   DefaultQuality,
		threshold: DefaultThreshold,
		stride:    DefaultStride,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture returns the current frame as JPEG bytes, or ErrBlankFrame.
func (s *Sampler) Capture(ctx context.Context) ([]byte, error) {
	if s.src == nil {
		return nil, errors.New("sampler: no frame source")
	}
	img, err := s.src.Frame(ctx)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	img = Downscale(img, s.maxWidth)
	if IsBlank(img, s.stride, s.threshold) {
		return nil, ErrBlankFrame
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Downscale shrinks img to at most maxWidth wide, preserving aspect ratio.
// Images already within bounds are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxWidth <= 0 || w <= maxWidth || w == 0 {
		return img
	}
	nh := int(float64(h)*float64(maxWidth)/float64(w) + 0.5)
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// IsBlank samples every stride-th pixel (row-major) of the central half of
// img and reports whether the average channel value is below threshold.
func IsBlank(img image.Image, stride int, threshold float64) bool {
	if stride <= 0 {
		stride = DefaultStride
	}
	b := img.Bounds()
	region := image.Rect(
		b.Min.X+b.Dx()/4,
		b.Min.Y+b.Dy()/4,
		b.Min.X+b.Dx()/4+b.Dx()/2,
		b.Min.Y+b.Dy()/4+b.Dy()/2,
	)
	rw, rh := region.Dx(), region.Dy()
	total := rw * rh
	if total == 0 {
		return true
	}

	var sum float64
	samples := 0
	for i := 0; i < total; i += stride {
		x := region.Min.X + i%rw
		y := region.Min.Y + i/rw
		r, g, bl, _ := img.At(x, y).RGBA()
		sum += float64(r>>8) + float64(g>>8) + float64(bl>>8)
		samples++
	}
	avg := sum / float64(samples) / 3
	return avg < threshold
}
