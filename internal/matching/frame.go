// Package matching turns one camera frame into a page recognition: it runs
// the detector, queries the dual index, groups matches by page, estimates a
// homography per page and resolves the best page.
package matching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/kozaktomas/pagefinder/internal/catalog"
)

var (
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
	ErrFrameSize              = errors.New("frame buffer does not match frame size")
)

// PixelFormat names the memory layout of a frame buffer.
type PixelFormat string

const (
	PixelFormatMono PixelFormat = "MONO"
	PixelFormatRGB  PixelFormat = "RGB"
	PixelFormatBGR  PixelFormat = "BGR"
	PixelFormatRGBA PixelFormat = "RGBA"
	PixelFormatBGRA PixelFormat = "BGRA"
	PixelFormatARGB PixelFormat = "ARGB"
	PixelFormatABGR PixelFormat = "ABGR"
	PixelFormat420v PixelFormat = "420v" // bi-planar 4:2:0, video range
	PixelFormat420f PixelFormat = "420f" // bi-planar 4:2:0, full range
	PixelFormatNV21 PixelFormat = "NV21"
	PixelFormatYUYV PixelFormat = "YUYV"
	PixelFormatUYVY PixelFormat = "UYVY"
)

var pixelFormats = []PixelFormat{
	PixelFormatMono, PixelFormatRGB, PixelFormatBGR, PixelFormatRGBA, PixelFormatBGRA,
	PixelFormatARGB, PixelFormatABGR, PixelFormat420v, PixelFormat420f, PixelFormatNV21,
	PixelFormatYUYV, PixelFormatUYVY,
}

// ParsePixelFormat matches s case-insensitively against the known formats.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for _, f := range pixelFormats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPixelFormat, s)
}

// FrameSize returns the buffer length in bytes of a width×height frame.
func (f PixelFormat) FrameSize(width, height int) (int, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("%w: %dx%d", ErrFrameSize, width, height)
	}
	n := width * height
	switch f {
	case PixelFormatMono:
		return n, nil
	case PixelFormatRGB, PixelFormatBGR:
		return 3 * n, nil
	case PixelFormatRGBA, PixelFormatBGRA, PixelFormatARGB, PixelFormatABGR:
		return 4 * n, nil
	case PixelFormat420v, PixelFormat420f, PixelFormatNV21:
		// full luma plane plus interleaved chroma at half resolution
		return n + 2*((width+1)/2)*((height+1)/2), nil
	case PixelFormatYUYV, PixelFormatUYVY:
		return 2 * ((width + 1) / 2) * 2 * height, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedPixelFormat, string(f))
	}
}

// Frame is one camera image handed to the detector.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
}

// Validate checks the format and that Data holds at least one full frame.
func (f Frame) Validate() error {
	size, err := f.Format.FrameSize(f.Width, f.Height)
	if err != nil {
		return err
	}
	if len(f.Data) < size {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrFrameSize, size, len(f.Data))
	}
	return nil
}

// QueryFeature is one keypoint found in a frame.
type QueryFeature struct {
	Pos        r2.Vec // frame pixels
	Descriptor []float32
	Polarity   catalog.Polarity
}

// Detector extracts keypoints from a frame.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]QueryFeature, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, frame Frame) ([]QueryFeature, error)

func (f DetectorFunc) Detect(ctx context.Context, frame Frame) ([]QueryFeature, error) {
	return f(ctx, frame)
}
