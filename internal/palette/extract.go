// Package palette builds the color list an effect cycles through: explicit colors or
// the dominant colors of an image, run through a configurable chain of filters.
package palette

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"

	"github.com/kbinani/screenshot"
	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
	"github.com/scheerer/gradient-lights/internal/logging"
)

var logger = logging.New("palette")

// Source produces the dominant colors of an input, most dominant first.
type Source interface {
	Extract(ctx context.Context, input string, maxColors, quality int) (colorlib.List, error)
}

// Extractor reads image files (raster formats or SVG) and display captures.
type Extractor struct {
	// SVGSize is the longer side, in pixels, SVG inputs are rasterized to.
	SVGSize int
	// Capture grabs a display for "screen:N" inputs.
	Capture func(display int) (*image.RGBA, error)
}

var _ Source = (*Extractor)(nil)

func NewExtractor() *Extractor {
	return &Extractor{
		SVGSize: DefaultSVGSize,
		Capture: screenshot.CaptureDisplay,
	}
}

func (e *Extractor) Extract(ctx context.Context, input string, maxColors, quality int) (colorlib.List, error) {
	img, err := e.load(input)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	colors := quantize(img, maxColors, quality)
	logger.With(zap.String("input", input), zap.Strings("colors", colors.Strings())).Debug("Extracted palette")
	return colors, nil
}

func (e *Extractor) load(input string) (image.Image, error) {
	if display, ok := strings.CutPrefix(input, config.ScreenInputPrefix); ok {
		return e.captureScreen(display)
	}

	data, err := os.ReadFile(input) // #nosec G304 - user configured input image
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	size := e.SVGSize
	if size <= 0 {
		size = DefaultSVGSize
	}
	return decode(data, size)
}

func (e *Extractor) captureScreen(display string) (image.Image, error) {
	n, err := strconv.Atoi(display)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: invalid screen number %q", config.ErrInvalidConfig, display)
	}
	if e.Capture == nil {
		return nil, fmt.Errorf("screen capture is not available")
	}

	img, err := e.Capture(n)
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen %d: %w", n, err)
	}
	return img, nil
}
