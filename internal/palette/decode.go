package palette

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format
	_ "image/jpeg" // Register JPEG format
	_ "image/png"  // Register PNG format
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // Register BMP format
	_ "golang.org/x/image/tiff" // Register TIFF format
	_ "golang.org/x/image/webp" // Register WebP format
)

// ErrUnreadableImage is returned when the input is neither a decodable raster image
// nor a valid SVG. It wraps the raster decoder's error, never the SVG one.
var ErrUnreadableImage = errors.New("unreadable image")

// DefaultSVGSize is the length in pixels of the longer side of a rasterized SVG.
const DefaultSVGSize = 256

// decode tries the registered raster decoders first and falls back to SVG.
func decode(data []byte, svgSize int) (image.Image, error) {
	img, _, rasterErr := image.Decode(bytes.NewReader(data))
	if rasterErr == nil {
		return img, nil
	}

	img, svgErr := rasterizeSVG(data, svgSize)
	if svgErr == nil {
		return img, nil
	}

	logger.With(zap.NamedError("svgError", svgErr)).Debug("Input is not an SVG either")
	return nil, fmt.Errorf("%w: %w", ErrUnreadableImage, rasterErr)
}

func rasterizeSVG(data []byte, size int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse svg: %w", err)
	}

	w, h := icon.ViewBox.W, icon.ViewBox.H
	if w <= 0 || h <= 0 {
		return nil, errors.New("failed to parse svg: missing or empty view box")
	}

	scale := float64(size) / math.Max(w, h)
	width := max(1, int(math.Round(w*scale)))
	height := max(1, int(math.Round(h*scale)))

	icon.SetTarget(0, 0, float64(width), float64(height))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	return img, nil
}
