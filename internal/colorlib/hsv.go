package colorlib

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// HSV returns hue in degrees [0, 360), saturation and value in [0, 1].
func (c Color) HSV() (h, s, v float64) {
	return c.colorful().Hsv()
}

// FromHSV converts back to RGB. Channels are truncated toward zero, so a channel
// landing on x.5 becomes x.
func FromHSV(h, s, v float64) Color {
	c := colorful.Hsv(h, clamp01(s), clamp01(v))
	return Color{
		Red:   toByte(c.R),
		Green: toByte(c.G),
		Blue:  toByte(c.B),
	}
}

// toByte absorbs float noise below 1e-6 so 0.6117647*255 still lands on 156.
func toByte(x float64) uint8 {
	return uint8(math.Floor(clamp01(x)*255.0 + 1e-6))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Pastelize keeps the hue and moves the color to half saturation at full value.
func Pastelize(c Color) Color {
	h, _, _ := c.HSV()
	return FromHSV(h, 0.5, 1.0)
}

// Intensify scales saturation by (1 + amount), clamped into [0, 1]. amount is
// expected in [-1, 1]; zero returns c untouched.
func Intensify(c Color, amount float64) Color {
	if amount == 0 {
		return c
	}
	h, s, v := c.HSV()
	return FromHSV(h, s*(1+amount), v)
}

// DimForHour halves the value of c during night hours (22:00 to 06:59).
func DimForHour(c Color, hour int) Color {
	if hour >= 7 && hour < 22 {
		return c
	}
	h, s, v := c.HSV()
	return FromHSV(h, s, v*0.5)
}

// RGBToHSB16 converts to the 16 bit hue/saturation/brightness triple LIFX bulbs use.
func RGBToHSB16(c Color) (hue, saturation, brightness uint16) {
	h, s, v := c.HSV()

	hue = uint16(math.Round(h / 360.0 * 0xFFFF))
	saturation = uint16(math.Round(s * 0xFFFF))
	brightness = uint16(math.Round(v * 0xFFFF))
	return hue, saturation, brightness
}

// IsGreyish reports whether a 16 bit saturation is below 20%.
func IsGreyish(saturation uint16) bool {
	return float64(saturation) <= float64(0xFFFF)*0.2
}
