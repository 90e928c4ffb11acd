// Package colorlib holds the RGB color type and the pure color math used by the
// gradient effect: interpolation, palette cycling and HSV based transforms.
package colorlib

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/colornames"
)

type Color struct {
	Red   uint8
	Green uint8
	Blue  uint8
}

// List is an ordered palette. Order carries meaning (dominance rank or user order).
type List []Color

func RGB(r, g, b uint8) Color {
	return Color{Red: r, Green: g, Blue: b}
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x", c.Red, c.Green, c.Blue)
}

func (c Color) colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.Red) / 255.0,
		G: float64(c.Green) / 255.0,
		B: float64(c.Blue) / 255.0,
	}
}

// ParseColor accepts "#rgb", "#rrggbb" or a CSS color name such as "red".
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Color{}, fmt.Errorf("empty color literal")
	}

	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
		}
		r, g, b := c.RGB255()
		return RGB(r, g, b), nil
	}

	named, ok := colornames.Map[strings.ToLower(s)]
	if !ok {
		return Color{}, fmt.Errorf("invalid color %q: unknown color name", s)
	}
	return RGB(named.R, named.G, named.B), nil
}

// ParseList splits s on whitespace and parses every item.
func ParseList(s string) (List, error) {
	fields := strings.Fields(s)
	colors := make(List, 0, len(fields))
	for _, f := range fields {
		c, err := ParseColor(f)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}
	return colors, nil
}

func (l List) Clone() List {
	if l == nil {
		return nil
	}
	return append(List(nil), l...)
}

// Map returns a new list with f applied to every color.
func (l List) Map(f func(Color) Color) List {
	out := make(List, len(l))
	for i, c := range l {
		out[i] = f(c)
	}
	return out
}

func (l List) Strings() []string {
	out := make([]string, len(l))
	for i, c := range l {
		out[i] = c.String()
	}
	return out
}
