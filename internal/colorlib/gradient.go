package colorlib

import "math"

// Gradient returns steps colors running linearly from start to stop, both included.
// Fewer than two steps cannot hold both endpoints, so only stop is returned.
func Gradient(start, stop Color, steps int) List {
	if steps < 2 {
		return List{stop}
	}

	last := float64(steps - 1)
	channel := func(from, to uint8, i int) uint8 {
		return uint8(math.Round(float64(from) + float64(int(to)-int(from))*float64(i)/last))
	}

	colors := make(List, steps)
	for i := range colors {
		colors[i] = Color{
			Red:   channel(start.Red, stop.Red, i),
			Green: channel(start.Green, stop.Green, i),
			Blue:  channel(start.Blue, stop.Blue, i),
		}
	}
	return colors
}

// Cycle walks a palette endlessly, wrapping after the last color.
// The zero Cycle has no colors and must not be advanced.
type Cycle struct {
	colors List
	pos    int
}

func NewCycle(colors List) *Cycle {
	return &Cycle{colors: colors.Clone()}
}

func (c *Cycle) Len() int {
	if c == nil {
		return 0
	}
	return len(c.colors)
}

// Next returns the color under the cursor and advances it. Panics on an empty cycle.
func (c *Cycle) Next() Color {
	if c.Len() == 0 {
		panic("colorlib: Next called on an empty color cycle")
	}
	color := c.colors[c.pos]
	c.pos = (c.pos + 1) % len(c.colors)
	return color
}

// Colors returns a copy of the underlying palette.
func (c *Cycle) Colors() List {
	if c == nil {
		return nil
	}
	return c.colors.Clone()
}

// NextGradientEndpoints chains segments: a segment starts where the previous one
// stopped, and only the very first segment (prev == nil) consumes two colors.
func NextGradientEndpoints(cycle *Cycle, prev *Color) (start, stop Color) {
	if prev == nil {
		start = cycle.Next()
	} else {
		start = *prev
	}
	stop = cycle.Next()
	return start, stop
}
