package colorlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGradientEndpointsAndLength(t *testing.T) {
	pairs := [][2]Color{
		{red, green},
		{RGB(45, 23, 212), red},
		{RGB(0, 0, 0), RGB(255, 255, 255)},
		{RGB(10, 200, 30), RGB(10, 200, 30)},
	}

	for _, pair := range pairs {
		for steps := 2; steps <= 40; steps++ {
			g := Gradient(pair[0], pair[1], steps)
			if assert.Len(t, g, steps) {
				assert.Equal(t, pair[0], g[0])
				assert.Equal(t, pair[1], g[len(g)-1])
			}
		}
	}
}

func TestGradientIntermediateColors(t *testing.T) {
	got := Gradient(red, green, 5)
	want := List{
		red,
		RGB(191, 64, 0),
		RGB(128, 128, 0),
		RGB(64, 191, 0),
		green,
	}
	assert.Equal(t, want, got)
}

func TestGradientWithFewerThanTwoStepsYieldsStop(t *testing.T) {
	assert.Equal(t, List{green}, Gradient(red, green, 1))
	assert.Equal(t, List{green}, Gradient(red, green, 0))
	assert.Equal(t, List{green}, Gradient(red, green, -3))
}

func TestNextGradientEndpointsChains(t *testing.T) {
	cycle := NewCycle(List{red, green, blue})

	start, stop := NextGradientEndpoints(cycle, nil)
	assert.Equal(t, red, start)
	assert.Equal(t, green, stop)

	start, stop = NextGradientEndpoints(cycle, &stop)
	assert.Equal(t, green, start)
	assert.Equal(t, blue, stop)

	start, stop = NextGradientEndpoints(cycle, &stop)
	assert.Equal(t, blue, start)
	assert.Equal(t, red, stop)
}

func TestNextGradientEndpointsWithPrevStopColor(t *testing.T) {
	prev := RGB(45, 23, 212)
	cycle := NewCycle(List{red, green, blue})

	start, stop := NextGradientEndpoints(cycle, &prev)

	assert.Equal(t, prev, start)
	assert.Equal(t, red, stop)
}

func TestCycleWraps(t *testing.T) {
	cycle := NewCycle(List{red, green})

	got := List{cycle.Next(), cycle.Next(), cycle.Next(), cycle.Next(), cycle.Next()}

	assert.Equal(t, List{red, green, red, green, red}, got)
	assert.Equal(t, 2, cycle.Len())
}

func TestCycleCopiesItsInput(t *testing.T) {
	colors := List{red, green}
	cycle := NewCycle(colors)
	colors[0] = blue

	assert.Equal(t, red, cycle.Next())
	assert.Equal(t, List{red, green}, cycle.Colors())
}

func TestEmptyCyclePanics(t *testing.T) {
	assert.Panics(t, func() { NewCycle(nil).Next() })

	var cycle *Cycle
	assert.Equal(t, 0, cycle.Len())
}
