package palette

import (
	"image"
	"image/color"
	"slices"

	"github.com/scheerer/gradient-lights/internal/colorlib"
)

// Modified median cut quantization. Colors are reduced to 5 significant bits per
// channel, the RGB cube is split repeatedly at the population median of its widest
// axis, and every resulting box contributes its average color.
const (
	sigBits           = 5
	rShift            = 8 - sigBits
	histSize          = 1 << (3 * sigBits)
	maxIterations     = 1000
	fractByPopulation = 0.75

	alphaThreshold = 125
	whiteThreshold = 250
)

type histogram []int

func histIndex(r, g, b int) int {
	return r<<(2*sigBits) | g<<sigBits | b
}

// box is an inclusive range of quantized values on each axis (0 = red, 1 = green, 2 = blue).
type box struct {
	lo, hi [3]int
	hist   histogram

	count  int
	volume int
	leaf   bool
}

func newBox(lo, hi [3]int, hist histogram) *box {
	b := &box{lo: lo, hi: hi, hist: hist}
	b.volume = (hi[0] - lo[0] + 1) * (hi[1] - lo[1] + 1) * (hi[2] - lo[2] + 1)
	b.each(func(_ [3]int, n int) { b.count += n })
	return b
}

func (b *box) each(f func(v [3]int, n int)) {
	for r := b.lo[0]; r <= b.hi[0]; r++ {
		for g := b.lo[1]; g <= b.hi[1]; g++ {
			for bl := b.lo[2]; bl <= b.hi[2]; bl++ {
				f([3]int{r, g, bl}, b.hist[histIndex(r, g, bl)])
			}
		}
	}
}

func (b *box) average() colorlib.Color {
	const mult = 1 << rShift
	var total int
	var sum [3]float64
	b.each(func(v [3]int, n int) {
		total += n
		for axis := range sum {
			sum[axis] += float64(n) * (float64(v[axis]) + 0.5) * mult
		}
	})

	var avg [3]uint8
	for axis := range avg {
		if total > 0 {
			avg[axis] = uint8(sum[axis] / float64(total))
		} else {
			avg[axis] = uint8(mult * (b.lo[axis] + b.hi[axis] + 1) / 2)
		}
	}
	return colorlib.RGB(avg[0], avg[1], avg[2])
}

// split cuts b at the population median of its widest axis. It returns nil when the
// box cannot be divided into two populated halves.
func (b *box) split() (*box, *box) {
	if b.count < 2 {
		return nil, nil
	}

	axis := 0
	for a := 1; a < 3; a++ {
		if b.hi[a]-b.lo[a] > b.hi[axis]-b.lo[axis] {
			axis = a
		}
	}

	lo, hi := b.lo[axis], b.hi[axis]
	if lo == hi {
		return nil, nil
	}
	partial := make([]int, hi-lo+1)
	b.each(func(v [3]int, n int) { partial[v[axis]-lo] += n })
	for i := 1; i < len(partial); i++ {
		partial[i] += partial[i-1]
	}

	for i := lo; i <= hi; i++ {
		if partial[i-lo]*2 <= b.count {
			continue
		}

		left, right := i-lo, hi-i
		var cut int
		if left <= right {
			cut = min(hi-1, i+right/2)
		} else {
			cut = max(lo, i-1-left/2)
		}
		// keep both halves populated
		for cut < hi-1 && partial[cut-lo] == 0 {
			cut++
		}
		for cut > lo && partial[cut-lo] == b.count && partial[cut-1-lo] > 0 {
			cut--
		}
		if partial[cut-lo] == 0 || partial[cut-lo] == b.count {
			return nil, nil
		}

		hi1, lo2 := b.hi, b.lo
		hi1[axis] = cut
		lo2[axis] = cut + 1
		return newBox(b.lo, hi1, b.hist), newBox(lo2, b.hi, b.hist)
	}
	return nil, nil
}

// quantize returns up to maxColors colors, most dominant first. Every quality-th pixel
// is sampled; transparent and near white pixels are ignored.
func quantize(img image.Image, maxColors, quality int) colorlib.List {
	if maxColors < 1 || quality < 1 {
		return nil
	}

	hist := make(histogram, histSize)
	var lo, hi [3]int
	lo = [3]int{histSize, histSize, histSize}
	var sampled int

	bounds := img.Bounds()
	width := bounds.Dx()
	total := width * bounds.Dy()
	for i := 0; i < total; i += quality {
		x, y := bounds.Min.X+i%width, bounds.Min.Y+i/width
		c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
		if c.A < alphaThreshold {
			continue
		}
		if c.R > whiteThreshold && c.G > whiteThreshold && c.B > whiteThreshold {
			continue
		}

		v := [3]int{int(c.R) >> rShift, int(c.G) >> rShift, int(c.B) >> rShift}
		hist[histIndex(v[0], v[1], v[2])]++
		for axis := range v {
			lo[axis] = min(lo[axis], v[axis])
			hi[axis] = max(hi[axis], v[axis])
		}
		sampled++
	}
	if sampled == 0 {
		return nil
	}

	boxes := []*box{newBox(lo, hi, hist)}
	boxes = splitBoxes(boxes, int(fractByPopulation*float64(maxColors)), func(b *box) int {
		return b.count
	})
	boxes = splitBoxes(boxes, maxColors, func(b *box) int {
		return b.count * b.volume
	})

	slices.SortStableFunc(boxes, func(a, b *box) int {
		return b.count*b.volume - a.count*a.volume
	})

	colors := make(colorlib.List, len(boxes))
	for i, b := range boxes {
		colors[i] = b.average()
	}
	return colors
}

// splitBoxes keeps splitting the box with the largest priority until target boxes
// exist or nothing can be split any more.
func splitBoxes(boxes []*box, target int, priority func(*box) int) []*box {
	for iter := 0; len(boxes) < target && iter < maxIterations; iter++ {
		best := -1
		for i, b := range boxes {
			if b.leaf {
				continue
			}
			if best < 0 || priority(b) > priority(boxes[best]) {
				best = i
			}
		}
		if best < 0 {
			break
		}

		b1, b2 := boxes[best].split()
		if b1 == nil {
			boxes[best].leaf = true
			continue
		}
		boxes[best] = b1
		boxes = append(boxes, b2)
	}
	return boxes
}
