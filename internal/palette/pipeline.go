package palette

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
)

// ErrEmptyPalette means a reset produced no colors to cycle through. It is a
// configuration error.
var ErrEmptyPalette = fmt.Errorf("%w: palette is empty", config.ErrInvalidConfig)

// Filter is a pure transform applied to the whole palette.
type Filter func(colorlib.List, config.Settings) (colorlib.List, error)

type Pipeline struct {
	source  Source
	filters map[string]Filter
	now     func() time.Time
}

type Option func(*Pipeline)

// WithClock replaces time.Now for the time of day filter.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithFilter registers or replaces a named filter.
func WithFilter(name string, f Filter) Option {
	return func(p *Pipeline) {
		p.filters[name] = f
	}
}

func NewPipeline(source Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source: source,
		now:    time.Now,
	}
	p.filters = map[string]Filter{
		config.FilterPastelize: func(colors colorlib.List, _ config.Settings) (colorlib.List, error) {
			return colors.Map(colorlib.Pastelize), nil
		},
		config.FilterTimeOfDay: func(colors colorlib.List, _ config.Settings) (colorlib.List, error) {
			hour := p.now().Hour()
			return colors.Map(func(c colorlib.Color) colorlib.Color {
				return colorlib.DimForHour(c, hour)
			}), nil
		},
		config.FilterIntensify: intensify,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func intensify(colors colorlib.List, s config.Settings) (colorlib.List, error) {
	if err := config.EnsureRange(s.Intensity, -1.0, 1.0); err != nil {
		return nil, fmt.Errorf("%w: intensity: %w", config.ErrInvalidConfig, err)
	}
	return colors.Map(func(c colorlib.Color) colorlib.Color {
		return colorlib.Intensify(c, s.Intensity)
	}), nil
}

// Build resolves the palette for s: explicit colors win, then the host's colors when
// no input is configured, then the dominant colors of the input. The filters named in
// s.Filters run left to right over the result.
func (p *Pipeline) Build(ctx context.Context, s config.Settings) (colorlib.List, error) {
	colors, err := p.base(ctx, s)
	if err != nil {
		return nil, err
	}

	for _, name := range s.Filters {
		filter, ok := p.filters[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown filter %q", config.ErrInvalidConfig, name)
		}
		if colors, err = filter(colors, s); err != nil {
			return nil, err
		}
	}

	if len(colors) == 0 {
		return nil, ErrEmptyPalette
	}
	logger.With(zap.Strings("colors", colors.Strings()), zap.Strings("filters", s.Filters)).Debug("Built palette")
	return colors, nil
}

func (p *Pipeline) base(ctx context.Context, s config.Settings) (colorlib.List, error) {
	switch {
	case len(s.Colors) > 0:
		return s.Colors.Clone(), nil
	case s.Input == "" && len(s.HostColors) > 0:
		n := min(len(s.HostColors), s.MaxPaletteSize)
		return s.HostColors[:n].Clone(), nil
	case s.Input == "":
		return nil, ErrEmptyPalette
	}

	if p.source == nil {
		return nil, errors.New("no palette source configured")
	}
	return p.source.Extract(ctx, s.Input, s.MaxPaletteSize, s.Quality)
}
