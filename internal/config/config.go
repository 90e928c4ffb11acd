// Package config turns the host's key/value plugin configuration into an immutable
// Settings snapshot and loads the process environment.
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/scheerer/gradient-lights/internal/colorlib"
)

const (
	DefaultAddress = "localhost"
	DefaultPort    = 6742

	DriverOpenRGB = "openrgb"
	DriverLIFX    = "lifx"

	FilterPastelize = "pastelize"
	FilterTimeOfDay = "timeofday"
	FilterIntensify = "intensify"

	// ScreenInputPrefix selects a display capture instead of an image file, e.g. "screen:0".
	ScreenInputPrefix = "screen:"
)

var (
	Drivers = []string{DriverOpenRGB, DriverLIFX}
	Filters = []string{FilterPastelize, FilterTimeOfDay, FilterIntensify}
)

// Source is the host's abstract configuration section.
type Source interface {
	Lookup(key string) (string, bool)
}

// Values is a plain map Source.
type Values map[string]string

func (v Values) Lookup(key string) (string, bool) {
	s, ok := v[key]
	return s, ok
}

// Merge returns a copy of v with every key of other applied on top.
func (v Values) Merge(other Values) Values {
	out := make(Values, len(v)+len(other))
	for k, s := range v {
		out[k] = s
	}
	for k, s := range other {
		out[k] = s
	}
	return out
}

// ParseAssignments reads "key=value" pairs as given on the command line.
func ParseAssignments(pairs []string) (Values, error) {
	out := make(Values, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", ErrInvalidConfig, pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

// Settings is the snapshot an effect reset works from. It is never mutated once built;
// a new configuration produces a new Settings.
type Settings struct {
	Driver  string
	Address string
	Port    int

	Steps          int
	Interval       time.Duration
	PauseAfterFade time.Duration
	Transition     time.Duration

	MaxPaletteSize int
	Quality        int
	Pastelize      bool
	TimeOfDay      bool
	Intensity      float64
	Filters        []string

	Colors     colorlib.List
	HostColors colorlib.List
	Input      string
}

// Endpoint identifies the hardware the settings talk to: "host:port" for OpenRGB,
// the group label for LIFX.
func (s Settings) Endpoint() string {
	if s.Driver == DriverLIFX {
		return s.Address
	}
	return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
}

// Parse builds Settings from src. hostColors are the colors the host handed to the
// plugin; they stand in for an image when neither colors nor input are configured.
// Every problem found is reported, joined, and wrapped in ErrInvalidConfig.
func Parse(src Source, hostColors colorlib.List) (Settings, error) {
	r := &reader{src: src}

	s := Settings{
		Driver:         strings.ToLower(r.str("driver", DriverOpenRGB)),
		Steps:          r.integer("gradient_steps", 20),
		Interval:       r.seconds("interval", 0.05),
		PauseAfterFade: r.seconds("pause_after_fade", 0),
		Transition:     r.seconds("transition", 0),
		MaxPaletteSize: r.integer("max_palette_size", 10),
		Quality:        r.integer("quality", 10),
		Pastelize:      r.boolean("pastelize", false),
		TimeOfDay:      r.boolean("timeofday", false),
		Intensity:      r.number("intensity", 0),
		HostColors:     hostColors.Clone(),
		Input:          expandHome(r.str("input", "")),
	}

	r.check("driver", func() error {
		if !slices.Contains(Drivers, s.Driver) {
			return fmt.Errorf("unknown driver %q (valid drivers: %v)", s.Driver, Drivers)
		}
		return nil
	})

	defaultAddress := DefaultAddress
	if s.Driver == DriverLIFX {
		defaultAddress = ""
	}
	address := r.str("address", defaultAddress)
	if s.Driver == DriverLIFX {
		s.Address = address
	} else {
		r.check("address", func() error {
			var err error
			s.Address, s.Port, err = splitAddress(address)
			return err
		})
	}

	colors, err := colorlib.ParseList(r.str("colors", ""))
	r.check("colors", func() error { return err })
	s.Colors = colors

	s.Filters = defaultFilters(s.Pastelize, s.TimeOfDay)
	if names, ok := src.Lookup("filters"); ok && strings.TrimSpace(names) != "" {
		s.Filters = strings.Fields(strings.ToLower(names))
	}
	for _, name := range s.Filters {
		r.check("filters", func() error {
			if !slices.Contains(Filters, name) {
				return fmt.Errorf("unknown filter %q (valid filters: %v)", name, Filters)
			}
			return nil
		})
	}

	r.check("gradient_steps", func() error { return positive(s.Steps) })
	r.check("max_palette_size", func() error { return positive(s.MaxPaletteSize) })
	r.check("quality", func() error { return positive(s.Quality) })
	r.check("interval", func() error { return nonNegative(s.Interval) })
	r.check("pause_after_fade", func() error { return nonNegative(s.PauseAfterFade) })
	r.check("transition", func() error { return nonNegative(s.Transition) })
	r.check("intensity", func() error { return EnsureRange(s.Intensity, -1.0, 1.0) })
	r.check("input", func() error {
		if s.Input == "" && len(s.Colors) == 0 && len(s.HostColors) == 0 {
			return fmt.Errorf("required when no colors are configured")
		}
		return nil
	})

	if r.err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidConfig, r.err)
	}
	return s, nil
}

func defaultFilters(pastelize, timeOfDay bool) []string {
	var filters []string
	if pastelize {
		filters = append(filters, FilterPastelize)
	}
	if timeOfDay {
		filters = append(filters, FilterTimeOfDay)
	}
	return append(filters, FilterIntensify)
}

func splitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		// no port given
		host, portStr = address, ""
	}
	if host == "" {
		host = DefaultAddress
	}
	if portStr == "" {
		return host, DefaultPort, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if err := EnsureRange(port, 1, 65535); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func positive(v int) error {
	if v < 1 {
		return fmt.Errorf("must be a positive integer, got %d", v)
	}
	return nil
}

func nonNegative(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("must not be negative, got %v", d)
	}
	return nil
}

// reader provides typed getters with defaults and collects every failure.
type reader struct {
	src Source
	err error
}

func (r *reader) fail(key string, err error) {
	r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
}

func (r *reader) check(key string, f func() error) {
	if err := f(); err != nil {
		r.fail(key, err)
	}
}

func (r *reader) lookup(key string) (string, bool) {
	v, ok := r.src.Lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.src.Lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid integer %q", v))
		return def
	}
	return i
}

func (r *reader) number(key string, def float64) float64 {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, fmt.Errorf("invalid number %q", v))
		return def
	}
	return f
}

// maxSeconds is the longest duration time.Duration can hold.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

func (r *reader) seconds(key string, def float64) time.Duration {
	f := r.number(key, def)
	if math.IsNaN(f) || math.Abs(f) > maxSeconds {
		v, _ := r.lookup(key)
		r.fail(key, fmt.Errorf("invalid duration %q seconds", v))
		f = def
	}
	return time.Duration(f * float64(time.Second))
}

// boolean accepts the ini spellings: 1/yes/true/on and 0/no/false/off.
func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "yes", "true", "on":
		return true
	case "0", "no", "false", "off":
		return false
	}
	r.fail(key, fmt.Errorf("invalid boolean %q", v))
	return def
}
