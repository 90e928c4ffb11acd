package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

// Environment holds process level settings that are not part of the host's plugin
// configuration.
type Environment struct {
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info"`
	ConfigPath            string        `env:"GRADIENT_CONFIG" envDefault:"~/.config/gradient-lights/config.yaml"`
	Section               string        `env:"GRADIENT_SECTION" envDefault:"rgb"`
	ConnectTimeout        time.Duration `env:"CONNECT_TIMEOUT" envDefault:"5s"`
	LifxMinBrightness     float64       `env:"LIFX_MIN_BRIGHTNESS" envDefault:"0"`
	LifxMaxBrightness     float64       `env:"LIFX_MAX_BRIGHTNESS" envDefault:"0.65"`
	LifxDiscoveryInterval time.Duration `env:"LIFX_DISCOVERY_INTERVAL" envDefault:"15s"`
}

func LoadEnvironment() (Environment, error) {
	var e Environment
	if err := env.Parse(&e); err != nil {
		return Environment{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	e.ConfigPath = expandHome(e.ConfigPath)

	if err := EnsureRange(e.LifxMinBrightness, 0.0, 1.0); err != nil {
		return Environment{}, fmt.Errorf("%w: LIFX_MIN_BRIGHTNESS: %w", ErrInvalidConfig, err)
	}
	if err := EnsureRange(e.LifxMaxBrightness, e.LifxMinBrightness, 1.0); err != nil {
		return Environment{}, fmt.Errorf("%w: LIFX_MAX_BRIGHTNESS: %w", ErrInvalidConfig, err)
	}
	return e, nil
}
