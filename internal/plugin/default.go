package plugin

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
	"github.com/scheerer/gradient-lights/internal/effect"
	"github.com/scheerer/gradient-lights/internal/lights"
	"github.com/scheerer/gradient-lights/internal/lights/lifx"
	"github.com/scheerer/gradient-lights/internal/lights/openrgb"
	"github.com/scheerer/gradient-lights/internal/palette"
)

var (
	defaultMu   sync.Mutex
	defaultHost *Host
)

// Default returns the process wide host, creating it with factory on first use. A nil
// factory builds the production wiring from the environment.
func Default(factory func() *Host) *Host {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultHost == nil {
		if factory == nil {
			factory = environmentHost
		}
		defaultHost = factory()
	}
	return defaultHost
}

// ResetDefault stops and forgets the process wide host.
func ResetDefault() error {
	defaultMu.Lock()
	h := defaultHost
	defaultHost = nil
	defaultMu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}

// Plugin runs a plugin call against the process wide host.
func Plugin(ctx context.Context, colors colorlib.List, src config.Source) *Handle {
	return Default(nil).Plugin(ctx, colors, src)
}

func environmentHost() *Host {
	env, err := config.LoadEnvironment()
	if err != nil {
		logger.With(zap.Error(err)).Warn("Ignoring invalid environment, using defaults")
		env = config.Environment{LifxMaxBrightness: 1}
	}
	return NewDefaultHost(env)
}

// Registry returns the light drivers known to the default wiring.
func Registry(env config.Environment) *lights.Registry {
	registry := lights.NewRegistry()
	registry.Register(config.DriverOpenRGB, &openrgb.Connector{Timeout: env.ConnectTimeout})
	registry.Register(config.DriverLIFX, &lifx.Connector{Config: lifx.Config{
		MinBrightness:     env.LifxMinBrightness,
		MaxBrightness:     env.LifxMaxBrightness,
		DiscoveryInterval: env.LifxDiscoveryInterval,
		DiscoveryTimeout:  env.ConnectTimeout,
	}})
	return registry
}

// NewDefaultHost wires image extraction, the filter pipeline and the light drivers
// into a fresh engine.
func NewDefaultHost(env config.Environment) *Host {
	pipeline := palette.NewPipeline(palette.NewExtractor())
	engine := effect.New(pipeline, lights.NewCache(Registry(env)))
	return NewHost(engine)
}
