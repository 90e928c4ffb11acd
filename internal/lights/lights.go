// Package lights abstracts the hardware a color is pushed to. Drivers register a
// Connector under a name; a Cache keeps one connected Sink per target.
package lights

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/logging"
)

var logger = logging.New("lights")

var ErrUnknownDriver = errors.New("unknown light driver")

// Sink pushes a color to every device behind one connection.
type Sink interface {
	SetColor(ctx context.Context, color colorlib.Color) error
	Close() error
}

// Breakable is implemented by sinks that can tell their connection is gone. A Cache
// replaces a broken sink on the next Get.
type Breakable interface {
	Broken() bool
}

type Connector interface {
	Connect(ctx context.Context, target Target) (Sink, error)
}

type ConnectorFunc func(ctx context.Context, target Target) (Sink, error)

func (f ConnectorFunc) Connect(ctx context.Context, target Target) (Sink, error) {
	return f(ctx, target)
}

// Target names a driver and its driver specific address. Transition is a fade
// duration for drivers that fade in hardware.
type Target struct {
	Driver     string
	Address    string
	Transition time.Duration
}

func (t Target) String() string {
	return t.Driver + "://" + t.Address
}

// Registry dispatches Connect to the connector registered for the target's driver.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

var _ Connector = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

func (r *Registry) Register(driver string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[driver] = c
}

func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		drivers = append(drivers, name)
	}
	slices.Sort(drivers)
	return drivers
}

func (r *Registry) Connect(ctx context.Context, target Target) (Sink, error) {
	r.mu.RLock()
	c, ok := r.connectors[target.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, target.Driver)
	}
	return c.Connect(ctx, target)
}

// Cache holds the sink for the most recently requested target. Asking for a
// different target closes the old sink and connects a new one; asking for the same
// target again returns the cached sink.
type Cache struct {
	connector Connector

	mu     sync.Mutex
	target Target
	sink   Sink
}

func NewCache(connector Connector) *Cache {
	return &Cache{connector: connector}
}

func (c *Cache) Get(ctx context.Context, target Target) (Sink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sink != nil && c.target == target {
		if b, ok := c.sink.(Breakable); !ok || !b.Broken() {
			return c.sink, nil
		}
		logger.With(zap.Stringer("target", target)).Warn("Lights connection broken, reconnecting")
		c.closeLocked()
	}

	if c.sink != nil {
		logger.With(zap.Stringer("from", c.target), zap.Stringer("to", target)).Info("Light target changed, reconnecting")
		c.closeLocked()
	}

	sink, err := c.connector.Connect(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	logger.With(zap.Stringer("target", target)).Info("Connected to lights")

	c.target = target
	c.sink = sink
	return sink, nil
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Cache) closeLocked() error {
	if c.sink == nil {
		return nil
	}
	err := c.sink.Close()
	if err != nil {
		logger.With(zap.Error(err), zap.Stringer("target", c.target)).Warn("Failed to close lights connection")
	}
	c.sink = nil
	c.target = Target{}
	return err
}
