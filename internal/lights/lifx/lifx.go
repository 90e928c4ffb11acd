// Package lifx drives a LIFX group over the LAN protocol. The target address is the
// group label; an empty label addresses every light found.
package lifx

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/pdf/golifx"
	"github.com/pdf/golifx/common"
	"github.com/pdf/golifx/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/lights"
	"github.com/scheerer/gradient-lights/internal/logging"
)

var logger = logging.New("lifx")

const kelvin = 3500

var ErrNoLights = errors.New("no LIFX lights discovered")

type Config struct {
	MaxBrightness     float64
	MinBrightness     float64
	Transition        time.Duration
	DiscoveryInterval time.Duration
	DiscoveryTimeout  time.Duration
}

// Connector discovers the target group and keeps rediscovering it until the returned
// sink is closed.
type Connector struct {
	Config Config
}

var _ lights.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, target lights.Target) (lights.Sink, error) {
	client, err := golifx.NewClient(&protocol.V2{})
	if err != nil {
		return nil, err
	}

	cfg := c.Config
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = 15 * time.Second
	}
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = 5 * time.Second
	}
	if cfg.MaxBrightness <= 0 {
		cfg.MaxBrightness = 1
	}
	if target.Transition > 0 {
		cfg.Transition = target.Transition
	}

	discoveryCtx, cancel := context.WithCancel(context.Background())
	l := &Lights{
		config:    cfg,
		groupName: target.Address,
		client:    client,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	client.SetDiscoveryInterval(cfg.DiscoveryInterval)

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
	l.discover(timeoutCtx)
	cancelTimeout()

	if l.LightCount() == 0 {
		cancel()
		client.Close()
		return nil, ErrNoLights
	}

	go l.rediscover(discoveryCtx)
	return l, nil
}

// Lights is the sink for one group.
type Lights struct {
	config    Config
	groupName string
	client    *golifx.Client

	lightsMu sync.RWMutex
	group    common.Group
	all      []common.Light

	cancel context.CancelFunc
	done   chan struct{}
}

var _ lights.Sink = (*Lights)(nil)

func (l *Lights) rediscover(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.config.DiscoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			timeoutCtx, cancel := context.WithTimeout(ctx, l.config.DiscoveryTimeout)
			l.discover(timeoutCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

func (l *Lights) discover(ctx context.Context) {
	logger.With(zap.String("group", l.groupName)).Debug("LIFX discovery starting...")

	type result struct {
		group common.Group
		all   []common.Light
		err   error
	}
	completed := make(chan result, 1)
	go func() {
		var res result
		if l.groupName == "" {
			res.all, res.err = l.client.GetLights()
		} else {
			res.group, res.err = l.client.GetGroupByLabel(l.groupName)
		}
		completed <- res
	}()

	select {
	case <-ctx.Done():
		logger.With(zap.Error(ctx.Err())).Warn("LIFX discovery timed out")
	case res := <-completed:
		if res.err != nil {
			logger.With(zap.Error(res.err), zap.String("group", l.groupName)).Warn("Couldn't discover LIFX lights")
			return
		}
		l.lightsMu.Lock()
		if res.group != nil {
			l.group = res.group
		}
		if res.all != nil {
			l.all = res.all
		}
		l.lightsMu.Unlock()
		logger.With(zap.String("group", l.groupName), zap.Int("lights", l.LightCount())).Debug("LIFX discovery complete")
	}
}

func (l *Lights) LightCount() int {
	l.lightsMu.RLock()
	defer l.lightsMu.RUnlock()

	if l.group != nil {
		return len(l.group.Lights())
	}
	return len(l.all)
}

func (l *Lights) SetColor(ctx context.Context, color colorlib.Color) error {
	lifxColor := adjustColor(newLifxColor(color), l.config)

	l.lightsMu.RLock()
	group := l.group
	all := l.all
	l.lightsMu.RUnlock()

	logger.With(zap.Stringer("color", color), zap.Any("lifxColor", lifxColor)).Debug("Setting LIFX color")

	if group != nil {
		return group.SetColor(lifxColor, l.config.Transition)
	}
	return setEach(ctx, all, lifxColor, l.config.Transition)
}

// setEach writes to every light concurrently, giving each write 250ms.
func setEach(ctx context.Context, all []common.Light, color common.Color, transition time.Duration) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, light := range all {
		wg.Add(1)
		go func(light common.Light) {
			defer wg.Done()
			done := make(chan error, 1)
			go func() { done <- light.SetColor(color, transition) }()

			timeoutCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			defer cancel()
			var err error
			select {
			case err = <-done:
			case <-timeoutCtx.Done():
				err = timeoutCtx.Err()
			}
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(light)
	}
	wg.Wait()
	return errs
}

func (l *Lights) Close() error {
	l.cancel()
	<-l.done
	return l.client.Close()
}

func newLifxColor(color colorlib.Color) common.Color {
	hue, saturation, brightness := colorlib.RGBToHSB16(color)

	return common.Color{
		Hue:        hue,
		Saturation: saturation,
		Brightness: brightness,
		Kelvin:     kelvin,
	}
}

func adjustColor(color common.Color, config Config) common.Color {
	blackThreshold := 0.015 * 0xFFFF
	if color.Brightness <= uint16(blackThreshold) && color.Saturation <= uint16(blackThreshold) {
		// blackish color - turn off the light
		return common.Color{Kelvin: kelvin}
	}
	if colorlib.IsGreyish(color.Saturation) {
		// render near greys as white at the bulb's kelvin
		color.Saturation = 0
	}

	color.Brightness = uint16(math.Min(config.MaxBrightness*0xFFFF, math.Max(config.MinBrightness*0xFFFF, float64(color.Brightness))))

	return color
}
