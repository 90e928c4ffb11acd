// Package effect runs the gradient loop: it walks the palette segment by segment,
// pushes every interpolated color to the lights and paces the writes.
package effect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
	"github.com/scheerer/gradient-lights/internal/lights"
	"github.com/scheerer/gradient-lights/internal/logging"
)

var logger = logging.New("effect")

var (
	ErrAlreadyRunning = errors.New("effect is already running")
	ErrNotConfigured  = errors.New("effect has no colors configured")
)

// reconnectDelay is how long the loop waits after failing to reach the lights.
const reconnectDelay = time.Second

type State int

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PaletteBuilder turns settings into the colors to cycle through.
type PaletteBuilder interface {
	Build(ctx context.Context, s config.Settings) (colorlib.List, error)
}

// SinkProvider returns a connected sink for a target, reusing it while the target
// stays the same. lights.Cache is the production implementation.
type SinkProvider interface {
	Get(ctx context.Context, target lights.Target) (lights.Sink, error)
}

// Sleeper waits for d. It returns false when ctx is done or cancel is closed before d
// has passed.
type Sleeper func(ctx context.Context, d time.Duration, cancel <-chan struct{}) bool

func Sleep(ctx context.Context, d time.Duration, cancel <-chan struct{}) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-cancel:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-cancel:
		return false
	}
}

type Option func(*Engine)

func WithSleeper(sleep Sleeper) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// run is one start to stop lifetime of the loop.
type run struct {
	stopC chan struct{}
	doneC chan struct{}
}

// Engine owns the palette cycle and settings. A Reset swaps both while the loop keeps
// going; the loop picks them up at the start of its next segment.
type Engine struct {
	palette PaletteBuilder
	sinks   SinkProvider
	sleep   Sleeper
	now     func() time.Time

	mu       sync.Mutex
	state    State
	cycle    *colorlib.Cycle
	settings config.Settings
	current  *run
}

func New(palette PaletteBuilder, sinks SinkProvider, opts ...Option) *Engine {
	done := make(chan struct{})
	close(done)

	e := &Engine{
		palette: palette,
		sinks:   sinks,
		sleep:   Sleep,
		now:     time.Now,
		current: &run{stopC: make(chan struct{}), doneC: done},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reset builds the palette for s and replaces the cycle and settings. It does not
// start the loop and never waits for a running segment.
func (e *Engine) Reset(ctx context.Context, s config.Settings) error {
	colors, err := e.palette.Build(ctx, s)
	if err != nil {
		return err
	}
	if len(colors) == 0 {
		return ErrNotConfigured
	}

	e.mu.Lock()
	e.cycle = colorlib.NewCycle(colors)
	e.settings = s
	e.mu.Unlock()

	logger.With(zap.Strings("colors", colors.Strings()), zap.Stringer("target", target(s))).Info("Effect reset")
	return nil
}

// Run resets the engine with s, connects to the lights and loops until Stop is called
// or ctx is done. Configuration and connection errors are returned before the loop
// starts and leave the engine stopped.
func (e *Engine) Run(ctx context.Context, s config.Settings) error {
	r, err := e.startup(ctx, s)
	if err != nil || r == nil {
		return err
	}
	return e.loop(ctx, r)
}

// Start is Run without the wait: startup happens before it returns, the loop runs on
// its own goroutine until Stop. ctx only bounds the startup.
func (e *Engine) Start(ctx context.Context, s config.Settings) error {
	r, err := e.startup(ctx, s)
	if err != nil || r == nil {
		return err
	}
	go func() {
		if err := e.loop(context.WithoutCancel(ctx), r); err != nil {
			logger.With(zap.Error(err)).Warn("Effect loop ended")
		}
	}()
	return nil
}

// Stop asks the loop to end and interrupts its current wait. Stopping a stopped engine
// does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Stopped {
		return
	}
	e.state = Stopped
	close(e.current.stopC)
	logger.Info("Effect stopping")
}

// Close stops the engine, waits for the loop and closes the light connection.
func (e *Engine) Close() error {
	e.Stop()
	<-e.Done()
	if c, ok := e.sinks.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *Engine) IsAlive() bool {
	return e.State() != Stopped
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed once the latest loop has exited.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.doneC
}

// Settings returns the snapshot the loop is working from.
func (e *Engine) Settings() config.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// startup waits for the previous run to exit, so pushes from two loops never
// overlap. It returns a nil run without error when Stop was called while starting.
func (e *Engine) startup(ctx context.Context, s config.Settings) (*run, error) {
	e.mu.Lock()
	if e.state != Stopped {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	prev := e.current
	r := &run{stopC: make(chan struct{}), doneC: make(chan struct{})}
	e.state = Starting
	e.current = r
	e.mu.Unlock()

	// the previous loop may still be inside a write
	var err error
	select {
	case <-prev.doneC:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		err = e.Reset(ctx, s)
	}
	if err == nil {
		_, err = e.sinks.Get(ctx, target(s))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if e.current == r {
			e.state = Stopped
		}
		close(r.doneC)
		return nil, err
	}
	if e.current != r || e.state != Starting {
		close(r.doneC)
		return nil, nil
	}
	e.state = Running
	logger.With(zap.Stringer("target", target(s))).Info("Effect running")
	return r, nil
}

func (e *Engine) finish(r *run) {
	e.mu.Lock()
	if e.current == r {
		e.state = Stopped
	}
	e.mu.Unlock()
	close(r.doneC)
	logger.Info("Effect stopped")
}

// next computes the following segment under the lock. ok is false once this run
// has been stopped.
func (e *Engine) next(r *run, prev *colorlib.Color) (start, stop colorlib.Color, s config.Settings, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != r || e.state != Running {
		return start, stop, s, false, nil
	}
	if e.cycle.Len() == 0 {
		return start, stop, s, false, ErrNotConfigured
	}
	start, stop = colorlib.NextGradientEndpoints(e.cycle, prev)
	return start, stop, e.settings, true, nil
}

func (e *Engine) loop(ctx context.Context, r *run) error {
	defer e.finish(r)

	p := &pusher{engine: e}
	var prev *colorlib.Color
	for {
		start, stop, s, ok, err := e.next(r, prev)
		if !ok {
			return err
		}
		prev = &stop

		sink, err := e.sinks.Get(ctx, target(s))
		if err != nil {
			logger.With(zap.Error(err)).Warn("Lights unavailable")
			if !e.sleep(ctx, reconnectDelay, r.stopC) {
				return ctx.Err()
			}
			continue
		}
		p.use(sink)

		if !e.segment(ctx, r, p, start, stop, s) {
			return ctx.Err()
		}
	}
}

// segment pushes one gradient from start to stop. Endpoint colors hold for half of
// the pause; every other color holds for the interval.
func (e *Engine) segment(ctx context.Context, r *run, p *pusher, start, stop colorlib.Color, s config.Settings) bool {
	for _, c := range colorlib.Gradient(start, stop, s.Steps) {
		p.push(ctx, c, s.Interval)

		wait := s.Interval
		if s.PauseAfterFade > 0 && (c == start || c == stop) {
			wait = s.PauseAfterFade / 2
		}
		if !e.sleep(ctx, wait, r.stopC) {
			return false
		}
	}
	return true
}

// pusher writes colors to the current sink, skipping a color the sink already shows.
type pusher struct {
	engine *Engine
	sink   lights.Sink

	last        colorlib.Color
	sent        bool
	lastWarning time.Time
}

func (p *pusher) use(sink lights.Sink) {
	if p.sink != sink {
		p.sink = sink
		p.sent = false
	}
}

func (p *pusher) push(ctx context.Context, c colorlib.Color, interval time.Duration) {
	if p.sent && c == p.last {
		return
	}

	begin := p.engine.now()
	err := p.sink.SetColor(ctx, c)
	took := p.engine.now().Sub(begin)
	if err != nil {
		p.sent = false
		logger.With(zap.Error(err), zap.Stringer("color", c)).Warn("Failed to set lights color")
		return
	}
	p.last, p.sent = c, true

	if interval > 0 && took > interval && p.engine.now().Sub(p.lastWarning) > 10*time.Second {
		logger.With(zap.Stringer("setColorDuration", took), zap.Stringer("interval", interval)).
			Warn("Lights cannot keep up with the interval. Consider increasing interval.")
		p.lastWarning = p.engine.now()
	}
}

func target(s config.Settings) lights.Target {
	return lights.Target{Driver: s.Driver, Address: s.Endpoint(), Transition: s.Transition}
}
