// Package plugin is the entry point a host calls with its colors and configuration.
// Each call either starts the effect or hot swaps the running one.
package plugin

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
	"github.com/scheerer/gradient-lights/internal/effect"
	"github.com/scheerer/gradient-lights/internal/logging"
)

var logger = logging.New("plugin")

// Engine is the part of effect.Engine the host drives.
type Engine interface {
	IsAlive() bool
	Start(ctx context.Context, s config.Settings) error
	Reset(ctx context.Context, s config.Settings) error
	Close() error
}

var _ Engine = (*effect.Engine)(nil)

// Host owns one engine and applies plugin calls to it in the order they were made.
type Host struct {
	engine Engine

	mu     sync.Mutex
	turn   *sync.Cond
	issued uint64
	served uint64
}

func NewHost(engine Engine) *Host {
	h := &Host{engine: engine}
	h.turn = sync.NewCond(&h.mu)
	return h
}

// Plugin parses src and hands the settings to the engine: Start when it is stopped,
// Reset when it is alive. Configuration errors resolve the handle immediately,
// before anything touches the lights.
func (h *Host) Plugin(ctx context.Context, colors colorlib.List, src config.Source) *Handle {
	handle := newHandle()

	s, err := config.Parse(src, colors)
	if err != nil {
		logger.With(zap.Error(err)).Warn("Rejected plugin configuration")
		handle.resolve(err)
		return handle
	}

	h.mu.Lock()
	ticket := h.issued
	h.issued++
	h.mu.Unlock()

	go func() {
		h.mu.Lock()
		for h.served != ticket {
			h.turn.Wait()
		}
		h.mu.Unlock()

		err := h.apply(ctx, s)

		h.mu.Lock()
		h.served++
		h.turn.Broadcast()
		h.mu.Unlock()

		handle.resolve(err)
	}()
	return handle
}

func (h *Host) apply(ctx context.Context, s config.Settings) error {
	if h.engine.IsAlive() {
		return h.engine.Reset(ctx, s)
	}
	err := h.engine.Start(ctx, s)
	if errors.Is(err, effect.ErrAlreadyRunning) {
		return h.engine.Reset(ctx, s)
	}
	return err
}

func (h *Host) Engine() Engine {
	return h.engine
}

// Close stops the engine and releases the lights.
func (h *Host) Close() error {
	return h.engine.Close()
}

// Handle resolves once a plugin call has been applied.
type Handle struct {
	done chan struct{}
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(err error) {
	h.err = err
	close(h.done)
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the outcome, or nil while the call is still pending.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the call is applied or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
