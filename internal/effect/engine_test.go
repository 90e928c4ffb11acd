package effect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scheerer/gradient-lights/internal/colorlib"
	"github.com/scheerer/gradient-lights/internal/config"
	"github.com/scheerer/gradient-lights/internal/lights"
	"github.com/scheerer/gradient-lights/internal/palette"
)

var (
	red   = colorlib.RGB(255, 0, 0)
	green = colorlib.RGB(0, 255, 0)
	blue  = colorlib.RGB(0, 0, 255)
)

type recordingSink struct {
	mu     sync.Mutex
	colors colorlib.List
	fail   int
	closed bool
}

func (s *recordingSink) SetColor(_ context.Context, c colorlib.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("device busy")
	}
	s.colors = append(s.colors, c)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) pushed() colorlib.List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.colors.Clone()
}

// breakableSink reports itself broken once a write has failed.
type breakableSink struct {
	recordingSink
	broken atomic.Bool
}

func (s *breakableSink) SetColor(ctx context.Context, c colorlib.Color) error {
	err := s.recordingSink.SetColor(ctx, c)
	if err != nil {
		s.broken.Store(true)
	}
	return err
}

func (s *breakableSink) Broken() bool {
	return s.broken.Load()
}

// blockingSink holds its first write until release is closed.
type blockingSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) SetColor(ctx context.Context, c colorlib.Color) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.recordingSink.SetColor(ctx, c)
}

type fakeConnector struct {
	mu      sync.Mutex
	sink    *recordingSink
	err     error
	targets []lights.Target
}

func (c *fakeConnector) Connect(_ context.Context, target lights.Target) (lights.Sink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, target)
	if c.err != nil {
		return nil, c.err
	}
	return c.sink, nil
}

func (c *fakeConnector) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.targets)
}

// recordingSleeper records every wait without sleeping and runs onSleep after it.
type recordingSleeper struct {
	mu      sync.Mutex
	waits   []time.Duration
	onSleep func(n int) bool
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration, cancel <-chan struct{}) bool {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	n := len(r.waits)
	r.mu.Unlock()

	if r.onSleep != nil && !r.onSleep(n) {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-cancel:
		return false
	default:
		return true
	}
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type fixture struct {
	engine    *Engine
	sink      *recordingSink
	connector *fakeConnector
	sleeper   *recordingSleeper
}

func newFixture() *fixture {
	f := &fixture{
		sink:    &recordingSink{},
		sleeper: &recordingSleeper{},
	}
	f.connector = &fakeConnector{sink: f.sink}
	f.engine = New(palette.NewPipeline(nil), lights.NewCache(f.connector), WithSleeper(f.sleeper.sleep))
	return f
}

// stopAfter stops the engine once n waits have been recorded.
func (f *fixture) stopAfter(n int) {
	f.sleeper.onSleep = func(count int) bool {
		if count >= n {
			f.engine.Stop()
		}
		return true
	}
}

func settings(t *testing.T, values config.Values) config.Settings {
	t.Helper()
	s, err := config.Parse(values, nil)
	require.NoError(t, err)
	return s
}

func TestPacingSplitsPauseOnEndpoints(t *testing.T) {
	f := newFixture()
	f.stopAfter(5)
	s := settings(t, config.Values{
		"colors":           "#ff0000 #00ff00",
		"gradient_steps":   "5",
		"interval":         "6.0",
		"pause_after_fade": "20.0",
	})

	require.NoError(t, f.engine.Run(context.Background(), s))

	assert.Equal(t, []time.Duration{10 * time.Second, 6 * time.Second, 6 * time.Second, 6 * time.Second, 10 * time.Second}, f.sleeper.recorded())
	assert.Equal(t, colorlib.List{red, colorlib.RGB(191, 64, 0), colorlib.RGB(128, 128, 0), colorlib.RGB(64, 191, 0), green}, f.sink.pushed())
	assert.False(t, f.engine.IsAlive())
}

func TestPacingWithoutPauseUsesInterval(t *testing.T) {
	f := newFixture()
	f.stopAfter(3)
	s := settings(t, config.Values{"colors": "red blue", "gradient_steps": "3", "interval": "0.5"})

	require.NoError(t, f.engine.Run(context.Background(), s))

	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}, f.sleeper.recorded())
}

func TestDuplicateColorsArePushedOnce(t *testing.T) {
	f := newFixture()
	f.stopAfter(10)
	s := settings(t, config.Values{"colors": "#2d17d4", "gradient_steps": "5", "interval": "1"})

	require.NoError(t, f.engine.Run(context.Background(), s))

	assert.Len(t, f.sleeper.recorded(), 10, "pacing is honored for every position")
	assert.Equal(t, colorlib.List{colorlib.RGB(45, 23, 212)}, f.sink.pushed())
}

func TestSegmentsChain(t *testing.T) {
	f := newFixture()
	f.stopAfter(6)
	s := settings(t, config.Values{"colors": "red green blue", "gradient_steps": "2", "interval": "1"})

	require.NoError(t, f.engine.Run(context.Background(), s))

	// red->green, green->blue, blue->red; shared endpoints are written once
	assert.Equal(t, colorlib.List{red, green, blue, red}, f.sink.pushed())
}

func TestResetDuringRunAppliesAtNextSegment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	next := settings(t, config.Values{"colors": "blue", "gradient_steps": "3", "interval": "1"})

	f.sleeper.onSleep = func(n int) bool {
		switch n {
		case 2:
			done := make(chan error, 1)
			go func() { done <- f.engine.Reset(ctx, next) }()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("reset blocked while the loop was mid-segment")
			}
		case 8:
			f.engine.Stop()
		}
		return true
	}
	s := settings(t, config.Values{"colors": "red green", "gradient_steps": "5", "interval": "6"})

	require.NoError(t, f.engine.Run(ctx, s))

	waits := f.sleeper.recorded()
	assert.Equal(t, []time.Duration{6 * time.Second, 6 * time.Second, 6 * time.Second, 6 * time.Second, 6 * time.Second}, waits[:5])
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, waits[5:])
	assert.Equal(t, colorlib.List{
		red, colorlib.RGB(191, 64, 0), colorlib.RGB(128, 128, 0), colorlib.RGB(64, 191, 0), green,
		colorlib.RGB(0, 128, 128), blue,
	}, f.sink.pushed())
	assert.Equal(t, next, f.engine.Settings())
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture()

	f.engine.Stop()
	f.engine.Stop()

	assert.False(t, f.engine.IsAlive())
	assert.Equal(t, Stopped, f.engine.State())
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFixture()
	pushed := make(chan struct{})
	var once sync.Once
	f.sleeper.onSleep = func(int) bool {
		once.Do(func() { close(pushed) })
		return true
	}
	s := settings(t, config.Values{"colors": "red green", "interval": "0"})

	require.NoError(t, f.engine.Start(context.Background(), s))
	assert.True(t, f.engine.IsAlive())
	assert.ErrorIs(t, f.engine.Start(context.Background(), s), ErrAlreadyRunning)

	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not run")
	}

	f.engine.Stop()
	select {
	case <-f.engine.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.False(t, f.engine.IsAlive())
	assert.NotEmpty(t, f.sink.pushed())

	require.NoError(t, f.engine.Close())
	assert.True(t, f.sink.closed)
}

func TestRestartAfterStop(t *testing.T) {
	f := newFixture()
	f.stopAfter(1)
	s := settings(t, config.Values{"colors": "red green", "interval": "1"})

	require.NoError(t, f.engine.Run(context.Background(), s))
	assert.False(t, f.engine.IsAlive())
	f.stopAfter(3)
	require.NoError(t, f.engine.Run(context.Background(), s))

	assert.Len(t, f.sleeper.recorded(), 3)
	assert.Equal(t, 1, f.connector.connects(), "the connection is reused for the same endpoint")
}

func TestIntensityOutOfRangeWritesNothing(t *testing.T) {
	f := newFixture()
	s := config.Settings{
		Driver:    config.DriverOpenRGB,
		Address:   "localhost",
		Port:      config.DefaultPort,
		Steps:     20,
		Colors:    colorlib.List{red, green},
		Intensity: 1.5,
		Filters:   []string{config.FilterIntensify},
	}

	err := f.engine.Run(context.Background(), s)

	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Zero(t, f.connector.connects())
	assert.Empty(t, f.sink.pushed())
	assert.False(t, f.engine.IsAlive())
}

func TestStartupConnectFailureIsFatal(t *testing.T) {
	f := newFixture()
	refused := errors.New("connection refused")
	f.connector.err = refused
	s := settings(t, config.Values{"colors": "red green"})

	err := f.engine.Run(context.Background(), s)

	require.ErrorIs(t, err, refused)
	assert.Equal(t, Stopped, f.engine.State())
	assert.Empty(t, f.sleeper.recorded())
	<-f.engine.Done()
}

func TestWriteErrorsDoNotStopTheLoop(t *testing.T) {
	f := newFixture()
	f.sink.fail = 2
	f.stopAfter(4)
	s := settings(t, config.Values{"colors": "red green", "gradient_steps": "4", "interval": "1"})

	require.NoError(t, f.engine.Run(context.Background(), s))

	assert.Len(t, f.sleeper.recorded(), 4)
	assert.Equal(t, colorlib.List{colorlib.RGB(85, 170, 0), green}, f.sink.pushed())
}

func TestContextCancellationStopsTheLoop(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.sleeper.onSleep = func(n int) bool {
		if n == 3 {
			cancel()
		}
		return true
	}
	s := settings(t, config.Values{"colors": "red green", "interval": "1"})

	err := f.engine.Run(ctx, s)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, f.sleeper.recorded(), 3)
	assert.False(t, f.engine.IsAlive())
}

func TestEndpointChangeReconnects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	moved := settings(t, config.Values{"colors": "red green", "address": "polaris.invalid:6742", "interval": "1"})
	f.sleeper.onSleep = func(n int) bool {
		switch n {
		case 1:
			require.NoError(t, f.engine.Reset(ctx, moved))
		case 25:
			f.engine.Stop()
		}
		return true
	}
	s := settings(t, config.Values{"colors": "red green", "interval": "1"})

	require.NoError(t, f.engine.Run(ctx, s))

	require.Equal(t, 2, f.connector.connects())
	assert.Equal(t, "localhost:6742", f.connector.targets[0].Address)
	assert.Equal(t, "polaris.invalid:6742", f.connector.targets[1].Address)
}

func TestBrokenSinkIsReplaced(t *testing.T) {
	dead := &breakableSink{recordingSink: recordingSink{fail: 1000}}
	fresh := &breakableSink{}
	sinks := []lights.Sink{dead, fresh}
	connects := 0
	connector := lights.ConnectorFunc(func(context.Context, lights.Target) (lights.Sink, error) {
		sink := sinks[connects]
		connects++
		return sink, nil
	})
	sleeper := &recordingSleeper{}
	engine := New(palette.NewPipeline(nil), lights.NewCache(connector), WithSleeper(sleeper.sleep))
	sleeper.onSleep = func(n int) bool {
		if n >= 6 {
			engine.Stop()
		}
		return true
	}
	s := settings(t, config.Values{"colors": "red green blue", "gradient_steps": "3", "interval": "1"})

	require.NoError(t, engine.Run(context.Background(), s))

	assert.Equal(t, 2, connects)
	assert.True(t, dead.closed)
	assert.Empty(t, dead.pushed())
	assert.Equal(t, colorlib.List{green, colorlib.RGB(0, 128, 128), blue}, fresh.pushed())
}

func TestStartWaitsForPreviousLoop(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	connector := lights.ConnectorFunc(func(context.Context, lights.Target) (lights.Sink, error) {
		return sink, nil
	})
	sleeper := &recordingSleeper{}
	engine := New(palette.NewPipeline(nil), lights.NewCache(connector), WithSleeper(sleeper.sleep))
	ctx := context.Background()
	s := settings(t, config.Values{"colors": "red green", "interval": "1"})

	require.NoError(t, engine.Start(ctx, s))
	<-sink.entered
	engine.Stop()

	started := make(chan error, 1)
	go func() { started <- engine.Start(ctx, s) }()

	select {
	case err := <-started:
		t.Fatalf("restarted while the previous loop was still writing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, Starting, engine.State())
	assert.ErrorIs(t, engine.Start(ctx, s), ErrAlreadyRunning)

	close(sink.release)
	require.NoError(t, <-started)
	assert.Equal(t, Running, engine.State())

	require.NoError(t, engine.Close())
	assert.Equal(t, red, sink.pushed()[0])
}

func TestSleepIsInterruptible(t *testing.T) {
	cancel := make(chan struct{})
	close(cancel)
	assert.False(t, Sleep(context.Background(), time.Hour, cancel))

	ctx, stop := context.WithCancel(context.Background())
	stop()
	assert.False(t, Sleep(ctx, time.Hour, nil))

	assert.True(t, Sleep(context.Background(), time.Millisecond, nil))
	assert.True(t, Sleep(context.Background(), 0, nil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "running", Running.String())
}
