package timectrl

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
)

// SimClock is an interface for accessing simulation time. Components such as
// the safety arbiter depend on this abstraction rather than on Clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Publisher receives the simulated instant after every tick. The shared time
// slot implements it.
type Publisher interface {
	Publish(t time.Time) error
}

// Metrics is notified of clock activity. All methods must be cheap and
// non-blocking.
type Metrics interface {
	ObserveTick(simTime time.Time)
	ObserveAcceleration(factor float64)
	ObservePublish(err error)
}

// TickStep is the simulated time added by every tick, independent of the
// acceleration factor.
const TickStep = time.Second

// DefaultAcceleration is used until Start or SetAcceleration says otherwise.
const DefaultAcceleration = 1.0

var (
	ErrInvalidAcceleration = errors.New("timectrl: acceleration must be a positive finite number")
	ErrAlreadyRunning      = errors.New("timectrl: clock already running")
)

// PublishStatus describes whether the cross-process slot is being updated.
type PublishStatus struct {
	Healthy       bool
	Failures      uint64
	LastError     error
	LastPublished time.Time
}

// Clock is the authoritative simulated-time source of a simulation run. It
// implements SimClock.
//
// A running clock advances by TickStep once every 1/acceleration real
// seconds on its own goroutine, publishes the new instant, then notifies
// listeners. Ticks are strictly ordered: tick k is published and its
// listeners have returned before tick k+1 begins.
type Clock struct {
	// ctrl serializes Start, Stop and SetAcceleration.
	ctrl  sync.Mutex
	timer *repeatingTimer

	mu      sync.RWMutex
	now     time.Time
	ticks   uint64
	accel   float64
	running bool

	pubMu     sync.Mutex
	publisher Publisher
	status    PublishStatus

	listenersMu sync.Mutex
	listeners   []func(time.Time)

	newTicker TickerFactory
	log       logging.Logger
	metrics   Metrics
}

// Option configures a Clock.
type Option func(*Clock)

// WithStartTime overrides the process-local wall time the clock starts at.
func WithStartTime(t time.Time) Option {
	return func(c *Clock) { c.now = t }
}

// WithPublisher attaches the cross-process time slot.
func WithPublisher(p Publisher) Option {
	return func(c *Clock) { c.publisher = p }
}

// WithLogger sets the logger used for publish degradation and lifecycle logs.
func WithLogger(l logging.Logger) Option {
	return func(c *Clock) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(c *Clock) { c.metrics = m }
}

// WithTickerFactory replaces the wall-clock ticker, mainly for tests.
func WithTickerFactory(f TickerFactory) Option {
	return func(c *Clock) {
		if f != nil {
			c.newTicker = f
		}
	}
}

// NewClock constructs a stopped clock positioned at the current wall time.
func NewClock(opts ...Option) *Clock {
	c := &Clock{
		now:       time.Now(),
		accel:     DefaultAcceleration,
		newTicker: NewWallTicker,
		log:       logging.Noop(),
		status:    PublishStatus{Healthy: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Ticks returns the number of ticks applied since construction.
func (c *Clock) Ticks() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticks
}

// Acceleration returns the current acceleration factor.
func (c *Clock) Acceleration() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accel
}

// Running reports whether the tick loop is active.
func (c *Clock) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// AddListener registers a callback invoked on every tick with the new
// simulated instant. Callbacks run on the tick goroutine in registration
// order and must not call Stop or SetAcceleration synchronously.
func (c *Clock) AddListener(fn func(time.Time)) {
	if fn == nil {
		return
	}
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Start begins advancing time at the given acceleration.
func (c *Clock) Start(factor float64) error {
	period, err := periodFor(factor)
	if err != nil {
		return err
	}

	c.ctrl.Lock()
	defer c.ctrl.Unlock()
	if c.timer != nil {
		return ErrAlreadyRunning
	}

	c.mu.Lock()
	c.accel = factor
	c.running = true
	now := c.now
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveAcceleration(factor)
	}
	c.timer = startRepeatingTimer(c.newTicker, period, c.tick)
	c.log.Info(context.Background(), "sim clock started",
		logging.Float("acceleration", factor),
		logging.Duration("period", period),
		logging.Time("sim_time", now),
	)
	return nil
}

// SetAcceleration changes the tick frequency. A running loop is cancelled
// and restarted with the new period; accumulated simulated time is kept. On
// a stopped clock the factor is stored for the next Start.
func (c *Clock) SetAcceleration(factor float64) error {
	period, err := periodFor(factor)
	if err != nil {
		return err
	}

	c.ctrl.Lock()
	defer c.ctrl.Unlock()

	running := c.timer != nil
	if running {
		c.timer.Cancel()
		c.timer = nil
	}

	c.mu.Lock()
	c.accel = factor
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveAcceleration(factor)
	}
	if running {
		c.timer = startRepeatingTimer(c.newTicker, period, c.tick)
	}
	c.log.Info(context.Background(), "sim clock acceleration changed",
		logging.Float("acceleration", factor),
		logging.Bool("running", running),
	)
	return nil
}

// Stop cancels the tick loop. When Stop returns no further tick fires and
// Now stays frozen at its last value. Stopping a stopped clock is a no-op.
func (c *Clock) Stop() {
	c.ctrl.Lock()
	defer c.ctrl.Unlock()
	if c.timer == nil {
		return
	}
	c.timer.Cancel()
	c.timer = nil

	c.mu.Lock()
	c.running = false
	now := c.now
	c.mu.Unlock()

	c.log.Info(context.Background(), "sim clock stopped", logging.Time("sim_time", now))
}

// Publish writes the current simulated instant to the attached publisher.
// Publishing is serialized, so the slot never goes back to an older value
// than one already written. Failures degrade to process-local time and are
// reported through PublishStatus.
func (c *Clock) Publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if c.publisher == nil {
		return
	}

	now := c.Now()
	err := c.publisher.Publish(now)
	if c.metrics != nil {
		c.metrics.ObservePublish(err)
	}

	ctx := context.Background()
	if err != nil {
		c.status.Failures++
		c.status.LastError = err
		if c.status.Healthy {
			c.status.Healthy = false
			c.log.Warn(ctx, "shared time slot unavailable; continuing on local time",
				logging.Err(err),
				logging.Time("sim_time", now),
			)
		}
		return
	}

	if !c.status.Healthy {
		c.log.Info(ctx, "shared time slot recovered",
			logging.Time("sim_time", now),
			logging.Any("failures", c.status.Failures),
		)
	}
	c.status.Healthy = true
	c.status.LastError = nil
	c.status.LastPublished = now
}

// PublishStatus reports the health of cross-process publishing.
func (c *Clock) PublishStatus() PublishStatus {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.status
}

func (c *Clock) tick() {
	c.mu.Lock()
	c.now = c.now.Add(TickStep)
	c.ticks++
	now := c.now
	c.mu.Unlock()

	c.Publish()
	if c.metrics != nil {
		c.metrics.ObserveTick(now)
	}

	c.listenersMu.Lock()
	listeners := append([]func(time.Time){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(now)
	}
}

// minPeriod bounds the tick period from below; time.NewTicker rejects zero.
const minPeriod = time.Microsecond

func periodFor(factor float64) (time.Duration, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return 0, ErrInvalidAcceleration
	}
	period := time.Duration(float64(time.Second) / factor)
	if period < minPeriod {
		return 0, ErrInvalidAcceleration
	}
	return period, nil
}
