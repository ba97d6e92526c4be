// Package safety holds the diverse redundant safety check that runs beside a
// train's primary controller. The arbiter watches a different combination of
// inputs than the primary logic and can force the emergency brake on its own
// authority.
package safety

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
	"github.com/signalsfoundry/rail-control-simulator/model"
	"github.com/signalsfoundry/rail-control-simulator/timectrl"
)

// HolderName is the brake holder identity used by arbiters unless
// overridden with WithHolder.
const HolderName = "safety-arbiter"

// State is the arbiter's externally visible state.
type State int

const (
	StateSafe State = iota
	StateBraking
)

func (s State) String() string {
	switch s {
	case StateSafe:
		return "SAFE"
	case StateBraking:
		return "BRAKING"
	default:
		return "UNKNOWN"
	}
}

// VitalStateSource supplies the train state the arbiter evaluates.
type VitalStateSource interface {
	VitalState() model.VitalState
}

// BrakeLine is the emergency brake as seen by one holder.
type BrakeLine interface {
	Engage(holder string)
	Release(holder string)
	Engaged() bool
}

// Recorder receives arbiter metrics. Implementations must not block.
type Recorder interface {
	ObserveArbiterState(trainID string, braking bool)
	ObserveBrakeCommand(trainID string, engage bool)
	ObserveAuditEvent(kind string)
}

// Hazard reasons reported in audit events.
const (
	ReasonEngineFailure   = "engine_failure"
	ReasonSignalFailure   = "signal_failure"
	ReasonBrakeFailure    = "brake_failure"
	ReasonDoorsOpenMoving = "doors_open_while_moving"
)

// Hazards lists why s is unsafe. An empty result means safe.
func Hazards(s model.VitalState) []string {
	var out []string
	if s.EngineFailure {
		out = append(out, ReasonEngineFailure)
	}
	if s.SignalFailure {
		out = append(out, ReasonSignalFailure)
	}
	if s.BrakeFailure {
		out = append(out, ReasonBrakeFailure)
	}
	if s.Doors == model.DoorsOpen && s.Speed > 0 {
		out = append(out, ReasonDoorsOpenMoving)
	}
	return out
}

// Arbiter evaluates one train. It is safe for concurrent use; Evaluate never
// blocks beyond the arbiter's own mutex and performs no I/O.
type Arbiter struct {
	trainID string
	holder  string
	source  VitalStateSource
	brake   BrakeLine

	clock   timectrl.SimClock
	sink    AuditSink
	log     logging.Logger
	metrics Recorder

	mu       sync.Mutex
	state    State
	owns     bool
	deferred bool
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithClock sets the clock used to timestamp audit events from Evaluate.
func WithClock(c timectrl.SimClock) Option {
	return func(a *Arbiter) { a.clock = c }
}

// WithAuditSink attaches the audit trail.
func WithAuditSink(s AuditSink) Option {
	return func(a *Arbiter) { a.sink = s }
}

func WithLogger(l logging.Logger) Option {
	return func(a *Arbiter) {
		if l != nil {
			a.log = l
		}
	}
}

func WithMetrics(r Recorder) Option {
	return func(a *Arbiter) { a.metrics = r }
}

// WithHolder overrides the identity the arbiter engages the brake under.
func WithHolder(name string) Option {
	return func(a *Arbiter) {
		if name != "" {
			a.holder = name
		}
	}
}

// New builds an arbiter in StateSafe.
func New(trainID string, source VitalStateSource, brake BrakeLine, opts ...Option) *Arbiter {
	a := &Arbiter{
		trainID: trainID,
		holder:  HolderName,
		source:  source,
		brake:   brake,
		sink:    discardSink{},
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logging.String("train_id", trainID))
	return a
}

// TrainID returns the train this arbiter guards.
func (a *Arbiter) TrainID() string { return a.trainID }

// State returns the state produced by the latest evaluation.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OwnsBrake reports whether the arbiter currently holds the emergency brake.
func (a *Arbiter) OwnsBrake() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owns
}

// Evaluate reads the vital state and applies the arbitration rules:
//
//   - hazardous and not yet holding the brake: engage it and latch ownership;
//   - clear and holding the brake: release the arbiter's own hold;
//   - clear while already BRAKING and another holder keeps the brake engaged:
//     stay BRAKING without commanding anything;
//   - otherwise SAFE. A brake held only by other components does not move a
//     SAFE arbiter to BRAKING.
//
// Staying BRAKING on another holder's brake is audited as AuditDeferred once
// per hold episode, not on every evaluation. The episode ends when the brake
// is fully released or the arbiter asserts its own hold.
func (a *Arbiter) Evaluate(ctx context.Context) State {
	var now time.Time
	if a.clock != nil {
		now = a.clock.Now()
	} else {
		now = time.Now()
	}
	return a.evaluate(ctx, now)
}

// OnTick evaluates at the given simulated instant. It has the signature of a
// clock listener.
func (a *Arbiter) OnTick(simTime time.Time) {
	a.evaluate(context.Background(), simTime)
}

func (a *Arbiter) evaluate(ctx context.Context, simTime time.Time) State {
	vital := a.source.VitalState()
	reasons := Hazards(vital)

	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.state

	switch {
	case len(reasons) > 0:
		if !a.owns {
			a.brake.Engage(a.holder)
			a.owns = true
			a.deferred = false
			a.command(true)
			a.audit(ctx, AuditEngaged, simTime, reasons, vital)
		}
		a.state = StateBraking

	case a.owns:
		a.brake.Release(a.holder)
		a.owns = false
		a.command(false)
		a.audit(ctx, AuditReleased, simTime, nil, vital)
		a.state = StateSafe
		if a.brake.Engaged() {
			a.deferToOther(ctx, simTime, vital)
		}

	case prev == StateBraking && a.brake.Engaged():
		a.deferToOther(ctx, simTime, vital)

	default:
		a.state = StateSafe
		a.deferred = false
	}

	if a.state != prev {
		a.log.Info(ctx, "safety arbiter state changed",
			logging.String("from", prev.String()),
			logging.String("to", a.state.String()),
			logging.Time("sim_time", simTime),
			logging.Any("reasons", reasons),
		)
	}
	if a.metrics != nil {
		a.metrics.ObserveArbiterState(a.trainID, a.state == StateBraking)
	}
	return a.state
}

// deferToOther keeps the train braking because another component holds the
// brake. The decision is audited once per hold episode. Callers hold a.mu.
func (a *Arbiter) deferToOther(ctx context.Context, simTime time.Time, vital model.VitalState) {
	a.state = StateBraking
	if a.deferred {
		return
	}
	a.deferred = true
	a.audit(ctx, AuditDeferred, simTime, nil, vital)
}

func (a *Arbiter) command(engage bool) {
	if a.metrics != nil {
		a.metrics.ObserveBrakeCommand(a.trainID, engage)
	}
}

func (a *Arbiter) audit(ctx context.Context, kind AuditKind, simTime time.Time, reasons []string, vital model.VitalState) {
	ev := AuditEvent{
		ID:      uuid.New(),
		TrainID: a.trainID,
		SimTime: simTime,
		Kind:    kind,
		Reasons: reasons,
		Vital:   vital,
		Holder:  a.holder,
	}
	level := a.log.Info
	if kind == AuditEngaged {
		level = a.log.Warn
	}
	level(ctx, "safety arbiter "+string(kind),
		logging.String("audit_id", ev.ID.String()),
		logging.Time("sim_time", simTime),
		logging.Any("reasons", reasons),
		logging.Float("speed", vital.Speed),
		logging.String("doors", vital.Doors.String()),
	)
	if a.metrics != nil {
		a.metrics.ObserveAuditEvent(string(kind))
	}
	a.sink.Record(ctx, ev)
}
