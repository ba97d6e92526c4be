package safety

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-control-simulator/model"
)

// AuditKind names an arbiter decision.
type AuditKind string

const (
	AuditEngaged  AuditKind = "engaged"
	AuditReleased AuditKind = "released"
	AuditDeferred AuditKind = "deferred"
)

// AuditEvent is one traceable arbiter decision.
type AuditEvent struct {
	ID      uuid.UUID        `json:"id"`
	TrainID string           `json:"train_id"`
	SimTime time.Time        `json:"sim_time"`
	Kind    AuditKind        `json:"kind"`
	Reasons []string         `json:"reasons,omitempty"`
	Vital   model.VitalState `json:"vital"`
	Holder  string           `json:"holder"`
}

// AuditSink receives audit events. Record is called while the arbiter holds
// its lock, so it must return promptly and never wait on I/O.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// AuditFunc adapts a function to AuditSink.
type AuditFunc func(ctx context.Context, ev AuditEvent)

func (f AuditFunc) Record(ctx context.Context, ev AuditEvent) { f(ctx, ev) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []AuditSink

func (m MultiSink) Record(ctx context.Context, ev AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, ev)
		}
	}
}

type discardSink struct{}

func (discardSink) Record(context.Context, AuditEvent) {}
