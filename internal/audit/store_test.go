package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-control-simulator/model"
	"github.com/signalsfoundry/rail-control-simulator/safety"
)

var simStart = time.Date(2025, time.May, 1, 7, 0, 0, 0, time.UTC)

func event(train string, kind safety.AuditKind, offset time.Duration) safety.AuditEvent {
	return safety.AuditEvent{
		ID:      uuid.New(),
		TrainID: train,
		SimTime: simStart.Add(offset),
		Kind:    kind,
		Reasons: []string{safety.ReasonDoorsOpenMoving},
		Vital:   model.VitalState{Speed: 4.5, Doors: model.DoorsOpen},
		Holder:  safety.HolderName,
	}
}

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	s.Record(ctx, event("T1", safety.AuditReleased, 10*time.Second))
	s.Record(ctx, event("T1", safety.AuditEngaged, time.Second))
	s.Record(ctx, event("T2", safety.AuditDeferred, 5*time.Second))
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	all, err := s.List(ctx, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d events, want 3", len(all))
	}
	if all[0].Kind != safety.AuditEngaged || all[2].Kind != safety.AuditReleased {
		t.Fatalf("events not ordered by sim time: %v, %v, %v", all[0].Kind, all[1].Kind, all[2].Kind)
	}
	if all[0].Vital.Doors != model.DoorsOpen || all[0].Vital.Speed != 4.5 {
		t.Fatalf("vital snapshot not preserved: %+v", all[0].Vital)
	}

	t1, err := s.List(ctx, Query{TrainID: "T1"})
	if err != nil {
		t.Fatalf("List T1: %v", err)
	}
	if len(t1) != 2 {
		t.Fatalf("T1 events = %d, want 2", len(t1))
	}

	deferred, _ := s.List(ctx, Query{Kind: safety.AuditDeferred})
	if len(deferred) != 1 || deferred[0].TrainID != "T2" {
		t.Fatalf("deferred events = %+v", deferred)
	}

	limited, _ := s.List(ctx, Query{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limited events = %d, want 1", len(limited))
	}
}

func TestSubSecondOrdering(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	s.Record(ctx, event("T1", safety.AuditReleased, 2*time.Second))
	s.Record(ctx, event("T1", safety.AuditEngaged, 1500*time.Millisecond))
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, _ := s.List(ctx, Query{})
	if len(got) != 2 || got[0].Kind != safety.AuditEngaged {
		t.Fatalf("order = %+v", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ev := event("T9", safety.AuditEngaged, 0)
	s.Record(context.Background(), ev)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != ev.ID {
		t.Fatalf("events after reopen = %+v", got)
	}
}

func TestRecordAfterCloseIsIgnored(t *testing.T) {
	s := openStore(t)
	_ = s.Close()
	s.Record(context.Background(), event("T1", safety.AuditEngaged, 0))
	if err := s.Flush(context.Background()); err != ErrClosed {
		t.Fatalf("Flush after Close err = %v, want ErrClosed", err)
	}
}

func TestRecordDropsWhenFull(t *testing.T) {
	// No writer goroutine drains this queue.
	s := &Store{ch: make(chan req, 1)}
	drops := 0
	s.onDrop = func() { drops++ }

	ctx := context.Background()
	s.Record(ctx, event("T1", safety.AuditEngaged, 0))
	s.Record(ctx, event("T1", safety.AuditEngaged, 0))
	s.Record(ctx, event("T1", safety.AuditEngaged, 0))
	if s.Dropped() != 2 || drops != 2 {
		t.Fatalf("dropped = %d hook = %d, want 2", s.Dropped(), drops)
	}
}

func TestExportJSONLZstd(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Record(ctx, event("T1", safety.AuditEngaged, time.Duration(i)*time.Second))
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var buf bytes.Buffer
	n, err := s.ExportJSONLZstd(ctx, &buf, Query{})
	if err != nil {
		t.Fatalf("ExportJSONLZstd: %v", err)
	}
	if n != 5 {
		t.Fatalf("exported %d events, want 5", n)
	}

	var lines int
	err = ReadJSONLZstd(&buf, func(line []byte) error {
		var ev safety.AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		if ev.TrainID != "T1" {
			t.Errorf("line %d train = %q", lines, ev.TrainID)
		}
		lines++
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJSONLZstd: %v", err)
	}
	if lines != 5 {
		t.Fatalf("read %d lines, want 5", lines)
	}
}

func TestStoreAsArbiterSink(t *testing.T) {
	s := openStore(t)
	vitals := model.NewTrainVitals(model.VitalState{SignalFailure: true})
	a := safety.New("T3", vitals, model.NewEmergencyBrake(), safety.WithAuditSink(s))
	a.OnTick(simStart)
	vitals.Set(model.VitalState{})
	a.OnTick(simStart.Add(time.Second))

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, _ := s.List(context.Background(), Query{TrainID: "T3"})
	if len(got) != 2 || got[0].Kind != safety.AuditEngaged || got[1].Kind != safety.AuditReleased {
		t.Fatalf("arbiter audit trail = %+v", got)
	}
}
