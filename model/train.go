package model

import (
	"fmt"
	"sync"
)

// DoorStatus is the aggregate state of a train's passenger doors.
type DoorStatus int

const (
	DoorsClosed DoorStatus = iota
	DoorsOpen
)

func (d DoorStatus) String() string {
	switch d {
	case DoorsClosed:
		return "CLOSED"
	case DoorsOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

func (d DoorStatus) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DoorStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "CLOSED":
		*d = DoorsClosed
	case "OPEN":
		*d = DoorsOpen
	default:
		return fmt.Errorf("model: unknown door status %q", b)
	}
	return nil
}

// VitalState is the snapshot of train state that safety logic reasons about.
type VitalState struct {
	Speed float64    `json:"speed"` // m/s, >= 0
	Doors DoorStatus `json:"doors"`

	EngineFailure bool `json:"engine_failure"`
	SignalFailure bool `json:"signal_failure"`
	BrakeFailure  bool `json:"brake_failure"`
}

// AnyFailure reports whether any subsystem failure flag is raised.
func (s VitalState) AnyFailure() bool {
	return s.EngineFailure || s.SignalFailure || s.BrakeFailure
}

// TrainVitals is the live, concurrently updated vital state of one train.
// Controllers write it; safety logic reads snapshots.
type TrainVitals struct {
	mu    sync.RWMutex
	state VitalState
}

// NewTrainVitals returns a holder initialised to s.
func NewTrainVitals(s VitalState) *TrainVitals {
	return &TrainVitals{state: s}
}

// VitalState returns a snapshot.
func (t *TrainVitals) VitalState() VitalState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Set replaces the whole state.
func (t *TrainVitals) Set(s VitalState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Update applies fn to the state under the write lock and returns the result.
func (t *TrainVitals) Update(fn func(*VitalState)) VitalState {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.state)
	if t.state.Speed < 0 {
		t.state.Speed = 0
	}
	return t.state
}
