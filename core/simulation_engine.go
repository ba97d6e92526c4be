package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/rail-control-simulator/beacon"
	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
	"github.com/signalsfoundry/rail-control-simulator/kb"
	"github.com/signalsfoundry/rail-control-simulator/model"
	"github.com/signalsfoundry/rail-control-simulator/safety"
)

// PrimaryHolder is the brake holder name used by the primary train controller.
const PrimaryHolder = "primary-controller"

// OccupancyField is the beacon bit wayside logic raises while a train
// occupies a block.
var OccupancyField = beacon.Field{Name: "occupied", Start: 0, Count: 1}

var (
	ErrTrainExists   = errors.New("train already exists")
	ErrTrainNotFound = errors.New("train not found")
)

// Train bundles one train's live state with its primary controller and
// safety arbiter.
type Train struct {
	ID      string
	Vitals  *model.TrainVitals
	Brake   *model.EmergencyBrake
	Arbiter *safety.Arbiter

	mu      sync.Mutex
	blockID string
}

// BlockID returns the block the train occupies, or "".
func (t *Train) BlockID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockID
}

// SimulationEngine drives the per-tick control loop: for every train the
// primary controller runs first, then the safety arbiter, then registered
// tick listeners.
type SimulationEngine struct {
	KB *kb.KnowledgeBase

	log logging.Logger

	mu            sync.RWMutex
	trains        map[string]*Train
	tickListeners []func(time.Time)
}

// NewSimulationEngine creates an engine over the given track store.
func NewSimulationEngine(store *kb.KnowledgeBase, log logging.Logger) *SimulationEngine {
	if store == nil {
		store = kb.NewKnowledgeBase()
	}
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationEngine{
		KB:     store,
		log:    log,
		trains: make(map[string]*Train),
	}
}

// AddTrain registers a train with its own brake line and arbiter. opts are
// passed to safety.New.
func (se *SimulationEngine) AddTrain(id string, initial model.VitalState, opts ...safety.Option) (*Train, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty train id", ErrTrainNotFound)
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if _, ok := se.trains[id]; ok {
		return nil, fmt.Errorf("%w: %q", ErrTrainExists, id)
	}
	vitals := model.NewTrainVitals(initial)
	brake := model.NewEmergencyBrake()
	t := &Train{
		ID:      id,
		Vitals:  vitals,
		Brake:   brake,
		Arbiter: safety.New(id, vitals, brake, opts...),
	}
	se.trains[id] = t
	return t, nil
}

// Train returns the train with the given ID, or nil.
func (se *SimulationEngine) Train(id string) *Train {
	se.mu.RLock()
	defer se.mu.RUnlock()
	return se.trains[id]
}

// Trains lists trains sorted by ID.
func (se *SimulationEngine) Trains() []*Train {
	se.mu.RLock()
	defer se.mu.RUnlock()
	out := make([]*Train, 0, len(se.trains))
	for _, t := range se.trains {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterTickListener adds fn to run after every train was evaluated.
func (se *SimulationEngine) RegisterTickListener(fn func(time.Time)) {
	if fn == nil {
		return
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	se.tickListeners = append(se.tickListeners, fn)
}

// MoveTrain records that a train entered blockID. Wayside occupancy is
// reflected in the beacons of the blocks left and entered; blocks without a
// beacon vector are skipped.
func (se *SimulationEngine) MoveTrain(ctx context.Context, id, blockID string) error {
	t := se.Train(id)
	if t == nil {
		return fmt.Errorf("%w: %q", ErrTrainNotFound, id)
	}
	if se.KB.GetBlock(blockID) == nil {
		return fmt.Errorf("%w: %q", kb.ErrBlockNotFound, blockID)
	}

	t.mu.Lock()
	prev := t.blockID
	t.blockID = blockID
	t.mu.Unlock()

	if prev != "" && prev != blockID {
		se.setOccupancy(ctx, prev, false)
	}
	se.setOccupancy(ctx, blockID, true)
	return nil
}

func (se *SimulationEngine) setOccupancy(ctx context.Context, blockID string, occupied bool) {
	blk := se.KB.GetBlock(blockID)
	if blk == nil {
		return
	}
	if _, absent := blk.BeaconPayload().(beacon.Absent); absent {
		return
	}
	err := se.KB.SetBeaconBits(blockID, OccupancyField.Start, []bool{occupied})
	switch {
	case err == nil:
	case errors.Is(err, kb.ErrBeaconRejected):
		// beacon detached since the check
	default:
		se.log.Warn(ctx, "occupancy update failed",
			logging.String("block_id", blockID),
			logging.Err(err),
		)
	}
}

// Tick runs one control cycle at simTime. It has the signature of a clock
// listener.
func (se *SimulationEngine) Tick(simTime time.Time) {
	se.mu.RLock()
	trains := make([]*Train, 0, len(se.trains))
	for _, t := range se.trains {
		trains = append(trains, t)
	}
	listeners := append([]func(time.Time){}, se.tickListeners...)
	se.mu.RUnlock()

	sort.Slice(trains, func(i, j int) bool { return trains[i].ID < trains[j].ID })
	for _, t := range trains {
		primaryControl(t)
		t.Arbiter.OnTick(simTime)
	}
	for _, fn := range listeners {
		fn(simTime)
	}
}

// primaryControl is the primary controller's brake decision. It only looks at
// the failure flags that brake the train directly.
func primaryControl(t *Train) {
	s := t.Vitals.VitalState()
	if s.EngineFailure || s.BrakeFailure {
		t.Brake.Engage(PrimaryHolder)
		return
	}
	t.Brake.Release(PrimaryHolder)
}
