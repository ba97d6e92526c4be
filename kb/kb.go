package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/rail-control-simulator/beacon"
	"github.com/signalsfoundry/rail-control-simulator/model"
)

var (
	ErrBlockExists    = errors.New("track block already exists")
	ErrBlockNotFound  = errors.New("track block not found")
	ErrInvalidBlock   = model.ErrInvalidBlock
	ErrBeaconRejected = errors.New("beacon rejected")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventBlockAdded EventType = iota
	EventBlockRemoved
	EventBeaconUpdated
	EventHeaterChanged
	EventBeaconRejected
)

func (e EventType) String() string {
	switch e {
	case EventBlockAdded:
		return "block_added"
	case EventBlockRemoved:
		return "block_removed"
	case EventBeaconUpdated:
		return "beacon_updated"
	case EventHeaterChanged:
		return "heater_changed"
	case EventBeaconRejected:
		return "beacon_rejected"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when a block changes or a beacon write is
// refused. Block is a detached copy taken at the time of the change; Err is
// set only for EventBeaconRejected.
type Event struct {
	Type  EventType
	Block *model.TrackBlock
	Err   error
}

// KnowledgeBase is an in-memory, thread-safe store of track blocks.
type KnowledgeBase struct {
	mu sync.RWMutex

	blocks map[string]*model.TrackBlock

	subs   map[int]func(Event)
	nextID int
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		blocks: make(map[string]*model.TrackBlock),
		subs:   make(map[int]func(Event)),
	}
}

// AddBlock registers a new block. The KB stores its own copy.
func (kb *KnowledgeBase) AddBlock(b *model.TrackBlock) error {
	if err := b.Validate(); err != nil {
		return err
	}
	stored := b.Clone()
	if stored.Beacon == nil {
		stored.Beacon = beacon.Absent{}
	}

	kb.mu.Lock()
	if _, exists := kb.blocks[b.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBlockExists, b.ID)
	}
	kb.blocks[b.ID] = stored
	ev, subs := kb.eventLocked(EventBlockAdded, stored)
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// RemoveBlock drops a block from the topology.
func (kb *KnowledgeBase) RemoveBlock(id string) error {
	kb.mu.Lock()
	b, ok := kb.blocks[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBlockNotFound, id)
	}
	delete(kb.blocks, id)
	ev, subs := kb.eventLocked(EventBlockRemoved, b)
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// GetBlock returns a copy of the block with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetBlock(id string) *model.TrackBlock {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.blocks[id].Clone()
}

// Beacon returns the live payload of a block. Writes through the returned
// payload are visible to every reader of the block.
func (kb *KnowledgeBase) Beacon(id string) (beacon.Payload, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	b, ok := kb.blocks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBlockNotFound, id)
	}
	return b.BeaconPayload(), nil
}

// ListBlocks returns copies of all blocks sorted by ID.
func (kb *KnowledgeBase) ListBlocks() []*model.TrackBlock {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.TrackBlock, 0, len(kb.blocks))
	for _, b := range kb.blocks {
		res = append(res, b.Clone())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// PushBeaconHex replaces a block's beacon with the decoded hex payload. A
// block without a payload adopts the width implied by the string; a block
// with a payload only accepts strings of its own width. Rejected pushes leave
// the previous payload untouched.
func (kb *KnowledgeBase) PushBeaconHex(id, hexStr string) error {
	kb.mu.Lock()
	b, ok := kb.blocks[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBlockNotFound, id)
	}

	switch cur := b.BeaconPayload().(type) {
	case *beacon.Vector:
		if !beacon.FromHex(cur, hexStr) {
			return kb.rejectLocked(b, fmt.Errorf("%w: block %q expects %d hex chars", ErrBeaconRejected, id, cur.Width().HexLen()))
		}
	default:
		v, err := beacon.ParseHex(hexStr)
		if err != nil {
			return kb.rejectLocked(b, fmt.Errorf("%w: block %q: %v", ErrBeaconRejected, id, err))
		}
		if exp, ok := cur.(beacon.Absent); ok && exp.Expect.Valid() && exp.Expect != v.Width() {
			return kb.rejectLocked(b, fmt.Errorf("%w: block %q expects a %d-bit beacon", ErrBeaconRejected, id, exp.Expect))
		}
		b.Beacon = v
	}
	ev, subs := kb.eventLocked(EventBeaconUpdated, b)
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// SetBeaconBits writes a run of bits into an existing beacon payload.
func (kb *KnowledgeBase) SetBeaconBits(id string, start int, bits []bool) error {
	kb.mu.Lock()
	b, ok := kb.blocks[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBlockNotFound, id)
	}
	if !beacon.WriteBits(b.BeaconPayload(), start, bits) {
		return kb.rejectLocked(b, fmt.Errorf("%w: block %q cannot take bits at %d", ErrBeaconRejected, id, start))
	}
	ev, subs := kb.eventLocked(EventBeaconUpdated, b)
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// ClearBeacon detaches the block's payload, keeping its expected width.
func (kb *KnowledgeBase) ClearBeacon(id string) error {
	kb.mu.Lock()
	b, ok := kb.blocks[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBlockNotFound, id)
	}
	b.Beacon = beacon.Absent{Expect: b.BeaconPayload().Width()}
	ev, subs := kb.eventLocked(EventBeaconUpdated, b)
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// SetHeater switches the track heater of a block.
func (kb *KnowledgeBase) SetHeater(id string, on bool) error {
	kb.mu.Lock()
	b, ok := kb.blocks[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBlockNotFound, id)
	}
	if b.HeaterOn == on {
		kb.mu.Unlock()
		return nil
	}
	b.HeaterOn = on
	ev, subs := kb.eventLocked(EventHeaterChanged, b)
	kb.mu.Unlock()

	notify(subs, ev)
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// eventLocked snapshots the block and subscriber list. Caller holds kb.mu.
func (kb *KnowledgeBase) eventLocked(t EventType, b *model.TrackBlock) (Event, []func(Event)) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return Event{Type: t, Block: b.Clone()}, subs
}

// rejectLocked reports a refused beacon write to subscribers and returns err.
// Caller holds kb.mu; it is released here.
func (kb *KnowledgeBase) rejectLocked(b *model.TrackBlock, err error) error {
	ev, subs := kb.eventLocked(EventBeaconRejected, b)
	kb.mu.Unlock()

	ev.Err = err
	notify(subs, ev)
	return err
}

// notify runs subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
