package timeslot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// SlotSize is the number of bytes a slot occupies.
const SlotSize = 24

// Version is the slot layout version written by this package.
const Version uint32 = 1

var magic = [4]byte{'R', 'S', 'L', 'T'}

const (
	offMagic   = 0
	offVersion = 4
	offSeconds = 8
	offSeq     = 16
)

var (
	ErrSlotOwned         = errors.New("timeslot: slot already has a writer")
	ErrSlotClosed        = errors.New("timeslot: slot closed")
	ErrSlotUninitialized = errors.New("timeslot: slot not initialized by a writer")
	ErrSlotVersion       = errors.New("timeslot: unsupported slot layout version")
	ErrRegionTooSmall    = errors.New("timeslot: region smaller than slot")
)

// Stamp is one published simulated instant.
type Stamp struct {
	Seconds float64
	Seq     uint64
}

// Time converts the stamp to a UTC time, rounded to the microsecond.
func (s Stamp) Time() time.Time {
	sec, frac := math.Modf(s.Seconds)
	usec := math.Round(frac * 1e6)
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC()
}

func seconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Writer is the single owner of a slot. It implements the clock's Publisher.
type Writer struct {
	mu      sync.Mutex
	region  Region
	guard   Guard
	seq     uint64
	closed  bool
	closers []io.Closer
}

// NewWriter stamps the slot header and returns a writer. An existing
// sequence number in the region is continued so readers never see it go
// backwards across writer restarts.
func NewWriter(region Region, guard Guard) (*Writer, error) {
	if region == nil || guard == nil {
		return nil, errors.New("timeslot: writer needs a region and a guard")
	}
	buf := region.Bytes()
	if len(buf) < SlotSize {
		return nil, ErrRegionTooSmall
	}
	if err := guard.Lock(); err != nil {
		return nil, err
	}
	defer guard.Unlock()

	w := &Writer{region: region, guard: guard}
	if initialized(buf) && binary.LittleEndian.Uint32(buf[offVersion:]) == Version {
		w.seq = binary.LittleEndian.Uint64(buf[offSeq:])
	}
	copy(buf[offMagic:], magic[:])
	binary.LittleEndian.PutUint32(buf[offVersion:], Version)
	return w, nil
}

// Publish stores t as the current simulated instant.
func (w *Writer) Publish(t time.Time) error {
	_, err := w.Store(t)
	return err
}

// Store writes t under the guard and returns the stamp readers will observe.
func (w *Writer) Store(t time.Time) (Stamp, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Stamp{}, ErrSlotClosed
	}
	if err := w.guard.Lock(); err != nil {
		return Stamp{}, fmt.Errorf("timeslot: store: %w", err)
	}

	buf := w.region.Bytes()
	st := Stamp{Seconds: seconds(t), Seq: w.seq + 1}
	binary.LittleEndian.PutUint64(buf[offSeconds:], math.Float64bits(st.Seconds))
	binary.LittleEndian.PutUint64(buf[offSeq:], st.Seq)
	w.seq = st.Seq

	if err := w.guard.Unlock(); err != nil {
		return st, fmt.Errorf("timeslot: release guard: %w", err)
	}
	return st, nil
}

// Close stops the writer and releases resources it opened itself.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return closeAll(w.closers)
}

// Reader loads the slot. It never modifies the region.
type Reader struct {
	mu      sync.Mutex
	region  Region
	guard   Guard
	closed  bool
	closers []io.Closer
}

// NewReader returns a reader over region.
func NewReader(region Region, guard Guard) (*Reader, error) {
	if region == nil || guard == nil {
		return nil, errors.New("timeslot: reader needs a region and a guard")
	}
	if len(region.Bytes()) < SlotSize {
		return nil, ErrRegionTooSmall
	}
	return &Reader{region: region, guard: guard}, nil
}

// Load returns the most recently stored stamp.
func (r *Reader) Load() (Stamp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Stamp{}, ErrSlotClosed
	}
	if err := r.guard.Lock(); err != nil {
		return Stamp{}, fmt.Errorf("timeslot: load: %w", err)
	}
	defer r.guard.Unlock()

	buf := r.region.Bytes()
	if !initialized(buf) {
		return Stamp{}, ErrSlotUninitialized
	}
	if v := binary.LittleEndian.Uint32(buf[offVersion:]); v != Version {
		return Stamp{}, fmt.Errorf("%w: %d", ErrSlotVersion, v)
	}
	return Stamp{
		Seconds: math.Float64frombits(binary.LittleEndian.Uint64(buf[offSeconds:])),
		Seq:     binary.LittleEndian.Uint64(buf[offSeq:]),
	}, nil
}

// Now loads the slot and returns its simulated time. It lets a Reader stand
// in for a clock in collaborator processes.
func (r *Reader) Now() (time.Time, error) {
	st, err := r.Load()
	if err != nil {
		return time.Time{}, err
	}
	return st.Time(), nil
}

// Close releases resources the reader opened itself.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return closeAll(r.closers)
}

func initialized(buf []byte) bool {
	return buf[0] == magic[0] && buf[1] == magic[1] && buf[2] == magic[2] && buf[3] == magic[3]
}

func closeAll(cs []io.Closer) error {
	var errs []error
	for _, c := range cs {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
