// Package beacon implements the fixed-width bit vectors that wayside and CTC
// logic attach to track blocks, along with their hexadecimal wire format.
//
// Accessors never fail loudly. A payload that is absent reads as zeros, encodes
// as a string of '0' digits and rejects writes, because beacons are routinely
// read from blocks whose payload has not been pushed yet.
package beacon

import (
	"errors"
	"strings"
	"sync"
)

// Width is the number of bits in a beacon payload.
type Width int

const (
	Width128 Width = 128
	Width256 Width = 256

	// DefaultWidth is assumed when no payload metadata is available.
	DefaultWidth = Width256
)

var (
	ErrUnsupportedWidth = errors.New("beacon: unsupported width")
	ErrHexLength        = errors.New("beacon: hex length does not match a supported width")
	ErrHexDigits        = errors.New("beacon: invalid hex digit")
)

// Valid reports whether w is one of the supported beacon widths.
func (w Width) Valid() bool {
	return w == Width128 || w == Width256
}

// HexLen is the number of hex characters that encode a payload of width w.
func (w Width) HexLen() int {
	return int(w) / 4
}

// Payload is the beacon carried by a track block: either Absent or a *Vector
// of a supported width. The interface is sealed.
type Payload interface {
	Width() Width
	payload()
}

// Absent is a block without beacon data. Expect records the width a block is
// configured for; zero means DefaultWidth.
type Absent struct {
	Expect Width
}

// Width returns the expected width of the missing payload.
func (a Absent) Width() Width {
	if a.Expect.Valid() {
		return a.Expect
	}
	return DefaultWidth
}

func (Absent) payload() {}

// Vector is a beacon payload of 128 or 256 bits. Bits are stored packed,
// most-significant-bit first within each byte, which is also the wire order.
//
// A Vector is safe for concurrent use. Single-bit and run writes are each
// applied atomically; concurrent writers resolve last-writer-wins.
type Vector struct {
	mu    sync.RWMutex
	width Width
	bytes []byte
}

// New returns an all-zero vector of the given width.
func New(width Width) (*Vector, error) {
	if !width.Valid() {
		return nil, ErrUnsupportedWidth
	}
	return &Vector{width: width, bytes: make([]byte, int(width)/8)}, nil
}

// MustNew is New for widths known at compile time.
func MustNew(width Width) *Vector {
	v, err := New(width)
	if err != nil {
		panic(err)
	}
	return v
}

// FromBits converts a legacy bit slice into a payload. Slices whose length is
// not a supported width become Absent.
func FromBits(bits []bool) Payload {
	v, err := New(Width(len(bits)))
	if err != nil {
		return Absent{}
	}
	for i, b := range bits {
		if b {
			v.bytes[i/8] |= mask(i)
		}
	}
	return v
}

// Width returns the vector width, or DefaultWidth for a nil vector.
func (v *Vector) Width() Width {
	if v == nil {
		return DefaultWidth
	}
	return v.width
}

func (*Vector) payload() {}

// Clone returns an independent copy of v.
func (v *Vector) Clone() *Vector {
	if v == nil {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := &Vector{width: v.width, bytes: make([]byte, len(v.bytes))}
	copy(out.bytes, v.bytes)
	return out
}

// Equal reports whether both vectors have the same width and bits.
func (v *Vector) Equal(o *Vector) bool {
	if v == nil || o == nil {
		return v == o
	}
	if v == o {
		return true
	}
	a, b := v.snapshot(), o.snapshot()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the vector as a string of '0' and '1', bit 0 first.
func (v *Vector) String() string {
	if v == nil {
		return ""
	}
	raw := v.snapshot()
	var sb strings.Builder
	sb.Grow(len(raw) * 8)
	for i := 0; i < len(raw)*8; i++ {
		if raw[i/8]&mask(i) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func (v *Vector) snapshot() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]byte, len(v.bytes))
	copy(out, v.bytes)
	return out
}

func mask(pos int) byte {
	return 0x80 >> uint(pos%8)
}

// vectorOf unwraps a payload into a usable vector.
func vectorOf(p Payload) (*Vector, bool) {
	v, ok := p.(*Vector)
	if !ok || v == nil || !v.width.Valid() || len(v.bytes)*8 != int(v.width) {
		return nil, false
	}
	return v, true
}
