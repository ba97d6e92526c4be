package beacon

import (
	"encoding/hex"
	"strings"
)

// IsActive reports whether p is a valid vector with at least one bit set.
// All-zero vectors and absent payloads are inactive.
func IsActive(p Payload) bool {
	v, ok := vectorOf(p)
	if !ok {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, b := range v.bytes {
		if b != 0 {
			return true
		}
	}
	return false
}

// ReadBits returns up to count bits starting at start. Absent payloads read as
// count zero bits. On a valid vector the result is truncated at the vector
// end, so callers must not assume len(result) == count.
func ReadBits(p Payload, start, count int) []bool {
	if count <= 0 {
		return []bool{}
	}
	v, ok := vectorOf(p)
	if !ok {
		return make([]bool, count)
	}
	width := int(v.width)
	if start < 0 || start >= width {
		return []bool{}
	}
	end := start + count
	if end > width || end < start {
		end = width
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]bool, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, v.bytes[i/8]&mask(i) != 0)
	}
	return out
}

// WriteBit sets the bit at pos. It returns false without mutating anything
// when the payload is absent or pos is outside [0, width).
func WriteBit(p Payload, pos int, value bool) bool {
	v, ok := vectorOf(p)
	if !ok || pos < 0 || pos >= int(v.width) {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	setLocked(v, pos, value)
	return true
}

// WriteBits writes values starting at start, stopping silently at the vector
// boundary. It returns false only when the payload is absent or start is out
// of range; a truncated write still returns true.
func WriteBits(p Payload, start int, values []bool) bool {
	v, ok := vectorOf(p)
	if !ok || start < 0 || start >= int(v.width) {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, b := range values {
		pos := start + i
		if pos >= int(v.width) {
			break
		}
		setLocked(v, pos, b)
	}
	return true
}

func setLocked(v *Vector, pos int, value bool) {
	if value {
		v.bytes[pos/8] |= mask(pos)
	} else {
		v.bytes[pos/8] &^= mask(pos)
	}
}

// ToHex packs the payload eight bits per byte, most significant bit first,
// into width/4 lower-case hex characters. Absent payloads encode as zeros of
// their expected width.
func ToHex(p Payload) string {
	v, ok := vectorOf(p)
	if !ok {
		w := DefaultWidth
		if p != nil {
			w = p.Width()
		}
		if !w.Valid() {
			w = DefaultWidth
		}
		return strings.Repeat("0", w.HexLen())
	}
	return hex.EncodeToString(v.snapshot())
}

// FromHex decodes s into p. The payload is left untouched and false is
// returned unless p is a valid vector, len(s) == width/4 and s is hex.
func FromHex(p Payload, s string) bool {
	v, ok := vectorOf(p)
	if !ok || len(s) != v.width.HexLen() {
		return false
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	copy(v.bytes, raw)
	return true
}

// ParseHex builds a vector from its wire form, inferring the width from the
// string length.
func ParseHex(s string) (*Vector, error) {
	var width Width
	switch len(s) {
	case Width128.HexLen():
		width = Width128
	case Width256.HexLen():
		width = Width256
	default:
		return nil, ErrHexLength
	}
	v := MustNew(width)
	if !FromHex(v, s) {
		return nil, ErrHexDigits
	}
	return v, nil
}
