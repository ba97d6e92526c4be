package beacon

// Field addresses a contiguous run of bits that together encode an unsigned
// integer, most significant bit first.
type Field struct {
	Name  string
	Start int
	Count int
}

// ReadUint decodes the field from p. Bits beyond the payload end read as zero,
// so a truncated field yields the value of its available prefix shifted into
// place. Fields wider than 64 bits are not supported and read as zero.
func (f Field) ReadUint(p Payload) uint64 {
	if f.Count <= 0 || f.Count > 64 {
		return 0
	}
	bits := ReadBits(p, f.Start, f.Count)
	var out uint64
	for i := 0; i < f.Count; i++ {
		out <<= 1
		if i < len(bits) && bits[i] {
			out |= 1
		}
	}
	return out
}

// WriteUint encodes value into the field. It fails without mutation when the
// payload is invalid, the field does not fit entirely inside the payload, or
// value needs more than Count bits.
func (f Field) WriteUint(p Payload, value uint64) bool {
	if f.Count <= 0 || f.Count > 64 {
		return false
	}
	if f.Count < 64 && value>>uint(f.Count) != 0 {
		return false
	}
	v, ok := vectorOf(p)
	if !ok || f.Start < 0 || f.Start+f.Count > int(v.width) {
		return false
	}
	bits := make([]bool, f.Count)
	for i := f.Count - 1; i >= 0; i-- {
		bits[i] = value&1 == 1
		value >>= 1
	}
	return WriteBits(v, f.Start, bits)
}
