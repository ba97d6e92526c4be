package timeslot

// Region is the storage backing a slot. Bytes must be at least SlotSize long
// and stay valid until Close.
type Region interface {
	Bytes() []byte
	Close() error
}

// MemoryRegion is a process-local Region, used when writer and readers share
// an address space and in tests.
type MemoryRegion struct {
	data []byte
}

// NewMemoryRegion returns a zeroed region of SlotSize bytes.
func NewMemoryRegion() *MemoryRegion {
	return &MemoryRegion{data: make([]byte, SlotSize)}
}

func (m *MemoryRegion) Bytes() []byte { return m.data }
func (m *MemoryRegion) Close() error  { return nil }
