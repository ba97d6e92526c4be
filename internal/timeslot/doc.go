// Package timeslot is the shared simulated-time slot that lets collaborator
// processes read the authoritative clock without talking to its owner.
//
// The slot is a small fixed-layout memory region, normally a memory-mapped
// file, guarded by a cross-process mutual-exclusion primitive supplied at
// construction. Exactly one Writer owns a slot; any number of Readers may
// load it. Readers never write.
//
// Layout (little-endian, SlotSize bytes):
//
//	offset 0   magic   "RSLT"
//	offset 4   uint32  layout version
//	offset 8   float64 simulated seconds since the Unix epoch
//	offset 16  uint64  publish sequence number
package timeslot
