package sectorlog

import "github.com/joshuapare/flashkit/internal/format"

// Result tracks one sector through an append session, or reports the
// sector an operation failed on.
//
// Init and Copy return a result with an empty header; Append grows Size and
// CRC in memory only; Finalize writes the header, after which the result
// refuses further appends.
type Result struct {
	Kind    Kind
	Sector  uint16
	Header  format.SectorHeader
	CRC     uint32 // running checksum of the payload
	Size    int    // payload bytes written so far
	Version uint32 // version of the copied source, then of the finalized sector

	capacity int
}

func failed(kind Kind, sector uint16) Result {
	return Result{Kind: kind, Sector: sector, CRC: format.SectorEmptyCRC}
}

// OK reports whether the result describes a usable sector.
func (r Result) OK() bool {
	return r.Kind == KindSuccess
}

// Finalized reports whether the header has been committed.
func (r Result) Finalized() bool {
	return r.OK() && !r.Header.IsEmpty()
}

// Space returns the payload bytes still available.
func (r Result) Space() int {
	if !r.OK() {
		return 0
	}
	return r.capacity - r.Size
}

// Slot is one sector returned by Find.
type Slot struct {
	Sector   uint16
	Reusable bool   // erased, empty or failed verification
	Size     int    // payload size, 0 when reusable
	CRC      uint32 // payload checksum
	Version  uint32

	capacity int
}

// Space returns the free payload bytes of the sector.
func (s Slot) Space() int {
	return s.capacity - s.Size
}
