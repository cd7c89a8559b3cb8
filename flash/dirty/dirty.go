// Package dirty tracks modified byte ranges of a flash region.
//
// The tracker maintains a list of dirty byte ranges and coalesces them into
// sector-aligned ranges, so a commit erases and rewrites only the sectors
// that actually changed.
package dirty

import "sort"

// defaultRangeCapacity is the pre-allocated capacity for dirty ranges.
const defaultRangeCapacity = 64

// Range represents a dirty byte range (offsets relative to the tracked region).
type Range struct {
	Off int
	Len int
}

// End returns the offset one past the range.
func (r Range) End() int { return r.Off + r.Len }

// Tracker accumulates dirty ranges.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Tracker struct {
	ranges     []Range // raw ranges, coalesced on demand
	sectorSize int
}

// NewTracker creates a tracker that aligns ranges to sectorSize.
func NewTracker(sectorSize int) *Tracker {
	return &Tracker{
		ranges:     make([]Range, 0, defaultRangeCapacity),
		sectorSize: sectorSize,
	}
}

// Add records a dirty range. Empty ranges are ignored.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Empty reports whether nothing is dirty.
func (t *Tracker) Empty() bool {
	return len(t.ranges) == 0
}

// Reset clears all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Ranges returns the raw, uncoalesced ranges.
func (t *Tracker) Ranges() []Range {
	result := make([]Range, len(t.ranges))
	copy(result, t.ranges)
	return result
}

// Coalesced returns sector-aligned, sorted, non-overlapping ranges.
func (t *Tracker) Coalesced() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	aligned := make([]Range, len(t.ranges))
	for i, r := range t.ranges {
		start := (r.Off / t.sectorSize) * t.sectorSize
		end := r.End()
		if end%t.sectorSize != 0 {
			end = (end/t.sectorSize + 1) * t.sectorSize
		}
		aligned[i] = Range{Off: start, Len: end - start}
	}

	sort.Slice(aligned, func(i, j int) bool {
		return aligned[i].Off < aligned[j].Off
	})

	merged := make([]Range, 0, len(aligned))
	current := aligned[0]
	for _, next := range aligned[1:] {
		if next.Off <= current.End() {
			current.Len = max(current.End(), next.End()) - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	return append(merged, current)
}

// Sectors returns the indexes (relative to the region) of every dirty sector.
func (t *Tracker) Sectors() []int {
	var sectors []int
	for _, r := range t.Coalesced() {
		for off := r.Off; off < r.End(); off += t.sectorSize {
			sectors = append(sectors, off/t.sectorSize)
		}
	}
	return sectors
}
