package alloc

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

const (
	// BlockSize is the allocation granularity.
	BlockSize = 8

	// maxFreePerClass bounds each free list.
	maxFreePerClass = 8
)

// Error reports a request the allocator could not satisfy.
type Error struct {
	Size  int // requested bytes
	Real  int // rounded size
	InUse int
	Limit int
}

func (e *Error) Error() string {
	return fmt.Sprintf("alloc: cannot allocate %d bytes (%d rounded, %d of %d in use)", e.Size, e.Real, e.InUse, e.Limit)
}

// Unwrap maps allocation failures to the shared category.
func (e *Error) Unwrap() error { return types.ErrAllocation }

// Failure describes the last failed request.
type Failure struct {
	Size  int
	Count int // failures so far
}

// Stats reports allocator usage.
type Stats struct {
	Allocs   int
	Frees    int
	Reused   int
	Failures int
	InUse    int // bytes, rounded
	Peak     int
	Limit    int
}

// Allocator hands out 8-byte aligned blocks.
type Allocator struct {
	mu    sync.Mutex
	limit int
	free  map[int][][]uint64
	stats Stats
	last  Failure
}

// New returns an allocator. limit caps the bytes in use; zero means no
// limit.
func New(limit int) *Allocator {
	return &Allocator{
		limit: limit,
		free:  make(map[int][][]uint64),
		stats: Stats{Limit: limit},
	}
}

// RealSize returns the number of bytes Allocate reserves for size.
func RealSize(size, alignment int) int {
	a := max(alignment, BlockSize)
	if size <= 0 {
		return a
	}
	return format.AlignTo(size, a)
}

// Allocate returns a zeroed block with len size and cap equal to the
// rounded size, which is also returned.
func (a *Allocator) Allocate(size, alignment int) ([]byte, int, error) {
	rounded := RealSize(size, alignment)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.stats.InUse+rounded > a.limit {
		a.stats.Failures++
		a.last = Failure{Size: size, Count: a.stats.Failures}
		return nil, 0, &Error{Size: size, Real: rounded, InUse: a.stats.InUse, Limit: a.limit}
	}

	var words []uint64
	if list := a.free[rounded]; len(list) > 0 {
		words = list[len(list)-1]
		a.free[rounded] = list[:len(list)-1]
		clear(words)
		a.stats.Reused++
	} else {
		words = make([]uint64, rounded/BlockSize)
	}
	a.stats.Allocs++
	a.stats.InUse += rounded
	a.stats.Peak = max(a.stats.Peak, a.stats.InUse)
	return wordBytes(words)[:size:rounded], rounded, nil
}

// Free returns a block obtained from Allocate. Blocks of other origin and
// nil are ignored.
func (a *Allocator) Free(b []byte) {
	rounded := cap(b)
	if rounded == 0 || rounded%BlockSize != 0 {
		return
	}
	b = b[:rounded]
	if uintptr(unsafe.Pointer(&b[0]))%BlockSize != 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Frees++
	a.stats.InUse = max(0, a.stats.InUse-rounded)
	if len(a.free[rounded]) < maxFreePerClass {
		a.free[rounded] = append(a.free[rounded], unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), rounded/BlockSize))
	}
}

// LastFailure returns the most recent failed request.
func (a *Allocator) LastFailure() (Failure, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.last.Count > 0
}

// Stats returns a snapshot of the counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func wordBytes(words []uint64) []byte {
	if len(words) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*BlockSize)
}
