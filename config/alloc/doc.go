// Package alloc owns the bytes behind configuration values.
//
// # Overview
//
// Values live in one of two places:
//
//   - inline, inside the Value itself, for up to InlineCapacity bytes
//   - a heap block from an Allocator, for anything larger
//
// # Allocator
//
// Allocate rounds every request up to BlockSize (8 bytes) or to a larger
// requested alignment, the same granularity the embedded heap uses, so a
// value that grows by a few bytes usually keeps its block. Freed blocks go
// on a per-size free list and are handed out again before new memory is
// taken.
//
// An optional byte limit models a small device heap. A request that would
// exceed it fails with an *Error and is remembered as the last failure,
// which crash records carry in their failed allocation field.
//
// # Value
//
// Value tracks Length (logical bytes) separately from Size (Length+1 for
// strings, whose stored form is NUL terminated). Resize moves the bytes
// between inline and heap storage; shrinking below the inline threshold
// copies the bytes back and releases the heap block.
//
// All storage is 8-byte aligned so typed views of scalar values are safe.
package alloc
