package config

import (
	"github.com/cespare/xxhash/v2"

	"github.com/joshuapare/flashkit/config/alloc"
	"github.com/joshuapare/flashkit/pkg/types"
)

// State is where the bytes of a parameter value currently are.
type State uint8

const (
	// StateEmpty means nothing is cached; a stored value is read on access.
	StateEmpty State = iota
	// StateSnapshot is a read-only copy of the stored bytes.
	StateSnapshot
	// StateWritable is an owned, mutable copy. The parameter is dirty.
	StateWritable
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSnapshot:
		return "snapshot"
	case StateWritable:
		return "writable"
	default:
		return "unknown"
	}
}

type param struct {
	handle types.Handle
	typ    types.ParamType
	length int // logical length; strings exclude the terminator

	// stored layout; offset < 0 for parameters not yet written
	offset     int
	storedType types.ParamType
	storedLen  int
	digest     uint64
	hasDigest  bool

	state State
	dirty bool
	value alloc.Value
}

func newParam(h types.Handle, typ types.ParamType) *param {
	return &param{handle: h, typ: typ, length: typ.FixedSize(), offset: -1}
}

func (p *param) isString() bool { return p.typ == types.ParamString }

func (p *param) persisted() bool { return p.offset >= 0 }

// size is the number of data bytes the parameter occupies in the blob.
func (p *param) size() int {
	return storedSize(p.typ, p.length)
}

func storedSize(typ types.ParamType, length int) int {
	if typ == types.ParamString {
		return length + 1
	}
	return length
}

func (p *param) loaded() bool { return p.state != StateEmpty }

// changed reports whether the cached value differs from the stored one.
func (p *param) changed() bool {
	if !p.persisted() || p.typ != p.storedType || p.length != p.storedLen {
		return true
	}
	if !p.loaded() {
		return false
	}
	if !p.hasDigest {
		return true
	}
	return xxhash.Sum64(p.value.Bytes()[:p.size()]) != p.digest
}

// retype turns p into an empty parameter of typ.
func (p *param) retype(a *alloc.Allocator, typ types.ParamType) {
	p.value.Reset(a)
	p.typ = typ
	p.length = typ.FixedSize()
	p.state = StateWritable
	p.dirty = true
	_ = p.value.Resize(a, p.length, p.isString())
}

// ParamInfo describes one table entry.
type ParamInfo struct {
	Handle types.Handle
	Name   string
	Type   types.ParamType
	Length int
	Size   int
	Offset int // medium offset of the stored value, -1 if not stored
	Dirty  bool
	State  State
}
