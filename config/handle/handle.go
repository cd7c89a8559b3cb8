// Package handle derives the 16-bit parameter keys used by the config
// store and keeps an optional name registry for dumps and collision checks.
package handle

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/joshuapare/flashkit/internal/format"
	"github.com/joshuapare/flashkit/pkg/types"
)

// ErrCollision is returned when two different names map to one handle.
var ErrCollision = errors.New("handle: collision")

// ErrEmptyName is returned for an empty parameter name.
var ErrEmptyName = errors.New("handle: empty name")

// Unknown is the name reported for unregistered handles.
const Unknown = "<unknown>"

// Of returns the handle of name: the CRC-16 of its bytes.
//
// Handles are not checked for uniqueness. Two names with the same CRC share
// one parameter; use a Registry in tests and tools to catch that.
func Of(name string) types.Handle {
	return types.Handle(format.CRC16([]byte(name)))
}

// Entry is one registered name.
type Entry struct {
	Handle types.Handle
	Name   string
}

// Registry records which name produced each handle.
type Registry struct {
	mu    sync.RWMutex
	names map[types.Handle]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[types.Handle]string)}
}

// Register computes the handle of name and records it. Registering the same
// name again is a no-op.
func (r *Registry) Register(name string) (types.Handle, error) {
	if name == "" {
		return 0, ErrEmptyName
	}
	h := Of(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.names[h]; ok && existing != name {
		return h, fmt.Errorf("%w: %q and %q share %s", ErrCollision, existing, name, h)
	}
	r.names[h] = name
	return h, nil
}

// MustRegister is Register for static parameter tables. It panics on error.
func (r *Registry) MustRegister(names ...string) []types.Handle {
	handles := make([]types.Handle, 0, len(names))
	for _, name := range names {
		h, err := r.Register(name)
		if err != nil {
			panic(err)
		}
		handles = append(handles, h)
	}
	return handles
}

// Name returns the name registered for h, or Unknown.
func (r *Registry) Name(h types.Handle) string {
	if r == nil {
		return Unknown
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.names[h]; ok {
		return name
	}
	return Unknown
}

// Lookup returns the handle registered for name.
func (r *Registry) Lookup(name string) (types.Handle, bool) {
	h := Of(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return h, r.names[h] == name
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

// Names returns all entries ordered by handle.
func (r *Registry) Names() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.names))
	for h, name := range r.names {
		entries = append(entries, Entry{Handle: h, Name: name})
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Handle < entries[j].Handle })
	return entries
}
