// Package medium defines the byte-addressed storage the config store is
// persisted to, and an in-memory implementation.
//
// Writes go to a working copy. Commit makes them durable as one unit;
// Discard drops them and rereads the committed state on next access.
package medium

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/joshuapare/flashkit/internal/buf"
)

// Medium is a fixed-size byte array with explicit commit.
type Medium interface {
	// Size is the number of addressable bytes.
	Size() int
	// Read copies len(dst) bytes starting at off.
	Read(dst []byte, off int) error
	// Write copies src to off in the working copy.
	Write(src []byte, off int) error
	// Commit persists the working copy.
	Commit() error
	// Discard drops uncommitted writes.
	Discard()
}

// ErrCommit is returned by Memory when a commit failure was injected.
var ErrCommit = errors.New("medium: commit failed")

// CheckRange validates a span against the medium size.
func CheckRange(m Medium, off, n int) error {
	if _, err := buf.CheckRange(m.Size(), off, n); err != nil {
		return fmt.Errorf("medium: %w", err)
	}
	return nil
}

// Memory is a Medium backed by two byte slices: the committed state and
// the working copy. Unwritten bytes read as 0xff.
type Memory struct {
	mu        sync.Mutex
	committed []byte
	work      []byte
	commits   int
	failNext  bool
}

// NewMemory returns an erased medium of size bytes.
func NewMemory(size int) *Memory {
	committed := bytes.Repeat([]byte{0xff}, size)
	return &Memory{committed: committed, work: bytes.Clone(committed)}
}

// NewMemoryFrom returns a medium whose committed state is data.
func NewMemoryFrom(data []byte) *Memory {
	return &Memory{committed: bytes.Clone(data), work: bytes.Clone(data)}
}

func (m *Memory) Size() int { return len(m.committed) }

func (m *Memory) Read(dst []byte, off int) error {
	if err := CheckRange(m, off, len(dst)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(dst, m.work[off:])
	return nil
}

func (m *Memory) Write(src []byte, off int) error {
	if err := CheckRange(m, off, len(src)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.work[off:], src)
	return nil
}

func (m *Memory) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return ErrCommit
	}
	if !bytes.Equal(m.committed, m.work) {
		copy(m.committed, m.work)
		m.commits++
	}
	return nil
}

func (m *Memory) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.work, m.committed)
}

// Committed returns a copy of the committed bytes.
func (m *Memory) Committed() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.committed)
}

// Commits counts commits that changed the committed bytes.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// FailNextCommit makes the next Commit return ErrCommit.
func (m *Memory) FailNextCommit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
}
