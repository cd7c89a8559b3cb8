// Package nvs stores the configuration image as one blob in a badger
// database, the way ESP32 firmware keeps it in an NVS namespace.
package nvs

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/joshuapare/flashkit/medium"
	"github.com/joshuapare/flashkit/pkg/types"
)

// DefaultKey is the blob key used when Config.Key is empty.
const DefaultKey = "kfcfw/config"

// Config configures Open.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps the database in RAM, for tests.
	InMemory bool
	// Key names the blob.
	Key string
	// Size is the medium size in bytes.
	Size int
	// SyncWrites makes every commit fsync.
	SyncWrites bool
	// Logger receives medium and badger logs. Nil disables both.
	Logger *slog.Logger
}

// badgerLogger adapts slog to badger's logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Medium is a fixed-size blob. Reads and writes go to a working copy that
// Commit stores in a single transaction.
type Medium struct {
	mu     sync.Mutex
	db     *badger.DB
	ownsDB bool
	key    []byte
	size   int
	work   []byte // nil until loaded
	dirty  bool
	logger *slog.Logger
}

var _ medium.Medium = (*Medium)(nil)

// Open opens the database described by cfg.
func Open(cfg Config) (*Medium, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("nvs: invalid size %d", cfg.Size)
	}
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("nvs: directory is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("nvs: create %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("nvs: open: %w", err)
	}
	m := New(db, cfg.Key, cfg.Size, cfg.Logger)
	m.ownsDB = true
	return m, nil
}

// New uses an open database. The caller keeps ownership of db.
func New(db *badger.DB, key string, size int, logger *slog.Logger) *Medium {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Medium{db: db, key: []byte(key), size: size, logger: logger}
}

func (m *Medium) Size() int { return m.size }

// load reads the stored blob. A missing blob reads as erased bytes.
func (m *Medium) load() error {
	if m.work != nil {
		return nil
	}
	work := bytes.Repeat([]byte{0xff}, m.size)
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(m.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(work, val)
			return nil
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return types.Errorf(types.ErrKindRead, err, "nvs: load %s", m.key)
	}
	m.work = work
	return nil
}

func (m *Medium) Read(dst []byte, off int) error {
	if err := medium.CheckRange(m, off, len(dst)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	copy(dst, m.work[off:])
	return nil
}

func (m *Medium) Write(src []byte, off int) error {
	if err := medium.CheckRange(m, off, len(src)); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.load(); err != nil {
		return err
	}
	if !bytes.Equal(m.work[off:off+len(src)], src) {
		copy(m.work[off:], src)
		m.dirty = true
	}
	return nil
}

// Commit stores the working copy under the key in one transaction.
func (m *Medium) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return nil
	}
	blob := bytes.Clone(m.work)
	err := m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(m.key, blob)
	})
	if err != nil {
		m.logger.Warn("nvs commit failed", "key", string(m.key), "error", err)
		return types.Errorf(types.ErrKindWrite, err, "nvs: commit %s", m.key)
	}
	m.dirty = false
	m.logger.Debug("nvs committed", "key", string(m.key), "size", len(blob))
	return nil
}

// Discard drops uncommitted writes.
func (m *Medium) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.work = nil
	m.dirty = false
}

// Erase deletes the stored blob.
func (m *Medium) Erase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.work = nil
	m.dirty = false
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(m.key)
	})
}

// Close closes the database if Open created it.
func (m *Medium) Close() error {
	if !m.ownsDB {
		return nil
	}
	return m.db.Close()
}
