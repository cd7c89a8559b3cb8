package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joshuapare/flashkit/config/alloc"
	"github.com/joshuapare/flashkit/config/handle"
	"github.com/joshuapare/flashkit/internal/metrics"
	"github.com/joshuapare/flashkit/internal/options"
)

// Option configures a Store.
type Option = options.Option[*Store]

// WithOffset places the blob at off bytes into the medium.
func WithOffset(off int) Option {
	return options.New(func(s *Store) error {
		if off < 0 {
			return fmt.Errorf("config: negative offset %d", off)
		}
		s.offset = off
		return nil
	})
}

// WithSize limits the blob region to n bytes, header included. The default
// is the rest of the medium.
func WithSize(n int) Option {
	return options.New(func(s *Store) error {
		if n <= 0 {
			return fmt.Errorf("config: invalid size %d", n)
		}
		s.size = n
		return nil
	})
}

// WithLogger sets the logger. Reads and writes log at debug level, failed
// commits at warn.
func WithLogger(l *slog.Logger) Option {
	return options.NoError(func(s *Store) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithMetrics records loads, commits and cache size.
func WithMetrics(m *metrics.Store) Option {
	return options.NoError(func(s *Store) { s.metrics = m })
}

// WithAllocator sets the allocator for heap-backed values.
func WithAllocator(a *alloc.Allocator) Option {
	return options.New(func(s *Store) error {
		if a == nil {
			return fmt.Errorf("config: nil allocator")
		}
		s.alloc = a
		return nil
	})
}

// WithDebug makes typed reads panic when the stored type or size does not
// match the requested one.
func WithDebug(debug bool) Option {
	return options.NoError(func(s *Store) { s.debug = debug })
}

// WithVersion stamps every write with v and makes Read reject a blob with
// a different stamp.
func WithVersion(v uint32) Option {
	return options.NoError(func(s *Store) {
		s.version = v
		s.hasVersion = true
	})
}

// WithRegistry resolves handle names for dumps and exports.
func WithRegistry(r *handle.Registry) Option {
	return options.NoError(func(s *Store) { s.names = r })
}

// WithClock replaces time.Now for access tracking.
func WithClock(now func() time.Time) Option {
	return options.NoError(func(s *Store) {
		if now != nil {
			s.now = now
		}
	})
}
