package config

import (
	"errors"
	"sync"
	"time"
)

// GCRunner releases cached values of a store that has not been accessed
// for a while.
type GCRunner struct {
	s        *Store
	interval time.Duration
	idle     time.Duration
	start    sync.Once
	stop     sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewGCRunner checks s every interval and releases it once no parameter
// was accessed for idle. Call Start to begin and Stop to halt.
func NewGCRunner(s *Store, interval, idle time.Duration) (*GCRunner, error) {
	if s == nil {
		return nil, errors.New("config: store must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("config: interval must be positive")
	}
	if idle < 0 {
		return nil, errors.New("config: idle must not be negative")
	}
	return &GCRunner{
		s:        s,
		interval: interval,
		idle:     idle,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the runner goroutine. Later calls are no-ops.
func (r *GCRunner) Start() {
	r.start.Do(func() { go r.run() })
}

// Stop halts the runner and waits for it. Stop without Start returns at
// once and keeps a later Start from launching.
func (r *GCRunner) Stop() {
	r.stop.Do(func() {
		r.start.Do(func() { close(r.doneCh) })
		close(r.stopCh)
		<-r.doneCh
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Collect()
		}
	}
}

// Collect releases the store if it has been idle long enough and holds
// cached values. It reports whether anything was released.
func (r *GCRunner) Collect() bool {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(s.lastAccess) < r.idle || s.cachedBytes() == 0 {
		return false
	}
	before := s.cachedBytes()
	s.release()
	return s.cachedBytes() < before
}
