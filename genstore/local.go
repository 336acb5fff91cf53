package genstore

import (
	"context"
	"sync"
	"time"
)

type localGen struct {
	gen     uint64
	touched time.Time
}

// LocalOptions configure a Local store. Zero values disable pruning.
type LocalOptions struct {
	// Sweep is how often the background loop prunes idle keys.
	Sweep time.Duration
	// Retention is how long a key may stay untouched before it is pruned.
	// Pruning resets a key to 0, which can only make a near cache entry look
	// stale, so Retention must exceed the near cache TTL.
	Retention time.Duration
	Now       func() time.Time
}

// Local keeps generations in process memory.
type Local struct {
	mu   sync.RWMutex
	gens map[string]localGen
	opts LocalOptions

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ Store = (*Local)(nil)

func NewLocal(opts LocalOptions) *Local {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Local{gens: make(map[string]localGen), opts: opts, stop: make(chan struct{})}
	if opts.Sweep > 0 && opts.Retention > 0 {
		s.wg.Add(1)
		go s.sweep()
	}
	return s
}

func (s *Local) sweep() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.Sweep)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Prune()
		case <-s.stop:
			return
		}
	}
}

// Load reads every key under one read lock.
func (s *Local) Load(_ context.Context, keys ...string) ([]uint64, error) {
	out := make([]uint64, len(keys))
	s.mu.RLock()
	for i, k := range keys {
		out[i] = s.gens[k].gen
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *Local) Bump(_ context.Context, key string) (uint64, error) {
	now := s.opts.Now()
	s.mu.Lock()
	g := s.gens[key]
	g.gen++
	g.touched = now
	s.gens[key] = g
	s.mu.Unlock()
	return g.gen, nil
}

// Prune drops keys untouched for longer than the retention and reports how
// many were removed.
func (s *Local) Prune() int {
	if s.opts.Retention <= 0 {
		return 0
	}
	cutoff := s.opts.Now().Add(-s.opts.Retention)
	n := 0
	s.mu.Lock()
	for k, g := range s.gens {
		if g.touched.Before(cutoff) {
			delete(s.gens, k)
			n++
		}
	}
	s.mu.Unlock()
	return n
}

// Len returns the number of tracked keys.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

// Close stops the sweep loop. Safe to call more than once.
func (s *Local) Close(context.Context) error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
	return nil
}
