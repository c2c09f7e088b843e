package genstore

import (
	"context"
	"sync"
	"time"
)

type scopeGen struct {
	gen     uint64
	touched time.Time
}

// LocalGenStore keeps generations in-process. With a sweep interval and a
// retention it prunes scopes that have not been bumped within retention.
//
// Pruning resets a scope to 0. Entries that recorded a higher generation see
// a mismatch and go stale once, which costs a refetch and never serves stale data.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]scopeGen
	now  func() time.Time
	stop context.CancelFunc
	done chan struct{}
	once sync.Once
}

var _ GenStore = (*LocalGenStore)(nil)

func NewLocalGenStore(sweepEvery, retention time.Duration) *LocalGenStore {
	s := &LocalGenStore{gens: make(map[string]scopeGen), now: time.Now}
	if sweepEvery <= 0 || retention <= 0 {
		return s
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.done = make(chan struct{})
	go s.sweep(ctx, sweepEvery, retention)
	return s
}

func (s *LocalGenStore) sweep(ctx context.Context, every, retention time.Duration) {
	defer close(s.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Cleanup(retention)
		}
	}
}

func (s *LocalGenStore) Snapshot(_ context.Context, scope string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gens[scope].gen, nil
}

func (s *LocalGenStore) SnapshotMany(_ context.Context, scopes []string) (map[string]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]uint64, len(scopes))
	for _, scope := range scopes {
		out[scope] = s.gens[scope].gen
	}
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, scope string) (uint64, error) {
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bumpLocked(scope, at), nil
}

func (s *LocalGenStore) BumpMany(_ context.Context, scopes []string) error {
	at := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, scope := range scopes {
		s.bumpLocked(scope, at)
	}
	return nil
}

func (s *LocalGenStore) bumpLocked(scope string, at time.Time) uint64 {
	g := s.gens[scope]
	g.gen++
	g.touched = at
	s.gens[scope] = g
	return g.gen
}

// Cleanup drops scopes last bumped before now-retention.
func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for scope, g := range s.gens {
		if g.touched.Before(cutoff) {
			delete(s.gens, scope)
		}
	}
}

func (s *LocalGenStore) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
			<-s.done
		}
	})
	return nil
}
