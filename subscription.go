package apicache

import (
	"context"
	"sync/atomic"
	"time"
)

// Subscription ties a consumer to one cached result. Subscriptions to the
// same key share one entry and one fetch.
type Subscription struct {
	c      *Client
	id     uint64
	k      Key
	entry  *entry // guarded by c.mu
	fn     func(Snapshot)
	active atomic.Bool
}

func (s *Subscription) Key() Key { return s.k }

func (s *Subscription) currentEntry() *entry {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.entry
}

func (s *Subscription) State() Snapshot {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.entry.snapshot()
}

// Refetch asks for a new network fetch unless one is in flight. After a
// cache reset it re-attaches the subscription to a fresh entry.
func (s *Subscription) Refetch() {
	if !s.active.Load() {
		return
	}
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e := s.reattachLocked()
	if e.status != StatusPending {
		c.startLocked(e)
	}
}

func (s *Subscription) reattachLocked() *entry {
	c, old := s.c, s.entry
	if c.entries[old.key] == old {
		return old
	}
	delete(old.subs, s.id)
	e, ok := c.entries[old.key]
	if !ok {
		e = newEntry(old.key, old.desc, old.args)
		c.entries[old.key] = e
	}
	e.subs[s.id] = s
	e.idleSince = time.Time{}
	s.entry = e
	return e
}

// Unsubscribe detaches the consumer; its callback is not invoked for any
// notification delivered afterwards. A shared fetch is never cancelled.
func (s *Subscription) Unsubscribe() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	c := s.c
	c.mu.Lock()
	e := s.entry
	delete(e.subs, s.id)
	if len(e.subs) == 0 {
		e.idleSince = c.now()
	}
	c.mu.Unlock()
}

// Wait blocks until the entry is not Pending and returns its state.
func (s *Subscription) Wait(ctx context.Context) (Snapshot, error) {
	c := s.c
	for {
		c.mu.Lock()
		e := s.entry
		if e.status != StatusPending {
			snap := e.snapshot()
			c.mu.Unlock()
			return snap, nil
		}
		done := e.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
}
