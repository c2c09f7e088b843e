package apicache

import (
	"context"
	"time"
)

// Status is the lifecycle state of a cached query result.
//
//	Idle -> Pending -> Fulfilled | Rejected
//	Fulfilled -> Stale -> Pending -> Fulfilled | Rejected
type Status uint8

const (
	StatusIdle Status = iota
	StatusPending
	StatusFulfilled
	StatusRejected
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusFulfilled:
		return "fulfilled"
	case StatusRejected:
		return "rejected"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of an entry. Data is set iff Status is
// Fulfilled or Stale and is shared by every subscriber: treat it as read-only.
// Err is set iff Status is Rejected.
type Snapshot struct {
	Status      Status
	Data        any
	Err         error
	FulfilledAt time.Time
}

// entry is one cached query result. All fields are guarded by Client.mu.
type entry struct {
	key  Key
	desc Descriptor
	args any

	status      Status
	value       any
	err         error
	tags        []Tag
	gens        map[string]uint64 // scope generations observed at fulfilment
	fulfilledAt time.Time

	subs      map[uint64]*Subscription
	idleSince time.Time // when subs last dropped to 0

	// seq identifies the current fetch; a settling fetch with an older seq is dropped.
	seq    uint64
	dirty  bool // invalidated while Pending
	// authFailing marks a Pending entry whose fetch was rejected for auth and
	// has not settled yet; ResetData keeps it.
	authFailing bool
	done   chan struct{}
	cancel context.CancelFunc
}

func newEntry(key Key, desc Descriptor, args any) *entry {
	return &entry{
		key:  key,
		desc: desc,
		args: args,
		subs: make(map[uint64]*Subscription),
	}
}

func (e *entry) snapshot() Snapshot {
	s := Snapshot{Status: e.status, FulfilledAt: e.fulfilledAt}
	switch e.status {
	case StatusFulfilled, StatusStale:
		s.Data = e.value
	case StatusRejected:
		s.Err = e.err
	}
	return s
}

// detach ends the entry's life in the cache: a pending fetch is cancelled
// and its waiters released.
func (e *entry) detach() {
	if e.status == StatusPending {
		close(e.done)
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.seq++
	e.status = StatusIdle
	e.value, e.err = nil, nil
	e.tags, e.gens = nil, nil
	e.dirty, e.authFailing = false, false
}
