package apicache

import (
	"context"
	"fmt"
	"time"
)

// State is the typed form of Snapshot.
type State[R any] struct {
	Status      Status
	Data        R
	HasData     bool
	Err         error
	FulfilledAt time.Time
}

func stateOf[R any](s Snapshot) State[R] {
	out := State[R]{Status: s.Status, Err: s.Err, FulfilledAt: s.FulfilledAt}
	if s.Data != nil {
		out.Data, out.HasData = s.Data.(R)
	}
	return out
}

// Handle is a typed Subscription.
type Handle[R any] struct {
	sub *Subscription
}

func (h *Handle[R]) State() State[R]              { return stateOf[R](h.sub.State()) }
func (h *Handle[R]) Refetch()                     { h.sub.Refetch() }
func (h *Handle[R]) Unsubscribe()                 { h.sub.Unsubscribe() }
func (h *Handle[R]) Subscription() *Subscription { return h.sub }

func (h *Handle[R]) Wait(ctx context.Context) (State[R], error) {
	s, err := h.sub.Wait(ctx)
	if err != nil {
		return State[R]{}, err
	}
	return stateOf[R](s), nil
}

// Subscribe attaches fn to the result of q with args. q must be registered
// with c.
func Subscribe[A, R any](c *Client, q Query[A, R], args A, fn func(State[R])) (*Handle[R], error) {
	d, err := c.reg.lookupKind(q.Name, KindQuery)
	if err != nil {
		return nil, err
	}
	var cb func(Snapshot)
	if fn != nil {
		cb = func(s Snapshot) { fn(stateOf[R](s)) }
	}
	s, err := c.acquire(d, args, cb, true)
	if err != nil {
		return nil, err
	}
	return &Handle[R]{sub: s}, nil
}

// Fetch returns the result of q with args, from the cache when it holds a
// fresh value. A Rejected result is returned as its error without a new call;
// use Refetch to retry it.
func Fetch[A, R any](ctx context.Context, c *Client, q Query[A, R], args A) (R, error) {
	var zero R
	d, err := c.reg.lookupKind(q.Name, KindQuery)
	if err != nil {
		return zero, err
	}
	s, err := c.acquire(d, args, nil, false)
	if err != nil {
		return zero, err
	}
	defer s.Unsubscribe()

	// A shared GenStore may know of invalidations this process has not seen.
	if !c.ownGens {
		c.validate(ctx, []*entry{s.currentEntry()})
	}

	for attempt := 0; ; attempt++ {
		snap, err := s.Wait(ctx)
		if err != nil {
			return zero, err
		}
		switch snap.Status {
		case StatusFulfilled, StatusStale:
			r, ok := snap.Data.(R)
			if !ok {
				return zero, fmt.Errorf("apicache: %s: cached %T is not %T", q.Name, snap.Data, zero)
			}
			return r, nil
		case StatusRejected:
			return zero, snap.Err
		}
		// Idle: the cache was reset or closed under us.
		if attempt > 0 || c.isClosed() {
			return zero, ErrClosed
		}
		s.Refetch()
	}
}

// Mutate runs m with args and invalidates its tags on success.
func Mutate[A, R any](ctx context.Context, c *Client, m Mutation[A, R], args A) (R, error) {
	var zero R
	v, err := c.Execute(ctx, m.Name, args)
	if err != nil {
		return zero, err
	}
	r, ok := v.(R)
	if !ok && v != nil {
		return zero, fmt.Errorf("apicache: %s: result %T is not %T", m.Name, v, zero)
	}
	return r, nil
}
