package apicache

import (
	"context"
	"errors"
	"time"

	"github.com/voltadmin/apicache/internal/util"
	"github.com/voltadmin/apicache/internal/wire"
)

// acquire subscribes to the entry for d and args, starting a fetch unless a
// usable value or an in-flight fetch exists. A Rejected entry is left alone.
func (c *Client) acquire(d Descriptor, args any, fn func(Snapshot), asyncValidate bool) (*Subscription, error) {
	// Builders are pure; running one early rejects bad args before an entry exists.
	if _, err := d.BuildRequest(args); err != nil {
		return nil, err
	}
	key, err := MakeKey(d.Name, args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		e = newEntry(key, d, args)
		c.entries[key] = e
	}

	validate := false
	switch e.status {
	case StatusIdle, StatusStale:
		c.startLocked(e)
	case StatusFulfilled:
		validate = asyncValidate && !c.ownGens && len(e.gens) > 0
	}
	s := c.attachLocked(e, fn)
	if validate {
		c.fetchWg.Add(1)
	}
	c.mu.Unlock()

	if validate {
		go func() {
			defer c.fetchWg.Done()
			c.validate(c.ctx, []*entry{e})
		}()
	}
	return s, nil
}

func (c *Client) attachLocked(e *entry, fn func(Snapshot)) *Subscription {
	c.nextSub++
	s := &Subscription{c: c, id: c.nextSub, k: e.key, entry: e, fn: fn}
	s.active.Store(true)
	e.subs[s.id] = s
	e.idleSince = time.Time{}
	if fn != nil {
		c.disp.push(notification{sub: s, snap: e.snapshot()})
	}
	return s
}

// startLocked moves e to Pending and launches its single fetch.
func (c *Client) startLocked(e *entry) {
	if c.closed {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	fctx, cancel := context.WithCancel(c.ctx)
	e.status = StatusPending
	e.seq++
	e.value, e.err = nil, nil
	e.dirty, e.authFailing = false, false
	e.done = make(chan struct{})
	e.cancel = cancel
	c.notifyLocked(e)

	seq, prev := e.seq, scopesOf(e.tags)
	c.fetchWg.Add(1)
	go c.run(fctx, e, seq, prev)
}

func (c *Client) run(ctx context.Context, e *entry, seq uint64, prevScopes []string) {
	defer c.fetchWg.Done()

	// Generations are observed before the call: an invalidation that lands
	// while the request is in flight moves them and the result settles Stale.
	pre := c.snapshotGens(ctx, prevScopes)

	start := c.now()
	v, err := c.exec.do(ctx, e.desc, e.args)
	elapsed := c.now().Sub(start)

	if err != nil {
		if c.persist != nil && errors.Is(err, ErrTransport) && ctx.Err() == nil {
			if pv, tags, at, ok := c.loadPersisted(ctx, e); ok {
				c.settleOffline(e, seq, pv, tags, at, err)
				return
			}
		}
		if errors.Is(err, ErrAuth) {
			// The auth cascade may reset the cache. This entry survives it
			// and settles Rejected once the session has ended.
			c.mu.Lock()
			if c.liveLocked(e, seq) {
				e.authFailing = true
			}
			c.mu.Unlock()
			c.exec.observe(ctx, e.desc, err)
		}
		c.settle(e, seq, nil, err, nil, nil, false, elapsed)
		return
	}

	tags := e.desc.ProvidesTags(v, e.args)
	post := c.snapshotGens(ctx, scopesOf(tags))
	raced := false
	for k, g := range pre {
		if cur, ok := post[k]; ok && g < cur {
			raced = true
		}
	}
	c.settle(e, seq, v, nil, tags, post, raced, elapsed)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) liveLocked(e *entry, seq uint64) bool {
	return !c.closed && c.entries[e.key] == e && e.seq == seq
}

// settle applies a fetch outcome if the fetch is still the entry's current
// one. raced means generations moved during the call.
func (c *Client) settle(e *entry, seq uint64, v any, err error, tags []Tag, gens map[string]uint64, raced bool, elapsed time.Duration) {
	c.mu.Lock()
	if !c.liveLocked(e, seq) {
		c.mu.Unlock()
		c.log.Debug("fetch result dropped", Fields{"key": e.key})
		return
	}

	e.authFailing = false
	if err != nil {
		e.status = StatusRejected
		e.err = err
	} else {
		c.index.remove(e)
		e.tags = tags
		c.index.add(e)
		e.value = v
		e.gens = gens
		e.fulfilledAt = c.now()
		e.status = StatusFulfilled
		if e.dirty || raced {
			e.status = StatusStale
		}
	}
	e.cancel()
	e.cancel = nil
	close(e.done)
	c.notifyLocked(e)

	settled, at := e.status, e.fulfilledAt
	if settled == StatusStale && len(e.subs) > 0 {
		c.startLocked(e)
	}
	c.mu.Unlock()

	if settled == StatusStale {
		settled = StatusFulfilled
	}
	c.hooks.FetchResolved(e.desc.Name, settled, elapsed)
	if err != nil {
		c.log.Debug("fetch rejected", Fields{"key": e.key, "err": err})
		return
	}
	if c.persist != nil {
		c.writeThrough(e, v, tags, at)
	}
}

// settleOffline serves a persisted result after a transport failure. The
// entry is Stale and is not refetched until something asks for it.
func (c *Client) settleOffline(e *entry, seq uint64, v any, tags []Tag, at time.Time, cause error) {
	c.mu.Lock()
	if !c.liveLocked(e, seq) {
		c.mu.Unlock()
		return
	}
	c.index.remove(e)
	e.tags = tags
	c.index.add(e)
	e.value = v
	e.gens = nil
	e.fulfilledAt = at
	e.status = StatusStale
	e.cancel()
	e.cancel = nil
	close(e.done)
	c.notifyLocked(e)
	c.mu.Unlock()

	c.hooks.FetchResolved(e.desc.Name, StatusStale, 0)
	c.log.Info("serving persisted result", Fields{"key": e.key, "fulfilled_at": at, "cause": cause})
}

func (c *Client) notifyLocked(e *entry) {
	if len(e.subs) == 0 {
		return
	}
	snap := e.snapshot()
	for _, s := range e.subs {
		if s.fn != nil {
			c.disp.push(notification{sub: s, snap: snap})
		}
	}
}

// InvalidateTags marks every entry providing one of tags Stale and refetches
// the subscribed ones. Entries fetching right now settle Stale. A list tag
// (empty ID) hits every entry with a tag of its type.
//
// Generations are bumped first so other processes sharing the GenStore see
// the invalidation; a bump failure is returned as *InvalidateError after the
// local entries were marked anyway.
func (c *Client) InvalidateTags(ctx context.Context, tags ...Tag) error {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	scopes := make([]string, len(tags))
	for i, t := range tags {
		scopes[i] = t.scope()
	}

	var ierr error
	if err := c.gens.BumpMany(ctx, scopes); err != nil {
		c.hooks.GenStoreError("bump", len(scopes), err)
		c.log.Error("gen bump error", Fields{"scopes": scopes, "err": err})
		ierr = &InvalidateError{Tags: tags, BumpErr: err}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	marked := 0
	for _, e := range c.index.match(tags) {
		switch e.status {
		case StatusFulfilled:
			e.status = StatusStale
			marked++
			c.notifyLocked(e)
			if len(e.subs) > 0 {
				c.startLocked(e)
			}
		case StatusStale:
			marked++
			if len(e.subs) > 0 {
				c.startLocked(e)
			}
		case StatusPending:
			e.dirty = true
			marked++
		}
	}
	c.mu.Unlock()

	c.hooks.TagsInvalidated(len(tags), marked)
	c.log.Debug("tags invalidated", Fields{"tags": len(tags), "marked": marked})
	return ierr
}

func (c *Client) snapshotGens(ctx context.Context, scopes []string) map[string]uint64 {
	if len(scopes) == 0 {
		return nil
	}
	m, err := c.gens.SnapshotMany(ctx, scopes)
	if err != nil {
		c.hooks.GenStoreError("snapshot", len(scopes), err)
		c.log.Warn("gen snapshot error", Fields{"scopes": len(scopes), "err": err})
		return nil
	}
	return m
}

// validate re-reads the generations of Fulfilled entries and marks Stale the
// ones another process invalidated.
func (c *Client) validate(ctx context.Context, entries []*entry) {
	type observed struct {
		e    *entry
		seq  uint64
		gens map[string]uint64
	}

	c.mu.Lock()
	var items []observed
	var scopes []string
	for _, e := range entries {
		if e.status != StatusFulfilled || len(e.gens) == 0 {
			continue
		}
		items = append(items, observed{e: e, seq: e.seq, gens: e.gens})
		for k := range e.gens {
			scopes = append(scopes, k)
		}
	}
	c.mu.Unlock()
	if len(items) == 0 {
		return
	}

	cur := c.snapshotGens(ctx, scopes)
	if cur == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		if !c.liveLocked(it.e, it.seq) || it.e.status != StatusFulfilled || !moved(it.gens, cur) {
			continue
		}
		it.e.status = StatusStale
		c.hooks.SelfHeal(string(it.e.key), "gen_mismatch")
		c.notifyLocked(it.e)
		if len(it.e.subs) > 0 {
			c.startLocked(it.e)
		}
	}
}

func moved(observed, current map[string]uint64) bool {
	for k, g := range observed {
		if current[k] != g {
			return true
		}
	}
	return false
}

// sweep collects unsubscribed entries idle for at least the grace window
// and, with a shared GenStore, validates the subscribed ones.
func (c *Client) sweep() {
	now := c.now()
	var collected []Key
	var check []*entry

	c.mu.Lock()
	for k, e := range c.entries {
		if len(e.subs) > 0 {
			if !c.ownGens && e.status == StatusFulfilled && len(e.gens) > 0 {
				check = append(check, e)
			}
			continue
		}
		if e.status == StatusPending || e.idleSince.IsZero() || now.Sub(e.idleSince) < c.gcGrace {
			continue
		}
		c.index.remove(e)
		delete(c.entries, k)
		e.detach()
		collected = append(collected, k)
	}
	c.mu.Unlock()

	for _, k := range collected {
		c.hooks.EntryCollected(string(k))
	}
	if len(collected) > 0 {
		c.log.Debug("gc collected entries", Fields{"removed": len(collected)})
	}
	if len(check) > 0 {
		c.validate(c.ctx, check)
	}
}

func (c *Client) persistKey(k Key) string { return util.HashKey("q:"+c.ns, string(k)) }

func (c *Client) writeThrough(e *entry, v any, tags []Tag, at time.Time) {
	pk := c.persistKey(e.key)
	payload, err := e.desc.encode(v)
	if err != nil {
		c.log.Warn("persist encode failed", Fields{"key": e.key, "err": err})
		return
	}
	wt := make([]wire.Tag, len(tags))
	for i, t := range tags {
		wt[i] = wire.Tag{Type: t.Type, ID: t.ID}
	}
	frame, err := wire.EncodeResult(wire.Result{FulfilledAtMillis: at.UnixMilli(), Tags: wt, Payload: payload})
	if err != nil {
		c.log.Warn("persist frame failed", Fields{"key": e.key, "err": err})
		return
	}
	// A reset clears the tier under the write lock; a frame for an entry it
	// already dropped must not land after that.
	c.persistMu.RLock()
	defer c.persistMu.RUnlock()
	c.mu.Lock()
	live := c.entries[e.key] == e
	c.mu.Unlock()
	if !live {
		return
	}
	// Close cancels c.ctx before it waits for fetches; their frames still land.
	ok, err := c.persist.Set(context.WithoutCancel(c.ctx), pk, frame, int64(len(frame)), c.persistTTL)
	if err != nil {
		c.log.Warn("persist set failed", Fields{"key": e.key, "err": err})
		c.hooks.StorageError("persist", pk, err)
		return
	}
	if !ok {
		c.hooks.PersistRejected(pk)
	}
}

// loadPersisted reads the last result written for e. Frames that do not
// decode are deleted and reported as self-heals.
func (c *Client) loadPersisted(ctx context.Context, e *entry) (any, []Tag, time.Time, bool) {
	pk := c.persistKey(e.key)
	b, ok, err := c.persist.Get(ctx, pk)
	if err != nil {
		c.log.Warn("persist get failed", Fields{"key": e.key, "err": err})
		return nil, nil, time.Time{}, false
	}
	if !ok {
		return nil, nil, time.Time{}, false
	}

	r, err := wire.DecodeResult(b)
	if err != nil {
		c.dropPersisted(ctx, pk, "corrupt_frame")
		return nil, nil, time.Time{}, false
	}
	v, err := e.desc.decode(r.Payload)
	if err != nil {
		c.dropPersisted(ctx, pk, "payload_decode")
		return nil, nil, time.Time{}, false
	}
	tags := make([]Tag, len(r.Tags))
	for i, t := range r.Tags {
		tags[i] = Tag{Type: t.Type, ID: t.ID}
	}
	return v, tags, time.UnixMilli(r.FulfilledAtMillis), true
}

func (c *Client) dropPersisted(ctx context.Context, pk, reason string) {
	if err := c.persist.Del(ctx, pk); err != nil {
		c.log.Warn("persist delete failed", Fields{"key": pk, "err": err})
	}
	c.hooks.SelfHeal(pk, reason)
}
