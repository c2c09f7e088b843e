// Package asynchook moves hook calls off the cache's hot path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	client, _ := apicache.New(apicache.Options{BaseURL: url, Hooks: hooks})
//
// Events are dropped, and counted, when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/voltadmin/apicache"
)

type Hooks struct {
	inner   apicache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against concurrent try
	closed  bool
	dropped atomic.Uint64
}

var _ apicache.Hooks = (*Hooks)(nil)

func New(inner apicache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed sink.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)             { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) TagsInvalidated(tags, marked int) { h.try(func() { h.inner.TagsInvalidated(tags, marked) }) }
func (h *Hooks) EntryCollected(k string)          { h.try(func() { h.inner.EntryCollected(k) }) }
func (h *Hooks) AuthFailure(op, code string)      { h.try(func() { h.inner.AuthFailure(op, code) }) }
func (h *Hooks) PersistRejected(k string)         { h.try(func() { h.inner.PersistRejected(k) }) }
func (h *Hooks) FetchResolved(op string, s apicache.Status, d time.Duration) {
	h.try(func() { h.inner.FetchResolved(op, s, d) })
}
func (h *Hooks) StorageError(op, k string, err error) {
	h.try(func() { h.inner.StorageError(op, k, err) })
}
func (h *Hooks) GenStoreError(op string, n int, err error) {
	h.try(func() { h.inner.GenStoreError(op, n, err) })
}
