package apicache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	gen "github.com/voltadmin/apicache/genstore"
	pr "github.com/voltadmin/apicache/provider"
)

// Options configure a Client. Only BaseURL is required.
type Options struct {
	BaseURL    string
	Namespace  string      // scopes persisted results; "" => "default"
	Operations []Operation // registered once; duplicates are rejected

	Tokens      TokenSource   // nil => requests go out without credentials
	OnAuthError AuthErrorFunc // first auth failure of an episode

	HTTPClient *http.Client  // nil => &http.Client{Timeout: Timeout}
	Timeout    time.Duration // 0 => 30s; ignored when HTTPClient is set

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// GenStore shares invalidations between processes. nil => a private
	// LocalGenStore owned (and closed) by the client.
	GenStore gen.GenStore

	// Persist is an optional write-through tier for fulfilled results. When a
	// fetch fails for lack of a response, a persisted result is served as Stale.
	Persist    pr.Provider
	PersistTTL time.Duration // 0 => 24h

	GCGrace    time.Duration // 0 => 60s
	GCInterval time.Duration // 0 => 10s

	TracerProvider trace.TracerProvider          // nil => otel global
	Propagator     propagation.TextMapPropagator // nil => otel global

	Now func() time.Time // nil => time.Now
}

// Client is the cache and subscription core in front of one API.
type Client struct {
	ns    string
	reg   *Registry
	exec  *executor
	log   Logger
	hooks Hooks
	now   func() time.Time

	gens    gen.GenStore
	ownGens bool

	persist    pr.Provider
	persistTTL time.Duration
	persistMu  sync.RWMutex // write-through holds R, ResetCache holds W

	gcGrace time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[Key]*entry
	index   tagIndex
	nextSub uint64
	closed  bool

	disp    *dispatcher
	fetchWg sync.WaitGroup

	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("apicache: base url is required")
	}
	reg, err := NewRegistry(opts.Operations...)
	if err != nil {
		return nil, err
	}

	c := &Client{
		ns:      coalesce(opts.Namespace, defaultNamespace),
		reg:     reg,
		entries: make(map[Key]*entry),
		index:   newTagIndex(),
	}
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.now = opts.Now
	if c.now == nil {
		c.now = time.Now
	}
	c.gcGrace = coalesce(opts.GCGrace, defaultGCGrace)
	c.persist = opts.Persist
	c.persistTTL = coalesce(opts.PersistTTL, defaultPersistTTL)

	if opts.GenStore != nil {
		c.gens = opts.GenStore
	} else {
		c.gens = gen.NewLocalGenStore(defaultGenSweep, defaultGenRetention)
		c.ownGens = true
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: coalesce(opts.Timeout, defaultHTTPTimeout)}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	prop := opts.Propagator
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	c.exec = &executor{
		baseURL:    opts.BaseURL,
		http:       hc,
		tokens:     coalesce[TokenSource](opts.Tokens, nopTokens{}),
		onAuth:     opts.OnAuthError,
		tracer:     tp.Tracer(tracerName),
		propagator: prop,
		log:        c.log,
		hooks:      c.hooks,
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.disp = newDispatcher(c.log)

	c.ticker = time.NewTicker(coalesce(opts.GCInterval, defaultGCInterval))
	c.stopCh = make(chan struct{})
	c.closeWg.Add(1)
	go func() {
		defer c.closeWg.Done()
		for {
			select {
			case <-c.ticker.C:
				c.sweep()
			case <-c.stopCh:
				return
			}
		}
	}()
	return c, nil
}

func (c *Client) Registry() *Registry { return c.reg }

// ResetAuthLatch re-arms OnAuthError. Call it after a successful sign-in.
func (c *Client) ResetAuthLatch() { c.exec.authLatched.Store(false) }

// Subscribe attaches fn to the result of query name with args. fn receives
// the current state and every later change, in order, from a single
// goroutine. fn may be nil when only State/Wait are used.
func (c *Client) Subscribe(name string, args any, fn func(Snapshot)) (*Subscription, error) {
	d, err := c.reg.lookupKind(name, KindQuery)
	if err != nil {
		return nil, err
	}
	return c.acquire(d, args, fn, true)
}

// Snapshot reads the state of a cached result without subscribing.
func (c *Client) Snapshot(name string, args any) (Snapshot, bool) {
	key, err := MakeKey(name, args)
	if err != nil {
		return Snapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Refetch forces a network fetch for a query result, unless one is already
// in flight. It is the only way to retry a Rejected result. On an absent key
// it prefetches: the result is cached for the GC grace window.
func (c *Client) Refetch(name string, args any) error {
	d, err := c.reg.lookupKind(name, KindQuery)
	if err != nil {
		return err
	}
	if _, err := d.BuildRequest(args); err != nil {
		return err
	}
	key, err := MakeKey(name, args)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	e, ok := c.entries[key]
	if !ok {
		e = newEntry(key, d, args)
		e.idleSince = c.now()
		c.entries[key] = e
	}
	if e.status != StatusPending {
		c.startLocked(e)
	}
	return nil
}

// Execute runs mutation name with args and invalidates the tags it declares
// on success. Invalidation failures are logged, never returned.
func (c *Client) Execute(ctx context.Context, name string, args any) (any, error) {
	d, err := c.reg.lookupKind(name, KindMutation)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	v, err := c.exec.do(ctx, d, args)
	if err != nil {
		c.exec.observe(ctx, d, err)
		return nil, err
	}
	if tags := d.InvalidatesTags(v, nil, args); len(tags) > 0 {
		if err := c.InvalidateTags(ctx, tags...); err != nil && !errors.Is(err, ErrClosed) {
			c.log.Warn("mutation invalidation incomplete", Fields{"op": name, "err": err})
		}
	}
	return v, nil
}

// ResetCache drops every entry and persisted result. Live subscriptions are
// told the entry went Idle; their Refetch starts over with a fresh entry.
func (c *Client) ResetCache(ctx context.Context) { c.reset(ctx, false) }

// ResetData is ResetCache for a session that just ended: every result and
// in-flight fetch is dropped, but rejections stay so their callers still
// receive the error. That covers Rejected entries and the fetch whose auth
// failure ended the session, which settles Rejected afterwards. Kept entries
// hold no data and no tags; a full ResetCache, or Refetch, clears them.
func (c *Client) ResetData(ctx context.Context) { c.reset(ctx, true) }

func (c *Client) reset(ctx context.Context, keepRejected bool) {
	c.mu.Lock()
	kept := make(map[Key]*entry)
	for k, e := range c.entries {
		if keepRejected && (e.status == StatusRejected || e.authFailing) {
			e.tags, e.gens = nil, nil
			kept[k] = e
			continue
		}
		e.detach()
		c.notifyLocked(e)
	}
	dropped := len(c.entries) - len(kept)
	c.entries = kept
	c.index = newTagIndex()
	c.mu.Unlock()

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	var err error
	switch p := c.persist.(type) {
	case pr.PrefixDeleter:
		err = p.DelPrefix(ctx, "q:"+c.ns+":")
	case pr.Purger:
		err = p.Purge(ctx)
	}
	if err != nil {
		c.log.Warn("persisted results not cleared", Fields{"ns": c.ns, "err": err})
		c.hooks.StorageError("reset", "q:"+c.ns+":", err)
	}
	c.log.Debug("cache reset", Fields{"entries": dropped})
}

// Close stops background work and cancels in-flight fetches. It waits for
// fetch goroutines until ctx is done. The Persist provider is not closed.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		for _, e := range c.entries {
			if e.status == StatusPending {
				e.detach()
				c.notifyLocked(e)
			}
		}
		c.mu.Unlock()
		c.cancel()

		close(c.stopCh)
		c.ticker.Stop()
		c.closeWg.Wait()

		waited := make(chan struct{})
		go func() {
			c.fetchWg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			err = ctx.Err()
		}

		c.disp.close()
		if c.ownGens {
			_ = c.gens.Close(ctx)
		}
	})
	return err
}
