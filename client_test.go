package apicache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	gen "github.com/voltadmin/apicache/genstore"
)

func TestConcurrentSubscribersShareOneFetch(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.gate = gate
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)

	const n = 16
	handles := make([]*Handle[station], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := Subscribe(c, getStation, "A", nil)
			if err != nil {
				t.Errorf("Subscribe: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()
	eventually(t, func() bool { return api.gets.Load() == 1 }, "first request reaches the server")
	close(gate)

	for _, h := range handles {
		st, err := h.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, StatusFulfilled, st.Status)
		require.Equal(t, "available", st.Data.Status)
	}
	require.EqualValues(t, 1, api.gets.Load(), "pending entry must have exactly one call")
}

func TestFulfilledServedWithoutNetwork(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	s1, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	s2, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.EqualValues(t, 1, api.gets.Load())

	h, err := Subscribe(c, getStation, "A", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()
	st := h.State()
	require.Equal(t, StatusFulfilled, st.Status, "value must be available synchronously")
	require.True(t, st.HasData)
}

func TestPointTagInvalidationIsScoped(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	_, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	_, err = Fetch(ctx, c, getStation, "B")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateTags(ctx, PointTag("Station", "B")))

	a, ok := c.Snapshot("getStation", "A")
	require.True(t, ok)
	require.Equal(t, StatusFulfilled, a.Status)
	b, ok := c.Snapshot("getStation", "B")
	require.True(t, ok)
	require.Equal(t, StatusStale, b.Status)
	require.NotNil(t, b.Data, "stale keeps its value")
	require.EqualValues(t, 2, api.gets.Load(), "unsubscribed stale entries refetch lazily")

	_, err = Fetch(ctx, c, getStation, "B")
	require.NoError(t, err)
	require.EqualValues(t, 3, api.gets.Load())
}

func TestListTagInvalidatesEveryStation(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	_, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	_, err = Fetch(ctx, c, getStation, "B")
	require.NoError(t, err)
	_, err = Fetch(ctx, c, listStations, struct{}{})
	require.NoError(t, err)

	require.NoError(t, c.InvalidateTags(ctx, ListTag("Station")))
	for _, args := range []any{"A", "B"} {
		s, _ := c.Snapshot("getStation", args)
		require.Equal(t, StatusStale, s.Status, "getStation(%v)", args)
	}
	s, _ := c.Snapshot("listStations", struct{}{})
	require.Equal(t, StatusStale, s.Status)
}

func TestPointTagDoesNotHitListOnlyEntries(t *testing.T) {
	onlyList := Query[struct{}, []station]{
		Name:         "stationSummary",
		Request:      func(struct{}) Request { return Request{Path: "/stations"} },
		ProvidesTags: func([]station, struct{}) []Tag { return []Tag{ListTag("Station")} },
	}
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, func(o *Options) { o.Operations = append(o.Operations, onlyList) })
	ctx := context.Background()

	_, err := Fetch(ctx, c, onlyList, struct{}{})
	require.NoError(t, err)
	require.NoError(t, c.InvalidateTags(ctx, PointTag("Station", "A")))
	s, _ := c.Snapshot("stationSummary", struct{}{})
	require.Equal(t, StatusFulfilled, s.Status)
}

func TestInvalidationRefetchesSubscribedEntries(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	h, err := Subscribe(c, getStation, "A", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	api.setStatus("A", "charging")
	require.NoError(t, c.InvalidateTags(ctx, PointTag("Station", "A")))

	eventually(t, func() bool {
		st := h.State()
		return st.Status == StatusFulfilled && st.Data.Status == "charging"
	}, "subscribed entry refetched eagerly")
	require.EqualValues(t, 2, api.gets.Load())
}

func TestGetThenUpdateStationServesFreshValue(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	before, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	require.Equal(t, "available", before.Status)

	updated, err := Mutate(ctx, c, updateStation, station{ID: "A", Status: "charging"})
	require.NoError(t, err)
	require.Equal(t, "charging", updated.Status)

	after, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	require.Equal(t, "charging", after.Status)
	require.EqualValues(t, 2, api.gets.Load())
}

func TestInvalidationWhilePendingSettlesStale(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	// Seed the entry's tags, then hold the refetch at the server.
	_, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	require.NoError(t, c.Refetch("getStation", "A"))
	eventually(t, func() bool { return api.gets.Load() == 2 }, "refetch in flight")

	require.NoError(t, c.InvalidateTags(ctx, PointTag("Station", "A")))
	close(gate)

	eventually(t, func() bool {
		s, _ := c.Snapshot("getStation", "A")
		return s.Status == StatusStale
	}, "pending entry hit by invalidation lands stale")
}

func TestRejectedIsRetainedUntilRefetch(t *testing.T) {
	api := newFakeAPI()
	api.fail = http.StatusInternalServerError
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	_, err := Fetch(ctx, c, getStation, "A")
	var ae *Error
	require.ErrorAs(t, err, &ae)
	require.Equal(t, KindDomain, ae.Kind)
	require.Equal(t, "INTERNAL", ae.Code)

	h, err := Subscribe(c, getStation, "A", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()
	st := h.State()
	require.Equal(t, StatusRejected, st.Status)
	require.Error(t, st.Err)
	require.EqualValues(t, 1, api.gets.Load(), "rejected entry must not refire on subscribe")

	api.mu.Lock()
	api.fail = 0
	api.mu.Unlock()
	h.Refetch()
	st, err = h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, st.Status)
	require.EqualValues(t, 2, api.gets.Load())
}

func TestGCGraceReusesThenCollects(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	hooks := &recordingHooks{}
	c := newTestClient(t, srv.URL, func(o *Options) {
		o.Now = clock.Now
		o.GCGrace = time.Minute
		o.Hooks = hooks
	})
	ctx := context.Background()

	_, err := Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	c.sweep()
	_, ok := c.Snapshot("getStation", "A")
	require.True(t, ok, "entry retained inside the grace window")

	_, err = Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	require.EqualValues(t, 1, api.gets.Load(), "reuse inside the window needs no refetch")

	clock.Advance(time.Minute)
	c.sweep()
	_, ok = c.Snapshot("getStation", "A")
	require.False(t, ok, "entry collected after the grace window")
	hooks.mu.Lock()
	require.Len(t, hooks.collected, 1)
	hooks.mu.Unlock()

	_, err = Fetch(ctx, c, getStation, "A")
	require.NoError(t, err)
	require.EqualValues(t, 2, api.gets.Load())
}

func TestSubscribedEntriesAreNeverCollected(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := newTestClient(t, srv.URL, func(o *Options) { o.Now = clock.Now })

	h, err := Subscribe(c, getStation, "A", nil)
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Hour)
	c.sweep()
	_, ok := c.Snapshot("getStation", "A")
	require.True(t, ok)
	h.Unsubscribe()
}

func TestNotificationsInOrderAndStopAfterUnsubscribe(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)

	var mu sync.Mutex
	var seen []Status
	h1, err := c.Subscribe("getStation", "A", func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Status)
		mu.Unlock()
	})
	require.NoError(t, err)
	_, err = h1.Wait(context.Background())
	require.NoError(t, err)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, "pending then fulfilled")
	mu.Lock()
	require.Equal(t, []Status{StatusPending, StatusFulfilled}, seen)
	mu.Unlock()

	h1.Unsubscribe()
	barrier := make(chan struct{}, 8)
	h2, err := c.Subscribe("getStation", "A", func(Snapshot) { barrier <- struct{}{} })
	require.NoError(t, err)
	defer h2.Unsubscribe()
	<-barrier // initial state

	require.NoError(t, c.InvalidateTags(context.Background(), PointTag("Station", "A")))
	<-barrier // stale reached the dispatcher
	mu.Lock()
	require.Len(t, seen, 2, "unsubscribed callback must not run")
	mu.Unlock()
}

func TestAuthFailureFiresOncePerEpisode(t *testing.T) {
	var calls int
	var mu sync.Mutex
	api := newFakeAPI()
	api.fail = http.StatusUnauthorized
	srv := newServer(t, api)
	tokens := &fakeTokens{token: "t1"}
	hooks := &recordingHooks{}
	c := newTestClient(t, srv.URL, func(o *Options) {
		o.Tokens = tokens
		o.Hooks = hooks
		o.OnAuthError = func(_ context.Context, err error) {
			if !errors.Is(err, ErrAuth) {
				t.Errorf("OnAuthError got %v", err)
			}
			mu.Lock()
			calls++
			mu.Unlock()
		}
	})
	ctx := context.Background()

	_, err := Fetch(ctx, c, getStation, "A")
	require.ErrorIs(t, err, ErrAuth)
	_, err = Fetch(ctx, c, getStation, "B")
	require.ErrorIs(t, err, ErrAuth)

	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()
	tokens.mu.Lock()
	require.Equal(t, 2, tokens.cleared, "token evicted on every auth failure")
	tokens.mu.Unlock()
	api.mu.Lock()
	require.Equal(t, []string{"Bearer t1", ""}, api.auths)
	api.mu.Unlock()

	c.ResetAuthLatch()
	require.NoError(t, c.Refetch("getStation", "A"))
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, "latch re-armed after sign-in")
	hooks.mu.Lock()
	require.Equal(t, 2, hooks.authFailed)
	hooks.mu.Unlock()
}

func TestPersistedResultServedWhenOffline(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	persist := newMemProvider()
	ctx := context.Background()

	first := newTestClient(t, srv.URL, func(o *Options) { o.Persist = persist; o.Namespace = "ops" })
	_, err := Fetch(ctx, first, getStation, "A")
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx)) // waits for write-through

	key, _ := MakeKey("getStation", "A")
	require.True(t, persist.has(first.persistKey(key)))
	srv.Close()

	second := newTestClient(t, srv.URL, func(o *Options) { o.Persist = persist; o.Namespace = "ops" })
	s, err := Fetch(ctx, second, getStation, "A")
	require.NoError(t, err)
	require.Equal(t, "available", s.Status)
	snap, _ := second.Snapshot("getStation", "A")
	require.Equal(t, StatusStale, snap.Status)
}

func TestCorruptPersistedFrameIsDropped(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	srv.Close()
	persist := newMemProvider()
	hooks := &recordingHooks{}
	c := newTestClient(t, srv.URL, func(o *Options) { o.Persist = persist; o.Hooks = hooks })
	ctx := context.Background()

	key, _ := MakeKey("getStation", "A")
	pk := c.persistKey(key)
	_, _ = persist.Set(ctx, pk, []byte("garbage"), 0, 0)

	_, err := Fetch(ctx, c, getStation, "A")
	require.ErrorIs(t, err, ErrTransport)
	require.False(t, persist.has(pk))
	hooks.mu.Lock()
	require.Equal(t, []string{"corrupt_frame"}, hooks.selfHeals)
	hooks.mu.Unlock()
}

func TestRedisGenStoreInvalidatesAcrossClients(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	shared := func(o *Options) { o.GenStore = gen.NewRedisGenStore(rdb, gen.RedisOptions{Namespace: "ops"}) }
	replicaA := newTestClient(t, srv.URL, shared)
	replicaB := newTestClient(t, srv.URL, shared)

	_, err := Fetch(ctx, replicaA, getStation, "A")
	require.NoError(t, err)

	api.setStatus("A", "charging")
	_, err = Mutate(ctx, replicaB, updateStation, station{ID: "A", Status: "charging"})
	require.NoError(t, err)

	s, err := Fetch(ctx, replicaA, getStation, "A")
	require.NoError(t, err)
	require.Equal(t, "charging", s.Status)
	require.EqualValues(t, 2, api.gets.Load())
}

func TestResetCacheDetachesAndRefetchReattaches(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	h, err := Subscribe(c, getStation, "A", nil)
	require.NoError(t, err)
	defer h.Unsubscribe()
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	c.ResetCache(ctx)
	require.Equal(t, StatusIdle, h.State().Status)
	_, ok := c.Snapshot("getStation", "A")
	require.False(t, ok)

	h.Refetch()
	st, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, st.Status)
	_, ok = c.Snapshot("getStation", "A")
	require.True(t, ok)
}

func TestExecutorEmitsClientSpan(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	c := newTestClient(t, srv.URL, func(o *Options) { o.TracerProvider = tp })

	_, err := Fetch(context.Background(), c, getStation, "A")
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "apicache getStation", spans[0].Name())
	var status int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "http.response.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	require.EqualValues(t, http.StatusOK, status)
}

func TestClosedClientRejectsWork(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	require.NoError(t, c.Close(context.Background()))

	_, err := c.Subscribe("getStation", "A", nil)
	require.ErrorIs(t, err, ErrClosed)
	_, err = Mutate(context.Background(), c, updateStation, station{ID: "A"})
	require.ErrorIs(t, err, ErrClosed)
	require.True(t, errors.Is(c.InvalidateTags(context.Background(), ListTag("Station")), ErrClosed))
}

func TestUnknownOperationAndWrongKind(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", nil)
	_, err := c.Subscribe("nope", nil, nil)
	require.ErrorIs(t, err, ErrUnknownOperation)
	_, err = c.Subscribe("updateStation", station{}, nil)
	require.ErrorIs(t, err, ErrWrongKind)
	_, err = c.Subscribe("getStation", 42, nil)
	require.ErrorIs(t, err, ErrInvalidArgs)
}
