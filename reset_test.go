package apicache

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestResetDataFromAuthCascadeKeepsFailingResult(t *testing.T) {
	api := newFakeAPI()
	srv := newServer(t, api)
	var c *Client
	ended := 0
	c = newTestClient(t, srv.URL, func(o *Options) {
		o.Tokens = &fakeTokens{token: "t1"}
		o.OnAuthError = func(ctx context.Context, _ error) {
			ended++
			c.ResetData(ctx)
		}
	})
	ctx := context.Background()

	if _, err := Fetch(ctx, c, getStation, "A"); err != nil {
		t.Fatalf("Fetch A: %v", err)
	}

	api.mu.Lock()
	api.fail = http.StatusUnauthorized
	api.mu.Unlock()

	_, err := Fetch(ctx, c, listStations, struct{}{})
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Fetch list: got %v, want ErrAuth", err)
	}
	if got := api.gets.Load(); got != 2 {
		t.Fatalf("gets=%d want 2 (no retry after the cascade)", got)
	}
	if ended != 1 {
		t.Fatalf("OnAuthError calls=%d want 1", ended)
	}

	if _, ok := c.Snapshot(getStation.Name, "A"); ok {
		t.Fatalf("fulfilled result must be dropped when the session ends")
	}
	snap, ok := c.Snapshot(listStations.Name, struct{}{})
	if !ok || snap.Status != StatusRejected || !errors.Is(snap.Err, ErrAuth) {
		t.Fatalf("list snapshot=%+v ok=%v, want Rejected with ErrAuth", snap, ok)
	}
}

func TestResetDataKeepsRejectedResetCacheDropsThem(t *testing.T) {
	api := newFakeAPI()
	api.fail = http.StatusInternalServerError
	srv := newServer(t, api)
	c := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	if _, err := Fetch(ctx, c, getStation, "A"); !errors.Is(err, ErrDomain) {
		t.Fatalf("Fetch: got %v, want ErrDomain", err)
	}

	c.ResetData(ctx)
	snap, ok := c.Snapshot(getStation.Name, "A")
	if !ok || snap.Status != StatusRejected {
		t.Fatalf("after ResetData: snapshot=%+v ok=%v, want Rejected", snap, ok)
	}

	c.ResetCache(ctx)
	if _, ok := c.Snapshot(getStation.Name, "A"); ok {
		t.Fatalf("ResetCache must drop rejected entries")
	}
}
