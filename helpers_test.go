package apicache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	pr "github.com/voltadmin/apicache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

type station struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

var (
	getStation = Query[string, station]{
		Name: "getStation",
		Request: func(id string) Request {
			return Request{Method: http.MethodGet, Path: "/stations/" + id}
		},
		ProvidesTags: func(_ station, id string) []Tag {
			return []Tag{PointTag("Station", id)}
		},
	}
	listStations = Query[struct{}, []station]{
		Name:    "listStations",
		Request: func(struct{}) Request { return Request{Path: "/stations"} },
		ProvidesTags: func(r []station, _ struct{}) []Tag {
			tags := []Tag{ListTag("Station")}
			for _, s := range r {
				tags = append(tags, PointTag("Station", s.ID))
			}
			return tags
		},
	}
	updateStation = Mutation[station, station]{
		Name: "updateStation",
		Request: func(s station) Request {
			return Request{Method: http.MethodPatch, Path: "/stations/" + s.ID, Body: map[string]string{"status": s.Status}}
		},
		InvalidatesTags: func(r station, _ error, _ station) []Tag {
			return []Tag{PointTag("Station", r.ID), ListTag("Station")}
		},
	}
)

// fakeAPI answers with the platform envelope.
type fakeAPI struct {
	mu       sync.Mutex
	stations map[string]station
	gate     chan struct{} // when set, reads block until it is closed
	fail     int           // when set, every call answers with this status
	gets     atomic.Int32
	auths    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{stations: map[string]station{
		"A": {ID: "A", Status: "available"},
		"B": {ID: "B", Status: "offline"},
	}}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stations/{id}", func(w http.ResponseWriter, r *http.Request) {
		if f.before(w, r) {
			return
		}
		f.mu.Lock()
		s, ok := f.stations[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			writeEnvelope(w, http.StatusNotFound, map[string]any{
				"success": false,
				"error":   map[string]string{"code": "STATION_NOT_FOUND", "message": "station not found"},
			})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": s})
	})
	mux.HandleFunc("GET /stations", func(w http.ResponseWriter, r *http.Request) {
		if f.before(w, r) {
			return
		}
		f.mu.Lock()
		out := []station{f.stations["A"], f.stations["B"]}
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": out})
	})
	mux.HandleFunc("PATCH /stations/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		s := f.stations[r.PathValue("id")]
		s.Status = body.Status
		f.stations[s.ID] = s
		f.mu.Unlock()
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "data": s, "message": "updated"})
	})
	return mux
}

// before counts a read, records its credential and applies gate/fail.
func (f *fakeAPI) before(w http.ResponseWriter, r *http.Request) bool {
	f.gets.Add(1)
	f.mu.Lock()
	f.auths = append(f.auths, r.Header.Get("Authorization"))
	gate, fail := f.gate, f.fail
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail != 0 {
		writeEnvelope(w, fail, map[string]any{
			"success": false,
			"error":   map[string]string{"code": "INTERNAL", "message": "boom"},
		})
		return true
	}
	return false
}

func (f *fakeAPI) setStatus(id, status string) {
	f.mu.Lock()
	s := f.stations[id]
	s.Status = status
	f.stations[id] = s
	f.mu.Unlock()
}

func writeEnvelope(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL:    baseURL,
		Operations: []Operation{getStation, listStations, updateStation},
		GCInterval: time.Hour,
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newServer(t *testing.T, api *fakeAPI) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return srv
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingHooks struct {
	NopHooks
	mu         sync.Mutex
	selfHeals  []string
	collected  []string
	authFailed int
}

func (h *recordingHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, reason)
	h.mu.Unlock()
}

func (h *recordingHooks) EntryCollected(key string) {
	h.mu.Lock()
	h.collected = append(h.collected, key)
	h.mu.Unlock()
}

func (h *recordingHooks) AuthFailure(string, string) {
	h.mu.Lock()
	h.authFailed++
	h.mu.Unlock()
}

type fakeTokens struct {
	mu      sync.Mutex
	token   string
	cleared int
}

func (f *fakeTokens) Token(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeTokens) Clear(context.Context) {
	f.mu.Lock()
	f.token = ""
	f.cleared++
	f.mu.Unlock()
}
