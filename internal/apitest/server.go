// Package apitest is an in-process stand-in for the charging admin API. It
// speaks the same envelope, issues HS256 bearer tokens and keeps stations in
// memory, so clients can be exercised end to end.
package apitest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/voltadmin/apicache/internal/evapi"
)

const pageSize = 20

// Seed accounts and stations every API starts with.
const (
	AdminEmail    = "admin@volt.test"
	AdminPassword = "correct-horse"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Message string    `json:"message,omitempty"`
	Meta    any       `json:"meta,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type account struct {
	user     evapi.User
	password string
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// API is the fake backend. The zero value is not usable; call New.
type API struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	stations map[string]evapi.Station
	accounts map[string]account
	revoked  map[string]struct{}
	calls    map[string]int
	auths    []string
	gate     chan struct{}
	nextID   int
}

type Option func(*API)

// WithTokenTTL sets the lifetime of issued tokens (default 1h).
func WithTokenTTL(d time.Duration) Option { return func(a *API) { a.tokenTTL = d } }

func WithClock(now func() time.Time) Option { return func(a *API) { a.now = now } }

func New(opts ...Option) *API {
	a := &API{
		secret:   []byte(uuid.NewString()),
		tokenTTL: time.Hour,
		now:      time.Now,
		accounts: map[string]account{
			AdminEmail: {user: evapi.User{ID: "u-1", Email: AdminEmail, Role: "admin"}, password: AdminPassword},
		},
		revoked: make(map[string]struct{}),
		calls:   make(map[string]int),
	}
	for _, o := range opts {
		o(a)
	}
	now := a.now().UTC()
	a.stations = map[string]evapi.Station{
		"A": {ID: "A", Name: "Depot North", Status: evapi.StatusAvailable, ConnectorCount: 4, UpdatedAt: now,
			Location: evapi.Location{Address: "1 Harbour Rd", Lat: 59.91, Lng: 10.75}},
		"B": {ID: "B", Name: "Depot South", Status: evapi.StatusOffline, ConnectorCount: 2, UpdatedAt: now,
			Location: evapi.Location{Address: "9 Quay St", Lat: 59.90, Lng: 10.74}},
	}
	return a
}

// NewServer serves a on a loopback listener closed with the test.
func NewServer(t testing.TB, a *API) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func (a *API) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/auth/login", a.count("login", a.login)).Methods(http.MethodPost)

	s := r.PathPrefix("/stations").Subrouter()
	s.Use(a.requireAuth)
	s.HandleFunc("", a.count("listStations", a.listStations)).Methods(http.MethodGet)
	s.HandleFunc("", a.count("createStation", a.createStation)).Methods(http.MethodPost)
	s.HandleFunc("/{id}", a.count("getStation", a.getStation)).Methods(http.MethodGet)
	s.HandleFunc("/{id}", a.count("updateStation", a.updateStation)).Methods(http.MethodPatch)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "no such route")
	})
	return withRequestID(r)
}

// Calls returns how many times the named route was reached.
func (a *API) Calls(route string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[route]
}

// Authorizations returns the Authorization header of every counted request.
func (a *API) Authorizations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.auths...)
}

// Hold blocks station reads until the returned release is called.
func (a *API) Hold() (release func()) {
	gate := make(chan struct{})
	a.mu.Lock()
	a.gate = gate
	a.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.gate = nil
			a.mu.Unlock()
			close(gate)
		})
	}
}

// RevokeAll invalidates every token issued so far.
func (a *API) RevokeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secret = []byte(uuid.NewString())
}

// Revoke invalidates one token by its raw value.
func (a *API) Revoke(raw string) {
	c, err := a.parse(raw)
	if err != nil {
		return
	}
	a.mu.Lock()
	a.revoked[c.ID] = struct{}{}
	a.mu.Unlock()
}

// IssueToken signs a token for the seeded admin without a login round trip.
func (a *API) IssueToken() string {
	tok, _ := a.issue(a.accounts[AdminEmail].user)
	return tok
}

// SetStatus changes a station behind the client's back.
func (a *API) SetStatus(id string, status evapi.StationStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stations[id]
	if !ok {
		return
	}
	s.Status = status
	s.UpdatedAt = a.now().UTC()
	a.stations[id] = s
}

func (a *API) Station(id string) (evapi.Station, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.stations[id]
	return s, ok
}

func (a *API) count(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.calls[route]++
		a.auths = append(a.auths, r.Header.Get("Authorization"))
		gate := a.gate
		a.mu.Unlock()
		if gate != nil && r.Method == http.MethodGet {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		h(w, r)
	}
}

func (a *API) issue(u evapi.User) (string, error) {
	now := a.now().UTC()
	c := claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}
	a.mu.Lock()
	secret := a.secret
	a.mu.Unlock()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}

func (a *API) parse(raw string) (claims, error) {
	a.mu.Lock()
	secret := a.secret
	a.mu.Unlock()
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	return c, err
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "sign in to continue")
			return
		}
		c, err := a.parse(raw)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "session expired")
			return
		case err != nil:
			writeError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "invalid credentials")
			return
		}
		a.mu.Lock()
		_, revoked := a.revoked[c.ID]
		a.mu.Unlock()
		if revoked {
			writeError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "session revoked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var in evapi.Credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed body")
		return
	}
	a.mu.Lock()
	acct, ok := a.accounts[strings.ToLower(in.Email)]
	a.mu.Unlock()
	if !ok || acct.password != in.Password {
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "email or password is incorrect")
		return
	}
	tok, err := a.issue(acct.user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: evapi.Session{Token: tok, User: acct.user}, Message: "signed in"})
}

func (a *API) listStations(w http.ResponseWriter, r *http.Request) {
	status := evapi.StationStatus(r.URL.Query().Get("status"))
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "page must be a positive integer")
			return
		}
		page = n
	}

	a.mu.Lock()
	out := make([]evapi.Station, 0, len(a.stations))
	for _, s := range a.stations {
		if status == "" || s.Status == status {
			out = append(out, s)
		}
	}
	a.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	total := len(out)
	lo := min((page-1)*pageSize, total)
	hi := min(lo+pageSize, total)
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    out[lo:hi],
		Meta:    map[string]int{"total": total, "page": page, "pageSize": pageSize},
	})
}

func (a *API) getStation(w http.ResponseWriter, r *http.Request) {
	s, ok := a.Station(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "STATION_NOT_FOUND", "station not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s})
}

func (a *API) updateStation(w http.ResponseWriter, r *http.Request) {
	var in evapi.StationPatch
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed body")
		return
	}
	if in.Status != nil && !in.Status.Valid() {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown station status")
		return
	}

	id := mux.Vars(r)["id"]
	a.mu.Lock()
	s, ok := a.stations[id]
	if ok {
		if in.Name != nil {
			s.Name = *in.Name
		}
		if in.Status != nil {
			s.Status = *in.Status
		}
		s.UpdatedAt = a.now().UTC()
		a.stations[id] = s
	}
	a.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "STATION_NOT_FOUND", "station not found")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s, Message: "station updated"})
}

func (a *API) createStation(w http.ResponseWriter, r *http.Request) {
	var in evapi.NewStation
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
		return
	}
	a.mu.Lock()
	a.nextID++
	s := evapi.Station{
		ID:             "st-" + strconv.Itoa(a.nextID),
		Name:           in.Name,
		Status:         evapi.StatusOffline,
		Location:       in.Location,
		ConnectorCount: in.ConnectorCount,
		UpdatedAt:      a.now().UTC(),
	}
	a.stations[s.ID] = s
	a.mu.Unlock()
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: s, Message: "station created"})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: &apiError{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
