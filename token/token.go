// Package token keeps the credential envelope: a raw credential, when it was
// issued and how long it lives. It sits on a storage.Adapter so the web and
// mobile platforms share one implementation.
//
// There is no refresh rotation; an expired credential is evicted on read and
// the consumer signs in again.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/storage"
)

const day = 24 * time.Hour

// Class is a credential policy: where it is stored and its default lifetime.
type Class struct {
	Name string
	TTL  time.Duration
}

var (
	AuthToken = Class{Name: "authToken", TTL: 7 * day}
	UserData  = Class{Name: "userData", TTL: 7 * day}
)

// Envelope is valid while now < IssuedAt+TTL.
type Envelope struct {
	Raw      string        `json:"token"`
	IssuedAt time.Time     `json:"issuedAt"`
	TTL      time.Duration `json:"ttl"`
}

func (e Envelope) ExpiresAt() time.Time { return e.IssuedAt.Add(e.TTL) }

func (e Envelope) Valid(now time.Time) bool { return now.Before(e.ExpiresAt()) }

type Option func(*Manager)

// WithJWTExpiry clamps the TTL to the credential's exp claim when it parses
// as a JWT. The signature is not verified; the API decides validity.
func WithJWTExpiry() Option { return func(m *Manager) { m.jwtExpiry = true } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithLogger(l apicache.Logger) Option { return func(m *Manager) { m.log = l } }

// Manager stores one credential class. It implements apicache.TokenSource.
type Manager struct {
	store     storage.Adapter
	class     Class
	now       func() time.Time
	log       apicache.Logger
	jwtExpiry bool
}

var _ apicache.TokenSource = (*Manager)(nil)

func NewManager(store storage.Adapter, class Class, opts ...Option) *Manager {
	m := &Manager{store: store, class: class, now: time.Now, log: apicache.NopLogger{}}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Class() Class { return m.class }

// SetToken stores raw for ttlDays days. ttlDays <= 0 stores an envelope that
// is already expired.
func (m *Manager) SetToken(ctx context.Context, raw string, ttlDays int) {
	m.put(ctx, raw, time.Duration(max(ttlDays, 0))*day)
}

// Set stores raw with the class TTL.
func (m *Manager) Set(ctx context.Context, raw string) { m.put(ctx, raw, m.class.TTL) }

func (m *Manager) put(ctx context.Context, raw string, ttl time.Duration) {
	now := m.now()
	if m.jwtExpiry {
		if exp, ok := jwtExpiry(raw); ok {
			if left := exp.Sub(now); left < ttl {
				ttl = max(left, 0)
			}
		}
	}
	b, err := json.Marshal(Envelope{Raw: raw, IssuedAt: now, TTL: ttl})
	if err != nil {
		m.log.Error("token envelope encode failed", apicache.Fields{"class": m.class.Name, "err": err})
		return
	}
	m.store.Set(ctx, m.class.Name, string(b), ttl)
}

// Envelope returns the stored envelope while it is valid; an expired or
// unreadable one is removed.
func (m *Manager) Envelope(ctx context.Context) (Envelope, bool) {
	s, ok := m.store.Get(ctx, m.class.Name)
	if !ok {
		return Envelope{}, false
	}
	var env Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil || env.Raw == "" {
		m.log.Warn("token envelope unreadable", apicache.Fields{"class": m.class.Name, "err": err})
		m.store.Remove(ctx, m.class.Name)
		return Envelope{}, false
	}
	if !env.Valid(m.now()) {
		m.store.Remove(ctx, m.class.Name)
		return Envelope{}, false
	}
	return env, true
}

func (m *Manager) Token(ctx context.Context) (string, bool) {
	env, ok := m.Envelope(ctx)
	return env.Raw, ok
}

// Clear removes the credential. Clearing twice is a no-op.
func (m *Manager) Clear(ctx context.Context) { m.store.Remove(ctx, m.class.Name) }

func jwtExpiry(raw string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(raw, &claims)
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
