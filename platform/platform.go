// Package platform assembles a ready-to-use session: the cache client, the
// credential manager and the storage adapter, wired so an authentication
// failure ends the session everywhere at once.
//
// The web and mobile subpackages only choose the providers; everything else
// is shared.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/genstore"
	pr "github.com/voltadmin/apicache/provider"
	"github.com/voltadmin/apicache/storage"
	"github.com/voltadmin/apicache/token"
)

// SessionEndedFunc is told once per episode that the API rejected the
// credential. The session has already been cleared when it runs; the app
// only drops its own auth state and returns to sign-in.
type SessionEndedFunc func(ctx context.Context, err error)

type Config struct {
	BaseURL    string
	Namespace  string
	Operations []apicache.Operation

	// Storage holds token envelopes. It must support prefix deletion.
	Storage pr.Provider
	// Persist optionally backs the client's result write-through tier.
	Persist    pr.Provider
	PersistTTL time.Duration
	GenStore   genstore.GenStore

	OnSessionEnded SessionEndedFunc
	// JWTExpiry clamps token lifetimes to the exp claim.
	JWTExpiry bool

	HTTPClient *http.Client
	Timeout    time.Duration
	GCGrace    time.Duration
	GCInterval time.Duration

	Logger apicache.Logger
	Hooks  apicache.Hooks
	Now    func() time.Time

	// Closers run on Session.Close after the client is closed, in order.
	// Providers and gen stores created by a platform constructor go here.
	Closers []func(context.Context) error
}

// Session is one signed-in (or signed-out) view of the API.
type Session struct {
	Client  *apicache.Client
	Tokens  *token.Manager
	Storage *storage.Store

	log     apicache.Logger
	onEnded SessionEndedFunc
	closers []func(context.Context) error

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config) (*Session, error) {
	if cfg.Storage == nil {
		return nil, errors.New("platform: storage provider is required")
	}
	log := cfg.Logger
	if log == nil {
		log = apicache.NopLogger{}
	}

	st, err := storage.New(cfg.Storage, storage.Options{
		Namespace: cfg.Namespace,
		Logger:    log,
		Hooks:     cfg.Hooks,
		Now:       cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}

	topts := []token.Option{token.WithLogger(log)}
	if cfg.JWTExpiry {
		topts = append(topts, token.WithJWTExpiry())
	}
	if cfg.Now != nil {
		topts = append(topts, token.WithClock(cfg.Now))
	}

	s := &Session{
		Storage: st,
		Tokens:  token.NewManager(st, token.AuthToken, topts...),
		log:     log,
		onEnded: cfg.OnSessionEnded,
		closers: cfg.Closers,
	}

	c, err := apicache.New(apicache.Options{
		BaseURL:     cfg.BaseURL,
		Namespace:   cfg.Namespace,
		Operations:  cfg.Operations,
		Tokens:      s.Tokens,
		OnAuthError: s.endSession,
		HTTPClient:  cfg.HTTPClient,
		Timeout:     cfg.Timeout,
		Logger:      log,
		Hooks:       cfg.Hooks,
		GenStore:    cfg.GenStore,
		Persist:     cfg.Persist,
		PersistTTL:  cfg.PersistTTL,
		GCGrace:     cfg.GCGrace,
		GCInterval:  cfg.GCInterval,
		Now:         cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	s.Client = c
	return s, nil
}

// endSession is the client's OnAuthError: the token is already evicted, so
// clear what else the session stored, drop every cached result and tell the
// app. The rejection that ended the session stays visible to its callers.
func (s *Session) endSession(ctx context.Context, err error) {
	s.Storage.Clear(ctx, "")
	s.Client.ResetData(ctx)
	s.log.Info("session ended", apicache.Fields{"err": err})
	if s.onEnded != nil {
		s.onEnded(ctx, err)
	}
}

// SignIn stores a fresh credential with the class lifetime and re-arms
// session-end notification. Results cached under a previous credential,
// including rejections, are dropped.
func (s *Session) SignIn(ctx context.Context, raw string) {
	s.Tokens.Set(ctx, raw)
	s.signedIn(ctx)
}

// SignInFor is SignIn with an explicit lifetime in days.
func (s *Session) SignInFor(ctx context.Context, raw string, ttlDays int) {
	s.Tokens.SetToken(ctx, raw, ttlDays)
	s.signedIn(ctx)
}

func (s *Session) signedIn(ctx context.Context) {
	s.Client.ResetCache(ctx)
	s.Client.ResetAuthLatch()
}

// SignOut is the explicit logout. It clears the same state as a rejected
// credential but does not call OnSessionEnded.
func (s *Session) SignOut(ctx context.Context) {
	s.Tokens.Clear(ctx)
	s.Storage.Clear(ctx, "")
	s.Client.ResetCache(ctx)
}

// Authenticated reports whether a valid credential is stored.
func (s *Session) Authenticated(ctx context.Context) bool {
	_, ok := s.Tokens.Token(ctx)
	return ok
}

// Close closes the client, then every platform resource. All closers run;
// their errors are joined.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		errs := []error{s.Client.Close(ctx)}
		for _, c := range s.closers {
			errs = append(errs, c(ctx))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
