// Package storage is the persistent key-value adapter behind token envelopes
// and other small session values.
//
// Every value is wrapped in a record
//
//	{ "value": string, "timestamp": epoch-ms, "ttl": ms }
//
// and a read at or after timestamp+ttl evicts the record and misses, so a TTL
// of 0 expires immediately. Medium failures never reach the caller: they are
// logged, reported through Hooks.StorageError and read as "no value".
package storage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voltadmin/apicache"
	"github.com/voltadmin/apicache/codec"
	pr "github.com/voltadmin/apicache/provider"
)

const defaultMaxRecord = 1 << 20

var ErrNoPrefixDelete = errors.New("storage: provider cannot delete by prefix")

// Adapter is the uniform contract of the web and mobile stores.
type Adapter interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Remove(ctx context.Context, key string)
	// Clear removes every key starting with prefix; "" clears the namespace.
	Clear(ctx context.Context, prefix string)
}

// Record is the persisted envelope.
type Record struct {
	Value     string `json:"value" cbor:"value" msgpack:"value"`
	Timestamp int64  `json:"timestamp" cbor:"timestamp" msgpack:"timestamp"` // unix ms
	TTL       int64  `json:"ttl" cbor:"ttl" msgpack:"ttl"`                   // ms
}

// Expired reports whether now is at or past timestamp+ttl.
func (r Record) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.Timestamp+r.TTL
}

type Options struct {
	Namespace string              // "" => "default"
	Codec     codec.Codec[Record] // nil => JSON
	MaxRecord int                 // largest record decoded, bytes; 0 => 1 MiB
	Logger    apicache.Logger     // nil => NopLogger
	Hooks     apicache.Hooks      // nil => NopHooks
	Now       func() time.Time    // nil => time.Now
}

// Store implements Adapter over a provider that can delete by prefix.
type Store struct {
	p     pr.Provider
	pd    pr.PrefixDeleter
	ns    string
	codec codec.Codec[Record]
	log   apicache.Logger
	hooks apicache.Hooks
	now   func() time.Time
}

var _ Adapter = (*Store)(nil)

func New(p pr.Provider, opts Options) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("storage: provider is required")
	}
	pd, ok := p.(pr.PrefixDeleter)
	if !ok {
		return nil, fmt.Errorf("storage: %T: %w", p, ErrNoPrefixDelete)
	}
	s := &Store{p: p, pd: pd, ns: opts.Namespace, codec: opts.Codec, log: opts.Logger, hooks: opts.Hooks, now: opts.Now}
	if s.ns == "" {
		s.ns = "default"
	}
	if s.codec == nil {
		s.codec = codec.JSON[Record]{}
	}
	s.codec = codec.Limit[Record]{Inner: s.codec, MaxDecode: cmp.Or(opts.MaxRecord, defaultMaxRecord)}
	if s.log == nil {
		s.log = apicache.NopLogger{}
	}
	if s.hooks == nil {
		s.hooks = apicache.NopHooks{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) key(k string) string { return "st:" + s.ns + ":" + k }

func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	sk := s.key(key)
	b, ok, err := s.p.Get(ctx, sk)
	if err != nil {
		s.fail("get", sk, err)
		return "", false
	}
	if !ok {
		return "", false
	}
	rec, err := s.codec.Decode(b)
	if err != nil {
		s.fail("decode", sk, err)
		s.del(ctx, sk)
		return "", false
	}
	if rec.Expired(s.now()) {
		s.del(ctx, sk)
		return "", false
	}
	return rec.Value, true
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) {
	sk := s.key(key)
	rec := Record{Value: value, Timestamp: s.now().UnixMilli(), TTL: ttl.Milliseconds()}
	b, err := s.codec.Encode(rec)
	if err != nil {
		s.fail("encode", sk, err)
		return
	}
	// The provider TTL only reclaims space; expiry is decided by the record.
	ok, err := s.p.Set(ctx, sk, b, int64(len(b)), max(ttl, 0))
	if err != nil {
		s.fail("set", sk, err)
		return
	}
	if !ok {
		s.log.Warn("storage write rejected", apicache.Fields{"key": key})
	}
}

func (s *Store) Remove(ctx context.Context, key string) { s.del(ctx, s.key(key)) }

func (s *Store) Clear(ctx context.Context, prefix string) {
	if err := s.pd.DelPrefix(ctx, s.key(prefix)); err != nil {
		s.fail("clear", s.key(prefix), err)
	}
}

func (s *Store) del(ctx context.Context, sk string) {
	if err := s.p.Del(ctx, sk); err != nil {
		s.fail("remove", sk, err)
	}
}

func (s *Store) fail(op, key string, err error) {
	s.log.Warn("storage error", apicache.Fields{"op": op, "key": key, "err": err})
	s.hooks.StorageError(op, key, err)
}
