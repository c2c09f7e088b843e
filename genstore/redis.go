package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares scope generations across processes and survives
// restarts. An optional TTL bounds key growth; an expired scope reads as 0,
// which makes entries that recorded a later generation stale (a refetch, never
// a stale read).
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string
	ttl         time.Duration
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

type RedisOptions struct {
	Namespace   string        // should match the client namespace
	TTL         time.Duration // 0 disables expiry
	CloseClient bool          // close rdb on Close; set only when the store owns it
}

func NewRedisGenStore(client redis.UniversalClient, opts RedisOptions) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: opts.Namespace, ttl: opts.TTL, closeClient: opts.CloseClient}
}

func (s *RedisGenStore) key(scope string) string { return "gen:" + s.ns + ":" + scope }

func (s *RedisGenStore) Snapshot(ctx context.Context, scope string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

func (s *RedisGenStore) SnapshotMany(ctx context.Context, scopes []string) (map[string]uint64, error) {
	if len(scopes) == 0 {
		return map[string]uint64{}, nil
	}
	keys := make([]string, len(scopes))
	for i, k := range scopes {
		keys[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(scopes))
	for i, v := range vals {
		var raw string
		switch vv := v.(type) {
		case nil:
			out[scopes[i]] = 0
			continue
		case string:
			raw = vv
		case []byte:
			raw = string(vv)
		default:
			raw = fmt.Sprint(vv)
		}
		u, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis gen parse at %s: %w", scopes[i], err)
		}
		out[scopes[i]] = u
	}
	return out, nil
}

// Bump increments one scope; INCR and EXPIRE share a round-trip when a TTL is set.
func (s *RedisGenStore) Bump(ctx context.Context, scope string) (uint64, error) {
	k := s.key(scope)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

func (s *RedisGenStore) BumpMany(ctx context.Context, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, scope := range scopes {
			k := s.key(scope)
			p.Incr(ctx, k)
			if s.ttl > 0 {
				p.Expire(ctx, k, s.ttl)
			}
		}
		return nil
	})
	return err
}

// Cleanup is a no-op; Redis expires keys itself when a TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
