// Package web builds a platform session for browser-facing deployments:
// session values live in redis or valkey when an address is configured, and
// in an in-process bigcache otherwise.
package web

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/voltadmin/apicache/genstore"
	"github.com/voltadmin/apicache/platform"
	bcp "github.com/voltadmin/apicache/provider/bigcache"
	redisp "github.com/voltadmin/apicache/provider/redis"
	rp "github.com/voltadmin/apicache/provider/ristretto"
	vkp "github.com/voltadmin/apicache/provider/valkey"
)

const (
	BackendRedis    = "redis"
	BackendValkey   = "valkey"
	BackendBigcache = "bigcache"
)

type Config struct {
	platform.Config

	// Backend is redis, valkey or bigcache. Empty picks redis when Address
	// or RedisClient is set, bigcache otherwise.
	Backend  string
	Address  string
	Username string
	Password string
	DB       int

	// RedisClient is used instead of dialing Address for the redis backend
	// and shared generations. It is never closed by the session.
	RedisClient goredis.UniversalClient

	// SharedGenerations keeps tag generations in redis so an invalidation in
	// one replica reaches the others. Needs Address or RedisClient.
	SharedGenerations bool

	// PersistResults enables an in-process ristretto write-through tier.
	PersistResults bool
}

func New(ctx context.Context, cfg Config) (s *platform.Session, err error) {
	pc := cfg.Config
	var closers []func(context.Context) error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i](ctx)
			}
		}
	}()

	var rdb goredis.UniversalClient
	redisClient := func() goredis.UniversalClient {
		if rdb != nil {
			return rdb
		}
		if cfg.RedisClient != nil {
			rdb = cfg.RedisClient
			return rdb
		}
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Address,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		closers = append(closers, func(context.Context) error { return rdb.Close() })
		return rdb
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendBigcache
		if cfg.Address != "" || cfg.RedisClient != nil {
			backend = BackendRedis
		}
	}

	switch backend {
	case BackendRedis:
		if cfg.Address == "" && cfg.RedisClient == nil {
			return nil, errors.New("web: redis backend needs an address or client")
		}
		client := redisClient()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("web: redis ping: %w", err)
		}
		p, err := redisp.New(redisp.Config{Client: client})
		if err != nil {
			return nil, err
		}
		pc.Storage = p
	case BackendValkey:
		p, err := vkp.New(ctx, vkp.Config{Address: cfg.Address, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
		if err != nil {
			return nil, fmt.Errorf("web: %w", err)
		}
		closers = append(closers, p.Close)
		pc.Storage = p
	case BackendBigcache:
		p, err := bcp.New(ctx, bcp.Config{})
		if err != nil {
			return nil, fmt.Errorf("web: bigcache: %w", err)
		}
		closers = append(closers, p.Close)
		pc.Storage = p
	default:
		return nil, fmt.Errorf("web: unknown backend %q", backend)
	}

	if cfg.SharedGenerations {
		if cfg.Address == "" && cfg.RedisClient == nil {
			return nil, errors.New("web: shared generations need an address or client")
		}
		gs := genstore.NewRedisGenStore(redisClient(), genstore.RedisOptions{Namespace: pc.Namespace})
		closers = append(closers, gs.Close)
		pc.GenStore = gs
	}
	if cfg.PersistResults {
		p, err := rp.New(rp.Config{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64, Synchronous: true})
		if err != nil {
			return nil, fmt.Errorf("web: ristretto: %w", err)
		}
		closers = append(closers, p.Close)
		pc.Persist = p
	}

	pc.Closers = append(closers, pc.Closers...)
	return platform.New(pc)
}
